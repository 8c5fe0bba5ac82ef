package domain

import (
	"strings"
	"time"
)

// safeSuffix is the directory suffix of a Sentinel-2 product in the archive.
const safeSuffix = ".SAFE"

// Product is a single Sentinel-2 acquisition identified by its archive name.
type Product struct {
	ID          string          // Archive identifier, e.g. S2A_MSIL2A_..._T32UMU_....SAFE
	Mission     string          // Mission token (S2A, S2B, ...)
	Level       ProcessingLevel // Processing level derived from the identifier
	SensingTime time.Time       // Sensing start, zero if the identifier carries none
	Tile        string          // MGRS tile (e.g. T32UMU), empty if absent
}

// ParseProductID parses an archive identifier.
//
// Only the mission and processing level tokens are mandatory; the sensing time
// and tile are filled in when the identifier follows the full naming
// convention.
func ParseProductID(id string) (Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Product{}, &ValidationError{
			Field:      "product",
			Value:      id,
			Constraint: "non-empty",
			Message:    "product identifier is empty",
		}
	}

	if !strings.HasSuffix(id, safeSuffix) || strings.ContainsAny(id, `/\`) {
		return Product{}, &ValidationError{
			Field:      "product",
			Value:      id,
			Constraint: "<mission>_<level>_..." + safeSuffix,
			Message:    "not a SAFE product name",
		}
	}

	parts := strings.Split(strings.TrimSuffix(id, safeSuffix), "_")
	if len(parts) < 2 || parts[0] == "" {
		return Product{}, &ValidationError{
			Field:      "product",
			Value:      id,
			Constraint: "<mission>_<level>_...",
			Message:    "missing processing level token",
		}
	}

	level, err := ParseProcessingLevel(parts[1])
	if err != nil {
		return Product{}, err
	}

	p := Product{
		ID:      id,
		Mission: parts[0],
		Level:   level,
	}

	if len(parts) > 2 && len(parts[2]) >= 8 {
		if t, err := parseSensingTime(parts[2]); err == nil {
			p.SensingTime = t
		}
	}

	for _, part := range parts[2:] {
		if len(part) == 6 && part[0] == 'T' {
			p.Tile = part
			break
		}
	}

	return p, nil
}

// parseSensingTime accepts both the full datatake stamp and a bare date.
func parseSensingTime(s string) (time.Time, error) {
	if t, err := time.Parse("20060102T150405", s); err == nil {
		return t, nil
	}
	return time.Parse("20060102", s[:8])
}

// OutputName returns the file name of the mosaic built from this product.
func (p Product) OutputName() string {
	return strings.TrimSuffix(p.ID, safeSuffix) + ".tif"
}

// DescriptorName returns the name of the product's metadata descriptor.
func (p Product) DescriptorName() string {
	return "MTD_" + p.Level.Token() + ".xml"
}

// String returns the archive identifier.
func (p Product) String() string {
	return p.ID
}
