// Package archive provides ArchiveSession adapters for the Sentinel-2
// product archive.
package archive

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// Archive types.
const (
	TypeCDSE   = "cdse"
	TypeMirror = "mirror"
)

// Credential is one archive account.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config selects and configures the archive adapter.
type Config struct {
	Type         string
	TokenURL     string
	ClientID     string
	CatalogueURL string
	DownloadURL  string
	BaseURL      string
	Timeout      time.Duration
}

// LoadCredentials reads a YAML credentials file.
func LoadCredentials(path string) ([]Credential, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials accepts either a single {username, password} mapping or a
// list of them.
func ParseCredentials(data []byte) ([]Credential, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, domain.ErrNoCredentials
	}

	root := doc.Content[0]
	var creds []Credential
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&creds); err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
	case yaml.MappingNode:
		var c Credential
		if err := root.Decode(&c); err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
		creds = append(creds, c)
	default:
		return nil, fmt.Errorf("parsing credentials: unexpected YAML at line %d", root.Line)
	}

	if len(creds) == 0 {
		return nil, domain.ErrNoCredentials
	}
	for i, c := range creds {
		if c.Username == "" {
			return nil, &domain.ConfigError{
				Field:   fmt.Sprintf("credentials[%d].username", i),
				Message: "must not be empty",
			}
		}
	}
	return creds, nil
}

// NewSessions opens n sessions cycling over creds.
func NewSessions(cfg Config, creds []Credential, n int, metrics output.MetricsCollector) ([]output.ArchiveSession, error) {
	if len(creds) == 0 {
		return nil, domain.ErrNoCredentials
	}
	if n < 1 {
		n = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	sessions := make([]output.ArchiveSession, 0, n)
	for i := 0; i < n; i++ {
		cred := creds[i%len(creds)]
		switch cfg.Type {
		case TypeCDSE, "":
			sessions = append(sessions, NewCDSESession(CDSEConfig{
				TokenURL:     cfg.TokenURL,
				ClientID:     cfg.ClientID,
				CatalogueURL: cfg.CatalogueURL,
				DownloadURL:  cfg.DownloadURL,
			}, cred, client, metrics))
		case TypeMirror:
			sessions = append(sessions, NewMirrorSession(cfg.BaseURL, cred, client, metrics))
		default:
			return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
		}
	}
	return sessions, nil
}

// statusError maps an archive HTTP status to a domain error.
func statusError(code int, what string) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", what, domain.ErrProductNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", what, code, domain.ErrUnauthorized)
	default:
		return fmt.Errorf("%s: status %d: %w", what, code, domain.ErrArchiveUnavailable)
	}
}
