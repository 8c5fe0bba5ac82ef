package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// Copernicus Data Space Ecosystem endpoints.
const (
	DefaultTokenURL     = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	DefaultClientID     = "cdse-public"
	DefaultCatalogueURL = "https://catalogue.dataspace.copernicus.eu/odata/v1"
	DefaultDownloadURL  = "https://zipper.dataspace.copernicus.eu/odata/v1"
)

// tokenSlack is subtracted from token lifetimes so a token is never used in
// its last seconds.
const tokenSlack = 30 * time.Second

// CDSEConfig holds the OData endpoints of the archive.
type CDSEConfig struct {
	TokenURL     string
	ClientID     string
	CatalogueURL string
	DownloadURL  string
}

// CDSESession implements ArchiveSession against the Copernicus Data Space
// OData API.
type CDSESession struct {
	cfg     CDSEConfig
	cred    Credential
	client  *http.Client
	metrics output.MetricsCollector
	now     func() time.Time

	accessToken   string
	refreshToken  string
	refreshExpiry time.Time

	latest *odataProduct
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

type odataProduct struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Online bool   `json:"Online"`
}

type odataResult struct {
	Value []odataProduct `json:"value"`
}

// NewCDSESession creates a new session. Empty endpoints fall back to the
// public CDSE defaults.
func NewCDSESession(cfg CDSEConfig, cred Credential, client *http.Client, metrics output.MetricsCollector) *CDSESession {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.CatalogueURL == "" {
		cfg.CatalogueURL = DefaultCatalogueURL
	}
	if cfg.DownloadURL == "" {
		cfg.DownloadURL = DefaultDownloadURL
	}
	cfg.CatalogueURL = strings.TrimSuffix(cfg.CatalogueURL, "/")
	cfg.DownloadURL = strings.TrimSuffix(cfg.DownloadURL, "/")

	return &CDSESession{
		cfg:     cfg,
		cred:    cred,
		client:  client,
		metrics: metrics,
		now:     time.Now,
	}
}

// Refresh obtains a new access token. A still valid refresh token is used
// instead of the password grant.
func (s *CDSESession) Refresh(ctx context.Context) error {
	form := url.Values{"client_id": {s.cfg.ClientID}}
	if s.refreshToken != "" && s.now().Before(s.refreshExpiry) {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", s.refreshToken)
	} else {
		form.Set("grant_type", "password")
		form.Set("username", s.cred.Username)
		form.Set("password", s.cred.Password)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest && form.Get("grant_type") == "refresh_token":
		// Expired server side; the next call falls back to the password grant.
		s.refreshToken = ""
		return fmt.Errorf("refresh token rejected: %w", domain.ErrArchiveUnavailable)
	case resp.StatusCode == http.StatusBadRequest:
		return statusError(http.StatusUnauthorized, "requesting token")
	default:
		return statusError(resp.StatusCode, "requesting token")
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("decoding token: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response without access token: %w", domain.ErrArchiveUnavailable)
	}

	s.accessToken = tok.AccessToken
	s.refreshToken = tok.RefreshToken
	s.refreshExpiry = s.now().Add(time.Duration(tok.RefreshExpiresIn)*time.Second - tokenSlack)
	return nil
}

// Query looks the product up by name in the catalogue.
func (s *CDSESession) Query(ctx context.Context, name string) error {
	s.latest = nil

	filter := fmt.Sprintf("Name eq '%s'", strings.ReplaceAll(name, "'", "''"))
	queryURL := s.cfg.CatalogueURL + "/Products?" + url.Values{"$filter": {filter}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, "querying "+name)
	}

	var result odataResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding catalogue response: %w", err)
	}

	for i := range result.Value {
		if result.Value[i].Name == name {
			s.latest = &result.Value[i]
			return nil
		}
	}
	return fmt.Errorf("querying %s: %w", name, domain.ErrProductNotFound)
}

// DownloadLatest downloads the last queried product and extracts it into
// targetDir.
func (s *CDSESession) DownloadLatest(ctx context.Context, targetDir string) error {
	if s.latest == nil {
		return domain.ErrNoProductDownloaded
	}
	product := *s.latest
	if !product.Online {
		return fmt.Errorf("%s is offline: %w", product.Name, domain.ErrArchiveUnavailable)
	}

	downloadURL := fmt.Sprintf("%s/Products(%s)/$value", s.cfg.DownloadURL, url.PathEscape(product.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", product.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, "downloading "+product.Name)
	}

	return storeAndExtract(resp.Body, targetDir, product.Name, s.metrics)
}
