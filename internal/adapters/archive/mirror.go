package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// MirrorSession implements ArchiveSession for a plain HTTP(S) mirror serving
// <base>/<name>.zip.
type MirrorSession struct {
	client   *http.Client
	baseURL  string
	username string
	password string
	metrics  output.MetricsCollector

	latest string
}

// NewMirrorSession creates a new mirror session.
func NewMirrorSession(baseURL string, cred Credential, client *http.Client, metrics output.MetricsCollector) *MirrorSession {
	return &MirrorSession{
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: cred.Username,
		password: cred.Password,
		metrics:  metrics,
	}
}

// Refresh implements ArchiveSession. Basic auth needs no token.
func (s *MirrorSession) Refresh(ctx context.Context) error {
	return nil
}

// Query checks the product archive exists via HTTP HEAD request.
func (s *MirrorSession) Query(ctx context.Context, name string) error {
	s.latest = ""

	req, err := s.newRequest(ctx, http.MethodHead, name)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, "querying "+name)
	}

	s.latest = name
	return nil
}

// DownloadLatest downloads the last queried product into targetDir.
func (s *MirrorSession) DownloadLatest(ctx context.Context, targetDir string) error {
	if s.latest == "" {
		return domain.ErrNoProductDownloaded
	}
	name := s.latest

	req, err := s.newRequest(ctx, http.MethodGet, name)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, "downloading "+name)
	}

	return storeAndExtract(resp.Body, targetDir, name, s.metrics)
}

func (s *MirrorSession) newRequest(ctx context.Context, method, name string) (*http.Request, error) {
	fileURL := s.baseURL + "/" + url.PathEscape(name+".zip")

	req, err := http.NewRequestWithContext(ctx, method, fileURL, nil)
	if err != nil {
		return nil, err
	}

	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}
	return req, nil
}
