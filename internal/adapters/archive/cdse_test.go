package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jobrunner/s2mosaic/internal/domain"
)

// fakeCDSE serves the token, catalogue and download endpoints.
type fakeCDSE struct {
	mu      sync.Mutex
	grants  []string
	online  bool
	archive []byte
}

func (f *fakeCDSE) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		grant := r.PostForm.Get("grant_type")
		f.mu.Lock()
		f.grants = append(f.grants, grant)
		f.mu.Unlock()

		if r.PostForm.Get("client_id") != DefaultClientID {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if grant == "password" && r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken:      "access-" + grant,
			ExpiresIn:        600,
			RefreshToken:     "refresh",
			RefreshExpiresIn: 3600,
		})
	})

	mux.HandleFunc("/odata/v1/Products", func(w http.ResponseWriter, r *http.Request) {
		var result odataResult
		if r.URL.Query().Get("$filter") == "Name eq '"+testProduct+"'" {
			result.Value = []odataProduct{{ID: "abc-123", Name: testProduct, Online: f.online}}
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/zipper/odata/v1/Products(abc-123)/$value", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(f.archive)
	})

	return mux
}

func newCDSE(t *testing.T, fake *fakeCDSE, password string) *CDSESession {
	t.Helper()

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return NewCDSESession(CDSEConfig{
		TokenURL:     srv.URL + "/token",
		CatalogueURL: srv.URL + "/odata/v1/",
		DownloadURL:  srv.URL + "/zipper/odata/v1",
	}, Credential{Username: "alice", Password: password}, srv.Client(), &byteMetrics{})
}

func TestCDSESessionDownload(t *testing.T) {
	fake := &fakeCDSE{online: true, archive: productZip(t, testProduct)}
	s := newCDSE(t, fake, "secret")
	ctx := context.Background()
	dir := t.TempDir()

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if s.accessToken != "access-password" {
		t.Errorf("accessToken = %q", s.accessToken)
	}
	if err := s.Query(ctx, testProduct); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if err := s.DownloadLatest(ctx, dir); err != nil {
		t.Fatalf("DownloadLatest() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, testProduct, "GRANULE")); err != nil {
		t.Errorf("product not extracted: %v", err)
	}
}

func TestCDSESessionRefreshGrant(t *testing.T) {
	fake := &fakeCDSE{online: true}
	s := newCDSE(t, fake, "secret")
	now := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	now = now.Add(2 * time.Hour)
	if err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := []string{"password", "refresh_token", "password"}
	if len(fake.grants) != len(want) {
		t.Fatalf("grants = %v, want %v", fake.grants, want)
	}
	for i := range want {
		if fake.grants[i] != want[i] {
			t.Errorf("grant %d = %q, want %q", i, fake.grants[i], want[i])
		}
	}
}

func TestCDSESessionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected password", func(t *testing.T) {
		s := newCDSE(t, &fakeCDSE{}, "wrong")
		err := s.Refresh(ctx)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("Refresh() error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("unknown product", func(t *testing.T) {
		s := newCDSE(t, &fakeCDSE{}, "secret")
		err := s.Query(ctx, "S2B_MSIL1C_20200101T000000_N0000_R000_T00AAA_20200101T000000.SAFE")
		if !errors.Is(err, domain.ErrProductNotFound) {
			t.Errorf("Query() error = %v, want ErrProductNotFound", err)
		}
	})

	t.Run("offline product", func(t *testing.T) {
		s := newCDSE(t, &fakeCDSE{online: false}, "secret")
		if err := s.Query(ctx, testProduct); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		err := s.DownloadLatest(ctx, t.TempDir())
		if !errors.Is(err, domain.ErrArchiveUnavailable) {
			t.Errorf("DownloadLatest() error = %v, want ErrArchiveUnavailable", err)
		}
	})

	t.Run("download without query", func(t *testing.T) {
		s := newCDSE(t, &fakeCDSE{}, "secret")
		if err := s.DownloadLatest(ctx, t.TempDir()); !errors.Is(err, domain.ErrNoProductDownloaded) {
			t.Errorf("DownloadLatest() error = %v, want ErrNoProductDownloaded", err)
		}
	})
}
