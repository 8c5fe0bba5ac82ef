package application

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sessionCall is one recorded archive call.
type sessionCall struct {
	op      string
	product string
	at      time.Time
}

// mockSession implements output.ArchiveSession for testing. On a successful
// download it stages a product directory holding the metadata descriptor.
type mockSession struct {
	mu      sync.Mutex
	calls   []sessionCall
	queried string

	refreshErr  func(attempt int) error
	queryErr    func(product string) error
	downloadErr func(product string) error
	skipStaging bool
	hang        bool          // DownloadLatest blocks until the context ends
	delay       time.Duration // DownloadLatest takes this long unless the context ends first
}

func (m *mockSession) record(op, product string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sessionCall{op: op, product: product, at: time.Now()})
}

func (m *mockSession) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (m *mockSession) products(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c.product)
		}
	}
	return out
}

func (m *mockSession) times(op string) []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c.at)
		}
	}
	return out
}

func (m *mockSession) Refresh(_ context.Context) error {
	m.record("refresh", "")
	if m.refreshErr != nil {
		return m.refreshErr(m.count("refresh"))
	}
	return nil
}

func (m *mockSession) Query(_ context.Context, name string) error {
	m.record("query", name)
	if m.queryErr != nil {
		if err := m.queryErr(name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.queried = name
	m.mu.Unlock()
	return nil
}

func (m *mockSession) DownloadLatest(ctx context.Context, dir string) error {
	m.mu.Lock()
	name := m.queried
	m.mu.Unlock()

	m.record("download", name)
	if name == "" {
		return domain.ErrNoProductDownloaded
	}
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.downloadErr != nil {
		if err := m.downloadErr(name); err != nil {
			return err
		}
	}
	if m.skipStaging {
		return nil
	}
	return stageProduct(dir, name)
}

// stageProduct creates dir/<name>/MTD_<level>.xml.
func stageProduct(dir, name string) error {
	p, err := domain.ParseProductID(name)
	if err != nil {
		return err
	}
	root := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Join(root, "GRANULE"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, p.DescriptorName()), []byte("<xml/>"), 0o644)
}

// Synthetic product grid: 10m is 12x12, 20m is 6x6, 60m is 2x2.
const (
	testWidth  = 12
	testHeight = 12
)

// sclBase marks the scene classification band in synthetic data.
const sclBase = 40000

// mockRaster implements output.RasterIO over synthetic band data.
type mockRaster struct {
	mu       sync.Mutex
	writes   map[string]*domain.Mosaic
	missing  domain.Resolution // group left out of the descriptor
	bad20m   bool              // 20m group with the wrong shape
	readErr  error
	writeErr error
}

func newMockRaster() *mockRaster {
	return &mockRaster{writes: make(map[string]*domain.Mosaic)}
}

func (m *mockRaster) Subdatasets(_ context.Context, descriptor string) (map[domain.Resolution]string, error) {
	subs := make(map[domain.Resolution]string)
	for _, res := range domain.Resolutions {
		if res == m.missing {
			continue
		}
		subs[res] = fmt.Sprintf("SENTINEL2_L2A:%s:%s:EPSG_32632", descriptor, res)
	}
	return subs, nil
}

func (m *mockRaster) ReadBands(_ context.Context, subdataset string, indexes []int) (domain.Profile, []domain.Raster, error) {
	if m.readErr != nil {
		return domain.Profile{}, nil, m.readErr
	}

	var res domain.Resolution
	switch {
	case strings.Contains(subdataset, ":10m:"):
		res = domain.Res10m
	case strings.Contains(subdataset, ":20m:"):
		res = domain.Res20m
	case strings.Contains(subdataset, ":60m:"):
		res = domain.Res60m
	default:
		return domain.Profile{}, nil, fmt.Errorf("unknown subdataset %s", subdataset)
	}

	w := testWidth * 10 / int(res)
	h := testHeight * 10 / int(res)
	if res == domain.Res20m && m.bad20m {
		w--
	}

	profile := domain.Profile{
		Driver:    "SENTINEL2",
		Width:     w,
		Height:    h,
		Count:     len(indexes),
		DataType:  domain.UInt16,
		CRS:       "EPSG:32632",
		Transform: domain.GeoTransform{399960, float64(res), 0, 5900040, 0, -float64(res)},
	}

	rasters := make([]domain.Raster, len(indexes))
	for i, idx := range indexes {
		rasters[i] = syntheticBand(res, idx, w, h)
	}
	return profile, rasters, nil
}

// syntheticBand fills a band with values that identify group, index and pixel.
func syntheticBand(res domain.Resolution, index, w, h int) domain.Raster {
	r := domain.NewRaster(w, h)
	base := int(res)*1000 + index*100
	if res == domain.Res20m && index == 9 {
		base = sclBase
	}
	for i := range r.Pix {
		r.Pix[i] = uint16(base + i%97)
	}
	return r
}

func (m *mockRaster) WriteMosaic(_ context.Context, path string, mosaic *domain.Mosaic) error {
	if m.writeErr != nil {
		return m.writeErr
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, b := range mosaic.Bands {
		if _, err := f.WriteString(string(b.Code)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, b.Raster.Pix); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.writes[filepath.Base(strings.TrimSuffix(path, partialSuffix))] = mosaic
	m.mu.Unlock()
	return nil
}

func (m *mockRaster) written(name string) *domain.Mosaic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[name]
}

// mockPublisher implements output.Publisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	published map[string]string
	existing  map[string]bool
	uploadErr error
	existsErr error
}

func (m *mockPublisher) Exists(_ context.Context, key string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing[key], nil
}

func (m *mockPublisher) Upload(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	if m.published == nil {
		m.published = make(map[string]string)
	}
	m.published[key] = path
	return nil
}

func (m *mockPublisher) Type() output.StorageType {
	return output.StorageTypeS3
}

// mockLedger implements output.LedgerStore in memory.
type mockLedger struct {
	mu       sync.Mutex
	runs     map[string]*output.RunSummary
	outcomes map[string][]output.OutcomeRecord
	beginErr error
	calls    int // RecordOutcome and FinishRun calls
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		runs:     make(map[string]*output.RunSummary),
		outcomes: make(map[string][]output.OutcomeRecord),
	}
}

func (m *mockLedger) BeginRun(_ context.Context, runID string, total int, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return m.beginErr
	}
	m.runs[runID] = &output.RunSummary{ID: runID, Total: total, StartedAt: startedAt}
	return nil
}

func (m *mockLedger) RecordOutcome(_ context.Context, runID string, o domain.TaskOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	rec := output.OutcomeRecord{
		RunID:    runID,
		Product:  o.Product,
		Status:   o.Status,
		Kind:     o.Kind,
		Attempts: o.Attempts,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	m.outcomes[runID] = append(m.outcomes[runID], rec)
	return nil
}

func (m *mockLedger) FinishRun(_ context.Context, r *domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	run, ok := m.runs[r.RunID]
	if !ok {
		return errors.New("unknown run")
	}
	run.Converted = r.Count(domain.TaskConverted)
	run.Skipped = r.Count(domain.TaskSkipped)
	run.Failed = r.Count(domain.TaskFailed)
	run.FinishedAt = r.FinishedAt
	return nil
}

func (m *mockLedger) ListRuns(_ context.Context, _ int) ([]output.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []output.RunSummary
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockLedger) ListOutcomes(_ context.Context, runID string) ([]output.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[runID], nil
}

func (m *mockLedger) Close() error { return nil }

// mockDisk implements output.DiskSpace for testing.
type mockDisk struct {
	free uint64
	err  error
}

func (m *mockDisk) Free(_ string) (uint64, error) {
	return m.free, m.err
}

// countingMetrics records task counters.
type countingMetrics struct {
	output.NoOpMetrics
	mu      sync.Mutex
	tasks   map[string]int
	retries int
}

func (m *countingMetrics) IncTasks(status, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks == nil {
		m.tasks = make(map[string]int)
	}
	m.tasks[status+"/"+kind]++
}

func (m *countingMetrics) IncRetries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}
