package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/input"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// OrchestratorConfig holds the batch settings.
type OrchestratorConfig struct {
	Workers        int           // Concurrent tasks
	MaxAttempts    int           // Acquisition attempts per product
	RetryDelay     time.Duration // Fixed pause between attempts
	AttemptTimeout time.Duration // Upper bound for one refresh+query+download
	StagingRoot    string        // Root of the per-product staging directories
	OutputDir      string        // Directory receiving the mosaics
	KeepSCL        bool          // Append SCL to L2A mosaics
	MinFreeSpace   uint64        // Bytes required on the staging filesystem before a download
	RateLimit      float64       // Attempts per second across all workers (0 = unlimited)
}

// DownloadOrchestrator runs acquisition batches.
type DownloadOrchestrator struct {
	cfg        OrchestratorConfig
	pool       *CredentialPool
	compositor *MosaicCompositor
	reclaimer  *StagingReclaimer
	publisher  output.Publisher
	ledger     output.LedgerStore
	disk       output.DiskSpace
	metrics    output.MetricsCollector
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu       sync.Mutex
	progress input.BatchSnapshot
	active   map[string]struct{}
}

// NewDownloadOrchestrator creates a new orchestrator. publisher, ledger and
// disk are optional.
func NewDownloadOrchestrator(
	cfg OrchestratorConfig,
	pool *CredentialPool,
	compositor *MosaicCompositor,
	reclaimer *StagingReclaimer,
	publisher output.Publisher,
	ledger output.LedgerStore,
	disk output.DiskSpace,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *DownloadOrchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &DownloadOrchestrator{
		cfg:        cfg,
		pool:       pool,
		compositor: compositor,
		reclaimer:  reclaimer,
		publisher:  publisher,
		ledger:     ledger,
		disk:       disk,
		metrics:    metrics,
		limiter:    limiter,
		logger:     logger,
		active:     make(map[string]struct{}),
	}
}

// Run processes every product identifier exactly once. Per-product failures
// never abort the batch; they are collected in the report and combined into
// the returned error.
func (o *DownloadOrchestrator) Run(ctx context.Context, products []string) (*domain.Report, error) {
	tasks, rejected := o.plan(products)

	report := &domain.Report{
		RunID:     uuid.NewString(),
		Total:     len(tasks) + len(rejected),
		StartedAt: time.Now(),
	}

	o.begin(report)
	o.logger.Info("starting batch",
		"run", report.RunID,
		"products", report.Total,
		"workers", o.cfg.Workers,
	)

	// Outcomes reference their run; without a stored run they cannot be
	// recorded, so history is off for this batch.
	ledger := o.ledger
	if ledger != nil {
		if err := ledger.BeginRun(ctx, report.RunID, report.Total, report.StartedAt); err != nil {
			o.logger.Warn("failed to record batch start, batch history disabled for this run", "run", report.RunID, "error", err)
			ledger = nil
		}
	}

	var mu sync.Mutex
	record := func(outcome domain.TaskOutcome) {
		mu.Lock()
		report.Outcomes = append(report.Outcomes, outcome)
		mu.Unlock()
		o.finish(ctx, ledger, report.RunID, outcome)
	}

	for _, outcome := range rejected {
		record(outcome)
	}

	queue := make(chan domain.DownloadTask)
	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(queue)
		for _, task := range tasks {
			queue <- task
		}
		return nil
	})

	workers := min(o.cfg.Workers, max(len(tasks), 1))
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for task := range queue {
				record(o.process(ctx, task))
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	o.end()

	if ledger != nil {
		// The batch context may already be canceled; the summary is still written.
		if err := ledger.FinishRun(context.WithoutCancel(ctx), report); err != nil {
			o.logger.Warn("failed to record batch summary", "run", report.RunID, "error", err)
		}
	}

	var err error
	for _, f := range report.Failures() {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Product, f.Err))
	}

	o.logger.Info("batch finished",
		"run", report.RunID,
		"products", report.Total,
		"converted", report.Count(domain.TaskConverted),
		"skipped", report.Count(domain.TaskSkipped),
		"failed", report.Count(domain.TaskFailed),
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)

	return report, err
}

// plan parses and deduplicates the product list and binds credentials.
// Malformed identifiers become failed outcomes right away.
func (o *DownloadOrchestrator) plan(products []string) ([]domain.DownloadTask, []domain.TaskOutcome) {
	var (
		tasks    []domain.DownloadTask
		rejected []domain.TaskOutcome
	)
	seen := make(map[string]bool, len(products))

	for _, raw := range products {
		product, err := domain.ParseProductID(raw)
		if err != nil {
			now := time.Now()
			o.logger.Error("invalid product identifier", "product", raw, "error", err)
			rejected = append(rejected, domain.TaskOutcome{
				Product:    raw,
				Status:     domain.TaskFailed,
				Kind:       domain.FailureInvalid,
				Err:        err,
				StartedAt:  now,
				FinishedAt: now,
			})
			continue
		}

		if seen[product.ID] {
			o.logger.Warn("duplicate product identifier ignored", "product", product.ID)
			continue
		}
		seen[product.ID] = true

		seq := len(tasks)
		tasks = append(tasks, domain.DownloadTask{
			Seq:         seq,
			Product:     product,
			Credential:  o.pool.Bind(seq),
			StagingRoot: o.cfg.StagingRoot,
			OutputDir:   o.cfg.OutputDir,
			KeepSCL:     o.cfg.KeepSCL,
		})
	}
	return tasks, rejected
}

// process runs the acquire, convert, reclaim and publish chain of one task.
func (o *DownloadOrchestrator) process(ctx context.Context, task domain.DownloadTask) (outcome domain.TaskOutcome) {
	outcome = domain.TaskOutcome{
		Product:    task.Product.ID,
		Credential: task.Credential,
		OutputPath: task.OutputPath(),
		StartedAt:  time.Now(),
	}
	defer func() { outcome.FinishedAt = time.Now() }()

	fail := func(kind domain.FailureKind, err error) domain.TaskOutcome {
		if ctx.Err() != nil && kind != domain.FailurePublish {
			kind = domain.FailureCanceled
		}
		outcome.Status = domain.TaskFailed
		outcome.Kind = kind
		outcome.Err = err
		return outcome
	}

	if err := ctx.Err(); err != nil {
		return fail(domain.FailureCanceled, err)
	}

	local, published := o.outputState(ctx, task)
	if published || (local && o.publisher == nil) {
		outcome.Status = domain.TaskSkipped
		return outcome
	}

	o.track(task.Product.ID, true)
	defer o.track(task.Product.ID, false)

	if local {
		// Converted by an earlier run whose upload failed.
		o.logger.Info("output exists but is not published, uploading", "product", task.Product.ID, "path", task.OutputPath())
		if err := o.publish(ctx, task); err != nil {
			return fail(domain.FailurePublish, err)
		}
		outcome.Status = domain.TaskConverted
		return outcome
	}

	start := time.Now()
	attempts, err := o.acquire(ctx, task)
	outcome.Attempts = attempts
	o.metrics.ObserveAttempts(attempts)
	o.metrics.ObserveStageDuration(output.StageAcquire, time.Since(start))
	if err != nil {
		return fail(domain.FailureAcquire, err)
	}

	start = time.Now()
	err = o.compositor.Compose(ctx, task.StagingDir(), task.OutputPath(), task.KeepSCL)
	o.metrics.ObserveStageDuration(output.StageCompose, time.Since(start))
	if err != nil {
		var corrupt *domain.CorruptProductError
		if errors.As(err, &corrupt) {
			return fail(domain.FailureCorrupt, err)
		}
		return fail(domain.FailureWrite, err)
	}

	start = time.Now()
	if err := o.reclaimer.Reclaim(task.Product.ID, task.StagingDir()); err != nil {
		outcome.Warning = err
	}
	o.metrics.ObserveStageDuration(output.StageReclaim, time.Since(start))

	if o.publisher != nil {
		if err := o.publish(ctx, task); err != nil {
			return fail(domain.FailurePublish, err)
		}
	}

	outcome.Status = domain.TaskConverted
	return outcome
}

// publish uploads the local mosaic under its output name.
func (o *DownloadOrchestrator) publish(ctx context.Context, task domain.DownloadTask) error {
	start := time.Now()
	key := task.Product.OutputName()
	err := o.publisher.Upload(ctx, key, task.OutputPath())
	o.metrics.ObserveStageDuration(output.StagePublish, time.Since(start))
	if err != nil {
		return &domain.PublishError{Product: task.Product.ID, Key: key, Err: err}
	}
	return nil
}

// outputState is the skip check. It runs before any network activity
// against the archive. With a publisher configured the publisher decides
// whether the product is done; a failing lookup counts as "not published".
func (o *DownloadOrchestrator) outputState(ctx context.Context, task domain.DownloadTask) (local, published bool) {
	if _, err := os.Stat(task.OutputPath()); err == nil {
		local = true
	}
	if o.publisher == nil {
		return local, false
	}

	exists, err := o.publisher.Exists(ctx, task.Product.OutputName())
	if err != nil {
		o.logger.Warn("publisher lookup failed", "product", task.Product.ID, "error", err)
		return local, false
	}
	return local, exists
}

// acquire stages the product, retrying transient failures with a fixed
// pause. It returns the number of attempts made.
func (o *DownloadOrchestrator) acquire(ctx context.Context, task domain.DownloadTask) (int, error) {
	attempts := 0

	operation := func() error {
		attempts++
		err := o.attempt(ctx, task, attempts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if domain.IsPermanentAcquisition(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		o.metrics.IncRetries()
		o.logger.Warn("acquisition failed, retrying",
			"product", task.Product.ID,
			"attempt", attempts,
			"max_attempts", o.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.RetryDelay), uint64(o.cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		return attempts, fmt.Errorf("acquisition canceled after %d attempts: %w", attempts, ctx.Err())
	case domain.IsPermanentAcquisition(err):
		return attempts, err
	default:
		return attempts, &domain.AcquisitionExhaustedError{
			Product:  task.Product.ID,
			Attempts: attempts,
			Err:      err,
		}
	}
}

// attempt performs one refresh, query and download with the task's session.
func (o *DownloadOrchestrator) attempt(ctx context.Context, task domain.DownloadTask, n int) error {
	transient := func(stage string, err error) error {
		return &domain.TransientAcquisitionError{
			Product: task.Product.ID,
			Stage:   stage,
			Attempt: n,
			Err:     err,
		}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return transient("rate limit", err)
		}
	}

	if err := o.checkSpace(); err != nil {
		return transient("space", err)
	}

	// Waiting for a handle held by another task does not count against
	// this attempt's timeout.
	session, release, err := o.pool.Acquire(ctx, task.Credential)
	if err != nil {
		return transient("credential", err)
	}
	defer release()

	actx := ctx
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	o.logger.Debug("acquiring product", "product", task.Product.ID, "attempt", n, "credential", task.Credential)

	if err := session.Refresh(actx); err != nil {
		return transient("refresh", err)
	}
	if err := session.Query(actx, task.Product.ID); err != nil {
		return transient("query", err)
	}
	if err := session.DownloadLatest(actx, task.StagingRoot); err != nil {
		return transient("download", err)
	}

	info, err := os.Stat(task.StagingDir())
	if err != nil || !info.IsDir() {
		return transient("download", fmt.Errorf("archive produced no staging directory %s", task.StagingDir()))
	}
	return nil
}

// checkSpace fails when the staging filesystem is below the configured floor.
func (o *DownloadOrchestrator) checkSpace() error {
	if o.disk == nil || o.cfg.MinFreeSpace == 0 {
		return nil
	}

	free, err := o.disk.Free(o.cfg.StagingRoot)
	if err != nil {
		o.logger.Warn("failed to read free disk space", "path", o.cfg.StagingRoot, "error", err)
		return nil
	}
	if free < o.cfg.MinFreeSpace {
		return fmt.Errorf("%w: %d bytes free, %d required", domain.ErrInsufficientSpace, free, o.cfg.MinFreeSpace)
	}
	return nil
}

// finish logs, counts and stores a task outcome.
func (o *DownloadOrchestrator) finish(ctx context.Context, ledger output.LedgerStore, runID string, outcome domain.TaskOutcome) {
	switch outcome.Status {
	case domain.TaskSkipped:
		o.logger.Info("output exists, skipping", "product", outcome.Product, "path", outcome.OutputPath)
	case domain.TaskConverted:
		o.logger.Info("product converted",
			"product", outcome.Product,
			"attempts", outcome.Attempts,
			"duration", outcome.Duration().Round(time.Millisecond),
		)
	case domain.TaskFailed:
		o.logger.Error("product failed",
			"product", outcome.Product,
			"kind", outcome.Kind,
			"attempts", outcome.Attempts,
			"error", outcome.Err,
		)
	}
	if outcome.Warning != nil {
		o.logger.Warn("product converted with warning", "product", outcome.Product, "error", outcome.Warning)
	}

	o.metrics.IncTasks(string(outcome.Status), string(outcome.Kind))

	o.mu.Lock()
	switch outcome.Status {
	case domain.TaskSkipped:
		o.progress.Skipped++
	case domain.TaskConverted:
		o.progress.Converted++
	case domain.TaskFailed:
		o.progress.Failed++
	}
	o.mu.Unlock()

	if ledger != nil {
		if err := ledger.RecordOutcome(context.WithoutCancel(ctx), runID, outcome); err != nil {
			o.logger.Warn("failed to record outcome", "product", outcome.Product, "error", err)
		}
	}
}

func (o *DownloadOrchestrator) begin(report *domain.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.progress = input.BatchSnapshot{
		RunID:     report.RunID,
		Running:   true,
		Total:     report.Total,
		StartedAt: report.StartedAt,
	}
	o.active = make(map[string]struct{})
	o.metrics.SetTasksInFlight(0)
}

func (o *DownloadOrchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Running = false
}

// track marks a product as in flight or done.
func (o *DownloadOrchestrator) track(product string, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if running {
		o.active[product] = struct{}{}
	} else {
		delete(o.active, product)
	}
	o.metrics.SetTasksInFlight(len(o.active))
}

// Snapshot returns the progress of the current or last batch.
func (o *DownloadOrchestrator) Snapshot() input.BatchSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.progress
	s.InFlight = len(o.active)
	s.Active = make([]string, 0, len(o.active))
	for p := range o.active {
		s.Active = append(s.Active, p)
	}
	slices.Sort(s.Active)
	return s
}
