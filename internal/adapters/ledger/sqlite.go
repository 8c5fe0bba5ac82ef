// Package ledger persists batch history to SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // driver

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	total       INTEGER NOT NULL,
	converted   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	product     TEXT NOT NULL,
	status      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	credential  INTEGER NOT NULL,
	output_path TEXT NOT NULL,
	error       TEXT NOT NULL,
	warning     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS outcomes_run ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS outcomes_product ON outcomes(product);
`

// Store implements LedgerStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ output.LedgerStore = (*Store)(nil)

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// Workers record outcomes concurrently; one connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginRun records the start of a batch.
func (s *Store) BeginRun(ctx context.Context, runID string, total int, startedAt time.Time) error {
	query, args, err := sq.Insert("runs").
		Columns("id", "total", "started_at").
		Values(runID, total, startedAt.UnixNano()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordOutcome appends a task outcome.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o domain.TaskOutcome) error {
	query, args, err := sq.Insert("outcomes").
		Columns("run_id", "product", "status", "kind", "attempts", "credential",
			"output_path", "error", "warning", "started_at", "finished_at").
		Values(runID, o.Product, string(o.Status), string(o.Kind), o.Attempts, o.Credential,
			o.OutputPath, errText(o.Err), errText(o.Warning),
			o.StartedAt.UnixNano(), o.FinishedAt.UnixNano()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a batch.
func (s *Store) FinishRun(ctx context.Context, report *domain.Report) error {
	query, args, err := sq.Update("runs").
		Set("converted", report.Count(domain.TaskConverted)).
		Set("skipped", report.Count(domain.TaskSkipped)).
		Set("failed", report.Count(domain.TaskFailed)).
		Set("finished_at", report.FinishedAt.UnixNano()).
		Where(sq.Eq{"id": report.RunID}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", report.RunID, domain.ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]output.RunSummary, error) {
	b := sq.Select("id", "total", "converted", "skipped", "failed", "started_at", "finished_at").
		From("runs").
		OrderBy("started_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []output.RunSummary
	for rows.Next() {
		var r output.RunSummary
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Total, &r.Converted, &r.Skipped, &r.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}

// ListOutcomes returns the outcomes of a run in completion order.
func (s *Store) ListOutcomes(ctx context.Context, runID string) ([]output.OutcomeRecord, error) {
	query, args, err := sq.Select("run_id", "product", "status", "kind", "attempts", "credential",
		"output_path", "error", "warning", "started_at", "finished_at").
		From("outcomes").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("finished_at", "product").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []output.OutcomeRecord
	for rows.Next() {
		var r output.OutcomeRecord
		var status, kind string
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.Product, &status, &kind, &r.Attempts, &r.Credential,
			&r.OutputPath, &r.Error, &r.Warning, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Status = domain.TaskStatus(status)
		r.Kind = domain.FailureKind(kind)
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	if len(records) == 0 {
		if err := s.runExists(ctx, runID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runExists(ctx context.Context, runID string) error {
	query, args, err := sq.Select("1").From("runs").Where(sq.Eq{"id": runID}).ToSql()
	if err != nil {
		return err
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return err
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
