package app

import (
	"context"
	"fmt"

	"github.com/jobrunner/s2mosaic/internal/adapters/watcher"
)

// Watch runs the batch for the product list and re-runs it every time the
// file changes, until ctx is canceled. Failed batches are logged; only setup
// errors are returned.
func (a *App) Watch(ctx context.Context, listPath string) error {
	a.runList(ctx, listPath)

	w, err := watcher.New(
		watcher.Config{
			Files:    []string{listPath},
			Debounce: a.Config.Watch.Debounce,
		},
		a.handleListEvent,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	a.Logger.Info("watching product list", "path", listPath, "debounce", a.Config.Watch.Debounce)

	<-ctx.Done()
	return w.Stop()
}

// handleListEvent re-runs the batch after the product list settled.
func (a *App) handleListEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Info("product list changed", "path", event.Path, "operation", event.Operation.String())

	if event.Operation == watcher.OpDelete {
		a.Logger.Warn("product list removed, waiting for it to reappear", "path", event.Path)
		return nil
	}

	a.runList(ctx, event.Path)
	return nil
}

func (a *App) runList(ctx context.Context, listPath string) {
	products, err := ReadProductList(listPath)
	if err != nil {
		a.Logger.Error("failed to read product list", "path", listPath, "error", err)
		return
	}

	report, err := a.RunBatch(ctx, products)
	if err != nil {
		a.Logger.Warn("batch finished with failures",
			"run", report.RunID,
			"failed", len(report.Failures()),
		)
	}
}
