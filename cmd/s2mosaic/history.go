package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jobrunner/s2mosaic/internal/adapters/ledger"
	"github.com/jobrunner/s2mosaic/internal/domain"
)

// printHistory lists recent runs, or the outcomes of one run when args holds
// a run ID.
func printHistory(ctx context.Context, w io.Writer, path string, args []string, limit int) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no batch history at %s: %w", path, err)
	}

	store, err := ledger.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() { _ = store.Close() }()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tTOTAL\tCONVERTED\tSKIPPED\tFAILED")
		for _, r := range runs {
			duration := "running"
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.ID, r.StartedAt.UTC().Format(time.RFC3339), duration,
				r.Total, r.Converted, r.Skipped, r.Failed)
		}
		return tw.Flush()
	}

	outcomes, err := store.ListOutcomes(ctx, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(tw, "PRODUCT\tSTATUS\tKIND\tATTEMPTS\tDETAIL")
	for _, o := range outcomes {
		detail := o.OutputPath
		if o.Error != "" {
			detail = o.Error
		} else if o.Warning != "" {
			detail = o.Warning
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", o.Product, o.Status, o.Kind, o.Attempts, detail)
	}
	return tw.Flush()
}
