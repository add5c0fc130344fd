package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-tts-batch/internal/history"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
)

func (a *app) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
				return a.historyList(ctx, store, limit)
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the rows of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
				return a.historyShow(ctx, store, args[0])
			})
		},
	}

	var output string
	failed := &cobra.Command{
		Use:   "failed <run-id>",
		Short: "Export the failed rows of a run as a CSV script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(cmd.Context(), func(ctx context.Context, store *history.Store) error {
				return a.historyFailed(ctx, store, args[0], output)
			})
		},
	}
	failed.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	cmd.AddCommand(list, show, failed)
	return markOffline(cmd)
}

func (a *app) withHistory(ctx context.Context, fn func(context.Context, *history.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := history.Open(ctx, history.Options{
		Path:    a.cfg.History.Path,
		MaxRuns: a.cfg.History.MaxRuns,
	}, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func (a *app) historyList(ctx context.Context, store *history.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "no runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tPROVIDER\tOK\tFAILED\tSKIPPED\tSOURCE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Provider,
			r.Succeeded, r.Failed, r.Skipped, r.Source)
	}
	return tw.Flush()
}

func (a *app) historyShow(ctx context.Context, store *history.Store, id string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	rows, err := store.Outcomes(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "run:      %s\n", run.ID)
	fmt.Fprintf(a.stdout, "source:   %s\n", run.Source)
	fmt.Fprintf(a.stdout, "provider: %s\n", run.Provider)
	fmt.Fprintf(a.stdout, "archive:  %s\n", run.Archive)
	fmt.Fprintf(a.stdout, "started:  %s (%s)\n", run.StartedAt.Local().Format(time.DateTime),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(a.stdout, "result:   %d succeeded, %d failed, %d skipped\n\n", run.Succeeded, run.Failed, run.Skipped)

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tFILE\tVOICE\tSTATUS\tTRIES\tTEXT")
	for _, r := range rows {
		status := r.Status
		if r.Reason != "" {
			status += ": " + r.Reason
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			r.Row, r.Filename, r.Voice, status, r.Attempts, script.Preview(r.Text, 50))
	}
	return tw.Flush()
}

func (a *app) historyFailed(ctx context.Context, store *history.Store, id, output string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	reqs, err := store.FailedRequests(ctx, run.ID)
	if err != nil {
		return err
	}

	var w io.Writer = a.stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}
	if err := script.WriteCSV(w, reqs); err != nil {
		return err
	}
	a.logger.Info("failed rows exported", "run_id", run.ID, "rows", len(reqs))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
