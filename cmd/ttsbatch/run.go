package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-tts-batch/internal/adapterinfo"
	"github.com/nupi-ai/plugin-tts-batch/internal/archive"
	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
	"github.com/nupi-ai/plugin-tts-batch/internal/history"
	"github.com/nupi-ai/plugin-tts-batch/internal/progress"
	"github.com/nupi-ai/plugin-tts-batch/internal/telemetry"
)

func (a *app) newRunCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "run <script.csv>",
		Short: "Synthesize every row of a CSV script into a ZIP of WAV files",
		Long: "Reads a CSV script with a text column and optional voice, filename and\n" +
			"instruction columns, synthesizes each row and writes the audio as a ZIP\n" +
			"archive. Use - to read the script from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScript(cmd.Context(), cmd.InOrStdin(), args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive path (default tts_output_<timestamp>.zip)")
	return cmd
}

func (a *app) runScript(ctx context.Context, stdin io.Reader, source, output string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := a.cfg
	logger := a.logger

	data, err := readScript(stdin, source)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Traces != "" && cfg.Telemetry.Traces != telemetry.TracesNone {
		shutdown, _, err := telemetry.Setup(ctx, a.telemetryOptions(), logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	synth, closeSynth, err := newSynthesizer(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSynth(); err != nil {
			logger.Warn("failed to close provider", "error", err)
		}
	}()

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	term := progress.NewTerminal(a.stdout, cfg.Progress.NoColor)
	observers := []batch.Observer{term, progress.NewLog(logger)}
	if cfg.Progress.NATSURL != "" {
		conn, err := progress.Connect(ctx, progress.NATSConfig{
			URL:     cfg.Progress.NATSURL,
			Subject: cfg.Progress.Subject,
			Token:   cfg.Progress.NATSToken,
		}, logger)
		if err != nil {
			logger.Warn("progress events disabled", "error", err)
		} else {
			defer func() {
				if err := conn.Drain(); err != nil {
					logger.Warn("failed to drain nats connection", "error", err)
				}
			}()
			observers = append(observers, progress.NewNATS(conn, cfg.Progress.Subject, logger))
		}
	}

	orch := batch.New(batch.Options{
		Resolver:    resolver,
		Concurrency: cfg.Batch.Concurrency,
		Interval:    cfg.Batch.Interval,
		Timeout:     cfg.Batch.Timeout,
		Retries:     cfg.Batch.Retries,
		Observer:    progress.Multi(observers...),
	}, logger, synth, telemetry.NewRecorder(logger))

	result, err := orch.RunCSV(ctx, data)
	if err != nil {
		return err
	}

	if output == "" {
		output = archive.DefaultName(time.Now())
	}
	built, err := writeArchive(output, result, archive.Options{
		AlwaysManifest: cfg.Archive.AlwaysManifest,
		Store:          cfg.Archive.Store,
	})
	if err != nil {
		return err
	}
	for _, w := range built.Warnings {
		logger.Warn(w, "archive", output)
	}
	result = built.Reconcile(result)

	if !cfg.History.Disabled {
		a.recordHistory(context.WithoutCancel(ctx), source, output, result)
	}

	term.Summary(result, output)
	return nil
}

func readScript(stdin io.Reader, source string) ([]byte, error) {
	if source == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read script from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return data, nil
}

// writeArchive writes the archive next to its final path and renames it into
// place, so a failed run never leaves a truncated ZIP behind.
func writeArchive(path string, result batch.Result, opts archive.Options) (built *archive.Archive, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ttsbatch-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if built, err = archive.Write(tmp, result, opts); err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err = tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("chmod archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("move archive into place: %w", err)
	}
	return built, nil
}

func (a *app) recordHistory(ctx context.Context, source, output string, result batch.Result) {
	logger := a.logger
	store, err := history.Open(ctx, history.Options{
		Path:    a.cfg.History.Path,
		MaxRuns: a.cfg.History.MaxRuns,
	}, logger)
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return
	}
	defer store.Close()

	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}
	err = store.Record(ctx, history.RunInfo{
		Source:   source,
		Provider: a.cfg.Provider,
		Archive:  output,
	}, result)
	if err != nil {
		logger.Warn("failed to record run", "run_id", result.RunID, "error", err)
	}
}

func (a *app) telemetryOptions() telemetry.Options {
	return telemetry.Options{
		ServiceName:  adapterinfo.Info.Slug,
		Version:      adapterinfo.Version(),
		Environment:  a.cfg.Telemetry.Environment,
		Traces:       a.cfg.Telemetry.Traces,
		OTLPEndpoint: a.cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: a.cfg.Telemetry.OTLPInsecure,
		TraceWriter:  a.stderr,
	}
}
