package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, maxRuns int) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "data", "history.db"), MaxRuns: maxRuns}, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(id string, started time.Time) batch.Result {
	return batch.Result{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Succeeded:  1,
		Failed:     1,
		Warnings:   []script.Warning{{Row: 2, Kind: script.WarningRowSkipped, Message: "empty text, row skipped"}},
		Outcomes: []batch.Outcome{
			{
				Request:  script.Request{Row: 1, Text: "Hello there", Voice: "zephyr", Filename: "greeting"},
				Filename: "greeting",
				Params:   tts.Params{Voice: "Zephyr"},
				Status:   batch.StatusSuccess,
				Attempts: 1,
				Elapsed:  1200 * time.Millisecond,
			},
			{
				Request:  script.Request{Row: 3, Text: "Goodbye", Voice: "Nobody", Filename: "greeting", Instruction: "Whisper."},
				Filename: "greeting_2",
				Params:   tts.Params{Voice: "Zephyr", Instruction: "Whisper."},
				Status:   batch.StatusFailure,
				Reason:   "gemini: provider error (status 429): quota exceeded",
				Attempts: 2,
			},
		},
	}
}

func TestRecordAndQuery(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	started := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)

	if err := s.Record(ctx, RunInfo{Source: "script.csv", Provider: "gemini", Archive: "out.zip"}, sampleResult("run-abc", started)); err != nil {
		t.Fatalf("record: %v", err)
	}

	run, err := s.GetRun(ctx, "run-abc")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Source != "script.csv" || run.Provider != "gemini" || run.Archive != "out.zip" {
		t.Errorf("unexpected run info: %+v", run)
	}
	if run.Succeeded != 1 || run.Failed != 1 || run.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", run.Succeeded, run.Failed, run.Skipped)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, started)
	}

	rows, err := s.Outcomes(ctx, "run-abc")
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Filename != "greeting" || rows[0].Voice != "Zephyr" || rows[0].Elapsed != 1200*time.Millisecond {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Status != "failure" || rows[1].Attempts != 2 || rows[1].RequestedFilename != "greeting" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestFailedRequests(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	if err := s.Record(ctx, RunInfo{}, sampleResult("run-1", time.Now())); err != nil {
		t.Fatalf("record: %v", err)
	}

	reqs, err := s.FailedRequests(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed requests: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	want := script.Request{Row: 3, Text: "Goodbye", Voice: "Nobody", Filename: "greeting_2", Instruction: "Whisper."}
	if reqs[0] != want {
		t.Errorf("request = %+v, want %+v", reqs[0], want)
	}
}

func TestListRunsNewestFirstAndPrune(t *testing.T) {
	s := openStore(t, 2)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := s.Record(ctx, RunInfo{}, sampleResult(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2 after prune", len(runs))
	}
	if runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
	rows, err := s.Outcomes(ctx, "run-1")
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("pruned run still has %d outcomes", len(rows))
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	for _, id := range []string{"abc123", "abd456"} {
		if err := s.Record(ctx, RunInfo{}, sampleResult(id, time.Now())); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	run, err := s.GetRun(ctx, "abc")
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if run.ID != "abc123" {
		t.Errorf("ID = %q", run.ID)
	}
	if _, err := s.GetRun(ctx, "ab"); err == nil {
		t.Error("expected ambiguity error")
	}
	if _, err := s.GetRun(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRecordDuplicateRunFails(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	if err := s.Record(ctx, RunInfo{}, sampleResult("dup", time.Now())); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, RunInfo{}, sampleResult("dup", time.Now())); err == nil {
		t.Fatal("expected error for duplicate run id")
	}
	rows, err := s.Outcomes(ctx, "dup")
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rolled back insert changed outcomes: %d rows", len(rows))
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Options{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
