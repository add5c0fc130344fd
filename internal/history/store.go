// Package history keeps a SQLite record of batch runs so failed rows can be
// inspected and exported for a rerun.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
)

// ErrNotFound is returned when no run matches an ID.
var ErrNotFound = errors.New("history: run not found")

// Options configures the store.
type Options struct {
	Path string
	// MaxRuns keeps only the newest runs when positive.
	MaxRuns int
}

// RunInfo is context about a run that the batch result does not carry.
type RunInfo struct {
	Source   string
	Provider string
	Archive  string
}

// Run summarises a recorded batch.
type Run struct {
	ID         string
	Source     string
	Provider   string
	Archive    string
	Succeeded  int
	Failed     int
	Skipped    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Row is one recorded outcome.
type Row struct {
	Index       int
	Row         int
	Text        string
	Voice       string
	Instruction string
	Filename    string
	Status      string
	Reason      string
	Attempts    int
	Elapsed     time.Duration
	// RequestedFilename is the name from the script before deduplication.
	RequestedFilename string
	RequestedVoice    string
}

// Store wraps a SQLite-backed run history.
type Store struct {
	db    *sql.DB
	opts  Options
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or opens the history database at opts.Path.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("history: path is required")
	}

	dir := filepath.Dir(opts.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping sqlite: %w", err)
	}

	s := &Store{db: db, opts: opts, log: logger.With("component", "history"), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    source TEXT,
    provider TEXT,
    archive TEXT,
    succeeded INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
    run_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    row_num INTEGER NOT NULL,
    text TEXT NOT NULL,
    requested_voice TEXT,
    voice TEXT,
    instruction TEXT,
    requested_filename TEXT,
    filename TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    attempts INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, idx),
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished batch and prunes old runs.
func (s *Store) Record(ctx context.Context, info RunInfo, result batch.Result) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, source, provider, archive, succeeded, failed, skipped, started_at, finished_at, recorded_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, info.Source, info.Provider, info.Archive,
		result.Succeeded, result.Failed, result.Skipped(),
		formatTime(result.StartedAt), formatTime(result.FinishedAt), formatTime(s.clock()))
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes(run_id, idx, row_num, text, requested_voice, voice, instruction, requested_filename, filename, status, reason, attempts, elapsed_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()

	for i, out := range result.Outcomes {
		_, err = stmt.ExecContext(ctx,
			result.RunID, i, out.Request.Row, out.Request.Text,
			out.Request.Voice, out.Params.Voice, out.Request.Instruction,
			out.Request.Filename, out.Filename,
			string(out.Status), out.Reason, out.Attempts, out.Elapsed.Milliseconds())
		if err != nil {
			return fmt.Errorf("history: insert outcome %d: %w", i, err)
		}
	}

	if s.opts.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.opts.MaxRuns)
		if err != nil {
			return fmt.Errorf("history: prune: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	s.log.Debug("run recorded", "run_id", result.RunID, "rows", len(result.Outcomes))
	return nil
}

const runColumns = `run_id, source, provider, archive, succeeded, failed, skipped, started_at, finished_at`

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose ID is id or starts with id. An ambiguous
// prefix is an error.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if id == "" {
		return Run{}, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ? OR substr(run_id, 1, length(?)) = ? LIMIT 2`, id, id, id)
	if err != nil {
		return Run{}, fmt.Errorf("history: get run: %w", err)
	}
	defer rows.Close()

	var found []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, err
	}
	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return found[0], nil
	default:
		for _, r := range found {
			if r.ID == id {
				return r, nil
			}
		}
		return Run{}, fmt.Errorf("history: run id %q is ambiguous", id)
	}
}

// Outcomes returns the recorded rows of a run in input order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, row_num, text, requested_voice, voice, instruction, requested_filename, filename, status, reason, attempts, elapsed_ms
		 FROM outcomes WHERE run_id = ? ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: outcomes: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var elapsedMs int64
		var reqVoice, voice, instruction, reqFilename, reason sql.NullString
		if err := rows.Scan(&r.Index, &r.Row, &r.Text, &reqVoice, &voice, &instruction, &reqFilename,
			&r.Filename, &r.Status, &reason, &r.Attempts, &elapsedMs); err != nil {
			return nil, fmt.Errorf("history: scan outcome: %w", err)
		}
		r.RequestedVoice = reqVoice.String
		r.Voice = voice.String
		r.Instruction = instruction.String
		r.RequestedFilename = reqFilename.String
		r.Reason = reason.String
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailedRequests rebuilds the script rows that failed in a run, ready to be
// written back as CSV.
func (s *Store) FailedRequests(ctx context.Context, runID string) ([]script.Request, error) {
	rows, err := s.Outcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	var reqs []script.Request
	for _, r := range rows {
		if r.Status == string(batch.StatusSuccess) {
			continue
		}
		reqs = append(reqs, script.Request{
			Row:         r.Row,
			Text:        r.Text,
			Voice:       r.RequestedVoice,
			Filename:    r.Filename,
			Instruction: r.Instruction,
		})
	}
	return reqs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var source, provider, archive sql.NullString
	var started, finished string
	if err := sc.Scan(&r.ID, &source, &provider, &archive, &r.Succeeded, &r.Failed, &r.Skipped, &started, &finished); err != nil {
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	r.Source = source.String
	r.Provider = provider.String
	r.Archive = archive.String
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
