package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/nupi-ai/plugin-tts-batch/internal/audio"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/telemetry"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
	"github.com/nupi-ai/plugin-tts-batch/internal/voice"
)

// DefaultInterval is the pause between sequential provider calls.
const DefaultInterval = 1500 * time.Millisecond

// Options configures a run.
type Options struct {
	// Resolver maps rows to voice parameters. Nil selects the Gemini
	// catalog defaults.
	Resolver *voice.Resolver
	// Concurrency above 1 enables a bounded worker pool.
	Concurrency int
	// Interval is the pause between calls in sequential mode.
	Interval time.Duration
	// Timeout bounds the whole batch when positive.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed call.
	Retries int
	// Observer receives progress events; may be nil.
	Observer Observer
}

// Orchestrator runs batches against one synthesizer.
type Orchestrator struct {
	opts     Options
	log      *slog.Logger
	synth    tts.Synthesizer
	resolver *voice.Resolver
	metrics  *telemetry.Recorder

	now   func() time.Time
	newID func() string
}

// New returns an orchestrator. It panics when synth is nil.
func New(opts Options, logger *slog.Logger, synth tts.Synthesizer, metrics *telemetry.Recorder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if synth == nil {
		panic("batch: synthesizer must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	resolver := opts.Resolver
	if resolver == nil {
		var err error
		if resolver, err = voice.NewResolver(voice.Gemini, "", ""); err != nil {
			panic(err)
		}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Orchestrator{
		opts:     opts,
		log:      logger.With("component", "batch"),
		synth:    synth,
		resolver: resolver,
		metrics:  metrics,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RunCSV parses csv and runs every valid row. Only malformed input is
// returned as an error; provider failures are recorded per row.
func (o *Orchestrator) RunCSV(ctx context.Context, csv []byte) (Result, error) {
	requests, warnings, err := script.Parse(csv)
	if err != nil {
		return Result{}, fmt.Errorf("batch: %w", err)
	}
	result := o.Run(ctx, requests)
	result.Warnings = append(warnings, result.Warnings...)
	sort.SliceStable(result.Warnings, func(i, j int) bool {
		return result.Warnings[i].Row < result.Warnings[j].Row
	})
	return result, nil
}

type job struct {
	index    int
	req      script.Request
	filename string
	params   tts.Params
}

// Run processes requests and returns one outcome per request in input order.
func (o *Orchestrator) Run(ctx context.Context, requests []script.Request) Result {
	result := Result{
		RunID:     o.newID(),
		StartedAt: o.now(),
		Outcomes:  make([]Outcome, len(requests)),
	}
	log := o.log.With("run_id", result.RunID)

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	names := script.NewNameSet()
	jobs := make([]job, len(requests))
	for i, req := range requests {
		params, warning := o.resolver.Resolve(req)
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
		jobs[i] = job{index: i, req: req, filename: names.Claim(req.Filename), params: params}
	}

	log.Info("batch started",
		"rows", len(jobs),
		"concurrency", max(o.opts.Concurrency, 1),
		"retries", o.opts.Retries,
	)

	prog := &tracker{observer: o.opts.Observer, runID: result.RunID, total: len(jobs)}
	if o.opts.Concurrency <= 1 {
		o.runSequential(ctx, jobs, result.Outcomes, prog)
	} else {
		o.runPool(ctx, jobs, result.Outcomes, prog)
	}

	for _, out := range result.Outcomes {
		if out.Succeeded() {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.FinishedAt = o.now()
	o.metrics.BatchFinished(ctx, result.RunID, result.Succeeded, result.Failed, result.FinishedAt.Sub(result.StartedAt))
	return result
}

func (o *Orchestrator) runSequential(ctx context.Context, jobs []job, outcomes []Outcome, t *tracker) {
	for i, j := range jobs {
		if i > 0 && o.opts.Interval > 0 && ctx.Err() == nil {
			timer := time.NewTimer(o.opts.Interval)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
		outcomes[j.index] = o.processRow(ctx, j, t)
	}
}

func (o *Orchestrator) runPool(ctx context.Context, jobs []job, outcomes []Outcome, t *tracker) {
	p := pool.New().WithMaxGoroutines(o.opts.Concurrency)
	for _, j := range jobs {
		p.Go(func() {
			outcomes[j.index] = o.processRow(ctx, j, t)
		})
	}
	p.Wait()
}

func (o *Orchestrator) processRow(ctx context.Context, j job, t *tracker) Outcome {
	out := Outcome{
		Request:  j.req,
		Filename: j.filename,
		Params:   j.params,
		Status:   StatusFailure,
	}
	start := o.now()

	if ctx.Err() != nil {
		out.Reason = stopReason(ctx)
		t.finished(j, &out)
		return out
	}
	t.started(j)

	rowCtx, span := o.metrics.StartRow(ctx, t.runID, j.index, j.filename)
	log := o.log.With("run_id", t.runID, "row", j.req.Row, "filename", j.filename, "voice", j.params.Voice)

	var lastErr error
	for attempt := 1; attempt <= 1+o.opts.Retries; attempt++ {
		out.Attempts = attempt
		o.metrics.Attempt(rowCtx)

		got, err := o.call(rowCtx, j.req.Text, j.params)
		if err == nil {
			got, err = checkAudio(got)
		}
		if err == nil {
			out.Status = StatusSuccess
			out.Audio = got
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt <= o.opts.Retries {
			log.Warn("synthesis failed, retrying", "attempt", attempt, "error", err)
		}
	}

	if lastErr != nil {
		out.Reason = failureReason(ctx, lastErr)
		log.Warn("row failed", "attempts", out.Attempts, "reason", out.Reason)
	} else {
		log.Debug("row synthesized", "attempts", out.Attempts, "bytes", len(out.Audio.Data))
	}
	out.Elapsed = o.now().Sub(start)

	o.metrics.RowFinished(rowCtx, span, string(out.Status), out.Reason, out.Attempts, out.Elapsed)
	t.finished(j, &out)
	return out
}

// checkAudio fills the provider defaults for an unset format. Audio it
// accepts is always encodable by audio.EncodeWAV.
func checkAudio(a tts.Audio) (tts.Audio, error) {
	if len(a.Data) == 0 {
		return a, errors.New(ReasonEmptyAudio)
	}
	if a.SampleRate == 0 {
		a.SampleRate = tts.DefaultSampleRate
	}
	if a.Channels == 0 {
		a.Channels = 1
	}
	if err := audio.Validate(a); err != nil {
		return a, fmt.Errorf("%s: %w", ReasonInvalidAudio, err)
	}
	return a, nil
}

type callResult struct {
	audio tts.Audio
	err   error
}

// call runs one synthesis, returning as soon as ctx ends even when the
// synthesizer does not observe it.
func (o *Orchestrator) call(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	done := make(chan callResult, 1)
	go func() {
		got, err := o.synth.Synthesize(ctx, text, params)
		done <- callResult{audio: got, err: err}
	}()
	select {
	case res := <-done:
		return res.audio, res.err
	case <-ctx.Done():
		return tts.Audio{}, ctx.Err()
	}
}

func stopReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

func failureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return stopReason(ctx)
	}
	return err.Error()
}

// tracker serializes observer calls.
type tracker struct {
	mu       sync.Mutex
	observer Observer
	runID    string
	total    int
	done     int
}

func (t *tracker) started(j job) {
	if t.observer == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer.Progress(Event{
		RunID:    t.runID,
		Stage:    StageRowStarted,
		Index:    j.index,
		Total:    t.total,
		Done:     t.done,
		Filename: j.filename,
	})
}

func (t *tracker) finished(j job, out *Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	if t.observer == nil {
		return
	}
	snapshot := *out
	t.observer.Progress(Event{
		RunID:    t.runID,
		Stage:    StageRowFinished,
		Index:    j.index,
		Total:    t.total,
		Done:     t.done,
		Filename: j.filename,
		Outcome:  &snapshot,
	})
}
