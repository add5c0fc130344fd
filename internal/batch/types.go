// Package batch drives a parsed script through voice resolution and speech
// synthesis, producing exactly one outcome per row.
package batch

import (
	"time"

	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

// Status tags an Outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Failure reasons assigned by the orchestrator itself.
const (
	ReasonTimeout      = "timeout"
	ReasonCanceled     = "canceled"
	ReasonEmptyAudio   = "provider returned no audio"
	// ReasonInvalidAudio prefixes failures for payloads that are not
	// encodable PCM16, followed by the validation error.
	ReasonInvalidAudio = "provider returned invalid audio"
)

// Outcome is the per-row result. Audio is set only on success, Reason only
// on failure.
type Outcome struct {
	Request  script.Request
	Filename string
	Params   tts.Params
	Status   Status
	Audio    tts.Audio
	Reason   string
	Attempts int
	Elapsed  time.Duration
}

// Succeeded reports whether the row produced audio.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Result is the aggregate of a run. Outcomes are in input order.
type Result struct {
	RunID      string
	Outcomes   []Outcome
	Succeeded  int
	Failed     int
	Warnings   []script.Warning
	StartedAt  time.Time
	FinishedAt time.Time
}

// Skipped counts rows dropped by the parser.
func (r Result) Skipped() int {
	n := 0
	for _, w := range r.Warnings {
		if w.Kind == script.WarningRowSkipped {
			n++
		}
	}
	return n
}

// Failures returns the failed outcomes in input order.
func (r Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

// Stage identifies a progress event.
type Stage string

const (
	StageRowStarted  Stage = "row_started"
	StageRowFinished Stage = "row_finished"
)

// Event reports progress on one row. Index is the zero-based row position,
// Done the number of rows finished so far. Outcome is set on StageRowFinished.
type Event struct {
	RunID    string
	Stage    Stage
	Index    int
	Total    int
	Done     int
	Filename string
	Outcome  *Outcome
}

// Observer receives progress events. Calls are serialized.
type Observer interface {
	Progress(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Progress calls f(e).
func (f ObserverFunc) Progress(e Event) {
	f(e)
}
