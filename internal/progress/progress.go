// Package progress provides batch.Observer implementations for terminals,
// logs and a NATS bus.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"

	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
)

// Multi fans events out to every non-nil observer.
func Multi(observers ...batch.Observer) batch.Observer {
	var list []batch.Observer
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return batch.ObserverFunc(func(e batch.Event) {
		for _, o := range list {
			o.Progress(e)
		}
	})
}

// Log reports progress through slog.
type Log struct {
	log *slog.Logger
}

// NewLog returns a slog-backed observer.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger.With("component", "progress")}
}

// Progress implements batch.Observer.
func (l *Log) Progress(e batch.Event) {
	switch e.Stage {
	case batch.StageRowStarted:
		l.log.Debug("row started", "index", e.Index, "total", e.Total, "filename", e.Filename)
	case batch.StageRowFinished:
		if e.Outcome == nil {
			return
		}
		l.log.Info("row finished",
			"done", e.Done,
			"total", e.Total,
			"filename", e.Filename,
			"status", e.Outcome.Status,
			"reason", e.Outcome.Reason,
		)
	}
}

// Terminal prints one line per finished row.
type Terminal struct {
	w    io.Writer
	ok   *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewTerminal writes progress lines to w. Colors follow fatih/color's
// terminal detection unless noColor is set.
func NewTerminal(w io.Writer, noColor bool) *Terminal {
	t := &Terminal{
		w:    w,
		ok:   color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		dim:  color.New(color.Faint),
	}
	if noColor {
		t.ok.DisableColor()
		t.fail.DisableColor()
		t.dim.DisableColor()
	}
	return t
}

// Progress implements batch.Observer.
func (t *Terminal) Progress(e batch.Event) {
	if e.Stage != batch.StageRowFinished || e.Outcome == nil {
		return
	}
	width := len(fmt.Sprint(e.Total))
	counter := fmt.Sprintf("[%*d/%d]", width, e.Done, e.Total)
	out := e.Outcome
	if out.Succeeded() {
		t.ok.Fprintf(t.w, "%s ok   %s.wav ", counter, out.Filename)
		t.dim.Fprintf(t.w, "(%s, %s) %q\n", out.Elapsed.Round(10*time.Millisecond), out.Params.Voice, script.Preview(out.Request.Text, 50))
		return
	}
	t.fail.Fprintf(t.w, "%s fail %s: %s\n", counter, out.Filename, out.Reason)
}

// Summary prints the closing report of a run.
func (t *Terminal) Summary(r batch.Result, archive string) {
	fmt.Fprintf(t.w, "run %s: ", r.RunID)
	t.ok.Fprintf(t.w, "%d succeeded", r.Succeeded)
	fmt.Fprint(t.w, ", ")
	if r.Failed > 0 {
		t.fail.Fprintf(t.w, "%d failed", r.Failed)
	} else {
		fmt.Fprintf(t.w, "%d failed", r.Failed)
	}
	fmt.Fprintf(t.w, ", %d skipped\n", r.Skipped())
	for _, w := range r.Warnings {
		t.dim.Fprintf(t.w, "  warning: %s\n", w)
	}
	if archive != "" {
		fmt.Fprintf(t.w, "archive: %s\n", archive)
	}
}
