// Package archive packages batch outcomes as a ZIP of WAV files plus a
// manifest of rows that produced no audio.
package archive

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/nupi-ai/plugin-tts-batch/internal/audio"
	"github.com/nupi-ai/plugin-tts-batch/internal/batch"
	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

// ManifestName is the entry listing failed and skipped rows.
const ManifestName = "failures.csv"

// WarningNoAudio is reported when a result holds no successful rows.
const WarningNoAudio = "no rows produced audio; archive contains only the manifest"

// Options tunes archive contents.
type Options struct {
	// AlwaysManifest writes the manifest even when every row succeeded.
	AlwaysManifest bool
	// Store disables compression.
	Store bool
}

// Archive describes a written archive. Data is set by Build only.
// Demoted lists successful rows whose audio could not be encoded; they are
// reported in the manifest instead of the archive.
type Archive struct {
	Data     []byte
	Entries  []string
	Warnings []string
	Demoted  []Demotion
}

// Demotion marks the outcome at Index as failed with Reason.
type Demotion struct {
	Index  int
	Reason string
}

// Reconcile returns result with demoted rows counted as failures, so
// summaries agree with the archive contents. result is not modified.
func (a *Archive) Reconcile(result batch.Result) batch.Result {
	if len(a.Demoted) == 0 {
		return result
	}
	result.Outcomes = slices.Clone(result.Outcomes)
	for _, d := range a.Demoted {
		if d.Index < 0 || d.Index >= len(result.Outcomes) {
			continue
		}
		out := &result.Outcomes[d.Index]
		if !out.Succeeded() {
			continue
		}
		out.Status = batch.StatusFailure
		out.Reason = d.Reason
		out.Audio = tts.Audio{}
		result.Succeeded--
		result.Failed++
	}
	return result
}

// Error reports a writer or encoder fault while building an archive.
type Error struct {
	Op    string
	Entry string
	Err   error
}

func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("archive: %s %s: %v", e.Op, e.Entry, e.Err)
	}
	return fmt.Sprintf("archive: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DefaultName returns the timestamped archive file name for t.
func DefaultName(t time.Time) string {
	return t.Format("tts_output_20060102_150405.zip")
}

// Build writes result into an in-memory ZIP.
func Build(result batch.Result, opts Options) (*Archive, error) {
	var buf bytes.Buffer
	a, err := Write(&buf, result, opts)
	if err != nil {
		return nil, err
	}
	a.Data = buf.Bytes()
	return a, nil
}

// Write streams result as a ZIP to w. Per-row failures never fail the
// archive: a row whose audio cannot be encoded is demoted to the manifest.
// Only writer faults return an *Error.
func Write(w io.Writer, result batch.Result, opts Options) (*Archive, error) {
	a := &Archive{}
	zw := zip.NewWriter(w)

	modified := result.FinishedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	method := zip.Deflate
	if opts.Store {
		method = zip.Store
	}

	names := script.NewNameSet()

	var failed int
	for i, out := range result.Outcomes {
		if !out.Succeeded() {
			failed++
			continue
		}
		wav, err := audio.EncodeWAV(out.Audio)
		if err != nil {
			failed++
			a.Demoted = append(a.Demoted, Demotion{Index: i, Reason: "encode: " + err.Error()})
			a.Warnings = append(a.Warnings, fmt.Sprintf("row %d (%s): audio could not be encoded, listed in %s",
				out.Request.Row, out.Filename, ManifestName))
			continue
		}
		base := script.SanitizeFilename(out.Filename)
		if base == "" {
			base = script.DefaultFilename(i+1, "")
		}
		entry := names.Claim(base) + ".wav"
		if err := writeEntry(zw, entry, method, modified, wav); err != nil {
			return nil, err
		}
		a.Entries = append(a.Entries, entry)
	}

	if len(a.Entries) == 0 {
		a.Warnings = append(a.Warnings, WarningNoAudio)
	}

	if failed > 0 || len(a.Entries) == 0 || opts.AlwaysManifest {
		manifest, err := buildManifest(a.Reconcile(result))
		if err != nil {
			return nil, &Error{Op: "encode", Entry: ManifestName, Err: err}
		}
		if err := writeEntry(zw, ManifestName, method, modified, manifest); err != nil {
			return nil, err
		}
		a.Entries = append(a.Entries, ManifestName)
	}

	if err := zw.Close(); err != nil {
		return nil, &Error{Op: "close", Err: err}
	}
	return a, nil
}

func writeEntry(zw *zip.Writer, name string, method uint16, modified time.Time, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: modified,
	})
	if err != nil {
		return &Error{Op: "create", Entry: name, Err: err}
	}
	if _, err := fw.Write(data); err != nil {
		return &Error{Op: "write", Entry: name, Err: err}
	}
	return nil
}

// buildManifest lists failed rows followed by rows the parser skipped.
func buildManifest(result batch.Result) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"filename", "reason"}); err != nil {
		return nil, err
	}
	for _, out := range result.Failures() {
		if err := cw.Write([]string{out.Filename, out.Reason}); err != nil {
			return nil, err
		}
	}
	for _, w := range result.Warnings {
		if w.Kind != script.WarningRowSkipped {
			continue
		}
		if err := cw.Write([]string{"", fmt.Sprintf("row %d: %s", w.Row, w.Message)}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}
