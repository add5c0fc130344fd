// Package script parses batch scripts: CSV files with one text-to-speech
// request per row.
package script

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Column names recognised in the header row. Matching is case-sensitive.
const (
	ColumnText        = "text"
	ColumnVoice       = "voice"
	ColumnFilename    = "filename"
	ColumnInstruction = "instruction"
)

// Warning kinds.
const (
	WarningRowSkipped    = "row_skipped"
	WarningVoiceFallback = "voice_fallback"
)

// ErrMalformedInput is returned when the script has no usable structure:
// empty input, no header, no text column or no data rows.
var ErrMalformedInput = errors.New("malformed input")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Request is one validated row of a script.
type Request struct {
	// Row is the 1-based data row index (the header is not counted).
	Row         int
	Text        string
	Voice       string
	Filename    string
	Instruction string
}

// Warning records a non-fatal problem attributed to a row.
type Warning struct {
	Row     int
	Kind    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Message)
}

// Parse reads CSV bytes into requests in row order. Rows with empty text are
// skipped and reported as warnings.
func Parse(data []byte) ([]Request, []Warning, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, fmt.Errorf("script: %w: empty input", ErrMalformedInput)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("script: %w: read header: %v", ErrMalformedInput, err)
	}
	cols := indexColumns(header)
	if _, ok := cols[ColumnText]; !ok {
		return nil, nil, fmt.Errorf("script: %w: missing required %q column", ErrMalformedInput, ColumnText)
	}

	var (
		requests []Request
		warnings []Warning
		row      int
	)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("script: %w: %v", ErrMalformedInput, err)
		}
		row++

		text := strings.TrimSpace(cell(record, cols, ColumnText))
		if text == "" {
			warnings = append(warnings, Warning{
				Row:     row,
				Kind:    WarningRowSkipped,
				Message: "empty text, row skipped",
			})
			continue
		}

		filename := SanitizeFilename(cell(record, cols, ColumnFilename))
		if filename == "" {
			filename = DefaultFilename(row, text)
		}

		requests = append(requests, Request{
			Row:         row,
			Text:        text,
			Voice:       strings.TrimSpace(cell(record, cols, ColumnVoice)),
			Filename:    filename,
			Instruction: strings.TrimSpace(cell(record, cols, ColumnInstruction)),
		})
	}

	if row == 0 {
		return nil, nil, fmt.Errorf("script: %w: no data rows", ErrMalformedInput)
	}
	return requests, warnings, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func cell(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// WriteCSV writes requests in the script format so they can be parsed again.
func WriteCSV(w io.Writer, requests []Request) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnText, ColumnVoice, ColumnFilename, ColumnInstruction}); err != nil {
		return fmt.Errorf("script: write header: %w", err)
	}
	for _, req := range requests {
		if err := cw.Write([]string{req.Text, req.Voice, req.Filename, req.Instruction}); err != nil {
			return fmt.Errorf("script: write row %d: %w", req.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Template returns the sample script offered to new users.
func Template() []Request {
	return []Request{
		{Row: 1, Text: "Good morning. The weather today is clear.", Voice: "Zephyr", Filename: "greeting", Instruction: "Bright and energetic"},
		{Row: 2, Text: "Next, an announcement.", Voice: "Kore", Filename: "announcement", Instruction: "Clear and easy to follow"},
		{Row: 3, Text: "Thank you for listening.", Voice: "Zephyr", Filename: "closing", Instruction: "Slow and polite"},
	}
}

// WriteTemplate writes the sample script, prefixed with a UTF-8 BOM when bom
// is set so spreadsheet applications detect the encoding.
func WriteTemplate(w io.Writer, bom bool) error {
	if bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("script: write bom: %w", err)
		}
	}
	return WriteCSV(w, Template())
}
