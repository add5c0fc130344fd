package voice

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/plugin-tts-batch/internal/script"
	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

// Resolver applies the batch defaults to a request.
type Resolver struct {
	catalog      *Catalog
	defaultVoice string
	instruction  string
}

// NewResolver builds a resolver. An empty defaultVoice selects the catalog
// default; instruction is the batch-wide performance direction.
func NewResolver(catalog *Catalog, defaultVoice, instruction string) (*Resolver, error) {
	if catalog == nil {
		return nil, fmt.Errorf("voice: catalog is required")
	}
	def := strings.TrimSpace(defaultVoice)
	if def == "" {
		def = catalog.Default
	}
	if def != "" {
		canonical, ok := catalog.Lookup(def)
		if !ok {
			return nil, fmt.Errorf("voice: default voice %q is not offered by %s", def, catalog.Provider)
		}
		def = canonical
	}
	return &Resolver{
		catalog:      catalog,
		defaultVoice: def,
		instruction:  strings.TrimSpace(instruction),
	}, nil
}

// DefaultVoice returns the voice used when a row does not pick one.
func (r *Resolver) DefaultVoice() string {
	return r.defaultVoice
}

// Resolve returns the synthesis parameters for req. An unknown voice falls
// back to the default and yields a warning; the row is never rejected.
func (r *Resolver) Resolve(req script.Request) (tts.Params, *script.Warning) {
	params := tts.Params{
		Voice:       r.defaultVoice,
		Instruction: r.combineInstruction(req.Instruction),
	}

	requested := strings.TrimSpace(req.Voice)
	if requested == "" {
		return params, nil
	}
	if canonical, ok := r.catalog.Lookup(requested); ok {
		params.Voice = canonical
		return params, nil
	}
	return params, &script.Warning{
		Row:     req.Row,
		Kind:    script.WarningVoiceFallback,
		Message: fmt.Sprintf("unknown voice %q, using %q", requested, r.defaultVoice),
	}
}

func (r *Resolver) combineInstruction(row string) string {
	row = strings.TrimSpace(row)
	switch {
	case r.instruction == "":
		return row
	case row == "":
		return r.instruction
	default:
		return r.instruction + "\n" + row
	}
}
