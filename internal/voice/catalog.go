// Package voice maps script rows to concrete synthesis parameters.
package voice

import (
	"fmt"
	"strings"
)

// Voice is a named speaker preset offered by a provider.
type Voice struct {
	Name        string
	Description string
}

// Catalog is the set of voices a provider accepts. An open catalog accepts
// any non-empty name, for adapters whose voices are not known up front.
type Catalog struct {
	Provider string
	Default  string
	voices   []Voice
	index    map[string]string
	open     bool
}

func newCatalog(provider, def string, voices []Voice) *Catalog {
	c := &Catalog{
		Provider: provider,
		Default:  def,
		voices:   voices,
		index:    make(map[string]string, len(voices)),
	}
	for _, v := range voices {
		c.index[strings.ToLower(v.Name)] = v.Name
	}
	return c
}

// Lookup returns the canonical spelling of name.
func (c *Catalog) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if c.open {
		return name, true
	}
	canonical, ok := c.index[strings.ToLower(name)]
	return canonical, ok
}

// Voices lists the catalog in display order. Open catalogs list nothing.
func (c *Catalog) Voices() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

// Open reports whether the catalog accepts arbitrary names.
func (c *Catalog) Open() bool {
	return c.open
}

// Gemini prebuilt voices.
var Gemini = newCatalog("gemini", "Zephyr", []Voice{
	{"Zephyr", "female, calm"},
	{"Kore", "female, bright"},
	{"Aoede", "female, gentle"},
	{"Callirhoe", "female, refined"},
	{"Autonoe", "female, lively"},
	{"Despina", "female, soft"},
	{"Erinome", "female, intelligent"},
	{"Laomedeia", "female, serene"},
	{"Schedar", "female, crisp"},
	{"Pulcherrima", "female, glamorous"},
	{"Vindemiatrix", "female, deep"},
	{"Puck", "male, youthful"},
	{"Charon", "male, calm"},
	{"Fenrir", "male, powerful"},
	{"Leda", "male, gentle"},
	{"Orus", "male, mature"},
	{"Enceladus", "male, weighty"},
	{"Iapetus", "male, intelligent"},
	{"Umbriel", "male, serene"},
	{"Algieba", "male, articulate"},
	{"Algenib", "male, distinct"},
	{"Rasalgethi", "male, deep"},
	{"Achernar", "male, clear"},
	{"Alnilam", "male, warm"},
	{"Gacrux", "male, steady"},
	{"Achird", "male, friendly"},
	{"Zubenelgenubi", "male, unique"},
	{"Sadachbia", "male, fresh"},
	{"Sadaltager", "male, memorable"},
	{"Sulafar", "male, distinctive"},
})

// OpenAI speech voices.
var OpenAI = newCatalog("openai", "alloy", []Voice{
	{"alloy", "neutral, balanced"},
	{"echo", "male, clear"},
	{"fable", "british accent"},
	{"onyx", "male, deep"},
	{"nova", "female, young"},
	{"shimmer", "female, warm"},
})

// NAP accepts whatever voice the remote adapter understands.
var NAP = &Catalog{Provider: "nap", open: true, index: map[string]string{}}

// CatalogFor returns the catalog used by provider. The stub provider shares
// the Gemini catalog.
func CatalogFor(provider string) (*Catalog, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gemini", "stub":
		return Gemini, nil
	case "openai":
		return OpenAI, nil
	case "nap":
		return NAP, nil
	default:
		return nil, fmt.Errorf("voice: unknown provider %q", provider)
	}
}
