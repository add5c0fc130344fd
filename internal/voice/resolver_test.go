package voice

import (
	"testing"

	"github.com/nupi-ai/plugin-tts-batch/internal/script"
)

func TestResolveKnownVoice(t *testing.T) {
	r, err := NewResolver(Gemini, "", "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	params, warning := r.Resolve(script.Request{Row: 1, Text: "hello", Voice: "Zephyr"})
	if warning != nil {
		t.Errorf("unexpected warning: %v", warning)
	}
	if params.Voice != "Zephyr" {
		t.Errorf("Voice = %q, want Zephyr", params.Voice)
	}
}

func TestResolveCanonicalisesCase(t *testing.T) {
	r, err := NewResolver(Gemini, "kore", "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if r.DefaultVoice() != "Kore" {
		t.Errorf("DefaultVoice = %q, want Kore", r.DefaultVoice())
	}
	params, warning := r.Resolve(script.Request{Row: 1, Voice: "PUCK"})
	if warning != nil || params.Voice != "Puck" {
		t.Errorf("params = %+v, warning = %v", params, warning)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r, err := NewResolver(Gemini, "Charon", "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	params, warning := r.Resolve(script.Request{Row: 2, Voice: "BadVoice"})
	if params.Voice != "Charon" {
		t.Errorf("Voice = %q, want Charon", params.Voice)
	}
	if warning == nil {
		t.Fatal("expected a fallback warning")
	}
	if warning.Kind != script.WarningVoiceFallback || warning.Row != 2 {
		t.Errorf("warning = %+v", warning)
	}

	params, warning = r.Resolve(script.Request{Row: 3})
	if params.Voice != "Charon" || warning != nil {
		t.Errorf("empty voice: params = %+v, warning = %v", params, warning)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r, err := NewResolver(Gemini, "", "Speak warmly")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	req := script.Request{Row: 5, Voice: "unknown", Instruction: "slowly"}
	p1, w1 := r.Resolve(req)
	p2, w2 := r.Resolve(req)
	if p1 != p2 {
		t.Errorf("params differ: %+v vs %+v", p1, p2)
	}
	if *w1 != *w2 {
		t.Errorf("warnings differ: %+v vs %+v", w1, w2)
	}
}

func TestResolveInstruction(t *testing.T) {
	tests := []struct {
		name   string
		global string
		row    string
		want   string
	}{
		{"none", "", "", ""},
		{"row only", "", "  whisper  ", "whisper"},
		{"global only", "Speak warmly", "", "Speak warmly"},
		{"both", "Speak warmly", "slowly", "Speak warmly\nslowly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(Gemini, "", tt.global)
			if err != nil {
				t.Fatalf("NewResolver: %v", err)
			}
			params, _ := r.Resolve(script.Request{Row: 1, Instruction: tt.row})
			if params.Instruction != tt.want {
				t.Errorf("Instruction = %q, want %q", params.Instruction, tt.want)
			}
		})
	}
}

func TestNewResolverRejectsUnknownDefault(t *testing.T) {
	if _, err := NewResolver(OpenAI, "Zephyr", ""); err == nil {
		t.Fatal("expected error for default voice outside the catalog")
	}
	if _, err := NewResolver(nil, "", ""); err == nil {
		t.Fatal("expected error for nil catalog")
	}
}

func TestOpenCatalogAcceptsAnyVoice(t *testing.T) {
	r, err := NewResolver(NAP, "", "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	params, warning := r.Resolve(script.Request{Row: 1, Voice: "UgBBYS2sOqTuMpoF3BR0"})
	if warning != nil || params.Voice != "UgBBYS2sOqTuMpoF3BR0" {
		t.Errorf("params = %+v, warning = %v", params, warning)
	}
	params, _ = r.Resolve(script.Request{Row: 2})
	if params.Voice != "" {
		t.Errorf("Voice = %q, want adapter default (empty)", params.Voice)
	}
}

func TestCatalogFor(t *testing.T) {
	for provider, want := range map[string]*Catalog{
		"gemini": Gemini,
		"stub":   Gemini,
		"OpenAI": OpenAI,
		"nap":    NAP,
	} {
		got, err := CatalogFor(provider)
		if err != nil {
			t.Errorf("CatalogFor(%q): %v", provider, err)
			continue
		}
		if got != want {
			t.Errorf("CatalogFor(%q) = %s, want %s", provider, got.Provider, want.Provider)
		}
	}
	if _, err := CatalogFor("polly"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if n := len(Gemini.Voices()); n != 30 {
		t.Errorf("Gemini catalog has %d voices, want 30", n)
	}
}
