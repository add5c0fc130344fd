package adapterinfo

import "testing"

func TestEmbeddedManifest(t *testing.T) {
	if Info.Slug != "tts-batch" {
		t.Errorf("Slug = %q, want tts-batch", Info.Slug)
	}
	if Info.BinaryName != "ttsbatch" {
		t.Errorf("BinaryName = %q, want ttsbatch", Info.BinaryName)
	}
	if Version() == "" {
		t.Error("Version is empty")
	}
}

func TestParseManifestDefaults(t *testing.T) {
	meta, err := parseManifest([]byte("metadata:\n  slug: demo\n  version: 1.2.3\n"))
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if meta.Name != "demo" || meta.BinaryName != "demo" || meta.GeneratorID != "demo" {
		t.Errorf("defaults not applied: %+v", meta)
	}
	if meta.Description != "demo" {
		t.Errorf("Description = %q, want demo", meta.Description)
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing version", "metadata:\n  slug: demo\n"},
		{"missing slug", "metadata:\n  version: 1.0.0\n"},
		{"invalid yaml", "metadata: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseManifest([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSynthesisMetadata(t *testing.T) {
	md := SynthesisMetadata("gemini", "Zephyr", 24000)
	if md[MetaVoice] != "Zephyr" || md[MetaSampleRate] != "24000" || md["provider"] != "gemini" {
		t.Errorf("unexpected metadata: %v", md)
	}
	if md["generator"] != Info.GeneratorID {
		t.Errorf("generator = %q", md["generator"])
	}
}
