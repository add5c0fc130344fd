package script

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"Hello, World!", 32, "hello-world"},
		{"  --leading and trailing--  ", 32, "leading-and-trailing"},
		{"ＡＢＣ１２３", 32, "abc123"},
		{"おはようございます。本日は晴天なり。", 32, "おはようございます-本日は晴天なり"},
		{"one two three", 7, "one-two"},
		{"!!!", 32, ""},
	}

	for _, tt := range tests {
		if got := Slug(tt.in, tt.max); got != tt.want {
			t.Errorf("Slug(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestDefaultFilename(t *testing.T) {
	if got := DefaultFilename(7, "Next, an announcement."); got != "audio_007_next-an-announcement" {
		t.Errorf("DefaultFilename = %q", got)
	}
	if got := DefaultFilename(12, "?!"); got != "audio_012" {
		t.Errorf("DefaultFilename = %q", got)
	}
	if DefaultFilename(3, "same text") != DefaultFilename(3, "same text") {
		t.Error("DefaultFilename is not deterministic")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"greeting":          "greeting",
		" greeting.WAV ":    "greeting",
		"../../etc/passwd":  "_.._etc_passwd",
		"a:b*c?":            "a_b_c_",
		".hidden":           "hidden",
		"   ":               "",
		"line\nbreak":       "line_break",
		"日本語のファイル名": "日本語のファイル名",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNameSetClaim(t *testing.T) {
	names := NewNameSet()
	got := []string{
		names.Claim("greeting"),
		names.Claim("greeting"),
		names.Claim("Greeting"),
		names.Claim("greeting_2"),
		names.Claim("other"),
	}
	want := []string{"greeting", "greeting_2", "Greeting_3", "greeting_2_2", "other"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("claim %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		text string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"exactly ten", 11, "exactly ten"},
		{"Grüße aus Köln", 5, "Grüße..."},
	}
	for _, tt := range tests {
		if got := Preview(tt.text, tt.n); got != tt.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
		}
	}
}
