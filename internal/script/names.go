package script

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugRunes = 32

// DefaultFilename derives a stable name from the row index and a slug of the
// text, e.g. "audio_003_good-morning".
func DefaultFilename(row int, text string) string {
	base := fmt.Sprintf("audio_%03d", row)
	if slug := Slug(text, maxSlugRunes); slug != "" {
		return base + "_" + slug
	}
	return base
}

// Slug lowercases text after NFKC normalisation, keeps letters and digits and
// collapses everything else into single dashes. The result holds at most
// maxRunes runes.
func Slug(text string, maxRunes int) string {
	var b strings.Builder
	n := 0
	dash := false
	for _, r := range strings.ToLower(norm.NFKC.String(text)) {
		if n >= maxRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				n++
				if n >= maxRunes {
					break
				}
			}
			b.WriteRune(r)
			n++
			dash = false
			continue
		}
		dash = true
	}
	return strings.Trim(b.String(), "-")
}

// SanitizeFilename turns a user supplied name into a safe archive entry base
// name: no directories, no reserved characters and no .wav suffix.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToLower(name), ".wav") {
		name = name[:len(name)-len(".wav")]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
	return strings.TrimSpace(strings.TrimLeft(name, "."))
}

// NameSet hands out unique names. Comparison ignores case so the result is
// safe on case-insensitive filesystems.
type NameSet struct {
	taken map[string]struct{}
}

// NewNameSet returns an empty NameSet.
func NewNameSet() *NameSet {
	return &NameSet{taken: make(map[string]struct{})}
}

// Claim reserves name, or the first free "name_N" with N >= 2.
func (s *NameSet) Claim(name string) string {
	candidate := name
	for n := 2; ; n++ {
		key := strings.ToLower(candidate)
		if _, ok := s.taken[key]; !ok {
			s.taken[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
}

// Preview shortens text to at most n runes, marking truncation with "...".
func Preview(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
