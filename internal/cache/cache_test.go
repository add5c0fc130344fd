package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

func newTestCache(t *testing.T, maxBytes int64) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, maxBytes, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, dir
}

func TestPutAndGet(t *testing.T) {
	c, dir := newTestCache(t, 1024)

	data := []byte("RIFF fake wav")
	if err := c.Put("k", data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get("k")
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("Get = %q, %v; want %q, true", got, ok, data)
	}
	if _, err := os.Stat(filepath.Join(dir, "k.wav")); err != nil {
		t.Errorf("entry file missing: %v", err)
	}
	if _, ok := c.Get("other"); ok {
		t.Error("Get of a missing key reported a hit")
	}

	st := c.Stats()
	if st.Entries != 1 || st.Bytes != int64(len(data)) || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestNewRejectsZeroLimit(t *testing.T) {
	if _, err := New(t.TempDir(), 0, nil); err == nil {
		t.Fatal("expected error for a zero size limit")
	}
}

func TestEviction(t *testing.T) {
	tests := []struct {
		name   string
		max    int64
		steps  func(c *Cache)
		kept   []string
		gone   []string
		nbytes int64
	}{
		{
			name: "oldest goes first",
			max:  100,
			steps: func(c *Cache) {
				c.Put("a", make([]byte, 60))
				c.Put("b", make([]byte, 60))
			},
			kept:   []string{"b"},
			gone:   []string{"a"},
			nbytes: 60,
		},
		{
			name: "reads refresh recency",
			max:  150,
			steps: func(c *Cache) {
				c.Put("old", make([]byte, 50))
				c.Put("mid", make([]byte, 50))
				c.Get("old")
				c.Put("new", make([]byte, 60))
			},
			kept:   []string{"old", "new"},
			gone:   []string{"mid"},
			nbytes: 110,
		},
		{
			name: "oversized entries are ignored",
			max:  50,
			steps: func(c *Cache) {
				c.Put("small", make([]byte, 10))
				c.Put("big", make([]byte, 100))
			},
			kept:   []string{"small"},
			gone:   []string{"big"},
			nbytes: 10,
		},
		{
			name: "overwrite replaces size",
			max:  100,
			steps: func(c *Cache) {
				c.Put("a", make([]byte, 70))
				c.Put("a", make([]byte, 20))
				c.Put("b", make([]byte, 70))
			},
			kept:   []string{"a", "b"},
			nbytes: 90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dir := newTestCache(t, tt.max)
			tt.steps(c)
			if got := c.Stats().Bytes; got != tt.nbytes {
				t.Errorf("Bytes = %d, want %d", got, tt.nbytes)
			}
			for _, k := range tt.gone {
				if _, err := os.Stat(filepath.Join(dir, k+".wav")); !os.IsNotExist(err) {
					t.Errorf("file for %q should be removed", k)
				}
				if _, ok := c.Get(k); ok {
					t.Errorf("%q should not be cached", k)
				}
			}
			for _, k := range tt.kept {
				if _, ok := c.Get(k); !ok {
					t.Errorf("%q should be cached", k)
				}
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 1024*1024)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key("gemini/flash", "text", tts.Params{Voice: "Zephyr", Instruction: string(rune('a' + i%3))})
			c.Put(key, make([]byte, 100))
			c.Get(key)
		}(i)
	}
	wg.Wait()

	if st := c.Stats(); st.Entries != 3 || st.Bytes != 300 {
		t.Errorf("Stats = %+v, want 3 entries of 100 bytes", st)
	}
}

func TestKey(t *testing.T) {
	p := tts.Params{Voice: "Kore", Instruction: "slowly"}
	if Key("gemini/flash", "hello", p) != Key("gemini/flash", "hello", p) {
		t.Fatal("same input produced different keys")
	}

	base := Key("gemini/flash", "hello", tts.Params{Voice: "Kore"})
	variants := []string{
		Key("gemini/flash", "world", tts.Params{Voice: "Kore"}),
		Key("gemini/pro", "hello", tts.Params{Voice: "Kore"}),
		Key("gemini/flash", "hello", tts.Params{Voice: "Puck"}),
		Key("gemini/flash", "hello", tts.Params{Voice: "Kore", Instruction: "whisper"}),
	}
	for i, k := range variants {
		if k == base {
			t.Errorf("variant %d produced the same key", i)
		}
	}
	if len(base) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(base))
	}

	// Delimiters inside a field must not let it pose as the next one.
	collisions := []struct {
		name string
		a, b string
	}{
		{
			"text into voice",
			Key("gemini/flash", "a\nvoice=b", tts.Params{Voice: "c"}),
			Key("gemini/flash", "a", tts.Params{Voice: "b\nvoice=c"}),
		},
		{
			"voice into instruction",
			Key("gemini/flash", "hi", tts.Params{Voice: "Kore;", Instruction: "x"}),
			Key("gemini/flash", "hi", tts.Params{Voice: "Kore", Instruction: ";x"}),
		},
		{
			"namespace into text",
			Key("ns", "1:x;", tts.Params{}),
			Key("ns;1:x", "", tts.Params{}),
		},
	}
	for _, c := range collisions {
		if c.a == c.b {
			t.Errorf("%s: distinct inputs share a key", c.name)
		}
	}
}

func TestReopenKeepsNewestWithinLimit(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i, name := range []string{"aaa", "bbb", "ccc"} {
		p := filepath.Join(dir, name+".wav")
		if err := os.WriteFile(p, make([]byte, 50), 0o644); err != nil {
			t.Fatal(err)
		}
		mod := now.Add(time.Duration(i-3) * time.Minute)
		if err := os.Chtimes(p, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := New(dir, 100, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if st := c.Stats(); st.Entries != 2 || st.Bytes != 100 {
		t.Fatalf("Stats = %+v, want 2 entries / 100 bytes", st)
	}
	if _, ok := c.Get("aaa"); ok {
		t.Error("oldest file should have been evicted on open")
	}
	for _, k := range []string{"bbb", "ccc"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should survive reopening", k)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("unrelated files must be left alone")
	}
}

func TestMissingFileDropsEntry(t *testing.T) {
	c, dir := newTestCache(t, 1024)
	c.Put("stale", []byte("data"))

	os.Remove(filepath.Join(dir, "stale.wav"))

	if _, ok := c.Get("stale"); ok {
		t.Error("Get should miss when the file is gone")
	}
	if st := c.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("Stats after dropping = %+v", st)
	}
}
