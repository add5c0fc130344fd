// Package cache keeps synthesized audio on disk so rows that were already
// synthesized with the same provider settings are not paid for twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/nupi-ai/plugin-tts-batch/internal/tts"
)

const entryExt = ".wav"

// Stats is a snapshot of cache usage.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int64
	Misses  int64
}

// Cache is a size-bounded LRU of WAV files in one directory. The recency
// index lives in memory and is rebuilt from file modification times on open.
type Cache struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	log      *slog.Logger
	index    *simplelru.LRU[string, int64]
	bytes    int64
	hits     int64
	misses   int64
}

// New opens the cache in dir, creating it when missing, with a total size
// cap of maxBytes.
func New(dir string, maxBytes int64, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: size limit must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{
		dir:      dir,
		maxBytes: maxBytes,
		log:      logger.With("component", "cache", "dir", dir),
	}
	// Capacity is enforced in bytes by shrink, not by entry count.
	index, err := simplelru.NewLRU[string, int64](math.MaxInt32, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: index: %w", err)
	}
	c.index = index
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// onEvict runs with mu held whenever an entry leaves the index.
func (c *Cache) onEvict(key string, size int64) {
	c.bytes -= size
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		c.log.Warn("failed to remove cache file", "key", key, "error", err)
	}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+entryExt)
}

// Get returns the stored bytes for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index.Get(key); !ok {
		c.misses++
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.log.Warn("cache file unreadable, dropping entry", "key", key, "error", err)
		c.index.Remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return data, true
}

// Put stores data under key and evicts the least recently used entries
// until the cache fits its limit again. Data larger than the whole cache is
// not stored.
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if size > c.maxBytes {
		c.log.Debug("entry larger than cache, not stored", "key", key, "size", size)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.index.Remove(key)
	c.shrink(size)

	p := c.path(key)
	tmp, err := os.CreateTemp(c.dir, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: rename: %w", err)
	}

	c.index.Add(key, size)
	c.bytes += size
	return nil
}

// Stats returns current usage counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: c.index.Len(),
		Bytes:   c.bytes,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// Key derives the entry name for one synthesis call. namespace identifies
// the provider configuration so different backends never share entries.
// Fields are length-prefixed, so no field value can spill into the next.
func Key(namespace, text string, params tts.Params) string {
	h := sha256.New()
	for _, field := range []string{namespace, text, params.Voice, params.Instruction} {
		fmt.Fprintf(h, "%d:%s;", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// shrink evicts until needed more bytes fit. Must be called with mu held.
func (c *Cache) shrink(needed int64) {
	for c.bytes+needed > c.maxBytes {
		key, size, ok := c.index.RemoveOldest()
		if !ok {
			return
		}
		c.log.Debug("evicted cache entry", "key", key, "size", size)
	}
}

// load indexes the files already in dir, oldest first, and trims the result
// to the size limit.
func (c *Cache) load() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+entryExt))
	if err != nil {
		return fmt.Errorf("cache: scan dir: %w", err)
	}

	type file struct {
		key  string
		size int64
		mod  int64
	}
	files := make([]file, 0, len(matches))
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, file{
			key:  strings.TrimSuffix(filepath.Base(p), entryExt),
			size: info.Size(),
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		c.index.Add(f.key, f.size)
		c.bytes += f.size
	}
	c.shrink(0)
	if n := c.index.Len(); n > 0 {
		c.log.Info("loaded existing cache entries", "count", n, "total_bytes", c.bytes)
	}
	return nil
}
