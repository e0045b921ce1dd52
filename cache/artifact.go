package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/renameio/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
)

// ArtifactCache is a content-addressed store shared across scenes and tasks
// on the same host. Keys derive deterministically from the operation and its
// arguments, so two semantically identical requests share an entry. Values
// are either small serialized results or pinned paths to on-disk artifacts.
//
// All cache errors are non-fatal: callers fall through to recomputation.
type ArtifactCache struct {
	dir    string
	hits   atomic.Int64
	misses atomic.Int64
}

const (
	entryKindPath   = "path"
	entryKindResult = "result"
)

type entry struct {
	Kind   string                 `json:"kind"`
	Path   string                 `json:"path,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
}

func NewArtifactCache(dir string) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &ArtifactCache{dir: dir}, nil
}

// Key derives the hex content hash for an operation. The provider tag is part
// of the key so a fallback-produced artifact never poisons the primary's slot.
func Key(op, provider string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	for _, a := range args {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	h.Write([]byte(provider))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ArtifactCache) entryFile(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// GetPath returns the pinned artifact path for a key. A stored path whose
// file no longer exists counts as a miss and evicts the stale entry.
func (c *ArtifactCache) GetPath(key string) (string, bool) {
	e, ok := c.read(key)
	if !ok || e.Kind != entryKindPath {
		c.miss()
		return "", false
	}
	if _, err := os.Stat(e.Path); err != nil {
		// artifact vanished from disk, drop the entry
		_ = os.Remove(c.entryFile(key))
		c.miss()
		return "", false
	}
	c.hit()
	return e.Path, true
}

// GetResult decodes a stored result object into out.
func (c *ArtifactCache) GetResult(key string, out interface{}) bool {
	e, ok := c.read(key)
	if !ok || e.Kind != entryKindResult {
		c.miss()
		return false
	}
	if err := mapstructure.Decode(e.Result, out); err != nil {
		log.LogNoTaskID("artifact cache entry undecodable, evicting", "key", key, "err", err)
		_ = os.Remove(c.entryFile(key))
		c.miss()
		return false
	}
	c.hit()
	return true
}

// PutPath pins an on-disk artifact under a key.
func (c *ArtifactCache) PutPath(key, path string) {
	c.write(key, entry{Kind: entryKindPath, Path: path})
}

// PutResult stores a serializable result object under a key.
func (c *ArtifactCache) PutResult(key string, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		log.LogNoTaskID("artifact cache result not serializable", "key", key, "err", err)
		return
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		log.LogNoTaskID("artifact cache result not an object", "key", key, "err", err)
		return
	}
	c.write(key, entry{Kind: entryKindResult, Result: m})
}

func (c *ArtifactCache) read(key string) (entry, bool) {
	data, err := os.ReadFile(c.entryFile(key))
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = os.Remove(c.entryFile(key))
		return entry{}, false
	}
	return e, true
}

func (c *ArtifactCache) write(key string, e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// atomic write-temp-then-rename keeps concurrent readers safe
	if err := renameio.WriteFile(c.entryFile(key), data, 0644); err != nil {
		log.LogNoTaskID("artifact cache write failed", "key", key, "err", err)
	}
}

// Clear removes every cache entry, best-effort. Individual file errors are
// logged and skipped.
func (c *ArtifactCache) Clear() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		log.LogNoTaskID("artifact cache clear: cannot list dir", "dir", c.dir, "err", err)
		return
	}
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil {
			log.LogNoTaskID("artifact cache clear: cannot remove entry", "entry", de.Name(), "err", err)
		}
	}
}

// Stats returns the hit/miss counters accumulated since startup.
func (c *ArtifactCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ArtifactCache) hit() {
	c.hits.Add(1)
	metrics.CacheHits.Inc()
}

func (c *ArtifactCache) miss() {
	c.misses.Add(1)
	metrics.CacheMisses.Inc()
}
