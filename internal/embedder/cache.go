package embedder

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// diskCache persists one embedding vector per chunk on disk, keyed by a
// hash over (document id, ordinal, first 500 chars of text). A hit
// returns the precomputed vector without touching the embedding model.
type diskCache struct {
	dir string
}

func newDiskCache(dir string) *diskCache {
	if dir == "" {
		dir = "embeddings_cache"
	}
	return &diskCache{dir: dir}
}

func chunkCacheKey(documentID string, ordinal int, text string) string {
	if len(text) > 500 {
		text = text[:500]
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", documentID, ordinal, text)))
	return hex.EncodeToString(h[:])
}

func (c *diskCache) path(key string) string {
	return filepath.Join(c.dir, key+".gob")
}

func (c *diskCache) load(key string) ([]float32, bool) {
	f, err := os.Open(c.path(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var vec []float32
	if err := gob.NewDecoder(f).Decode(&vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *diskCache) save(key string, vec []float32) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return
	}
	f, err := os.Create(c.path(key))
	if err != nil {
		return
	}
	defer f.Close()
	_ = gob.NewEncoder(f).Encode(vec)
}
