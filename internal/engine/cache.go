package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// FingerprintCache remembers content fingerprints seen during a single
// batch run so identical task text is not reprocessed. It is injected
// per run and must be cleared between independent runs; it is never a
// process-wide singleton.
type FingerprintCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFingerprintCache creates an empty cache.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{seen: make(map[string]struct{})}
}

// Seen records the fingerprint of the joined parts and reports whether
// it was already present.
func (c *FingerprintCache) Seen(parts ...string) bool {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = struct{}{}
	return false
}

// Len reports the number of distinct fingerprints recorded.
func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Clear resets the cache for reuse by a later run.
func (c *FingerprintCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})
}
