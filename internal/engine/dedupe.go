package engine

import (
	"crypto/sha256"
	"sync"
	"time"
)

const dedupeCompactAt = 1000

// DedupeCache remembers payload digests so a redelivered analysis result does
// not restart every chart.
type DedupeCache struct {
	mu    sync.Mutex
	items map[[sha256.Size]byte]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[[sha256.Size]byte]time.Time)}
}

// Seen reports whether payload was recorded within window of now, and records
// it when it was not.
func (d *DedupeCache) Seen(payload []byte, now time.Time, window time.Duration) bool {
	key := sha256.Sum256(payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.items[key]; ok && now.Sub(at) <= window {
		return true
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		for k, at := range d.items {
			if now.Sub(at) > window {
				delete(d.items, k)
			}
		}
	}
	return false
}

func (d *DedupeCache) Clear() {
	d.mu.Lock()
	clear(d.items)
	d.mu.Unlock()
}
