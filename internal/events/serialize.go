package events

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
)

// serializeCache is a bounded LRU keyed by (event_type, canonical-json
// sha256) per spec §3 invariant 8 and §8 "Serialization cache" law.
type serializeCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	misses   int64
	hits     int64
}

type serializeEntry struct {
	key   string
	bytes []byte
}

func newSerializeCache(capacity int) *serializeCache {
	if capacity <= 0 {
		capacity = 512
	}
	return &serializeCache{capacity: capacity, ll: list.New(), items: map[string]*list.Element{}}
}

// serialize returns canonical JSON bytes for (eventType, payload),
// caching the result. Canonical JSON is produced by recursively
// sorting map keys before marshaling.
func (c *serializeCache) serialize(eventType EventType, payload map[string]interface{}) []byte {
	key := string(eventType) + "|" + canonicalHash(payload)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		b := el.Value.(*serializeEntry).bytes
		c.mu.Unlock()
		return b
	}
	c.misses++
	c.mu.Unlock()

	b, err := json.Marshal(canonicalize(payload))
	if err != nil {
		b = []byte("{}")
	}

	c.mu.Lock()
	el := c.ll.PushFront(&serializeEntry{key: key, bytes: b})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*serializeEntry).key)
	}
	c.mu.Unlock()

	return b
}

// canonicalHash computes a stable hash independent of map key order
// (spec §8 "Benchmark artifact digest is stable under key order").
func canonicalHash(payload map[string]interface{}) string {
	b, err := json.Marshal(canonicalize(payload))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize recursively converts maps into a deterministic
// representation by sorting keys, so json.Marshal's (already
// alphabetical for Go maps) output is reproducible across calls and
// across the Go/most-JSON-library boundary.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
