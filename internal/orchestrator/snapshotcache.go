package orchestrator

import (
	"container/list"
	"encoding/json"
	"math"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/g6-platform/g6/internal/domain"
)

func jsonMarshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func jsonUnmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }

// SnapshotCache is a bounded, single-locked cache of ExpirySnapshot
// objects (spec §3 "Lifecycle": "may be retained in a bounded snapshot
// cache when the feature is enabled", §5 "guarded by a single lock").
// When useMsgpack is set (NewSnapshotCache's second argument), entries
// are round-tripped through vmihailenco/msgpack for a more compact
// in-memory representation instead of JSON.
type SnapshotCache struct {
	mu         sync.Mutex
	capacity   int
	ll         *list.List
	items      map[string]*list.Element
	useMsgpack bool
}

type cacheEntry struct {
	key  string
	blob []byte
}

// NewSnapshotCache builds a cache bounded to capacity entries.
func NewSnapshotCache(capacity int, useMsgpack bool) *SnapshotCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &SnapshotCache{capacity: capacity, ll: list.New(), items: map[string]*list.Element{}, useMsgpack: useMsgpack}
}

func snapKey(index string, expiryRule domain.ExpiryRule) string {
	return index + "|" + string(expiryRule)
}

// Put stores or replaces the snapshot for (index, expiryRule).
func (c *SnapshotCache) Put(snap domain.ExpirySnapshot) error {
	var blob []byte
	var err error
	if c.useMsgpack {
		blob, err = msgpack.Marshal(snap)
	} else {
		blob, err = jsonMarshal(snap)
	}
	if err != nil {
		return err
	}

	key := snapKey(snap.Index, snap.ExpiryRule)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).blob = blob
		c.ll.MoveToFront(el)
		return nil
	}

	el := c.ll.PushFront(&cacheEntry{key: key, blob: blob})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return nil
}

// Get retrieves the snapshot for (index, expiryRule), if cached.
func (c *SnapshotCache) Get(index string, expiryRule domain.ExpiryRule) (domain.ExpirySnapshot, bool) {
	key := snapKey(index, expiryRule)

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return domain.ExpirySnapshot{}, false
	}
	c.ll.MoveToFront(el)
	blob := el.Value.(*cacheEntry).blob
	c.mu.Unlock()

	var snap domain.ExpirySnapshot
	var err error
	if c.useMsgpack {
		err = msgpack.Unmarshal(blob, &snap)
	} else {
		err = jsonUnmarshal(blob, &snap)
	}
	if err != nil {
		return domain.ExpirySnapshot{}, false
	}
	return snap, true
}

// All returns every cached snapshot, optionally filtered by index.
func (c *SnapshotCache) All(index string) []domain.ExpirySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.ExpirySnapshot
	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		var snap domain.ExpirySnapshot
		var err error
		if c.useMsgpack {
			err = msgpack.Unmarshal(entry.blob, &snap)
		} else {
			err = jsonUnmarshal(entry.blob, &snap)
		}
		if err != nil {
			continue
		}
		if index != "" && snap.Index != index {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Len returns the number of cached entries.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Snapshots implements server.SnapshotProvider (spec §4.J GET
// /snapshots): the cached snapshots matching index, plus a
// cross-index, cross-expiry overview (total_indices, total_expiries,
// total_options, put_call_ratio, max_pain_strike) computed over the
// entire cache, independent of the index filter.
func (c *SnapshotCache) Snapshots(index string) (int, []interface{}, map[string]interface{}) {
	snaps := c.All(index)
	out := make([]interface{}, len(snaps))
	for i, s := range snaps {
		out[i] = s
	}

	return len(snaps), out, c.overview()
}

// overview aggregates every cached snapshot into the /snapshots
// summary fields (spec §4.J).
func (c *SnapshotCache) overview() map[string]interface{} {
	all := c.All("")

	indices := map[string]bool{}
	totalOptions := 0
	var callOI, putOI int64
	strikeLoss := map[float64]float64{}

	for _, snap := range all {
		indices[snap.Index] = true
		totalOptions += len(snap.Options)
		for _, opt := range snap.Options {
			switch opt.InstrumentType {
			case domain.CE:
				callOI += opt.OI
			case domain.PE:
				putOI += opt.OI
			}
			if _, ok := strikeLoss[opt.Strike]; !ok {
				strikeLoss[opt.Strike] = 0
			}
		}
	}

	for k := range strikeLoss {
		var loss float64
		for _, snap := range all {
			for _, opt := range snap.Options {
				switch opt.InstrumentType {
				case domain.CE:
					if opt.Strike < k {
						loss += (k - opt.Strike) * float64(opt.OI)
					}
				case domain.PE:
					if opt.Strike > k {
						loss += (opt.Strike - k) * float64(opt.OI)
					}
				}
			}
		}
		strikeLoss[k] = loss
	}

	pcr := 0.0
	if callOI > 0 {
		pcr = float64(putOI) / float64(callOI)
	}

	maxPain := 0.0
	minLoss := math.Inf(1)
	for k, loss := range strikeLoss {
		if loss < minLoss {
			minLoss = loss
			maxPain = k
		}
	}

	return map[string]interface{}{
		"total_indices":   len(indices),
		"total_expiries":  len(all),
		"total_options":   totalOptions,
		"put_call_ratio":  pcr,
		"max_pain_strike": maxPain,
	}
}
