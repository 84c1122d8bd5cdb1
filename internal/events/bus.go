package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/g6-platform/g6/internal/g6err"
	"github.com/g6-platform/g6/internal/metrics"
)

// Config tunes bus capacity and thresholds (spec §6 "Event bus").
type Config struct {
	Capacity            int
	BacklogWarn         int
	BacklogDegrade      int
	SnapshotGapMax      int
	ForceFullRetry       time.Duration
	TraceEnabled        bool
	EmitLatencyCapture  bool
	Adaptive            AdaptiveConfig
}

// Bus is the bounded, coalescing, generation-stamped event bus (spec §4.E).
type Bus struct {
	mu sync.Mutex

	cfg Config
	log zerolog.Logger
	reg *metrics.Registry

	deque         []EventRecord
	coalesceIndex map[string]int64 // coalesce_key -> event_id
	byID          map[int64]int    // event_id -> deque index; never populated, lookups scan deque

	seq        int64
	generation int64
	highwater  int
	consumers  int64
	degraded   bool
	lastFullID int64

	typeCounts     map[EventType]int64
	coalesceCounts map[EventType]int64

	lastForced map[string]time.Time // forced_reason -> last emission

	serializeCache *serializeCache
	adaptive       *adaptiveController

	latestFull *EventRecord
}

// NewBus constructs a Bus with the given configuration.
func NewBus(cfg Config, reg *metrics.Registry, log zerolog.Logger) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 2048
	}
	if cfg.BacklogDegrade <= 0 {
		cfg.BacklogDegrade = int(float64(cfg.Capacity) * 0.75)
	}
	if cfg.SnapshotGapMax <= 0 {
		cfg.SnapshotGapMax = 500
	}
	if cfg.ForceFullRetry <= 0 {
		cfg.ForceFullRetry = 30 * time.Second
	}
	return &Bus{
		cfg:            cfg,
		log:            log.With().Str("component", "event_bus").Logger(),
		reg:            reg,
		coalesceIndex:  map[string]int64{},
		typeCounts:     map[EventType]int64{},
		coalesceCounts: map[EventType]int64{},
		lastForced:     map[string]time.Time{},
		serializeCache: newSerializeCache(2048),
		adaptive:       newAdaptiveController(cfg.Adaptive),
	}
}

// Publish implements spec §4.E's 10-step publish algorithm.
func (b *Bus) Publish(eventType EventType, payload map[string]interface{}, coalesceKey string) (EventRecord, error) {
	if eventType == "" || payload == nil {
		return EventRecord{}, g6err.New(g6err.InputInvalid, "bus.publish", nil)
	}

	b.mu.Lock()

	// Step 2: coalescing.
	if coalesceKey != "" {
		if prevID, ok := b.coalesceIndex[coalesceKey]; ok {
			b.removeByID(prevID)
			b.coalesceCounts[eventType]++
		}
	}

	// Step 3: assign seq + timestamp.
	b.seq++
	rec := EventRecord{
		EventID:      b.seq,
		Sequence:     b.seq,
		EventType:    eventType,
		TimestampIST: nowIST(),
		Payload:      payload,
		CoalesceKey:  coalesceKey,
	}

	// Step 4: backpressure.
	if len(b.deque)+1 >= b.cfg.BacklogDegrade && !b.degraded {
		b.degraded = true
		if b.reg != nil {
			b.reg.IncCounterVec("BackpressureEventsTotal", "enter_degraded")
		}
		b.adaptive.enterDegraded()
	}

	// Step 5: degrade panel_diff payloads.
	if b.degraded && eventType == TypePanelDiff {
		rec.Payload = degradedPayload(payload)
	}

	// Step 6: append; trim to capacity.
	b.deque = append(b.deque, rec)
	if len(b.deque) > b.cfg.Capacity {
		b.deque = b.deque[len(b.deque)-b.cfg.Capacity:]
		b.rebuildIndex()
	}
	if coalesceKey != "" {
		b.coalesceIndex[coalesceKey] = rec.EventID
	}
	b.typeCounts[eventType]++
	if len(b.deque) > b.highwater {
		b.highwater = len(b.deque)
	}

	// Step 7: stamp payload.
	rec.Payload["_generation"] = b.generation
	if eventType == TypePanelFull || eventType == TypePanelDiff {
		rec.Payload["publish_unixtime"] = time.Now().Unix()
		if b.cfg.TraceEnabled {
			rec.Payload["_trace"] = map[string]interface{}{
				"id":         uuid.NewString(),
				"publish_ts": time.Now().UnixNano(),
			}
		}
	}

	// Step 8: generation bump on panel_full.
	if eventType == TypePanelFull {
		b.generation++
		rec.Payload["_generation"] = b.generation
		rec.Generation = b.generation
		b.lastFullID = rec.EventID
		full := rec
		b.latestFull = &full
		if b.reg != nil {
			b.reg.SetGauge("EventsLastFullUnixtime", float64(time.Now().Unix()))
			b.reg.SetGauge("EventsGeneration", float64(b.generation))
		}
	} else {
		rec.Generation = b.generation
	}

	// Reflect the stamped record back into the stored deque entry.
	b.deque[len(b.deque)-1] = rec

	if b.reg != nil {
		b.reg.IncCounterVec("EventsTotal", string(eventType))
		b.reg.SetGauge("EventsBacklog", float64(len(b.deque)))
		b.reg.SetGauge("EventsBacklogHighwater", float64(b.highwater))
		b.reg.SetGauge("EventsBacklogCapacity", float64(b.cfg.Capacity))
		b.reg.SetGauge("EventsLastID", float64(b.seq))
		degradedVal := 0.0
		if b.degraded {
			degradedVal = 1
		}
		b.reg.SetGauge("EventsDegradedMode", degradedVal)
	}

	backlog := len(b.deque)
	capacity := b.cfg.Capacity
	b.mu.Unlock()

	// Step 9: serialize outside the lock.
	start := time.Now()
	serialized := b.serializeCache.serialize(rec.EventType, rec.Payload)
	elapsed := time.Since(start)
	rec.Payload["_serialized_len"] = len(serialized)
	if b.reg != nil && b.cfg.EmitLatencyCapture {
		b.reg.ObserveHistogram("SSESerializeSeconds", elapsed.Seconds())
	}

	// Step 10: feed adaptive controller; if it recovers, clear degraded.
	if exited := b.adaptive.observe(backlog, capacity, elapsed); exited {
		b.mu.Lock()
		b.degraded = false
		b.mu.Unlock()
		if b.reg != nil {
			b.reg.IncCounterVec("BackpressureEventsTotal", "adaptive_exit")
			b.reg.IncCounterVec("AdaptiveTransitionsTotal", "exit_pending", "normal")
		}
	}

	return rec, nil
}

func degradedPayload(orig map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(orig))
	for k := range orig {
		keys = append(keys, k)
		if len(keys) == 5 {
			break
		}
	}
	return map[string]interface{}{
		"degraded":  true,
		"reason":    "backpressure",
		"orig_keys": keys,
	}
}

// removeByID drops the event with the given id from the deque; the
// caller overwrites the coalesce index entry afterwards. Caller holds b.mu.
func (b *Bus) removeByID(id int64) {
	for i, e := range b.deque {
		if e.EventID == id {
			b.deque = append(b.deque[:i], b.deque[i+1:]...)
			return
		}
	}
}

func (b *Bus) rebuildIndex() {
	// coalesceIndex entries referring to now-evicted events are left
	// stale; GetSince/Publish only consult the deque itself, and a
	// stale coalesce pointer simply means the next coalesce on that
	// key finds nothing to remove (harmless, since it has already
	// fallen out of the window).
}

// GetSince returns events strictly greater than lastEventID in arrival
// order, optionally bounded by limit (spec §4.E get_since).
func (b *Bus) GetSince(lastEventID int64, limit int) []EventRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []EventRecord
	for _, e := range b.deque {
		if e.EventID > lastEventID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// EnforceSnapshotGuard implements spec §4.E's snapshot-guard recovery:
// emits a forced panel_full (subject to a per-reason cooldown) when
// missing_baseline, gap_exceeded, or generation_mismatch holds.
func (b *Bus) EnforceSnapshotGuard(buildFull func() map[string]interface{}) {
	reason := b.detectGuardReason()
	if reason == "" {
		return
	}

	b.mu.Lock()
	last, ok := b.lastForced[reason]
	cooldown := b.cfg.ForceFullRetry
	if ok && time.Since(last) < cooldown {
		b.mu.Unlock()
		return
	}
	b.lastForced[reason] = time.Now()
	b.mu.Unlock()

	payload := buildFull()
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["forced_reason"] = reason

	if _, err := b.Publish(TypePanelFull, payload, "panel_full"); err == nil {
		if b.reg != nil {
			b.reg.IncCounterVec("EventsForcedFullTotal", reason)
		}
	}
}

func (b *Bus) detectGuardReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	hasDiffs := false
	var latestDiffGen int64 = -1
	for _, e := range b.deque {
		if e.EventType == TypePanelDiff {
			hasDiffs = true
			latestDiffGen = e.Generation
		}
	}

	if hasDiffs && b.lastFullID == 0 {
		return "missing_baseline"
	}
	if b.lastFullID != 0 && b.seq-b.lastFullID > int64(b.cfg.SnapshotGapMax) {
		return "gap_exceeded"
	}
	if hasDiffs && latestDiffGen >= 0 && latestDiffGen < b.generation {
		return "generation_mismatch"
	}
	return ""
}

// LatestFull returns the most recently published panel_full record, if any.
func (b *Bus) LatestFull() (EventRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latestFull == nil {
		return EventRecord{}, false
	}
	return *b.latestFull, true
}

// Generation returns the bus's current generation.
func (b *Bus) Generation() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Stats mirrors the /events/stats JSON shape (spec §4.J).
type Stats struct {
	LatestID       int64            `json:"latest_id"`
	OldestID       int64            `json:"oldest_id"`
	Backlog        int              `json:"backlog"`
	Highwater      int              `json:"highwater"`
	Types          map[string]int64 `json:"types"`
	Coalesced      map[string]int64 `json:"coalesced"`
	Consumers      int64            `json:"consumers"`
	MaxEvents      int              `json:"max_events"`
	Generation     int64            `json:"generation"`
	ForcedFullLast map[string]int64 `json:"forced_full_last"`
}

// GetStats returns a snapshot of bus statistics.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make(map[string]int64, len(b.typeCounts))
	for k, v := range b.typeCounts {
		types[string(k)] = v
	}
	coalesced := make(map[string]int64, len(b.coalesceCounts))
	for k, v := range b.coalesceCounts {
		coalesced[string(k)] = v
	}
	forced := make(map[string]int64, len(b.lastForced))
	for k, v := range b.lastForced {
		forced[k] = v.Unix()
	}

	var oldest int64
	if len(b.deque) > 0 {
		oldest = b.deque[0].EventID
	}

	return Stats{
		LatestID:       b.seq,
		OldestID:       oldest,
		Backlog:        len(b.deque),
		Highwater:      b.highwater,
		Types:          types,
		Coalesced:      coalesced,
		Consumers:      atomic.LoadInt64(&b.consumers),
		MaxEvents:      b.cfg.Capacity,
		Generation:     b.generation,
		ForcedFullLast: forced,
	}
}

// IncConsumers/DecConsumers track connected SSE consumers.
func (b *Bus) IncConsumers() {
	n := atomic.AddInt64(&b.consumers, 1)
	if b.reg != nil {
		b.reg.SetGauge("EventsConsumers", float64(n))
	}
}

func (b *Bus) DecConsumers() {
	n := atomic.AddInt64(&b.consumers, -1)
	if b.reg != nil {
		b.reg.SetGauge("EventsConsumers", float64(n))
	}
}

// IsDegraded reports whether the bus is currently in degraded mode.
func (b *Bus) IsDegraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}
