package status

import (
	"sync"

	"github.com/g6-platform/g6/internal/events"
)

// Diff is the structured panel diff shape (spec §6 "Panel artifacts").
type Diff struct {
	Added   map[string]interface{} `json:"added"`
	Removed map[string]interface{} `json:"removed"`
	Changed map[string]interface{} `json:"changed"`
	Nested  map[string]interface{} `json:"nested,omitempty"`
}

// PanelEmitter compares each new snapshot against the previous one and
// publishes panel_full/panel_diff events (spec §4.I).
type PanelEmitter struct {
	mu       sync.Mutex
	previous map[string]interface{}
	haveFull bool
	nestDepth int
	manager  *events.Manager
	truncatedCounter func()
}

// NewPanelEmitter builds a PanelEmitter publishing through manager.
// truncatedCounter (optional) is invoked whenever nesting is cut off at
// nestDepth, feeding the panel_diff_truncated metric.
func NewPanelEmitter(nestDepth int, manager *events.Manager, truncatedCounter func()) *PanelEmitter {
	if nestDepth <= 0 {
		nestDepth = 2
	}
	return &PanelEmitter{nestDepth: nestDepth, manager: manager, truncatedCounter: truncatedCounter}
}

// Emit compares snapshot against the cached previous one (spec §4.I):
// emits panel_full when no prior snapshot exists, or a structured diff
// otherwise. Both publish onto the bus with the documented coalesce keys.
func (p *PanelEmitter) Emit(snapshot map[string]interface{}) {
	p.mu.Lock()
	prev := p.previous
	haveFull := p.haveFull
	p.previous = snapshot
	p.haveFull = true
	p.mu.Unlock()

	if !haveFull {
		if p.manager != nil {
			p.manager.Emit(events.TypePanelFull, cloneMap(snapshot), "panel_full")
		}
		return
	}

	diff := p.diff(prev, snapshot, 0)
	if p.manager != nil {
		p.manager.Emit(events.TypePanelDiff, map[string]interface{}{
			"added":   diff.Added,
			"removed": diff.Removed,
			"changed": diff.Changed,
			"nested":  diff.Nested,
		}, "")
	}
}

// diff implements spec §9's resolved open question: nested diffs are
// computed only for keys present in both with dict values; otherwise
// keys are recorded under added/removed/changed.
func (p *PanelEmitter) diff(prev, cur map[string]interface{}, depth int) Diff {
	d := Diff{Added: map[string]interface{}{}, Removed: map[string]interface{}{}, Changed: map[string]interface{}{}}

	for k, v := range cur {
		pv, existed := prev[k]
		if !existed {
			d.Added[k] = v
			continue
		}
		if equalJSON(pv, v) {
			continue
		}
		curMap, curIsMap := v.(map[string]interface{})
		prevMap, prevIsMap := pv.(map[string]interface{})
		if curIsMap && prevIsMap {
			if depth >= p.nestDepth {
				if p.truncatedCounter != nil {
					p.truncatedCounter()
				}
				d.Changed[k] = map[string]interface{}{"old": pv, "new": v}
				continue
			}
			nested := p.diff(prevMap, curMap, depth+1)
			if d.Nested == nil {
				d.Nested = map[string]interface{}{}
			}
			d.Nested[k] = nested
			continue
		}
		d.Changed[k] = map[string]interface{}{"old": pv, "new": v}
	}

	for k, v := range prev {
		if _, exists := cur[k]; !exists {
			d.Removed[k] = v
		}
	}

	return d
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// equalJSON compares two decoded-JSON values for equality without
// reflect.DeepEqual's map-ordering pitfalls (both sides are already
// map[string]interface{}/[]interface{}/scalars from encoding/json).
func equalJSON(a, b interface{}) bool {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !equalJSON(v, bv) {
				return false
			}
		}
		return true
	}

	as, asok := a.([]interface{})
	bs, bsok := b.([]interface{})
	if asok && bsok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equalJSON(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return a == b
}
