package status

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/events"
)

func newTestManager() *events.Manager {
	bus := events.NewBus(events.Config{}, nil, zerolog.Nop())
	return events.NewManager(bus, zerolog.Nop())
}

func TestPanelEmitter_FirstEmitPublishesFull(t *testing.T) {
	mgr := newTestManager()
	pe := NewPanelEmitter(2, mgr, nil)

	pe.Emit(map[string]interface{}{"cycles_total": 1.0})

	recs := mgr.Bus().GetSince(0, 10)
	require.Len(t, recs, 1)
	assert.Equal(t, events.TypePanelFull, recs[0].EventType)
}

func TestPanelEmitter_SecondEmitPublishesDiff(t *testing.T) {
	mgr := newTestManager()
	pe := NewPanelEmitter(2, mgr, nil)

	pe.Emit(map[string]interface{}{"cycles_total": 1.0, "stale": false})
	pe.Emit(map[string]interface{}{"cycles_total": 2.0, "new_field": true})

	recs := mgr.Bus().GetSince(0, 10)
	require.Len(t, recs, 2)
	assert.Equal(t, events.TypePanelDiff, recs[1].EventType)

	changed, _ := recs[1].Payload["changed"].(map[string]interface{})
	assert.Contains(t, changed, "cycles_total")

	added, _ := recs[1].Payload["added"].(map[string]interface{})
	assert.Contains(t, added, "new_field")

	removed, _ := recs[1].Payload["removed"].(map[string]interface{})
	assert.Contains(t, removed, "stale")
}

func TestPanelEmitter_UnchangedFieldsOmittedFromDiff(t *testing.T) {
	mgr := newTestManager()
	pe := NewPanelEmitter(2, mgr, nil)

	pe.Emit(map[string]interface{}{"stable": "same"})
	pe.Emit(map[string]interface{}{"stable": "same"})

	recs := mgr.Bus().GetSince(0, 10)
	require.Len(t, recs, 2)
	changed, _ := recs[1].Payload["changed"].(map[string]interface{})
	assert.NotContains(t, changed, "stable")
}

func TestPanelEmitter_NestedDiffWithinDepth(t *testing.T) {
	mgr := newTestManager()
	pe := NewPanelEmitter(2, mgr, nil)

	pe.Emit(map[string]interface{}{"nifty": map[string]interface{}{"atm": 24000.0}})
	pe.Emit(map[string]interface{}{"nifty": map[string]interface{}{"atm": 24100.0}})

	recs := mgr.Bus().GetSince(0, 10)
	require.Len(t, recs, 2)
	nested, _ := recs[1].Payload["nested"].(map[string]interface{})
	require.Contains(t, nested, "nifty")
}

func TestPanelEmitter_TruncatesBeyondNestDepthAndCountsIt(t *testing.T) {
	mgr := newTestManager()
	truncated := 0
	pe := NewPanelEmitter(1, mgr, func() { truncated++ })

	prevInner := map[string]interface{}{"leaf": map[string]interface{}{"v": 1.0}}
	curInner := map[string]interface{}{"leaf": map[string]interface{}{"v": 2.0}}

	pe.Emit(map[string]interface{}{"outer": prevInner})
	pe.Emit(map[string]interface{}{"outer": curInner})

	assert.Equal(t, 1, truncated)
}

func TestPanelEmitter_DefaultsNestDepthWhenNonPositive(t *testing.T) {
	pe := NewPanelEmitter(0, nil, nil)
	assert.Equal(t, 2, pe.nestDepth)
}

func TestPanelEmitter_NilManagerDoesNotPanic(t *testing.T) {
	pe := NewPanelEmitter(2, nil, nil)
	assert.NotPanics(t, func() {
		pe.Emit(map[string]interface{}{"a": 1.0})
		pe.Emit(map[string]interface{}{"a": 2.0})
	})
}

func TestDiff_DirectlyComputesAddedRemovedChanged(t *testing.T) {
	pe := NewPanelEmitter(2, nil, nil)
	prev := map[string]interface{}{"a": 1.0, "b": 2.0}
	cur := map[string]interface{}{"a": 1.0, "c": 3.0}

	d := pe.diff(prev, cur, 0)
	assert.Equal(t, map[string]interface{}{"c": 3.0}, d.Added)
	assert.Equal(t, map[string]interface{}{"b": 2.0}, d.Removed)
	assert.Empty(t, d.Changed)
}

func TestEqualJSON_ComparesNestedStructures(t *testing.T) {
	a := map[string]interface{}{"x": []interface{}{1.0, 2.0}}
	b := map[string]interface{}{"x": []interface{}{1.0, 2.0}}
	assert.True(t, equalJSON(a, b))

	c := map[string]interface{}{"x": []interface{}{1.0, 3.0}}
	assert.False(t, equalJSON(a, c))
}
