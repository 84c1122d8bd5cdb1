package metrics

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCardinalityManager_DetailAggAlwaysRejects(t *testing.T) {
	c := NewCardinalityManager(nil, true, 0, 0, 0)
	c.SetDetailMode(DetailAgg, 0)

	assert.False(t, c.ShouldEmit("NIFTY", 24000, 24000, 1, "k"))
}

func TestCardinalityManager_DetailBandRejectsOutsideWindow(t *testing.T) {
	c := NewCardinalityManager(nil, true, 0, 0, 0)
	c.SetDetailMode(DetailBand, 100)

	assert.False(t, c.ShouldEmit("NIFTY", 24000, 24500, 1, "k")) // 500 outside 100-wide band
}

func TestCardinalityManager_DetailBandAllowsWithinWindow(t *testing.T) {
	c := NewCardinalityManager(nil, false, 0, 0, 0)
	c.SetDetailMode(DetailBand, 100)

	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24050, 1, "k")) // within band, then disabled->accept
}

func TestCardinalityManager_DisabledAcceptsEverythingPastDetailMode(t *testing.T) {
	c := NewCardinalityManager(nil, false, 1000, 0, 1000)
	c.SetDetailMode(DetailFull, 0)

	assert.True(t, c.ShouldEmit("NIFTY", 24000, 30000, 1, "k")) // far outside atmWindow, still accepted since disabled
}

func TestCardinalityManager_ATMWindowRejectsFarStrikes(t *testing.T) {
	c := NewCardinalityManager(nil, true, 100, 0, 0)

	assert.False(t, c.ShouldEmit("NIFTY", 24000, 24500, 1, "k"))
	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24050, 1, "k"))
}

func TestCardinalityManager_RateLimiterRejectsBurstAboveOne(t *testing.T) {
	c := NewCardinalityManager(nil, true, 0, 0.001, 0)

	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24000, 1, "k"))
	assert.False(t, c.ShouldEmit("NIFTY", 24000, 24000, 2, "k2")) // burst exhausted, refill far in the future
}

func TestCardinalityManager_ChangeThresholdSuppressesSmallDeltas(t *testing.T) {
	c := NewCardinalityManager(nil, true, 0, 0, 5)

	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24000, 100, "k"))
	assert.False(t, c.ShouldEmit("NIFTY", 24000, 24000, 102, "k")) // delta 2 < threshold 5
	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24000, 110, "k"))  // delta 10 >= threshold 5
}

func TestCardinalityManager_ModeReportsCurrentDetailMode(t *testing.T) {
	c := NewCardinalityManager(nil, true, 0, 0, 0)
	assert.Equal(t, DetailFull, c.Mode())

	c.SetDetailMode(DetailBand, 50)
	assert.Equal(t, DetailBand, c.Mode())
}

func TestCardinalityManager_RecordsMetricsWhenRegistryPresent(t *testing.T) {
	reg := New(GroupGating{}, zerolog.Nop())
	c := NewCardinalityManager(reg, true, 0, 0, 0)

	assert.True(t, c.ShouldEmit("NIFTY", 24000, 24000, 1, "k"))

	cv, ok := reg.CounterVec("MetricSamplingEvents")
	assert.True(t, ok)
	_ = cv
}
