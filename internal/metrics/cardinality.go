package metrics

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DetailMode is the adaptive cardinality tier (spec §3 invariant 6,
// Glossary "Detail mode").
type DetailMode int

const (
	DetailFull DetailMode = 0
	DetailBand DetailMode = 1
	DetailAgg  DetailMode = 2
)

// CardinalityManager implements should_emit (spec §4.D "Cardinality
// manager"): a per-key gate over per-option metric emission combining
// adaptive detail mode, an ATM window, a token-bucket rate limit, and a
// change-threshold filter.
type CardinalityManager struct {
	mu sync.Mutex

	reg *Registry

	enabled         bool
	atmWindow       float64
	changeThreshold float64

	detailMode  DetailMode
	bandWindow  float64

	limiter *rate.Limiter

	lastSeen map[string]time.Time
	lastVal  map[string]float64
}

// NewCardinalityManager builds a manager from configured tunables.
func NewCardinalityManager(reg *Registry, enabled bool, atmWindow, ratePerSec, changeThreshold float64) *CardinalityManager {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(math.Max(1, ratePerSec)))
	}
	return &CardinalityManager{
		reg:             reg,
		enabled:         enabled,
		atmWindow:       atmWindow,
		changeThreshold: changeThreshold,
		limiter:         limiter,
		lastSeen:        map[string]time.Time{},
		lastVal:         map[string]float64{},
	}
}

// SetDetailMode updates the adaptive detail mode and (for band mode)
// the ATM band window, as recomputed by the orchestrator each cycle.
func (c *CardinalityManager) SetDetailMode(mode DetailMode, bandWindow float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detailMode = mode
	c.bandWindow = bandWindow
	if c.reg != nil {
		c.reg.SetGauge("OptionDetailMode", float64(mode))
	}
}

// Mode returns the current adaptive detail mode, for status reporting.
func (c *CardinalityManager) Mode() DetailMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detailMode
}

// ShouldEmit implements spec §4.D's ordered decision chain.
func (c *CardinalityManager) ShouldEmit(index string, atm, strike, value float64, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. Adaptive detail mode overrides, honored even when the manager
	// itself is disabled (spec §8 testable property 8).
	switch c.detailMode {
	case DetailAgg:
		c.record("detail_mode_agg", false)
		return false
	case DetailBand:
		if c.bandWindow > 0 && math.Abs(strike-atm) > c.bandWindow {
			if c.reg != nil {
				c.reg.IncCounterVec("DetailModeBandRejections", index)
			}
			c.record("detail_mode_band_window", false)
			return false
		}
	}

	if !c.enabled {
		c.record("disabled", true)
		return true
	}

	if c.atmWindow > 0 && math.Abs(strike-atm) > c.atmWindow {
		c.record("atm_window", false)
		return false
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.record("rate_limited", false)
		return false
	}

	if c.changeThreshold > 0 {
		if prev, ok := c.lastVal[key]; ok && math.Abs(value-prev) < c.changeThreshold {
			c.record("change_threshold", false)
			return false
		}
	}

	c.lastSeen[key] = time.Now()
	c.lastVal[key] = value
	c.record("accepted", true)
	return true
}

func (c *CardinalityManager) record(reason string, accepted bool) {
	if c.reg == nil {
		return
	}
	decision := "reject"
	if accepted {
		decision = "accept"
	}
	c.reg.IncCounterVec("MetricSamplingEvents", "per_option", decision, reason)
}
