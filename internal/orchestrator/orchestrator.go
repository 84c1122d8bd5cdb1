package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/g6-platform/g6/internal/alerts"
	"github.com/g6-platform/g6/internal/analytics"
	"github.com/g6-platform/g6/internal/config"
	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/events"
	"github.com/g6-platform/g6/internal/expiry"
	"github.com/g6-platform/g6/internal/filter"
	"github.com/g6-platform/g6/internal/metrics"
	"github.com/g6-platform/g6/internal/provider"
	"github.com/g6-platform/g6/internal/resource"
	"github.com/g6-platform/g6/internal/status"
	"github.com/g6-platform/g6/internal/utils"
)

// Orchestrator drives the per-index, per-expiry collection cycle (spec
// §4.H), tying together every other G6 component.
type Orchestrator struct {
	cfg         *config.Config
	indicesMu   sync.RWMutex
	indices     []domain.IndexConfig
	provider    provider.Provider
	expirySvc   *expiry.Service
	reg         *metrics.Registry
	cardinality *metrics.CardinalityManager
	bus         *events.Manager
	sink        Sink
	snapCache   *SnapshotCache
	rootCache   *filter.RootCache

	interpGuard *alerts.InterpolationGuard
	riskGuard   *alerts.RiskDriftGuard
	bucketGuard *alerts.BucketUtilGuard
	dispatcher  *alerts.Dispatcher

	panels *status.PanelEmitter

	log zerolog.Logger

	cycleCount   int64
	lastDuration time.Duration
	memoryTier   int
	benchHistory *anomalyHistory
}

// Memory pressure tiers (spec §4.H step 3, §4.I memory_tier), grounded
// on the original implementation's four-level ordinal pressure scale.
const (
	memoryTierNormal = iota
	memoryTierElevated
	memoryTierHigh
	memoryTierCritical
)

// memoryScale maps a pressure tier to the strike-universe scale factor
// applied in step 3 of the per-index cycle (min clamp of 2 strikes
// each side is enforced by expiry.BuildStrikeUniverse itself).
func memoryScale(tier int) float64 {
	switch tier {
	case memoryTierElevated:
		return 0.8
	case memoryTierHigh:
		return 0.6
	case memoryTierCritical:
		return 0.4
	default:
		return 1.0
	}
}

// New builds an Orchestrator from its collaborators.
func New(
	cfg *config.Config,
	indices []domain.IndexConfig,
	prov provider.Provider,
	expirySvc *expiry.Service,
	reg *metrics.Registry,
	cardinality *metrics.CardinalityManager,
	bus *events.Manager,
	sink Sink,
	dispatcher *alerts.Dispatcher,
	interpGuard *alerts.InterpolationGuard,
	riskGuard *alerts.RiskDriftGuard,
	bucketGuard *alerts.BucketUtilGuard,
	log zerolog.Logger,
) *Orchestrator {
	roots := make([]string, len(indices))
	for i, ic := range indices {
		roots[i] = ic.Name
	}

	var truncated func()
	if reg != nil {
		truncated = func() { reg.IncCounter("PanelDiffTruncated") }
	}

	return &Orchestrator{
		cfg: cfg, indices: indices, provider: prov, expirySvc: expirySvc,
		reg: reg, cardinality: cardinality, bus: bus, sink: sink,
		snapCache:   NewSnapshotCache(256, false),
		rootCache:   filter.NewRootCache(roots),
		interpGuard: interpGuard, riskGuard: riskGuard, bucketGuard: bucketGuard,
		dispatcher: dispatcher,
		panels:     status.NewPanelEmitter(cfg.PanelDiffNestDepth, bus, truncated),
		log:        log.With().Str("component", "orchestrator").Logger(),
		benchHistory: newAnomalyHistory(),
	}
}

// Snapshots implements server.SnapshotProvider by delegating to the
// orchestrator's internal snapshot cache.
func (o *Orchestrator) Snapshots(index string) (int, []interface{}, map[string]interface{}) {
	return o.snapCache.Snapshots(index)
}

// SetIndices swaps the live index universe, used by the index-config
// hot-reload watcher (membership changes only take effect on the next
// cycle; in-flight cycles keep running against the universe they
// started with).
func (o *Orchestrator) SetIndices(indices []domain.IndexConfig) {
	o.indicesMu.Lock()
	defer o.indicesMu.Unlock()
	o.indices = indices
}

// Name implements scheduler.Job.
func (o *Orchestrator) Name() string { return "collection_cycle" }

// Run implements scheduler.Job: executes exactly one collection cycle.
func (o *Orchestrator) Run() error {
	_, err := o.RunCycle(context.Background())
	return err
}

// CycleResult summarizes one completed cycle for the status writer and
// benchmark artifact.
type CycleResult struct {
	Cycle        int64
	Duration     time.Duration
	IndexStatus  map[string]domain.CycleStatus
	PhaseTimes   map[string]time.Duration
	PhaseFailures map[string]int
	OptionsTotal int
}

// RunCycle executes one full cycle across all enabled indices (spec §4.H).
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	o.cycleCount++

	result := CycleResult{
		Cycle:        o.cycleCount,
		IndexStatus:  map[string]domain.CycleStatus{},
		PhaseTimes:   map[string]time.Duration{},
		PhaseFailures: map[string]int{},
	}

	o.indicesMu.RLock()
	indices := make([]domain.IndexConfig, len(o.indices))
	copy(indices, o.indices)
	o.indicesMu.RUnlock()

	snap := resource.Read()
	tier, _ := resource.Tier(snap.MemoryMB, o.cfg.MemoryTierElevatedMB, o.cfg.MemoryTierHighMB, o.cfg.MemoryTierCriticalMB)
	o.memoryTier = tier
	if o.reg != nil {
		o.reg.SetGauge("MemoryPressureLevel", float64(tier))
	}

	for _, idxCfg := range indices {
		if !idxCfg.Enabled {
			continue
		}
		status := o.runIndexCycle(ctx, idxCfg, &result)
		result.IndexStatus[idxCfg.Name] = status
		result.OptionsTotal += status.OptionCount

		if o.reg != nil {
			statusLabel := "ok"
			switch status.Status {
			case domain.StatusPartial:
				statusLabel = "partial"
			case domain.StatusEmpty:
				statusLabel = "empty"
			case domain.StatusStale:
				statusLabel = "stale"
			}
			o.reg.IncCounterVec("CyclesTotal", statusLabel)
			o.reg.IncCounterVec("OptionsTotal", idxCfg.Name)
		}
	}

	// Component G -> D: the dispatcher's accumulated weight pressure
	// demotes/escalates the cardinality manager's detail mode, which
	// should_emit consumes starting next cycle (spec §2).
	if o.cardinality != nil && o.dispatcher != nil {
		mode := o.cardinality.Mode()
		if o.dispatcher.ShouldDemote() {
			if mode < metrics.DetailAgg {
				mode++
			}
		} else if mode > metrics.DetailFull {
			mode--
		}
		o.cardinality.SetDetailMode(mode, o.cfg.DetailModeBandATMWindow)
	}

	result.Duration = time.Since(start)
	o.lastDuration = result.Duration
	if o.reg != nil {
		o.reg.ObserveHistogram("CycleDuration", result.Duration.Seconds())
		if result.Duration > 0 {
			o.reg.SetGauge("CyclesPerHour", time.Hour.Seconds()/result.Duration.Seconds())
		}
	}

	o.writeRuntimeStatus(result)

	if o.cfg.BenchmarkDumpDir != "" {
		if err := WriteBenchmark(o.cfg.BenchmarkDumpDir, o.cfg.BenchmarkKeepN, true, result, o.benchHistory); err != nil {
			// Best-effort: benchmark writes never block or fail the cycle
			// (spec §7 "Benchmark writes are best-effort").
			o.log.Debug().Err(err).Msg("benchmark artifact write failed")
		}
	}

	return result, nil
}

// writeRuntimeStatus assembles and atomically writes the per-cycle
// runtime status artifact, then feeds it to the panel-diff emitter
// (spec §4.I).
func (o *Orchestrator) writeRuntimeStatus(result CycleResult) {
	snap := resource.Read()

	indices := make([]status.IndexInfo, 0, len(result.IndexStatus))
	detail := map[string]status.IndexDetail{}
	successCount, total := 0, 0
	for name, cs := range result.IndexStatus {
		indices = append(indices, status.IndexInfo{Name: name, Options: cs.OptionCount})
		detail[name] = status.IndexDetail{Status: string(cs.Status)}
		total++
		if cs.Status == domain.StatusOK {
			successCount++
		}
	}

	successRate := 0.0
	if total > 0 {
		successRate = 100 * float64(successCount) / float64(total)
	}
	optsPerMin := 0.0
	if result.Duration > 0 {
		optsPerMin = float64(result.OptionsTotal) / result.Duration.Minutes()
	}

	detailMode := 0
	if o.cardinality != nil {
		detailMode = int(o.cardinality.Mode())
	}

	_, tierLabel := resource.Tier(snap.MemoryMB, o.cfg.MemoryTierElevatedMB, o.cfg.MemoryTierHighMB, o.cfg.MemoryTierCriticalMB)

	var adaptiveAlerts []map[string]interface{}
	if o.dispatcher != nil {
		for _, a := range o.dispatcher.Recent() {
			adaptiveAlerts = append(adaptiveAlerts, map[string]interface{}{
				"type":     string(a.Type),
				"index":    a.Index,
				"message":  a.Message,
				"severity": string(a.Severity),
				"cycle":    a.Cycle,
			})
		}
	}

	rs := status.RuntimeStatus{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Cycle:           result.Cycle,
		Elapsed:         result.Duration.Seconds(),
		Interval:        o.cfg.CycleInterval.Seconds(),
		Indices:         indices,
		IndexDetail:     detail,
		Rates:           status.Rates{SuccessRatePct: successRate, OptionsPerMinute: optsPerMin, APISuccessRate: successRate},
		Resource:        snap,
		Ready:           true,
		ComponentHealth: map[string]string{"orchestrator": "ok"},
		ProviderInfo:    map[string]interface{}{},
		Adaptive:        status.AdaptiveExposure{OptionDetailMode: detailMode, BandWindow: o.cfg.DetailModeBandATMWindow},
		MemoryTier:      tierLabel,
		AdaptiveAlerts:  adaptiveAlerts,
	}

	if o.cfg.RuntimeStatusPath != "" {
		if err := status.WriteAtomic(o.cfg.RuntimeStatusPath, rs); err != nil {
			o.log.Warn().Err(err).Msg("runtime status write failed")
		}
	}
	if o.panels != nil {
		o.panels.Emit(status.ToMap(rs))
	}
}

// runIndexCycle implements spec §4.H steps 1-8 for one index.
func (o *Orchestrator) runIndexCycle(ctx context.Context, idxCfg domain.IndexConfig, result *CycleResult) domain.CycleStatus {
	status := domain.CycleStatus{Index: idxCfg.Name}

	// Step 1: index price + OHLC.
	indexDataTimer := utils.NewTimer("index_data", o.log)
	price, _, err := o.provider.GetIndexData(ctx, idxCfg.Name)
	result.PhaseTimes["index_data"] += indexDataTimer.Stop()
	if err != nil {
		if o.reg != nil {
			o.reg.IncCounterVec("ProviderErrorsTotal", idxCfg.Name, "index_data_failed")
		}
		result.PhaseFailures["index_data"]++
		status.Failures++
		status.Status = domain.StatusEmpty
		return status
	}

	// Step 2: ATM strike; atm<=0 marks all expiries failed.
	atmTimer := utils.NewTimer("atm_strike", o.log)
	atm, err := o.provider.GetATMStrike(ctx, idxCfg.Name)
	result.PhaseTimes["atm_strike"] += atmTimer.Stop()
	if err != nil || atm <= 0 {
		if o.reg != nil {
			o.reg.IncCounterVec("ProviderErrorsTotal", idxCfg.Name, "atm_zero")
		}
		result.PhaseFailures["atm_strike"]++
		status.Failures++
		for _, rule := range idxCfg.ExpiryRules {
			status.Expiries = append(status.Expiries, domain.ExpiryRecord{Rule: rule, Status: domain.StatusEmpty})
		}
		status.Status = domain.ClassifyCycle(status.Expiries, false)
		return status
	}

	// Step 3: adaptive memory scaling — shrinks strikes_itm/strikes_otm
	// as resident memory crosses the configured pressure tiers
	// (expiry.BuildStrikeUniverse clamps each side to a floor of 2).
	scale := memoryScale(o.memoryTier)

	// Step 4: strike universe.
	universe := expiry.BuildStrikeUniverse(atm, idxCfg.StrikesITM, idxCfg.StrikesOTM, idxCfg.Name, scale)

	// Step 5: allowed expiries.
	candidates, err := o.provider.GetExpiryDates(ctx, idxCfg.Name)
	if err != nil {
		if o.reg != nil {
			o.reg.IncCounterVec("ProviderErrorsTotal", idxCfg.Name, "expiry_dates_failed")
		}
	}

	var allOptions []domain.OptionQuote
	var points []analytics.OptionPoint

	expiryTimer := utils.NewTimer("expiry_processing", o.log)
	for _, rule := range idxCfg.ExpiryRules {
		status.Attempts++
		rec, opts, pts := o.processExpiry(ctx, idxCfg, rule, candidates, universe, atm, price)
		status.Expiries = append(status.Expiries, rec)
		status.OptionCount += rec.OptionsCount
		allOptions = append(allOptions, opts...)
		points = append(points, pts...)
		if rec.Status == domain.StatusEmpty || rec.Status == domain.StatusPartial {
			status.Failures++
			result.PhaseFailures["expiry_processing"]++
		}
	}
	result.PhaseTimes["expiry_processing"] += expiryTimer.StopWithContext(map[string]interface{}{
		"index": idxCfg.Name, "expiries": len(idxCfg.ExpiryRules),
	})

	// Step 8: stale detection — every expiry at/under the field
	// coverage threshold despite attempted options.
	stale := status.OptionCount > 0
	for _, e := range status.Expiries {
		if e.OptionsCount == 0 || e.FieldCoverage > o.cfg.StaleFieldCovThreshold {
			stale = false
			break
		}
	}
	status.StaleFlag = stale
	status.Status = domain.ClassifyCycle(status.Expiries, stale)

	if stale {
		switch o.cfg.StaleWriteMode {
		case "skip":
			// suppress overview write entirely
		case "abort":
			o.log.Error().Str("index", idxCfg.Name).Msg("stale abort mode: halting index cycle")
			return status
		default: // mark
			o.writeOverview(idxCfg.Name, status, price, true)
		}
	} else {
		o.writeOverview(idxCfg.Name, status, price, false)
	}

	analyticsTimer := utils.NewTimer("analytics", o.log)
	o.runAnalyticsAndAlerts(idxCfg.Name, points, result)
	result.PhaseTimes["analytics"] += analyticsTimer.Stop()

	return status
}

func (o *Orchestrator) writeOverview(index string, status domain.CycleStatus, price float64, stale bool) {
	overview := map[string]interface{}{
		"index": index,
		"ltp":   price,
		"stale": stale,
	}
	if err := o.sink.WriteOverviewSnapshot(index, status, overview); err != nil {
		o.log.Warn().Err(err).Str("index", index).Msg("overview snapshot write failed")
	}
}

// runAnalyticsAndAlerts computes vol surface + risk aggregation for one
// index's collected option points and feeds the adaptive guards (spec
// §4.F, §4.G).
func (o *Orchestrator) runAnalyticsAndAlerts(index string, points []analytics.OptionPoint, result *CycleResult) {
	if len(points) == 0 {
		return
	}

	if o.cfg.VolSurfaceEnabled {
		surface := analytics.BuildVolSurface(points, o.cfg.VolSurfaceBuckets, o.cfg.VolSurfaceInterpolate)
		if o.reg != nil {
			o.reg.ObserveHistogram("VolSurfaceBuildSeconds", surface.BuildSeconds)
			o.reg.ObserveHistogram("VolSurfaceInterpSeconds", surface.InterpSeconds)
			if frac, ok := surface.InterpolatedFraction[index]; ok {
				o.reg.SetGaugeVec("VolSurfaceInterpolatedFraction", frac, index)
			}
			if q, ok := surface.QualityScore[index]; ok {
				o.reg.SetGaugeVec("VolSurfaceQualityScore", q, index)
			}
		}
		if frac, ok := surface.InterpolatedFraction[index]; ok && o.interpGuard != nil {
			if alert, _ := o.interpGuard.RecordInterpolationFraction(index, frac); alert != nil && o.dispatcher != nil {
				o.dispatcher.Dispatch(*alert, result.Cycle)
			}
		}
		if o.cfg.VolSurfacePersist {
			path, err := analytics.Persist(surface, "data/vol_surface", true)
			if err != nil {
				o.log.Warn().Err(err).Msg("vol surface persist failed")
				result.PhaseFailures["analytics"]++
			} else {
				o.log.Debug().Str("path", path).Msg("vol surface persisted")
			}
		}
	}

	if o.cfg.RiskAggEnabled {
		risk := analytics.BuildRiskAgg(points, o.cfg.RiskAggBuckets, o.cfg.ContractMultiplier)
		if o.reg != nil {
			if n, ok := risk.TotalDeltaNotional[index]; ok {
				o.reg.SetGaugeVec("RiskAggNotionalDelta", n, index)
			}
			if u, ok := risk.BucketUtilization[index]; ok {
				o.reg.SetGaugeVec("RiskAggBucketUtilization", u, index)
			}
		}
		if notional, ok := risk.TotalDeltaNotional[index]; ok && o.riskGuard != nil {
			if alert := o.riskGuard.RecordRiskDelta(index, notional, risk.RowCount[index]); alert != nil && o.dispatcher != nil {
				o.dispatcher.Dispatch(*alert, result.Cycle)
			}
		}
		if util, ok := risk.BucketUtilization[index]; ok && o.bucketGuard != nil {
			if alert := o.bucketGuard.RecordBucketUtilization(index, util); alert != nil && o.dispatcher != nil {
				o.dispatcher.Dispatch(*alert, result.Cycle)
			}
		}
	}
}
