package orchestrator

import (
	"context"
	"time"

	"github.com/g6-platform/g6/internal/analytics"
	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/filter"
)

// processExpiry implements spec §4.H step 6 (a-f) for one (index,
// expiry_rule) pair: resolve date, fetch+filter instruments (with
// fallbacks), enrich quotes, estimate IV/Greeks, persist, and classify
// coverage.
func (o *Orchestrator) processExpiry(
	ctx context.Context,
	idxCfg domain.IndexConfig,
	rule domain.ExpiryRule,
	candidates []time.Time,
	universe domain.StrikeUniverse,
	atm, spot float64,
) (domain.ExpiryRecord, []domain.OptionQuote, []analytics.OptionPoint) {
	rec := domain.ExpiryRecord{Rule: rule}

	expiryDate, err := o.expirySvc.Select(rule, candidates, time.Now())
	if err != nil {
		rec.Status = domain.StatusEmpty
		return rec, nil, nil
	}

	ctxF := filter.Context{
		IndexSymbol:  idxCfg.Name,
		ExpiryTarget: expiryDate.Format("2006-01-02"),
		StrikeKeySet: strikeSet(universe.Strikes),
		MatchMode:    filter.MatchMode(o.cfg.SymbolMatchMode),
		UnderlyingStrict: o.cfg.SymbolMatchUnderlyingStrict,
		SafeMode:     o.cfg.SymbolMatchSafemode,
	}

	instruments, err := o.provider.GetOptionInstruments(ctx, idxCfg.Name, expiryDate, universe.Strikes)
	if err != nil {
		if o.reg != nil {
			o.reg.IncCounterVec("ProviderErrorsTotal", idxCfg.Name, "instruments_failed")
		}
		rec.Status = domain.StatusEmpty
		return rec, nil, nil
	}

	accepted := o.filterInstruments(instruments, ctxF)

	// Forward-nearest-expiry fallback (≤4 forward), then backward
	// fallback (≤3 days back), then permissive reselection, per spec
	// §4.H step 6.a.
	if len(accepted) == 0 && o.cfg.EnableNearestExpiryFallback {
		accepted, expiryDate = o.forwardExpiryFallback(ctx, idxCfg, candidates, expiryDate, universe, ctxF)
		if len(accepted) > 0 && o.reg != nil {
			o.reg.IncCounterVec("ExpiryFallbacksTotal", idxCfg.Name, "forward_nearest")
		}
	}
	if len(accepted) == 0 && o.cfg.EnableBackwardExpiryFallback {
		accepted, expiryDate = o.backwardExpiryFallback(ctx, idxCfg, expiryDate, universe, ctxF)
		if len(accepted) > 0 && o.reg != nil {
			o.reg.IncCounterVec("ExpiryFallbacksTotal", idxCfg.Name, "backward")
		}
	}
	if len(accepted) == 0 && o.cfg.RelaxEmptyMatch {
		accepted = o.permissiveReselect(instruments, ctxF)
		if len(accepted) > 0 && o.reg != nil {
			o.reg.IncCounterVec("ExpiryFallbacksTotal", idxCfg.Name, "relax_empty_match")
		}
	}

	if len(accepted) == 0 {
		rec.Status = domain.StatusEmpty
		return rec, nil, nil
	}

	quoteMap, _ := o.provider.EnrichWithQuotes(ctx, accepted)

	quotes := make([]domain.OptionQuote, 0, len(accepted))
	for _, inst := range accepted {
		q, ok := quoteMap[inst.TradingSymbol]
		if !ok {
			q = domain.OptionQuote{Symbol: inst.TradingSymbol, Strike: inst.Strike, InstrumentType: inst.InstrumentType, Timestamp: time.Now()}
		}
		o.estimateIVAndGreeks(&q, idxCfg.Name, atm, spot, expiryDate)
		quotes = append(quotes, q)
	}

	if _, err := o.sink.WriteOptionsData(idxCfg.Name, rule, quotes); err != nil {
		if o.reg != nil {
			o.reg.IncCounterVec("ProviderErrorsTotal", idxCfg.Name, "persist_failed")
		}
		o.log.Warn().Err(err).Str("index", idxCfg.Name).Msg("options data write failed")
	}

	rec.OptionsCount = len(quotes)
	rec.StrikeCoverage = coverageRatio(quotes, universe.Strikes)
	rec.FieldCoverage = fieldCoverageRatio(quotes)
	rec.Status, rec.PartialReason = domain.ClassifyExpiry(rec.OptionsCount, rec.StrikeCoverage, rec.FieldCoverage, o.cfg.StrikeCoverageOK, o.cfg.FieldCoverageOK)

	snap := domain.ExpirySnapshot{Index: idxCfg.Name, ExpiryRule: rule, ExpiryDate: expiryDate, ATMStrike: atm, Options: quotes, GeneratedAt: time.Now()}
	if err := o.snapCache.Put(snap); err != nil {
		o.log.Debug().Err(err).Msg("snapshot cache put failed")
	}

	points := make([]analytics.OptionPoint, 0, len(quotes))
	for _, q := range quotes {
		pt := analytics.OptionPoint{Index: idxCfg.Name, Expiry: string(rec.Rule), Strike: q.Strike, Underlying: spot}
		if q.IV != nil {
			pt.IV = *q.IV
			pt.HasIV = true
		}
		if q.Greeks != nil {
			pt.Delta, pt.Gamma, pt.Vega, pt.Theta, pt.Rho = q.Greeks.Delta, q.Greeks.Gamma, q.Greeks.Vega, q.Greeks.Theta, q.Greeks.Rho
			pt.HasGreeks = true
		}
		points = append(points, pt)
	}

	return rec, quotes, points
}

func (o *Orchestrator) filterInstruments(instruments []domain.Instrument, ctx filter.Context) []domain.Instrument {
	var out []domain.Instrument
	for _, inst := range instruments {
		if ok, _ := filter.Accept(inst, ctx, o.rootCache); ok {
			out = append(out, inst)
		}
	}
	return out
}

func (o *Orchestrator) forwardExpiryFallback(ctx context.Context, idxCfg domain.IndexConfig, candidates []time.Time, from time.Time, universe domain.StrikeUniverse, ctxF filter.Context) ([]domain.Instrument, time.Time) {
	forward := futureCandidates(candidates, from, 4)
	for _, d := range forward {
		instruments, err := o.provider.GetOptionInstruments(ctx, idxCfg.Name, d, universe.Strikes)
		if err != nil {
			continue
		}
		f := ctxF
		f.ExpiryTarget = d.Format("2006-01-02")
		accepted := o.filterInstruments(instruments, f)
		if len(accepted) > 0 {
			return accepted, d
		}
	}
	return nil, from
}

func (o *Orchestrator) backwardExpiryFallback(ctx context.Context, idxCfg domain.IndexConfig, from time.Time, universe domain.StrikeUniverse, ctxF filter.Context) ([]domain.Instrument, time.Time) {
	for i := 1; i <= 3; i++ {
		d := from.AddDate(0, 0, -i)
		instruments, err := o.provider.GetOptionInstruments(ctx, idxCfg.Name, d, universe.Strikes)
		if err != nil {
			continue
		}
		f := ctxF
		f.ExpiryTarget = d.Format("2006-01-02")
		accepted := o.filterInstruments(instruments, f)
		if len(accepted) > 0 {
			return accepted, d
		}
	}
	return nil, from
}

// permissiveReselect relaxes matching to strike-only: it keeps the
// already-fetched instruments whose strike is in the requested set. It
// does not search other expiries for a requested strike.
func (o *Orchestrator) permissiveReselect(instruments []domain.Instrument, ctxF filter.Context) []domain.Instrument {
	var out []domain.Instrument
	for _, inst := range instruments {
		if ctxF.StrikeKeySet[round2(inst.Strike)] {
			out = append(out, inst)
		}
	}
	return out
}

func futureCandidates(candidates []time.Time, from time.Time, limit int) []time.Time {
	var out []time.Time
	for _, c := range candidates {
		if c.After(from) {
			out = append(out, c)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func strikeSet(strikes []float64) map[float64]bool {
	set := make(map[float64]bool, len(strikes))
	for _, s := range strikes {
		set[round2(s)] = true
	}
	return set
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func coverageRatio(quotes []domain.OptionQuote, requested []float64) float64 {
	if len(requested) == 0 {
		return 0
	}
	realized := map[float64]bool{}
	for _, q := range quotes {
		realized[round2(q.Strike)] = true
	}
	hit := 0
	for _, s := range requested {
		if realized[round2(s)] {
			hit++
		}
	}
	return float64(hit) / float64(len(requested))
}

func fieldCoverageRatio(quotes []domain.OptionQuote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	populated := 0
	for _, q := range quotes {
		if q.Volume > 0 && q.OI > 0 && q.LastPrice > 0 {
			populated++
		}
	}
	return float64(populated) / float64(len(quotes))
}

func (o *Orchestrator) estimateIVAndGreeks(q *domain.OptionQuote, index string, atm, spot float64, expiryDate time.Time) {
	t := TimeToExpiry(time.Now(), expiryDate)
	if t <= 0 || q.LastPrice <= 0 {
		return
	}
	// Memory pressure flag (spec §4.H step 3): skip the Newton-Raphson
	// solve and Greeks entirely under critical pressure.
	if o.memoryTier >= memoryTierCritical {
		return
	}

	isCall := q.InstrumentType == domain.CE
	start := time.Now()
	iv, converged := EstimateIV(isCall, q.LastPrice, spot, q.Strike, t, 0.06, IVParams{})
	if o.reg != nil {
		o.reg.ObserveHistogram("IVEstimateSeconds", time.Since(start).Seconds())
		if !converged {
			o.reg.IncCounterVec("IVEstimateFailuresTotal", index)
		}
	}
	q.IV = &iv

	delta, gamma, vega, theta, rho := ComputeGreeks(isCall, spot, q.Strike, t, 0.06, iv)
	q.Greeks = &domain.Greeks{Delta: delta, Gamma: gamma, Vega: vega, Theta: theta, Rho: rho}
}
