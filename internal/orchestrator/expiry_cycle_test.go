package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/config"
	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/expiry"
	"github.com/g6-platform/g6/internal/provider"
)

// fakeCycleProvider implements provider.Provider with keyed-by-expiry
// instrument responses, for exercising processExpiry's fallback chain.
type fakeCycleProvider struct {
	instrumentsByExpiry map[string][]domain.Instrument
	instrumentErr       error
	quotes              map[string]domain.OptionQuote
}

func (f *fakeCycleProvider) GetIndexData(ctx context.Context, index string) (float64, provider.OHLC, error) {
	return 0, provider.OHLC{}, nil
}
func (f *fakeCycleProvider) GetATMStrike(ctx context.Context, index string) (float64, error) { return 0, nil }
func (f *fakeCycleProvider) GetLTP(ctx context.Context, index string) (float64, error)       { return 0, nil }
func (f *fakeCycleProvider) ResolveExpiry(ctx context.Context, index string, rule domain.ExpiryRule) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeCycleProvider) GetExpiryDates(ctx context.Context, index string) ([]time.Time, error) {
	return nil, nil
}
func (f *fakeCycleProvider) GetOptionInstruments(ctx context.Context, index string, expiry time.Time, strikes []float64) ([]domain.Instrument, error) {
	if f.instrumentErr != nil {
		return nil, f.instrumentErr
	}
	return f.instrumentsByExpiry[expiry.Format("2006-01-02")], nil
}
func (f *fakeCycleProvider) EnrichWithQuotes(ctx context.Context, instruments []domain.Instrument) (map[string]domain.OptionQuote, error) {
	out := map[string]domain.OptionQuote{}
	for _, inst := range instruments {
		if q, ok := f.quotes[inst.TradingSymbol]; ok {
			out[inst.TradingSymbol] = q
		}
	}
	return out, nil
}
func (f *fakeCycleProvider) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeCycleProvider) IsConnected() bool                    { return true }

func baseTestConfig() *config.Config {
	return &config.Config{
		SymbolMatchMode:  "strict",
		StrikeCoverageOK: 0.75,
		FieldCoverageOK:  0.75,
	}
}

func newTestOrchestrator(cfg *config.Config, prov *fakeCycleProvider) *Orchestrator {
	idxCfg := domain.IndexConfig{Name: "NIFTY"}
	return New(cfg, []domain.IndexConfig{idxCfg}, prov, expiry.NewService(), nil, nil, nil, NopSink{}, nil, nil, nil, nil, zerolog.Nop())
}

func instrument(symbol string, strike float64, expiryDate time.Time) domain.Instrument {
	return domain.Instrument{TradingSymbol: symbol, InstrumentType: domain.CE, Strike: strike, Expiry: expiryDate, UnderlyingName: "NIFTY"}
}

func quote(symbol string, strike, price float64) domain.OptionQuote {
	return domain.OptionQuote{Symbol: symbol, Strike: strike, InstrumentType: domain.CE, LastPrice: price, Volume: 10, OI: 100}
}

func TestProcessExpiry_HappyPath(t *testing.T) {
	expiryDate := time.Now().AddDate(0, 0, 7)
	key := expiryDate.Format("2006-01-02")
	symbol := "NIFTY" + key + "24000CE"

	prov := &fakeCycleProvider{
		instrumentsByExpiry: map[string][]domain.Instrument{
			key: {instrument(symbol, 24000, expiryDate)},
		},
		quotes: map[string]domain.OptionQuote{symbol: quote(symbol, 24000, 105.5)},
	}
	o := newTestOrchestrator(baseTestConfig(), prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}
	universe := domain.StrikeUniverse{Strikes: []float64{24000}}

	rec, quotes, points := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{expiryDate}, universe, 24000, 24000)

	require.Len(t, quotes, 1)
	require.Len(t, points, 1)
	assert.Equal(t, 1, rec.OptionsCount)
	assert.Equal(t, 1.0, rec.StrikeCoverage)
	assert.Equal(t, 1.0, rec.FieldCoverage)
	assert.Equal(t, domain.StatusOK, rec.Status)
	assert.NotNil(t, quotes[0].IV)
	assert.NotNil(t, quotes[0].Greeks)
}

func TestProcessExpiry_NoFutureCandidatesReturnsEmpty(t *testing.T) {
	past := time.Now().AddDate(0, 0, -5)
	prov := &fakeCycleProvider{}
	o := newTestOrchestrator(baseTestConfig(), prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}

	rec, quotes, points := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{past}, domain.StrikeUniverse{}, 24000, 24000)

	assert.Equal(t, domain.StatusEmpty, rec.Status)
	assert.Nil(t, quotes)
	assert.Nil(t, points)
}

func TestProcessExpiry_ProviderFetchErrorReturnsEmpty(t *testing.T) {
	expiryDate := time.Now().AddDate(0, 0, 7)
	prov := &fakeCycleProvider{instrumentErr: errors.New("broker down")}
	o := newTestOrchestrator(baseTestConfig(), prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}

	rec, quotes, _ := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{expiryDate}, domain.StrikeUniverse{Strikes: []float64{24000}}, 24000, 24000)

	assert.Equal(t, domain.StatusEmpty, rec.Status)
	assert.Nil(t, quotes)
}

func TestProcessExpiry_NoMatchingInstrumentsWithoutFallbacksReturnsEmpty(t *testing.T) {
	expiryDate := time.Now().AddDate(0, 0, 7)
	key := expiryDate.Format("2006-01-02")
	// Instrument strike (25000) never matches the requested universe (24000).
	prov := &fakeCycleProvider{
		instrumentsByExpiry: map[string][]domain.Instrument{
			key: {instrument("NIFTY"+key+"25000CE", 25000, expiryDate)},
		},
	}
	cfg := baseTestConfig() // fallbacks all default false
	o := newTestOrchestrator(cfg, prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}

	rec, quotes, _ := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{expiryDate}, domain.StrikeUniverse{Strikes: []float64{24000}}, 24000, 24000)

	assert.Equal(t, domain.StatusEmpty, rec.Status)
	assert.Nil(t, quotes)
}

func TestProcessExpiry_ForwardFallbackUsesNextCandidateWhenCurrentEmpty(t *testing.T) {
	first := time.Now().AddDate(0, 0, 7)
	second := time.Now().AddDate(0, 0, 14)
	secondKey := second.Format("2006-01-02")
	symbol := "NIFTY" + secondKey + "24000CE"

	prov := &fakeCycleProvider{
		instrumentsByExpiry: map[string][]domain.Instrument{
			// first has no matching instruments at all; second does.
			secondKey: {instrument(symbol, 24000, second)},
		},
		quotes: map[string]domain.OptionQuote{symbol: quote(symbol, 24000, 80)},
	}
	cfg := baseTestConfig()
	cfg.EnableNearestExpiryFallback = true
	o := newTestOrchestrator(cfg, prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}
	universe := domain.StrikeUniverse{Strikes: []float64{24000}}

	rec, quotes, _ := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{first, second}, universe, 24000, 24000)

	require.Len(t, quotes, 1)
	assert.Equal(t, symbol, quotes[0].Symbol)
	assert.NotEqual(t, domain.StatusEmpty, rec.Status)
}

func TestProcessExpiry_RelaxEmptyMatchAcceptsByStrikeOnly(t *testing.T) {
	expiryDate := time.Now().AddDate(0, 0, 7)
	key := expiryDate.Format("2006-01-02")
	// Wrong root/symbol shape so the strict filter rejects it outright, but
	// the strike itself is in the requested universe.
	symbol := "SOMETHINGELSE24000CE"

	prov := &fakeCycleProvider{
		instrumentsByExpiry: map[string][]domain.Instrument{
			key: {instrument(symbol, 24000, expiryDate)},
		},
		quotes: map[string]domain.OptionQuote{symbol: quote(symbol, 24000, 50)},
	}
	cfg := baseTestConfig()
	cfg.RelaxEmptyMatch = true
	o := newTestOrchestrator(cfg, prov)
	idxCfg := domain.IndexConfig{Name: "NIFTY"}
	universe := domain.StrikeUniverse{Strikes: []float64{24000}}

	rec, quotes, _ := o.processExpiry(context.Background(), idxCfg, domain.ThisWeek, []time.Time{expiryDate}, universe, 24000, 24000)

	require.Len(t, quotes, 1)
	assert.NotEqual(t, domain.StatusEmpty, rec.Status)
}

func TestFieldCoverageRatio_RequiresAllThreeFields(t *testing.T) {
	quotes := []domain.OptionQuote{
		{Volume: 10, OI: 5, LastPrice: 1},
		{Volume: 0, OI: 5, LastPrice: 1},
	}
	assert.Equal(t, 0.5, fieldCoverageRatio(quotes))
	assert.Equal(t, 0.0, fieldCoverageRatio(nil))
}

func TestCoverageRatio_MatchesRoundedStrikes(t *testing.T) {
	quotes := []domain.OptionQuote{{Strike: 24000.006}}
	assert.Equal(t, 1.0, coverageRatio(quotes, []float64{24000.01}))
	assert.Equal(t, 0.0, coverageRatio(quotes, nil))
}
