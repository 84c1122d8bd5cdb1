// Package provider defines the narrow interface G6 uses to talk to a
// broker/options data source (spec §4.C), adapted from the teacher's
// domain.BrokerClient / TradernetBrokerAdapter narrow-interface pattern.
package provider

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/g6-platform/g6/internal/domain"
)

// OHLC is the daily open/high/low/close for an index.
type OHLC struct {
	Open, High, Low, Close float64
}

// Provider is the narrow interface the orchestrator depends on. Every
// operation returns an error; retries are the caller's responsibility.
type Provider interface {
	GetIndexData(ctx context.Context, index string) (price float64, ohlc OHLC, err error)
	GetATMStrike(ctx context.Context, index string) (float64, error)
	GetLTP(ctx context.Context, index string) (float64, error)
	ResolveExpiry(ctx context.Context, index string, rule domain.ExpiryRule) (time.Time, error)
	GetExpiryDates(ctx context.Context, index string) ([]time.Time, error)
	GetOptionInstruments(ctx context.Context, index string, expiry time.Time, strikes []float64) ([]domain.Instrument, error)
	EnrichWithQuotes(ctx context.Context, instruments []domain.Instrument) (map[string]domain.OptionQuote, error)
	// HealthCheck reports broker connectivity (supplemented feature:
	// provider health/failover counters feed the always-on metrics group).
	HealthCheck(ctx context.Context) error
	IsConnected() bool
}

// stepFor mirrors expiry.stepFor's index-specific strike grid, used for
// the ATM rounding fallback.
func stepFor(index string) float64 {
	switch index {
	case "BANKNIFTY", "SENSEX":
		return 100
	default:
		return 50
	}
}

// RoundToStep rounds price to the nearest multiple of step — the ATM
// fallback used when the broker doesn't report an ATM strike directly
// (spec §4.C).
func RoundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// dayCache is a day-scoped cache of instrument lists keyed by index and
// expiry; cleared on date rollover (spec §4.C).
type dayCache struct {
	mu          sync.Mutex
	day         string
	instruments map[string][]domain.Instrument
}

func newDayCache() *dayCache {
	return &dayCache{instruments: map[string][]domain.Instrument{}}
}

func (c *dayCache) rolloverIfNeeded(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	today := now.Format("2006-01-02")
	if c.day != today {
		c.day = today
		c.instruments = map[string][]domain.Instrument{}
	}
}

func (c *dayCache) get(key string) ([]domain.Instrument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.instruments[key]
	return v, ok
}

func (c *dayCache) put(key string, v []domain.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[key] = v
}

// Backend is the minimal wire-level collaborator a concrete Provider
// wraps — analogous to the teacher's internal tradernet Client, kept
// abstract here since the concrete broker is an external collaborator
// out of scope for this core (spec §1).
type Backend interface {
	FetchIndexPrice(ctx context.Context, index string) (float64, OHLC, error)
	FetchExpiries(ctx context.Context, index string) ([]time.Time, error)
	FetchInstruments(ctx context.Context, index string, expiry time.Time) ([]domain.Instrument, error)
	FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.OptionQuote, error)
	Ping(ctx context.Context) error
}

// Adapter implements Provider over a Backend, adding day-scoped caching,
// ATM fallback, and zero-price quote synthesis (spec §4.C).
type Adapter struct {
	backend Backend
	expiry  ExpiryResolver
	log     zerolog.Logger

	cache     *dayCache
	connected atomic32
}

// ExpiryResolver is consulted when rule-based expiry resolution is
// enabled (spec §4.C: "may consult ExpiryService when enabled").
type ExpiryResolver interface {
	Select(rule domain.ExpiryRule, candidates []time.Time, today time.Time) (time.Time, error)
}

// NewAdapter constructs a Provider Adapter over backend.
func NewAdapter(backend Backend, expirySvc ExpiryResolver, log zerolog.Logger) *Adapter {
	return &Adapter{
		backend: backend,
		expiry:  expirySvc,
		log:     log.With().Str("component", "provider_adapter").Logger(),
		cache:   newDayCache(),
	}
}

func (a *Adapter) GetIndexData(ctx context.Context, index string) (float64, OHLC, error) {
	price, ohlc, err := a.backend.FetchIndexPrice(ctx, index)
	if err != nil {
		a.connected.store(false)
		return 0, OHLC{}, err
	}
	a.connected.store(true)
	return price, ohlc, nil
}

func (a *Adapter) GetATMStrike(ctx context.Context, index string) (float64, error) {
	price, _, err := a.GetIndexData(ctx, index)
	if err != nil {
		return 0, err
	}
	return RoundToStep(price, stepFor(index)), nil
}

func (a *Adapter) GetLTP(ctx context.Context, index string) (float64, error) {
	price, _, err := a.GetIndexData(ctx, index)
	return price, err
}

func (a *Adapter) ResolveExpiry(ctx context.Context, index string, rule domain.ExpiryRule) (time.Time, error) {
	candidates, err := a.GetExpiryDates(ctx, index)
	if err != nil {
		return time.Time{}, err
	}
	if a.expiry != nil {
		return a.expiry.Select(rule, candidates, time.Now())
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return time.Time{}, err
}

func (a *Adapter) GetExpiryDates(ctx context.Context, index string) ([]time.Time, error) {
	dates, err := a.backend.FetchExpiries(ctx, index)
	if err != nil {
		a.connected.store(false)
		return nil, err
	}
	a.connected.store(true)
	return dates, nil
}

func (a *Adapter) GetOptionInstruments(ctx context.Context, index string, expiry time.Time, strikes []float64) ([]domain.Instrument, error) {
	now := time.Now()
	a.cache.rolloverIfNeeded(now)

	key := index + "|" + expiry.Format("2006-01-02")
	if cached, ok := a.cache.get(key); ok {
		return filterByStrikes(cached, strikes), nil
	}

	instruments, err := a.backend.FetchInstruments(ctx, index, expiry)
	if err != nil {
		a.connected.store(false)
		return nil, err
	}
	a.connected.store(true)
	a.cache.put(key, instruments)
	return filterByStrikes(instruments, strikes), nil
}

func filterByStrikes(instruments []domain.Instrument, strikes []float64) []domain.Instrument {
	if len(strikes) == 0 {
		return instruments
	}
	set := make(map[float64]bool, len(strikes))
	for _, s := range strikes {
		set[s] = true
	}
	out := make([]domain.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if set[inst.Strike] {
			out = append(out, inst)
		}
	}
	return out
}

// EnrichWithQuotes fetches quotes for the given instruments. When the
// backend returns nothing or fails, it synthesizes zero-price quotes so
// downstream status remains PARTIAL instead of crashing (spec §4.C). The
// synthesis always applies; no diagnostic-mode setting gates it.
func (a *Adapter) EnrichWithQuotes(ctx context.Context, instruments []domain.Instrument) (map[string]domain.OptionQuote, error) {
	symbols := make([]string, len(instruments))
	for i, inst := range instruments {
		symbols[i] = inst.TradingSymbol
	}

	quotes, err := a.backend.FetchQuotes(ctx, symbols)
	if err != nil {
		a.connected.store(false)
		a.log.Warn().Err(err).Msg("quote enrichment failed, synthesizing zero-price quotes")
		quotes = map[string]domain.OptionQuote{}
	} else {
		a.connected.store(true)
	}

	if len(quotes) == 0 {
		now := time.Now()
		quotes = make(map[string]domain.OptionQuote, len(instruments))
		for _, inst := range instruments {
			quotes[inst.TradingSymbol] = domain.OptionQuote{
				Symbol:         inst.TradingSymbol,
				Strike:         inst.Strike,
				InstrumentType: inst.InstrumentType,
				Timestamp:      now,
			}
		}
	}
	return quotes, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	err := a.backend.Ping(ctx)
	a.connected.store(err == nil)
	return err
}

func (a *Adapter) IsConnected() bool {
	return a.connected.load()
}

// atomic32 is a tiny bool flag safe for concurrent use without pulling
// in sync/atomic's pointer ceremony for a single bit.
type atomic32 struct {
	mu sync.RWMutex
	v  bool
}

func (a *atomic32) store(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomic32) load() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.v
}
