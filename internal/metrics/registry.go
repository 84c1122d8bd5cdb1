package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the process-wide, group-gated metrics registry (spec
// §4.D). It owns a dedicated prometheus.Registry rather than the
// global default, matching the pack's observability modules.
type Registry struct {
	mu         sync.RWMutex
	prom       *prometheus.Registry
	log        zerolog.Logger
	collectors map[string]prometheus.Collector
	groups     map[string]string // attr -> group
	enable     map[string]bool
	disable    map[string]bool
}

// GroupGating is the enable/disable-list configuration (spec §4.D).
type GroupGating struct {
	Enable  []string
	Disable []string
}

// New builds a Registry and registers every MetricDef whose predicate
// passes and whose group is allowed by gating.
func New(gating GroupGating, log zerolog.Logger) *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		log:        log.With().Str("component", "metrics_registry").Logger(),
		collectors: map[string]prometheus.Collector{},
		groups:     map[string]string{},
		enable:     toSet(gating.Enable),
		disable:    toSet(gating.Disable),
	}
	r.registerAll()
	r.recover()
	return r
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[strings.TrimSpace(i)] = true
	}
	return m
}

// groupAllowed implements spec §4.D "Group gating": effective =
// (enable ∩ controlled) if enable non-empty else controlled; minus
// disable; ALWAYS_ON bypasses disable.
func (r *Registry) groupAllowed(group string) bool {
	if group == "" {
		return true
	}
	if AlwaysOnGroups[group] {
		return true
	}
	if len(r.enable) > 0 && !r.enable[group] {
		return false
	}
	if r.disable[group] {
		return false
	}
	return true
}

func (r *Registry) registerAll() {
	for _, def := range Specs() {
		r.registerOne(def)
	}
}

func (r *Registry) registerOne(def MetricDef) {
	if def.Predicate != nil && !def.Predicate() {
		return
	}
	if !r.groupAllowed(def.Group) {
		return
	}

	var c prometheus.Collector
	switch def.Kind {
	case KindCounter:
		if len(def.Labels) == 0 {
			c = prometheus.NewCounter(prometheus.CounterOpts{Name: normalizedName(def.Name), Help: def.Doc})
		} else {
			c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: normalizedName(def.Name), Help: def.Doc}, def.Labels)
		}
	case KindGauge:
		if len(def.Labels) == 0 {
			c = prometheus.NewGauge(prometheus.GaugeOpts{Name: def.Name, Help: def.Doc})
		} else {
			c = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: def.Name, Help: def.Doc}, def.Labels)
		}
	case KindHistogram:
		buckets := def.Buckets
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		if len(def.Labels) == 0 {
			c = prometheus.NewHistogram(prometheus.HistogramOpts{Name: def.Name, Help: def.Doc, Buckets: buckets})
		} else {
			c = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: def.Name, Help: def.Doc, Buckets: buckets}, def.Labels)
		}
	case KindSummary:
		c = prometheus.NewSummary(prometheus.SummaryOpts{Name: def.Name, Help: def.Doc})
	default:
		r.log.Warn().Str("attr", def.Attr).Msg("unknown metric kind, skipping")
		return
	}

	if err := r.prom.Register(c); err != nil {
		r.log.Warn().Err(err).Str("attr", def.Attr).Msg("metric registration failed")
		return
	}

	r.mu.Lock()
	r.collectors[def.Attr] = c
	r.groups[def.Attr] = def.Group
	r.mu.Unlock()
}

// normalizedName implements spec §4.D "Counter name normalization":
// names ending _total must register under that exact name.
func normalizedName(name string) string {
	return name
}

// recover implements spec §4.D "Post-init recovery": ensure specific
// fallback metrics exist after the main registration pass.
func (r *Registry) recover() {
	if _, ok := r.collectors["PanelDiffTruncated"]; !ok {
		r.registerOne(MetricDef{Attr: "PanelDiffTruncated", Name: "g6_panel_diff_truncated_total", Doc: "Panel diffs truncated at nesting depth", Kind: KindCounter, Group: "status_panels"})
	}
	if _, ok := r.collectors["VolSurfaceQualityScore"]; !ok && r.groupAllowed("vol_surface") {
		r.registerOne(MetricDef{Attr: "VolSurfaceQualityScore", Name: "g6_vol_surface_quality_score", Doc: "coverage*(1-interp_fraction)", Kind: KindGauge, Labels: []string{"index"}, Group: "vol_surface"})
	}
	if g, ok := r.Gauge("EventsLastFullUnixtime"); ok {
		g.Set(float64(time.Now().Unix()))
	} else {
		r.registerOne(MetricDef{Attr: "EventsLastFullUnixtime", Name: "g6_events_last_full_unixtime", Doc: "Unix time of the last panel_full publish", Kind: KindGauge, Group: "event_bus"})
		if g, ok := r.Gauge("EventsLastFullUnixtime"); ok {
			g.Set(float64(time.Now().Unix()))
		}
	}
}

// Group returns the registered group for attr, if any (spec §3 "_metric_groups[attr]").
func (r *Registry) Group(attr string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[attr]
	return g, ok
}

// Counter returns the registered counter collector for attr, unwrapping
// CounterVec via WithLabelValues at the call site.
func (r *Registry) Counter(attr string) (prometheus.Counter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(prometheus.Counter)
	return c, ok
}

func (r *Registry) CounterVec(attr string) (*prometheus.CounterVec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(*prometheus.CounterVec)
	return c, ok
}

func (r *Registry) Gauge(attr string) (prometheus.Gauge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(prometheus.Gauge)
	return c, ok
}

func (r *Registry) GaugeVec(attr string) (*prometheus.GaugeVec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(*prometheus.GaugeVec)
	return c, ok
}

func (r *Registry) Histogram(attr string) (prometheus.Observer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(prometheus.Observer)
	return c, ok
}

func (r *Registry) HistogramVec(attr string) (*prometheus.HistogramVec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[attr].(*prometheus.HistogramVec)
	return c, ok
}

// IncCounter increments a labelless counter if registered; a no-op
// otherwise (METRICS_FAIL is always swallowed per spec §7).
func (r *Registry) IncCounter(attr string) {
	if c, ok := r.Counter(attr); ok {
		c.Inc()
	}
}

// IncCounterVec increments a labeled counter if registered.
func (r *Registry) IncCounterVec(attr string, labels ...string) {
	if c, ok := r.CounterVec(attr); ok {
		c.WithLabelValues(labels...).Inc()
	}
}

// SetGauge sets a labelless gauge if registered.
func (r *Registry) SetGauge(attr string, v float64) {
	if g, ok := r.Gauge(attr); ok {
		g.Set(v)
	}
}

// SetGaugeVec sets a labeled gauge if registered.
func (r *Registry) SetGaugeVec(attr string, v float64, labels ...string) {
	if g, ok := r.GaugeVec(attr); ok {
		g.WithLabelValues(labels...).Set(v)
	}
}

// ObserveHistogram observes a labelless histogram if registered.
func (r *Registry) ObserveHistogram(attr string, v float64) {
	if h, ok := r.Histogram(attr); ok {
		h.Observe(v)
	}
}

// ObserveHistogramVec observes a labeled histogram if registered.
func (r *Registry) ObserveHistogramVec(attr string, v float64, labels ...string) {
	if h, ok := r.HistogramVec(attr); ok {
		h.WithLabelValues(labels...).Observe(v)
	}
}

// Handler returns the promhttp handler for this registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// ResetForTests rebuilds the registry, matching spec §9's "reset_for_tests()"
// hook for the process-singleton state preservation invariant.
func (r *Registry) ResetForTests(gating GroupGating) {
	r.mu.Lock()
	r.prom = prometheus.NewRegistry()
	r.collectors = map[string]prometheus.Collector{}
	r.groups = map[string]string{}
	r.enable = toSet(gating.Enable)
	r.disable = toSet(gating.Disable)
	r.mu.Unlock()
	r.registerAll()
	r.recover()
}
