package orchestrator

import "github.com/g6-platform/g6/internal/domain"

// Sink is the narrow persistence interface the orchestrator writes
// through (spec §1 "on-disk CSV/Influx sinks queried through
// write_options_data/write_overview_snapshot interfaces" — an external
// collaborator out of scope for this core; this interface is its seam).
type Sink interface {
	WriteOptionsData(index string, rule domain.ExpiryRule, quotes []domain.OptionQuote) (metricsPayload map[string]interface{}, err error)
	WriteOverviewSnapshot(index string, status domain.CycleStatus, overview map[string]interface{}) error
}

// NopSink is a Sink that performs no I/O, useful for tests and for
// running the orchestrator with persistence disabled.
type NopSink struct{}

func (NopSink) WriteOptionsData(index string, rule domain.ExpiryRule, quotes []domain.OptionQuote) (map[string]interface{}, error) {
	return map[string]interface{}{"index": index, "rule": string(rule), "count": len(quotes)}, nil
}

func (NopSink) WriteOverviewSnapshot(index string, status domain.CycleStatus, overview map[string]interface{}) error {
	return nil
}
