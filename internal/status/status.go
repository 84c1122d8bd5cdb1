// Package status implements the runtime-status writer and panel-diff
// emitter (spec §4.I): atomic snapshot writes plus structured diffs
// published onto the event bus.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/g6-platform/g6/internal/resource"
)

// IndexInfo is the brief per-index summary (spec §4.I "indices list").
type IndexInfo struct {
	Name    string  `json:"name"`
	LTP     float64 `json:"ltp"`
	Options int     `json:"options"`
}

// IndexDetail is the fuller per-index detail (spec §4.I "per-index detail").
type IndexDetail struct {
	Status string  `json:"status"`
	LTP    float64 `json:"ltp"`
}

// AdaptiveExposure surfaces the cardinality manager's current state
// (spec §4.I "adaptive controller exposure").
type AdaptiveExposure struct {
	OptionDetailMode int     `json:"option_detail_mode"`
	BandWindow       float64 `json:"band_window"`
	Hysteresis       map[string]interface{} `json:"hysteresis,omitempty"`
}

// Rates bundles the aggregate per-cycle rate metrics.
type Rates struct {
	SuccessRatePct   float64 `json:"success_rate_pct"`
	OptionsPerMinute float64 `json:"options_per_minute"`
	APISuccessRate   float64 `json:"api_success_rate"`
}

// RuntimeStatus is the full artifact written each cycle (spec §4.I).
type RuntimeStatus struct {
	Timestamp        string                    `json:"timestamp"`
	Cycle            int64                     `json:"cycle"`
	Elapsed          float64                   `json:"elapsed"`
	Interval         float64                   `json:"interval"`
	SleepSec         float64                   `json:"sleep_sec"`
	Indices          []IndexInfo               `json:"indices"`
	IndexDetail      map[string]IndexDetail    `json:"index_detail"`
	Rates            Rates                     `json:"rates"`
	Resource         resource.Snapshot         `json:"resource"`
	Ready            bool                      `json:"ready"`
	ReadyReason      string                    `json:"ready_reason,omitempty"`
	ComponentHealth  map[string]string         `json:"component_health"`
	ProviderInfo     map[string]interface{}    `json:"provider_info"`
	Adaptive         AdaptiveExposure          `json:"adaptive"`
	MemoryTier       string                    `json:"memory_tier"`
	AdaptiveAlerts   []map[string]interface{}  `json:"adaptive_alerts"`
}

// WriteAtomic serializes status to path using a tmp-file-then-rename
// write, and drops a sibling `<path>.marker` for diagnostics (spec §6).
func WriteAtomic(path string, status RuntimeStatus) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	marker := path + ".marker"
	markerContent := fmt.Sprintf("%d\n", time.Now().Unix())
	return os.WriteFile(marker, []byte(markerContent), 0o644)
}

// ToMap flattens a RuntimeStatus into a generic map for diffing and
// event-bus publication.
func ToMap(status RuntimeStatus) map[string]interface{} {
	b, err := json.Marshal(status)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}
