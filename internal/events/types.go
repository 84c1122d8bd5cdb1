// Package events implements the bounded, coalescing, generation-stamped
// in-process event bus and its adaptive degrade controller (spec §4.E).
// No teacher file defines this mechanism directly (the retrieved
// aristath/sentinel Manager/Emit wrapper assumes a Bus type that is
// never itself implemented in the pack) — this package is authored
// from the spec, adopting the teacher's Manager logging/wrapping
// conventions (internal/events/manager.go) for the surrounding style.
package events

import "time"

// EventType names a kind of event on the bus.
type EventType string

const (
	TypePanelFull    EventType = "panel_full"
	TypePanelDiff    EventType = "panel_diff"
	TypeFollowupAlert EventType = "followup_alert"
	TypeSeverityState EventType = "severity_state"
	TypeSeverityCounts EventType = "severity_counts"
)

// EventRecord is one immutable published event (spec §3 "EventRecord").
type EventRecord struct {
	EventID      int64                  `json:"id"`
	Sequence     int64                  `json:"sequence"`
	EventType    EventType              `json:"type"`
	TimestampIST string                 `json:"timestamp_ist"`
	Payload      map[string]interface{} `json:"payload"`
	CoalesceKey  string                 `json:"-"`
	Generation   int64                  `json:"generation,omitempty"`
}

// istLocation is loaded once; falls back to a fixed +05:30 offset when
// the tzdata database is unavailable (minimal containers).
var istLocation = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}()

// nowIST returns the current time formatted per spec §6 ("timestamp_ist
// is Asia/Kolkata ISO 8601 with offset +05:30").
func nowIST() string {
	return time.Now().In(istLocation).Format("2006-01-02T15:04:05-07:00")
}
