package events

import (
	"github.com/rs/zerolog"
)

// Manager wraps a Bus with the convenience emit helpers the rest of the
// system calls, mirroring the teacher's events.Manager{bus, log} shape
// (trader/internal/events/manager.go) while delegating all state to Bus.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager constructs a Manager around bus.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log.With().Str("component", "events_manager").Logger()}
}

// Bus exposes the underlying bus for callers needing GetSince/Stats/etc.
func (m *Manager) Bus() *Bus { return m.bus }

// Emit publishes an event, logging (not raising) on failure — the
// primary publish path must succeed even when auxiliary bookkeeping
// fails (spec §7 propagation policy).
func (m *Manager) Emit(eventType EventType, payload map[string]interface{}, coalesceKey string) {
	if _, err := m.bus.Publish(eventType, payload, coalesceKey); err != nil {
		m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("event publish rejected")
	}
}

// EmitTyped publishes data unchanged through Emit.
func (m *Manager) EmitTyped(eventType EventType, data map[string]interface{}, coalesceKey string) {
	m.Emit(eventType, data, coalesceKey)
}

// EmitError publishes a best-effort diagnostic event; failures here are
// swallowed entirely, matching spec §7's "observability failures must
// never kill the cycle".
func (m *Manager) EmitError(source string, err error) {
	defer func() {
		_ = recover()
	}()
	m.Emit("error", map[string]interface{}{
		"source": source,
		"error":  err.Error(),
	}, "")
}
