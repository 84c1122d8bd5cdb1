// Package server implements the SSE gateway and HTTP status endpoints
// (spec §4.J), grounded in the teacher's internal/server/events_stream.go
// channel-based fan-out handler.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/g6-platform/g6/internal/events"
	"github.com/g6-platform/g6/internal/metrics"
)

const heartbeatInterval = 15 * time.Second
const pollInterval = 200 * time.Millisecond

// SSEHandler serves GET /events (spec §4.J).
type SSEHandler struct {
	bus *events.Bus
	reg *metrics.Registry
	log zerolog.Logger
}

// NewSSEHandler constructs an SSEHandler over bus, observing connection
// lifetimes on reg when non-nil.
func NewSSEHandler(bus *events.Bus, reg *metrics.Registry, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{bus: bus, reg: reg, log: log.With().Str("component", "sse_handler").Logger()}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	typesFilter := parseTypes(r.URL.Query().Get("types"))
	backlog := parseIntDefault(r.URL.Query().Get("backlog"), 0)
	forceFull := r.URL.Query().Get("force_full") == "1"

	lastID := int64(0)
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = n
		}
	}
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = n
		}
	}

	h.bus.IncConsumers()
	start := time.Now()
	defer func() {
		h.bus.DecConsumers()
	}()

	// Step 1: synthesize panel_full before backlog replay when
	// force_full=1 (spec §4.J).
	if forceFull {
		if full, ok := h.bus.LatestFull(); ok {
			writeSSE(w, full)
			flusher.Flush()
		}
	}

	// Step 2: replay backlog.
	replay := h.bus.GetSince(lastID, backlog)
	for _, e := range replay {
		if !matchesTypes(e.EventType, typesFilter) {
			continue
		}
		writeSSE(w, e)
		lastID = e.EventID
	}
	flusher.Flush()

	// Step 3+4: stream subsequent events with heartbeat and idle poll.
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			if h.reg != nil {
				h.reg.ObserveHistogram("SSEConnectionDuration", time.Since(start).Seconds())
			}
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-poll.C:
			pending := h.bus.GetSince(lastID, 0)
			for _, e := range pending {
				if !matchesTypes(e.EventType, typesFilter) {
					continue
				}
				writeSSE(w, e)
				lastID = e.EventID
			}
			if len(pending) > 0 {
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, e events.EventRecord) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", e.EventType, e.EventID, body)
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out[t] = true
		}
	}
	return out
}

func matchesTypes(t events.EventType, filter map[string]bool) bool {
	if len(filter) == 0 {
		return true
	}
	return filter[string(t)]
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return def
}
