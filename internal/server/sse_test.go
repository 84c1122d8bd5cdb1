package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/events"
)

func TestParseTypes_SplitsCommaList(t *testing.T) {
	assert.Nil(t, parseTypes(""))
	assert.Equal(t, map[string]bool{"panel_full": true, "panel_diff": true}, parseTypes("panel_full, panel_diff"))
}

func TestMatchesTypes_EmptyFilterMatchesAll(t *testing.T) {
	assert.True(t, matchesTypes(events.TypePanelFull, nil))
	assert.True(t, matchesTypes(events.TypePanelFull, map[string]bool{"panel_full": true}))
	assert.False(t, matchesTypes(events.TypePanelDiff, map[string]bool{"panel_full": true}))
}

func TestParseIntDefault_FallsBackOnInvalidInput(t *testing.T) {
	assert.Equal(t, 5, parseIntDefault("", 5))
	assert.Equal(t, 10, parseIntDefault("10", 5))
	assert.Equal(t, 5, parseIntDefault("not-a-number", 5))
}

func TestSSEHandler_ReplaysBacklogThenStreamsNewEvents(t *testing.T) {
	bus := events.NewBus(events.Config{}, nil, zerolog.Nop())
	_, _ = bus.Publish(events.TypePanelFull, map[string]interface{}{"seed": 1.0}, "")

	handler := NewSSEHandler(bus, nil, zerolog.Nop())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = bus.Publish(events.TypePanelDiff, map[string]interface{}{"live": 2.0}, "")
	}()

	reader := bufio.NewReader(resp.Body)
	var seenFull, seenDiff bool
	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) && !(seenFull && seenDiff) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, "event: panel_full") {
			seenFull = true
		}
		if strings.Contains(line, "event: panel_diff") {
			seenDiff = true
		}
	}

	assert.True(t, seenFull, "expected backlog replay to include panel_full")
	assert.True(t, seenDiff, "expected live publish to stream as panel_diff")
}

func TestSSEHandler_ForceFullSynthesizesLatestFullFirst(t *testing.T) {
	bus := events.NewBus(events.Config{}, nil, zerolog.Nop())
	_, _ = bus.Publish(events.TypePanelFull, map[string]interface{}{"seed": 1.0}, "")

	handler := NewSSEHandler(bus, nil, zerolog.Nop())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?force_full=1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "event: panel_full")
}
