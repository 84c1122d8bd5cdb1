package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay_DoublesUpToCap(t *testing.T) {
	assert.Equal(t, wsBaseReconnectDelay, backoffDelay(1))
	assert.Equal(t, 2*wsBaseReconnectDelay, backoffDelay(2))
	assert.Equal(t, 4*wsBaseReconnectDelay, backoffDelay(3))
	assert.Equal(t, wsMaxReconnectDelay, backoffDelay(20)) // capped at wsMaxReconnectDelay
}

func TestHTTPWSBackend_FetchIndexPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index/NIFTY", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]float64{
			"price": 24050.5, "open": 24000, "high": 24100, "low": 23950, "close": 24025,
		})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	price, ohlc, err := b.FetchIndexPrice(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 24050.5, price)
	assert.Equal(t, 24000.0, ohlc.Open)
	assert.Equal(t, 23950.0, ohlc.Low)
}

func TestHTTPWSBackend_FetchIndexPrice_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	_, _, err := b.FetchIndexPrice(context.Background(), "NIFTY")
	assert.Error(t, err)
}

func TestHTTPWSBackend_FetchExpiries_SkipsUnparsableDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{
			"dates": {"2026-07-30", "not-a-date", "2026-08-27"},
		})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	dates, err := b.FetchExpiries(context.Background(), "NIFTY")
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, 2026, dates[0].Year())
}

func TestHTTPWSBackend_FetchInstruments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.String(), "/index/NIFTY/instruments?expiry=2026-07-30")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"instruments": []map[string]interface{}{
				{"symbol": "NIFTY26730CE24000", "exchange": "NFO", "type": "CE", "strike": 24000.0, "underlying": "NIFTY"},
			},
		})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	expiry := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	instruments, err := b.FetchInstruments(context.Background(), "NIFTY", expiry)
	require.NoError(t, err)
	require.Len(t, instruments, 1)
	assert.Equal(t, "NIFTY26730CE24000", instruments[0].TradingSymbol)
	assert.True(t, instruments[0].Expiry.Equal(expiry))
}

func TestHTTPWSBackend_FetchQuotes_FallsBackToRESTForUncachedSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.String(), "/quotes?symbols=")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"quotes": map[string]interface{}{
				"A": map[string]interface{}{"ltp": 55.5, "volume": 10, "oi": 100},
			},
		})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	quotes, err := b.FetchQuotes(context.Background(), []string{"A"})
	require.NoError(t, err)
	require.Contains(t, quotes, "A")
	assert.Equal(t, 55.5, quotes["A"].LastPrice)
}

func TestHTTPWSBackend_FetchQuotes_BestEffortOnRESTFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	quotes, err := b.FetchQuotes(context.Background(), []string{"A"})
	require.NoError(t, err) // best-effort: REST failure doesn't propagate
	assert.Empty(t, quotes)
}

func TestHTTPWSBackend_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, b.Ping(context.Background()))
}

func TestHTTPWSBackend_Ping_UnhealthyReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": false})
	}))
	defer srv.Close()

	b := NewHTTPWSBackend(WSBackendConfig{RESTBaseURL: srv.URL}, zerolog.Nop())
	assert.Error(t, b.Ping(context.Background()))
}

func TestNewHTTPWSBackend_DefaultsTimeout(t *testing.T) {
	b := NewHTTPWSBackend(WSBackendConfig{}, zerolog.Nop())
	assert.Equal(t, 10*time.Second, b.http.Timeout)
}

func TestHTTPWSBackend_StopWithoutStartIsSafe(t *testing.T) {
	b := NewHTTPWSBackend(WSBackendConfig{}, zerolog.Nop())
	b.Stop()
	b.Stop() // idempotent, must not panic or double-close stopCh
}
