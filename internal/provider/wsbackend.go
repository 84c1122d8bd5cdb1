package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/g6-platform/g6/internal/domain"
)

const (
	wsDialTimeout        = 30 * time.Second
	wsBaseReconnectDelay = 5 * time.Second
	wsMaxReconnectDelay  = 5 * time.Minute
)

// WSBackendConfig configures an HTTPWSBackend.
type WSBackendConfig struct {
	RESTBaseURL string
	WSURL       string // empty disables live tick streaming; FetchQuotes then always misses cache
	HTTPTimeout time.Duration
}

// HTTPWSBackend implements Backend over a REST API for index/expiry/
// instrument data and a WebSocket feed for live quote ticks, mirrored
// from the teacher's MarketStatusWebSocket reconnect-with-backoff
// pattern (internal/clients/tradernet/websocket_client.go), adapted
// from market-status events to option-quote ticks.
type HTTPWSBackend struct {
	cfg WSBackendConfig
	http *http.Client
	log  zerolog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopped  bool
	quotes   map[string]domain.OptionQuote
}

// NewHTTPWSBackend builds a Backend over cfg.
func NewHTTPWSBackend(cfg WSBackendConfig, log zerolog.Logger) *HTTPWSBackend {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &HTTPWSBackend{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		log:    log.With().Str("component", "ws_backend").Logger(),
		stopCh: make(chan struct{}),
		quotes: map[string]domain.OptionQuote{},
	}
}

// Start dials the live-tick WebSocket (if configured) and begins the
// read loop with automatic reconnection.
func (b *HTTPWSBackend) Start() {
	if b.cfg.WSURL == "" {
		return
	}
	go b.reconnectLoop()
}

// Stop halts the read/reconnect loop and closes any open connection.
func (b *HTTPWSBackend) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	conn := b.conn
	cancel := b.cancel
	b.mu.Unlock()

	close(b.stopCh)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

func (b *HTTPWSBackend) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if err := b.connect(); err != nil {
			attempt++
			delay := backoffDelay(attempt)
			b.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("ws connect failed")
			select {
			case <-time.After(delay):
				continue
			case <-b.stopCh:
				return
			}
		}
		attempt = 0
		b.readLoop(context.Background())

		select {
		case <-b.stopCh:
			return
		default:
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	d := float64(wsBaseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(wsMaxReconnectDelay) {
		d = float64(wsMaxReconnectDelay)
	}
	return time.Duration(d)
}

func (b *HTTPWSBackend) connect() error {
	dialCtx, cancelDial := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, b.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}

	_, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.conn = conn
	b.cancel = cancel
	b.mu.Unlock()

	return nil
}

func (b *HTTPWSBackend) readLoop(ctx context.Context) {
	for {
		b.mu.RLock()
		conn := b.conn
		b.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			b.log.Debug().Err(err).Msg("ws read loop ended")
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var tick struct {
			Symbol string  `json:"symbol"`
			Price  float64 `json:"ltp"`
			Volume int64   `json:"volume"`
			OI     int64   `json:"oi"`
		}
		if err := json.Unmarshal(data, &tick); err != nil {
			b.log.Debug().Err(err).Msg("ws tick decode failed")
			continue
		}

		b.mu.Lock()
		b.quotes[tick.Symbol] = domain.OptionQuote{
			Symbol: tick.Symbol, LastPrice: tick.Price, Volume: tick.Volume, OI: tick.OI,
			Timestamp: time.Now(),
		}
		b.mu.Unlock()
	}
}

func (b *HTTPWSBackend) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.RESTBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rest %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (b *HTTPWSBackend) FetchIndexPrice(ctx context.Context, index string) (float64, OHLC, error) {
	var payload struct {
		Price float64 `json:"price"`
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	}
	if err := b.getJSON(ctx, "/index/"+index, &payload); err != nil {
		return 0, OHLC{}, err
	}
	return payload.Price, OHLC{Open: payload.Open, High: payload.High, Low: payload.Low, Close: payload.Close}, nil
}

func (b *HTTPWSBackend) FetchExpiries(ctx context.Context, index string) ([]time.Time, error) {
	var payload struct {
		Dates []string `json:"dates"`
	}
	if err := b.getJSON(ctx, "/index/"+index+"/expiries", &payload); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(payload.Dates))
	for _, d := range payload.Dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *HTTPWSBackend) FetchInstruments(ctx context.Context, index string, expiry time.Time) ([]domain.Instrument, error) {
	var payload struct {
		Instruments []struct {
			Symbol   string  `json:"symbol"`
			Exchange string  `json:"exchange"`
			Type     string  `json:"type"`
			Strike   float64 `json:"strike"`
			Name     string  `json:"underlying"`
		} `json:"instruments"`
	}
	path := "/index/" + index + "/instruments?expiry=" + expiry.Format("2006-01-02")
	if err := b.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, 0, len(payload.Instruments))
	for _, i := range payload.Instruments {
		out = append(out, domain.Instrument{
			TradingSymbol: i.Symbol, Exchange: i.Exchange,
			InstrumentType: domain.InstrumentType(i.Type), Strike: i.Strike,
			Expiry: expiry, UnderlyingName: i.Name,
		})
	}
	return out, nil
}

// FetchQuotes serves from the live WebSocket tick cache when available,
// falling back to a REST batch quote call for any symbol not yet seen
// on the feed.
func (b *HTTPWSBackend) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.OptionQuote, error) {
	out := make(map[string]domain.OptionQuote, len(symbols))
	var missing []string

	b.mu.RLock()
	for _, s := range symbols {
		if q, ok := b.quotes[s]; ok {
			out[s] = q
		} else {
			missing = append(missing, s)
		}
	}
	b.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	query := ""
	for i, s := range missing {
		if i > 0 {
			query += ","
		}
		query += s
	}
	var payload struct {
		Quotes map[string]struct {
			LastPrice float64 `json:"ltp"`
			Volume    int64   `json:"volume"`
			OI        int64   `json:"oi"`
		} `json:"quotes"`
	}
	if err := b.getJSON(ctx, "/quotes?symbols="+query, &payload); err != nil {
		return out, nil // best-effort: partial cache hits still useful (spec §4.C)
	}
	for sym, q := range payload.Quotes {
		out[sym] = domain.OptionQuote{Symbol: sym, LastPrice: q.LastPrice, Volume: q.Volume, OI: q.OI, Timestamp: time.Now()}
	}
	return out, nil
}

func (b *HTTPWSBackend) Ping(ctx context.Context) error {
	var payload struct {
		OK bool `json:"ok"`
	}
	if err := b.getJSON(ctx, "/health", &payload); err != nil {
		return err
	}
	if !payload.OK {
		return fmt.Errorf("backend reports unhealthy")
	}
	return nil
}
