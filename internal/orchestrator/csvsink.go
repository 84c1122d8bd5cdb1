package orchestrator

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/g6-platform/g6/internal/domain"
)

// CSVSink persists each cycle's option quotes and index overview as
// append-only CSV files under dir, one options file per
// index/expiry-rule/day and one overview file per index/day (spec §1
// "on-disk CSV/Influx sinks queried through write_options_data /
// write_overview_snapshot").
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

// NewCSVSink builds a CSVSink rooted at dir; directories are created on
// the first write into them.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

var optionsHeader = []string{"timestamp", "symbol", "strike", "type", "last_price", "volume", "oi", "iv", "delta", "gamma", "vega", "theta", "rho"}

func (s *CSVSink) WriteOptionsData(index string, rule domain.ExpiryRule, quotes []domain.OptionQuote) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := time.Now().Format("2006-01-02")
	path := filepath.Join(s.dir, index, fmt.Sprintf("%s_%s.csv", string(rule), day))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	isNew := true
	if _, err := os.Stat(path); err == nil {
		isNew = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if isNew {
		if err := w.Write(optionsHeader); err != nil {
			return nil, err
		}
	}

	for _, q := range quotes {
		iv, delta, gamma, vega, theta, rho := "", "", "", "", "", ""
		if q.IV != nil {
			iv = strconv.FormatFloat(*q.IV, 'f', 6, 64)
		}
		if q.Greeks != nil {
			delta = strconv.FormatFloat(q.Greeks.Delta, 'f', 6, 64)
			gamma = strconv.FormatFloat(q.Greeks.Gamma, 'f', 6, 64)
			vega = strconv.FormatFloat(q.Greeks.Vega, 'f', 6, 64)
			theta = strconv.FormatFloat(q.Greeks.Theta, 'f', 6, 64)
			rho = strconv.FormatFloat(q.Greeks.Rho, 'f', 6, 64)
		}
		row := []string{
			q.Timestamp.Format(time.RFC3339), q.Symbol,
			strconv.FormatFloat(q.Strike, 'f', 2, 64), string(q.InstrumentType),
			strconv.FormatFloat(q.LastPrice, 'f', 2, 64),
			strconv.FormatInt(q.Volume, 10), strconv.FormatInt(q.OI, 10),
			iv, delta, gamma, vega, theta, rho,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	return map[string]interface{}{"index": index, "rule": string(rule), "count": len(quotes), "path": path}, nil
}

var overviewHeader = []string{"timestamp", "index", "status", "price", "stale"}

func (s *CSVSink) WriteOverviewSnapshot(index string, status domain.CycleStatus, overview map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := time.Now().Format("2006-01-02")
	path := filepath.Join(s.dir, index, fmt.Sprintf("overview_%s.csv", day))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	isNew := true
	if _, err := os.Stat(path); err == nil {
		isNew = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if isNew {
		if err := w.Write(overviewHeader); err != nil {
			return err
		}
	}

	price := ""
	if p, ok := overview["ltp"].(float64); ok {
		price = strconv.FormatFloat(p, 'f', 2, 64)
	}
	stale := ""
	if st, ok := overview["stale"].(bool); ok {
		stale = strconv.FormatBool(st)
	}

	return w.Write([]string{time.Now().Format(time.RFC3339), index, string(status.Status), price, stale})
}
