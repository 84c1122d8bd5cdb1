// Command weekday-overlay is a batch tool that folds one day's
// per-option CSV output into a per-weekday running-average master CSV
// (spec §6 "Weekday-overlay master CSV"). It reads
// data/g6_data/<INDEX>/<EXPIRY_TAG>/<OFFSET>/<YYYY-MM-DD>.csv and
// appends one aggregated row per run to
// data/weekday_master/<INDEX>/<EXPIRY_TAG>/<OFFSET>/<WEEKDAY>.csv.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	talib "github.com/markcheno/go-talib"
)

const emaAlpha = 0.2

func main() {
	var (
		dataDir   = flag.String("data-dir", "data/g6_data", "root of the daily per-option CSVs")
		masterDir = flag.String("master-dir", "data/weekday_master", "root of the weekday master CSVs")
		index     = flag.String("index", "", "index name, e.g. NIFTY")
		expiryTag = flag.String("expiry-tag", "", "expiry tag, e.g. this_week")
		offset    = flag.String("offset", "0", "strike offset bucket")
		date      = flag.String("date", time.Now().Format("2006-01-02"), "input date (YYYY-MM-DD)")
	)
	flag.Parse()

	if *index == "" || *expiryTag == "" {
		fmt.Fprintln(os.Stderr, "weekday-overlay: -index and -expiry-tag are required")
		os.Exit(2)
	}

	inputPath := filepath.Join(*dataDir, *index, *expiryTag, *offset, *date+".csv")
	rows, header, err := readCSV(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weekday-overlay: read input: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "weekday-overlay: input has no data rows, nothing to fold")
		return
	}

	day, err := time.Parse("2006-01-02", *date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weekday-overlay: bad -date: %v\n", err)
		os.Exit(2)
	}
	weekday := day.Weekday().String()

	metrics := metricColumns(header)
	agg := foldDay(rows, header, metrics)

	masterPath := filepath.Join(*masterDir, *index, *expiryTag, *offset, weekday+".csv")
	counter, err := appendMaster(masterPath, agg, metrics, *index, *expiryTag, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weekday-overlay: write master: %v\n", err)
		os.Exit(1)
	}

	checkEMAParity(rows, header)

	fmt.Printf("weekday-overlay: folded %d rows from %s into %s (counter=%d)\n", len(rows), inputPath, masterPath, counter)
}

func readCSV(path string) ([][]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[1:], records[0], nil
}

// metricColumns picks every column after the first (timestamp) column
// as a metric to aggregate, excluding "tp" (typical/traded price),
// which gets its own dedicated tp_mean/tp_ema/avg_tp_mean/avg_tp_ema
// columns (spec §6 master-CSV column list).
func metricColumns(header []string) []string {
	var out []string
	for _, h := range header[1:] {
		if h == "tp" {
			continue
		}
		out = append(out, h)
	}
	return out
}

type foldResult struct {
	count int
	mean  map[string]float64
	ema   map[string]float64
}

// foldDay applies the cumulative-mean and EMA recurrences (spec §6:
// "m_n = m_{n-1} + (x-m_{n-1})/n", "e_n = α·x + (1-α)·e_{n-1}") across
// one day's rows for every metric column.
func foldDay(rows [][]string, header []string, metrics []string) foldResult {
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[h] = i
	}

	all := append([]string{"tp"}, metrics...)

	res := foldResult{mean: map[string]float64{}, ema: map[string]float64{}}
	for _, m := range all {
		res.mean[m] = 0
		res.ema[m] = 0
	}

	n := 0
	for _, row := range rows {
		n++
		for _, m := range all {
			idx, ok := colIdx[m]
			if !ok || idx >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				continue
			}
			res.mean[m] += (v - res.mean[m]) / float64(n)
			if n == 1 {
				res.ema[m] = v
			} else {
				res.ema[m] = emaAlpha*v + (1-emaAlpha)*res.ema[m]
			}
		}
	}
	res.count = n
	return res
}

var masterHeaderPrefix = []string{"timestamp", "tp_mean", "tp_ema", "avg_tp_mean", "avg_tp_ema"}

// appendMaster folds one day's aggregate into the per-weekday master
// CSV: the counter and the cross-day avg_tp_mean/avg_tp_ema columns
// continue from the last row of the existing file plus this day's
// contribution. Every call appends a new row and increments the
// counter; a second run over the same input date is not detected, so
// it is counted as another day.
func appendMaster(path string, agg foldResult, metrics []string, index, expiryTag, offset string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	prevCounter := 0
	prevAvgMean := map[string]float64{}
	prevAvgEMA := map[string]float64{}

	if existing, header, err := readCSV(path); err == nil && len(existing) > 0 {
		colIdx := map[string]int{}
		for i, h := range header {
			colIdx[h] = i
		}
		last := existing[len(existing)-1]
		if idx, ok := colIdx["counter"]; ok && idx < len(last) {
			prevCounter, _ = strconv.Atoi(last[idx])
		}
		if idx, ok := colIdx["avg_tp_mean"]; ok && idx < len(last) {
			prevAvgMean["tp"], _ = strconv.ParseFloat(last[idx], 64)
		}
		if idx, ok := colIdx["avg_tp_ema"]; ok && idx < len(last) {
			prevAvgEMA["tp"], _ = strconv.ParseFloat(last[idx], 64)
		}
		for _, m := range metrics {
			if idx, ok := colIdx[m+"_mean"]; ok && idx < len(last) {
				prevAvgMean[m], _ = strconv.ParseFloat(last[idx], 64)
			}
			if idx, ok := colIdx[m+"_ema"]; ok && idx < len(last) {
				prevAvgEMA[m], _ = strconv.ParseFloat(last[idx], 64)
			}
		}
	}

	counter := prevCounter + 1

	header := append([]string{}, masterHeaderPrefix...)
	for _, m := range metrics {
		header = append(header, m+"_mean", m+"_ema")
	}
	header = append(header, "counter", "index", "expiry_tag", "offset")

	row := []string{
		time.Now().UTC().Format(time.RFC3339),
		fmtFloat(agg.mean["tp"]), fmtFloat(agg.ema["tp"]),
		fmtFloat(runningAvg(prevAvgMean["tp"], agg.mean["tp"], counter)),
		fmtFloat(runningAvg(prevAvgEMA["tp"], agg.ema["tp"], counter)),
	}
	for _, m := range metrics {
		row = append(row, fmtFloat(agg.mean[m]), fmtFloat(agg.ema[m]))
	}
	row = append(row, strconv.Itoa(counter), index, expiryTag, offset)

	isNew := true
	if _, err := os.Stat(path); err == nil {
		isNew = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if isNew {
		if err := w.Write(header); err != nil {
			return 0, err
		}
	}
	return counter, w.Write(row)
}

// runningAvg folds a new daily value into the cross-day cumulative
// average maintained in the master CSV (spec §6's cumulative-mean
// recurrence applied one level up, across days rather than within a day).
func runningAvg(prevAvg, todayValue float64, n int) float64 {
	if n <= 1 {
		return todayValue
	}
	return prevAvg + (todayValue-prevAvg)/float64(n)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// checkEMAParity cross-checks the incremental EMA recurrence above
// against go-talib's batch EMA on the "tp" column, logging when the two
// differ by more than half of our value (go-talib seeds its EMA with an
// SMA, ours with the first sample). This is diagnostic only; it never
// changes the written master CSV.
func checkEMAParity(rows [][]string, header []string) {
	tpIdx := -1
	for i, h := range header {
		if h == "tp" {
			tpIdx = i
			break
		}
	}
	if tpIdx < 0 || len(rows) < 2 {
		return
	}

	series := make([]float64, 0, len(rows))
	for _, row := range rows {
		if tpIdx >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(row[tpIdx], 64)
		if err != nil {
			continue
		}
		series = append(series, v)
	}
	if len(series) < 2 {
		return
	}

	period := int(math.Round(2/emaAlpha - 1))
	if period < 2 {
		period = 2
	}
	talibEMA := talib.Ema(series, period)

	ours := series[0]
	for _, v := range series[1:] {
		ours = emaAlpha*v + (1-emaAlpha)*ours
	}

	theirs := talibEMA[len(talibEMA)-1]
	if math.IsNaN(theirs) {
		return
	}
	if math.Abs(ours-theirs) > 0.5*ours+1e-6 {
		fmt.Fprintf(os.Stderr, "weekday-overlay: EMA parity check diverged: ours=%.6f talib=%.6f (different seeding, informational only)\n", ours, theirs)
	}
}
