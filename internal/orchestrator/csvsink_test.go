package orchestrator

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/domain"
)

func readAllRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_WriteOptionsData_WritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	iv := 0.21
	quotes := []domain.OptionQuote{
		{Symbol: "NIFTY24JULFUT", Strike: 24000, InstrumentType: domain.CE, LastPrice: 105.5, Volume: 10, OI: 200, IV: &iv, Timestamp: time.Now()},
		{Symbol: "NIFTY24JULFUT2", Strike: 24100, InstrumentType: domain.PE, LastPrice: 90.25, Volume: 5, OI: 50, Timestamp: time.Now()},
	}

	meta, err := sink.WriteOptionsData("NIFTY", domain.ThisWeek, quotes)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", meta["index"])
	assert.Equal(t, 2, meta["count"])

	path := meta["path"].(string)
	rows := readAllRows(t, path)
	require.Len(t, rows, 3) // header + 2 data rows
	assert.Equal(t, optionsHeader, rows[0])
	assert.Equal(t, "0.210000", rows[1][7]) // iv column
	assert.Equal(t, "", rows[2][7])         // second quote has no IV

	// A second write appends without repeating the header.
	_, err = sink.WriteOptionsData("NIFTY", domain.ThisWeek, quotes[:1])
	require.NoError(t, err)
	rows = readAllRows(t, path)
	assert.Len(t, rows, 4)
	assert.Equal(t, optionsHeader, rows[0])
}

func TestCSVSink_WriteOptionsData_SeparatesByRuleAndIndex(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	_, err := sink.WriteOptionsData("NIFTY", domain.ThisWeek, nil)
	require.NoError(t, err)
	_, err = sink.WriteOptionsData("NIFTY", domain.NextMonth, nil)
	require.NoError(t, err)
	_, err = sink.WriteOptionsData("BANKNIFTY", domain.ThisWeek, nil)
	require.NoError(t, err)

	day := time.Now().Format("2006-01-02")
	assert.FileExists(t, filepath.Join(dir, "NIFTY", "this_week_"+day+".csv"))
	assert.FileExists(t, filepath.Join(dir, "NIFTY", "next_month_"+day+".csv"))
	assert.FileExists(t, filepath.Join(dir, "BANKNIFTY", "this_week_"+day+".csv"))
}

func TestCSVSink_WriteOverviewSnapshot(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	status := domain.CycleStatus{Index: "NIFTY", Status: domain.StatusOK}
	overview := map[string]interface{}{"index": "NIFTY", "ltp": 24567.85, "stale": false}

	require.NoError(t, sink.WriteOverviewSnapshot("NIFTY", status, overview))

	day := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, "NIFTY", "overview_"+day+".csv")
	rows := readAllRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, overviewHeader, rows[0])
	assert.Equal(t, []string{rows[1][0], "NIFTY", "OK", "24567.85", "false"}, rows[1])
}

func TestCSVSink_WriteOverviewSnapshot_MissingFieldsWriteEmptyColumns(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir)

	status := domain.CycleStatus{Index: "NIFTY", Status: domain.StatusEmpty}
	require.NoError(t, sink.WriteOverviewSnapshot("NIFTY", status, map[string]interface{}{}))

	day := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, "NIFTY", "overview_"+day+".csv")
	rows := readAllRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1][3])
	assert.Equal(t, "", rows[1][4])
}
