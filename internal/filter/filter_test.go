package filter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/domain"
)

func TestParseRootBeforeDigits(t *testing.T) {
	assert.Equal(t, "NIFTY", ParseRootBeforeDigits("NIFTY24JUL24000CE"))
	assert.Equal(t, "NOFIGITS", ParseRootBeforeDigits("NOFIGITS"))
}

func TestRootCache_DetectRootPrefersLongestKnownRoot(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY", "NIFTYBANK", "BANKNIFTY"})

	// "NIFTYBANK..." could match both "NIFTY" and "NIFTYBANK"; longest wins.
	assert.Equal(t, "NIFTYBANK", rc.DetectRoot("NIFTYBANK24JUL50000CE"))
	assert.Equal(t, "NIFTY", rc.DetectRoot("NIFTY24JUL24000CE"))
	assert.Equal(t, "BANKNIFTY", rc.DetectRoot("BANKNIFTY24JUL50000CE"))
}

func TestRootCache_DetectRootFallsBackToDigitSplit(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	assert.Equal(t, "FINNIFTY", rc.DetectRoot("FINNIFTY24JUL24000CE"))
}

func TestRootCache_DetectRootIsMemoized(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	first := rc.DetectRoot("NIFTY24JUL24000CE")
	second := rc.DetectRoot("NIFTY24JUL24000CE")
	assert.Equal(t, first, second)
}

func TestRootCache_ContaminationCapsAtSixSamples(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	ctx := Context{IndexSymbol: "NIFTY", StrikeKeySet: map[float64]bool{}}

	for i := 0; i < 10; i++ {
		inst := domain.Instrument{
			TradingSymbol:  fmt.Sprintf("BANKNIFTY24JUL%dCE", i),
			InstrumentType: domain.CE,
		}
		Accept(inst, ctx, rc)
	}

	assert.Len(t, rc.Contamination(), 6)
}

func TestSymbolMatchesIndex_Strict(t *testing.T) {
	assert.True(t, SymbolMatchesIndex("NIFTY", "NIFTY24JUL24000CE", MatchStrict))
	assert.True(t, SymbolMatchesIndex("NIFTY", "NIFTYJUL24000CE", MatchStrict)) // month code
	assert.False(t, SymbolMatchesIndex("NIFTY", "NIFTYBANK24JUL24000CE", MatchStrict))
	assert.False(t, SymbolMatchesIndex("NIFTY", "NIFTY", MatchStrict)) // empty rest
}

func TestSymbolMatchesIndex_Prefix(t *testing.T) {
	assert.True(t, SymbolMatchesIndex("NIFTY", "NIFTYBANK24JUL24000CE", MatchPrefix))
	assert.False(t, SymbolMatchesIndex("NIFTY", "BANKNIFTY24JUL24000CE", MatchPrefix))
}

func TestSymbolMatchesIndex_LenientAndLegacy(t *testing.T) {
	assert.True(t, SymbolMatchesIndex("NIFTY", "BANKNIFTY24JUL24000CE", MatchLenient))
	assert.True(t, SymbolMatchesIndex("NIFTY", "BANKNIFTY24JUL24000CE", MatchLegacy))
	assert.False(t, SymbolMatchesIndex("NIFTY", "SENSEX24JUL24000CE", MatchLenient))
}

func expiry(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseCtx() Context {
	return Context{
		IndexSymbol:  "NIFTY",
		ExpiryTarget: "2026-07-30",
		StrikeKeySet: map[float64]bool{24000: true},
		MatchMode:    MatchStrict,
	}
}

func TestAccept_RejectsNonOptionType(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	inst := domain.Instrument{TradingSymbol: "NIFTY24JUL24000FUT", InstrumentType: domain.InstrumentType("FUT")}

	ok, reason := Accept(inst, baseCtx(), rc)
	assert.False(t, ok)
	assert.Equal(t, ReasonNotOptionType, reason)
}

func TestAccept_RejectsRootMismatchBeforeOtherChecks(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY", "BANKNIFTY"})
	inst := domain.Instrument{TradingSymbol: "BANKNIFTY24JUL24000CE", InstrumentType: domain.CE, Expiry: expiry(2026, time.July, 30), Strike: 24000}

	ok, reason := Accept(inst, baseCtx(), rc)
	assert.False(t, ok)
	assert.Equal(t, ReasonRootMismatch, reason)
}

func TestAccept_RejectsExpiryMismatch(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	inst := domain.Instrument{TradingSymbol: "NIFTY24JUL24000CE", InstrumentType: domain.CE, Expiry: expiry(2026, time.August, 27), Strike: 24000}

	ok, reason := Accept(inst, baseCtx(), rc)
	assert.False(t, ok)
	assert.Equal(t, ReasonExpiryMismatch, reason)
}

func TestAccept_RejectsStrikeMismatch(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	inst := domain.Instrument{TradingSymbol: "NIFTY24JUL24100CE", InstrumentType: domain.CE, Expiry: expiry(2026, time.July, 30), Strike: 24100}

	ok, reason := Accept(inst, baseCtx(), rc)
	assert.False(t, ok)
	assert.Equal(t, ReasonStrikeMismatch, reason)
}

func TestAccept_RejectsUnderlyingStrictMismatch(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	inst := domain.Instrument{
		TradingSymbol: "NIFTY24JUL24000CE", InstrumentType: domain.CE,
		Expiry: expiry(2026, time.July, 30), Strike: 24000, UnderlyingName: "NIFTY BANK",
	}
	ctx := baseCtx()
	ctx.UnderlyingStrict = true

	ok, reason := Accept(inst, ctx, rc)
	assert.False(t, ok)
	assert.Equal(t, ReasonUnderlyingMismatch, reason)
}

func TestAccept_AcceptsValidInstrument(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	inst := domain.Instrument{
		TradingSymbol: "NIFTY24JUL24000CE", InstrumentType: domain.CE,
		Expiry: expiry(2026, time.July, 30), Strike: 24000, UnderlyingName: "NIFTY",
	}
	ctx := baseCtx()
	ctx.UnderlyingStrict = true

	ok, reason := Accept(inst, ctx, rc)
	require.True(t, ok)
	assert.Equal(t, ReasonAccepted, reason)
}

func TestAccept_RoundsFractionalStrikesBeforeMatching(t *testing.T) {
	rc := NewRootCache([]string{"NIFTY"})
	ctx := baseCtx()
	ctx.StrikeKeySet = map[float64]bool{24000.01: true}
	inst := domain.Instrument{
		TradingSymbol: "NIFTY24JUL24000CE", InstrumentType: domain.CE,
		Expiry: expiry(2026, time.July, 30), Strike: 24000.006, // rounds to 24000.01
	}

	ok, _ := Accept(inst, ctx, rc)
	assert.True(t, ok)
}
