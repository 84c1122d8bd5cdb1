// Package filter implements the option-acceptance decision (spec §4.B):
// given a raw instrument row and a filtering context, decide whether it
// belongs to the requested (index, expiry, strike-set), with a stable,
// deterministic rejection-reason order.
package filter

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/g6-platform/g6/internal/domain"
)

// MatchMode controls how permissively a symbol is matched to its index.
type MatchMode string

const (
	MatchStrict MatchMode = "strict"
	MatchPrefix MatchMode = "prefix"
	MatchLenient MatchMode = "lenient"
	MatchLegacy  MatchMode = "legacy" // alias of lenient
)

// Context carries the per-request filtering parameters (spec §4.B).
type Context struct {
	IndexSymbol      string
	ExpiryTarget     string // normalized expiry (e.g. "2025-05-15")
	StrikeKeySet     map[float64]bool
	MatchMode        MatchMode
	UnderlyingStrict bool
	SafeMode         bool
}

// Reason is the rejection/acceptance reason returned by Accept.
type Reason string

const (
	ReasonNotOptionType     Reason = "not_option_type"
	ReasonRootMismatch      Reason = "root_mismatch"
	ReasonExpiryMismatch    Reason = "expiry_mismatch"
	ReasonStrikeMismatch    Reason = "strike_mismatch"
	ReasonUnderlyingMismatch Reason = "underlying_mismatch"
	ReasonAccepted          Reason = "accepted"
)

// RootCache memoizes detected roots per symbol, and tracks contamination
// samples (root mismatches) up to a cap of 6, per spec §4.B point 2.
type RootCache struct {
	roots         map[string]string
	contamination []string
	knownRoots    []string // descending by length, for detect_root
}

// NewRootCache builds a cache seeded with the known index roots, sorted
// longest-first so detect_root prefers the most specific match.
func NewRootCache(knownRoots []string) *RootCache {
	roots := make([]string, len(knownRoots))
	copy(roots, knownRoots)
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })
	return &RootCache{roots: map[string]string{}, knownRoots: roots}
}

// DetectRoot returns the cached or freshly-detected root for symbol:
// the longest known root that prefixes it.
func (rc *RootCache) DetectRoot(symbol string) string {
	if r, ok := rc.roots[symbol]; ok {
		return r
	}
	root := detectRoot(symbol, rc.knownRoots)
	rc.roots[symbol] = root
	return root
}

// Contamination returns up to 6 recorded mismatch samples.
func (rc *RootCache) Contamination() []string {
	return rc.contamination
}

func (rc *RootCache) sample(symbol string) {
	if len(rc.contamination) >= 6 {
		return
	}
	rc.contamination = append(rc.contamination, symbol)
}

// detectRoot picks the longest matching root from a descending-length
// list (spec §4.B "detect_root").
func detectRoot(symbol string, rootsDescLen []string) string {
	for _, r := range rootsDescLen {
		if strings.HasPrefix(symbol, r) {
			return r
		}
	}
	return ParseRootBeforeDigits(symbol)
}

var digitRe = regexp.MustCompile(`\d`)

// ParseRootBeforeDigits strips symbol at its first digit (spec §4.B).
func ParseRootBeforeDigits(symbol string) string {
	loc := digitRe.FindStringIndex(symbol)
	if loc == nil {
		return symbol
	}
	return symbol[:loc[0]]
}

var monthCodes = map[string]bool{
	"JAN": true, "FEB": true, "MAR": true, "APR": true, "MAY": true, "JUN": true,
	"JUL": true, "AUG": true, "SEP": true, "OCT": true, "NOV": true, "DEC": true,
}

var monthDigitsRe = regexp.MustCompile(`^\d{1,2}[A-Z]{2,4}`)

// SymbolMatchesIndex implements the three match modes of spec §4.B.
func SymbolMatchesIndex(index, symbol string, mode MatchMode) bool {
	index = strings.ToUpper(index)
	symbol = strings.ToUpper(symbol)

	switch mode {
	case MatchPrefix:
		return strings.HasPrefix(symbol, index)
	case MatchLenient, MatchLegacy:
		return strings.Contains(symbol, index)
	default: // strict
		if !strings.HasPrefix(symbol, index) {
			return false
		}
		rest := symbol[len(index):]
		if rest == "" {
			return false
		}
		if rest[0] >= '0' && rest[0] <= '9' {
			return true
		}
		if len(rest) >= 3 && monthCodes[rest[:3]] {
			return true
		}
		return monthDigitsRe.MatchString(rest)
	}
}

// Accept implements accept_option (spec §4.B): first-failure-wins
// rejection in a fixed, deterministic order.
func Accept(inst domain.Instrument, ctx Context, rc *RootCache) (bool, Reason) {
	if inst.InstrumentType != domain.CE && inst.InstrumentType != domain.PE {
		return false, ReasonNotOptionType
	}

	root := rc.DetectRoot(inst.TradingSymbol)
	if !strings.EqualFold(root, ctx.IndexSymbol) {
		rc.sample(inst.TradingSymbol)
		return false, ReasonRootMismatch
	}

	normalizedExpiry := inst.Expiry.Format("2006-01-02")
	if normalizedExpiry != ctx.ExpiryTarget {
		return false, ReasonExpiryMismatch
	}

	rounded := math.Round(inst.Strike*100) / 100
	if !ctx.StrikeKeySet[rounded] {
		return false, ReasonStrikeMismatch
	}

	if !SymbolMatchesIndex(ctx.IndexSymbol, inst.TradingSymbol, ctx.MatchMode) {
		return false, ReasonRootMismatch
	}

	if ctx.SafeMode {
		if !strings.EqualFold(ParseRootBeforeDigits(inst.TradingSymbol), ctx.IndexSymbol) {
			return false, ReasonRootMismatch
		}
	}

	if ctx.UnderlyingStrict {
		if !strings.EqualFold(inst.UnderlyingName, ctx.IndexSymbol) {
			return false, ReasonUnderlyingMismatch
		}
	}

	return true, ReasonAccepted
}
