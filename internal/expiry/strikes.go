package expiry

import (
	"sort"
	"strings"

	"github.com/g6-platform/g6/internal/domain"
)

// stepFor returns the index-specific strike step (spec §4.A): 100 for
// BANKNIFTY/SENSEX, 50 otherwise.
func stepFor(index string) float64 {
	switch strings.ToUpper(index) {
	case "BANKNIFTY", "SENSEX":
		return 100
	default:
		return 50
	}
}

// BuildStrikeUniverse builds the symmetric strike ladder around atm
// per spec §4.A. scale, when >0, multiplies nITM/nOTM before applying
// a floor of 2 strikes on each side.
func BuildStrikeUniverse(atm float64, nITM, nOTM int, index string, scale float64) domain.StrikeUniverse {
	if atm <= 0 {
		return domain.StrikeUniverse{Strikes: nil, Count: 0}
	}

	step := stepFor(index)
	itm, otm := nITM, nOTM
	if scale > 0 && scale != 1 {
		itm = int(float64(nITM) * scale)
		otm = int(float64(nOTM) * scale)
	}
	if itm < 2 {
		itm = 2
	}
	if otm < 2 {
		otm = 2
	}

	set := map[float64]bool{atm: true}
	for i := 1; i <= itm; i++ {
		set[atm-float64(i)*step] = true
	}
	for i := 1; i <= otm; i++ {
		set[atm+float64(i)*step] = true
	}

	strikes := make([]float64, 0, len(set))
	for s := range set {
		strikes = append(strikes, s)
	}
	sort.Float64s(strikes)

	return domain.StrikeUniverse{
		Strikes:      strikes,
		Count:        len(strikes),
		MinStep:      step,
		ScaleApplied: scale,
	}
}
