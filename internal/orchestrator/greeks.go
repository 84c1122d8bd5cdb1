// Package orchestrator drives the per-cycle collection pipeline (spec
// §4.H): expiry/strike resolution, instrument fetch+filter, quote
// enrichment, IV/Greeks computation, persistence, and coverage-aware
// status classification.
package orchestrator

import (
	"math"
	"time"
)

const (
	defaultMinIV      = 0.01
	defaultMaxIV      = 5.0
	defaultPrecision  = 1e-5
	defaultMaxIters   = 100
)

// IVParams tunes the Newton-Raphson IV estimator (spec §4.H point 6.c).
type IVParams struct {
	MinIV     float64
	MaxIV     float64
	Precision float64
	MaxIters  int
}

func (p IVParams) withDefaults() IVParams {
	if p.MinIV <= 0 {
		p.MinIV = defaultMinIV
	}
	if p.MaxIV <= 0 {
		p.MaxIV = defaultMaxIV
	}
	if p.Precision <= 0 {
		p.Precision = defaultPrecision
	}
	if p.MaxIters <= 0 {
		p.MaxIters = defaultMaxIters
	}
	return p
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func d1d2(spot, strike, t, r, sigma float64) (float64, float64) {
	if sigma <= 0 || t <= 0 {
		return 0, 0
	}
	d1 := (math.Log(spot/strike) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	return d1, d2
}

// blackScholesPrice prices a European option via the closed-form
// Black-Scholes formula (spec §4.H point 6.d, "continuous-dividend variant"
// with q=0 absent dividend data).
func blackScholesPrice(isCall bool, spot, strike, t, r, sigma float64) float64 {
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	if isCall {
		return spot*normCDF(d1) - strike*math.Exp(-r*t)*normCDF(d2)
	}
	return strike*math.Exp(-r*t)*normCDF(-d2) - spot*normCDF(-d1)
}

// EstimateIV solves for implied volatility via Newton-Raphson with a
// bisection fallback on non-convergence, bounded to [minIV,maxIV] (spec
// §4.H point 6.c).
func EstimateIV(isCall bool, marketPrice, spot, strike, t, r float64, params IVParams) (float64, bool) {
	p := params.withDefaults()
	if t <= 0 || marketPrice <= 0 || spot <= 0 || strike <= 0 {
		return 0, false
	}

	sigma := 0.3
	for i := 0; i < p.MaxIters; i++ {
		price := blackScholesPrice(isCall, spot, strike, t, r, sigma)
		d1, _ := d1d2(spot, strike, t, r, sigma)
		vega := spot * normPDF(d1) * math.Sqrt(t)
		diff := price - marketPrice
		if math.Abs(diff) < p.Precision {
			return clamp(sigma, p.MinIV, p.MaxIV), true
		}
		if vega < 1e-8 {
			break
		}
		sigma -= diff / vega
		if sigma <= 0 {
			sigma = p.MinIV
		}
		if sigma > p.MaxIV*2 {
			sigma = p.MaxIV * 2
		}
	}

	// Bisection fallback.
	lo, hi := p.MinIV, p.MaxIV
	for i := 0; i < p.MaxIters; i++ {
		mid := (lo + hi) / 2
		price := blackScholesPrice(isCall, spot, strike, t, r, mid)
		if math.Abs(price-marketPrice) < p.Precision {
			return clamp(mid, p.MinIV, p.MaxIV), true
		}
		if price > marketPrice {
			hi = mid
		} else {
			lo = mid
		}
	}
	return clamp((lo+hi)/2, p.MinIV, p.MaxIV), false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeGreeks computes the Black-Scholes Greeks (spec §4.H point 6.d):
// daily-scaled theta, vega per 1% IV change.
func ComputeGreeks(isCall bool, spot, strike, t, r, sigma float64) (delta, gamma, vega, theta, rho float64) {
	d1, d2 := d1d2(spot, strike, t, r, sigma)
	if sigma <= 0 || t <= 0 {
		return 0, 0, 0, 0, 0
	}

	pdf := normPDF(d1)
	sqrtT := math.Sqrt(t)

	if isCall {
		delta = normCDF(d1)
		rho = strike * t * math.Exp(-r*t) * normCDF(d2) / 100
	} else {
		delta = normCDF(d1) - 1
		rho = -strike * t * math.Exp(-r*t) * normCDF(-d2) / 100
	}

	gamma = pdf / (spot * sigma * sqrtT)
	vega = spot * pdf * sqrtT / 100 // per 1% IV change

	term1 := -(spot * pdf * sigma) / (2 * sqrtT)
	if isCall {
		theta = (term1 - r*strike*math.Exp(-r*t)*normCDF(d2)) / 365
	} else {
		theta = (term1 + r*strike*math.Exp(-r*t)*normCDF(-d2)) / 365
	}

	return
}

// TimeToExpiry computes year-fraction time-to-expiry, correctly
// handling same-day expiry by counting hours until market close
// (15:30 local) rather than to midnight (spec §4.H point 6.c).
func TimeToExpiry(now, expiryDate time.Time) float64 {
	close := time.Date(expiryDate.Year(), expiryDate.Month(), expiryDate.Day(), 15, 30, 0, 0, expiryDate.Location())
	hours := close.Sub(now).Hours()
	if hours <= 0 {
		return 0
	}
	return hours / (24 * 365)
}
