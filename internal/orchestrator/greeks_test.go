package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateIV_RecoversKnownSigma(t *testing.T) {
	spot, strike, tYears, r, sigma := 100.0, 100.0, 0.25, 0.05, 0.22
	price := blackScholesPrice(true, spot, strike, tYears, r, sigma)

	got, converged := EstimateIV(true, price, spot, strike, tYears, r, IVParams{})
	require.True(t, converged)
	assert.InDelta(t, sigma, got, 1e-3)
}

func TestEstimateIV_RecoversKnownSigmaForPut(t *testing.T) {
	spot, strike, tYears, r, sigma := 100.0, 110.0, 0.5, 0.05, 0.35
	price := blackScholesPrice(false, spot, strike, tYears, r, sigma)

	got, converged := EstimateIV(false, price, spot, strike, tYears, r, IVParams{})
	require.True(t, converged)
	assert.InDelta(t, sigma, got, 1e-3)
}

func TestEstimateIV_RejectsInvalidInputs(t *testing.T) {
	_, ok := EstimateIV(true, 10, 100, 100, 0, 0.05, IVParams{})
	assert.False(t, ok)

	_, ok = EstimateIV(true, 0, 100, 100, 0.25, 0.05, IVParams{})
	assert.False(t, ok)

	_, ok = EstimateIV(true, 10, 0, 100, 0.25, 0.05, IVParams{})
	assert.False(t, ok)
}

func TestEstimateIV_ClampsWithinConfiguredBounds(t *testing.T) {
	// A very cheap price for a deep OTM call; whatever sigma the solver
	// settles on stays inside the configured bounds.
	got, _ := EstimateIV(true, 0.001, 100, 200, 0.1, 0.01, IVParams{MinIV: 0.05, MaxIV: 2.0})
	assert.GreaterOrEqual(t, got, 0.05)
	assert.LessOrEqual(t, got, 2.0)
}

func TestComputeGreeks_CallAndPutSanity(t *testing.T) {
	spot, strike, tYears, r, sigma := 100.0, 100.0, 0.25, 0.05, 0.2

	cDelta, cGamma, cVega, _, cRho := ComputeGreeks(true, spot, strike, tYears, r, sigma)
	assert.True(t, cDelta > 0 && cDelta < 1)
	assert.True(t, cGamma > 0)
	assert.True(t, cVega > 0)
	assert.True(t, cRho > 0)

	pDelta, pGamma, pVega, _, pRho := ComputeGreeks(false, spot, strike, tYears, r, sigma)
	assert.True(t, pDelta > -1 && pDelta < 0)
	assert.True(t, pGamma > 0)
	assert.True(t, pVega > 0)
	assert.True(t, pRho < 0)

	// Gamma and vega are identical for calls and puts at the same strike.
	assert.InDelta(t, cGamma, pGamma, 1e-9)
	assert.InDelta(t, cVega, pVega, 1e-9)
}

func TestComputeGreeks_ZeroSigmaOrExpiryReturnsZeroes(t *testing.T) {
	delta, gamma, vega, theta, rho := ComputeGreeks(true, 100, 100, 0, 0.05, 0)
	assert.Equal(t, 0.0, delta)
	assert.Equal(t, 0.0, gamma)
	assert.Equal(t, 0.0, vega)
	assert.Equal(t, 0.0, theta)
	assert.Equal(t, 0.0, rho)
}

func TestTimeToExpiry_SameDayBeforeCloseIsPositive(t *testing.T) {
	expiryDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.July, 30, 10, 0, 0, 0, time.UTC)

	got := TimeToExpiry(now, expiryDate)
	assert.Greater(t, got, 0.0)
	// 5.5 hours to the 15:30 close, expressed as a year fraction.
	assert.InDelta(t, 5.5/(24*365), got, 1e-9)
}

func TestTimeToExpiry_AfterCloseIsZero(t *testing.T) {
	expiryDate := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.July, 30, 16, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.0, TimeToExpiry(now, expiryDate))
}

func TestTimeToExpiry_MultiDaySpan(t *testing.T) {
	expiryDate := time.Date(2026, time.August, 27, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.July, 30, 9, 0, 0, 0, time.UTC)

	got := TimeToExpiry(now, expiryDate)
	assert.Greater(t, got, 0.0)
}
