package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRiskAgg_SumsGreeksWithinBucket(t *testing.T) {
	points := []OptionPoint{
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 100, Delta: 0.5, Gamma: 0.01, Vega: 10, Theta: -5, Rho: 2, HasGreeks: true},
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 100, Delta: -0.3, Gamma: 0.02, Vega: 8, Theta: -4, Rho: 1, HasGreeks: true},
	}

	result := BuildRiskAgg(points, DefaultBucketEdges, nil)

	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	assert.InDelta(t, 0.2, row.Delta, 1e-9)
	assert.InDelta(t, 0.03, row.Gamma, 1e-9)
	assert.InDelta(t, 18, row.Vega, 1e-9)
	assert.InDelta(t, -9, row.Theta, 1e-9)
	assert.InDelta(t, 3, row.Rho, 1e-9)
	assert.Equal(t, 2, row.Count)
	assert.InDelta(t, 0.2, row.NotionalDelta, 1e-9) // |0.2| * default multiplier 1
	assert.InDelta(t, 18, row.NotionalVega, 1e-9)

	assert.InDelta(t, 0.2, result.TotalDeltaNotional["NIFTY"], 1e-9)
	assert.Equal(t, 2, result.RowCount["NIFTY"])
	assert.InDelta(t, 1.0/8.0, result.BucketUtilization["NIFTY"], 1e-9) // 1 populated of 8 theoretical buckets
}

func TestBuildRiskAgg_AppliesMultiplier(t *testing.T) {
	points := []OptionPoint{
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 100, Delta: 0.2, Vega: 5, HasGreeks: true},
	}
	mult := func(index string) float64 {
		if index == "NIFTY" {
			return 75
		}
		return 1
	}

	result := BuildRiskAgg(points, DefaultBucketEdges, mult)

	require.Len(t, result.Rows, 1)
	assert.InDelta(t, 0.2*75, result.Rows[0].NotionalDelta, 1e-9)
	assert.InDelta(t, 5*75, result.Rows[0].NotionalVega, 1e-9)
}

func TestBuildRiskAgg_SkipsPointsWithoutGreeksOrUnderlying(t *testing.T) {
	points := []OptionPoint{
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 100, HasGreeks: false},
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 0, Delta: 1, HasGreeks: true},
	}

	result := BuildRiskAgg(points, DefaultBucketEdges, nil)
	assert.Empty(t, result.Rows)
	assert.Empty(t, result.RowCount)
}

func TestBuildRiskAgg_SeparatesBucketsAcrossExpiries(t *testing.T) {
	points := []OptionPoint{
		{Index: "NIFTY", Expiry: "E1", Strike: 100, Underlying: 100, Delta: 0.1, HasGreeks: true},
		{Index: "NIFTY", Expiry: "E2", Strike: 100, Underlying: 100, Delta: 0.2, HasGreeks: true},
	}

	result := BuildRiskAgg(points, DefaultBucketEdges, nil)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, 2, result.RowCount["NIFTY"])
	assert.InDelta(t, 0.3, result.TotalDeltaNotional["NIFTY"], 1e-9)
}

func TestBuildRiskAgg_DefaultEdgesAppliedWhenEmpty(t *testing.T) {
	points := []OptionPoint{
		{Index: "NIFTY", Expiry: "E1", Strike: 130, Underlying: 100, Delta: 0.1, HasGreeks: true},
	}

	result := BuildRiskAgg(points, nil, nil)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, ">20", result.Rows[0].BucketLabel)
}
