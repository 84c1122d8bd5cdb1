package analytics

import (
	"math"
	"sort"
	"time"
)

// RiskAggRow is one bucket of the risk aggregation surface (spec §3).
type RiskAggRow struct {
	Index       string  `json:"index"`
	Expiry      string  `json:"expiry"`
	BucketLabel string  `json:"bucket_label"`
	Delta       float64 `json:"delta"`
	Gamma       float64 `json:"gamma"`
	Vega        float64 `json:"vega"`
	Theta       float64 `json:"theta"`
	Rho         float64 `json:"rho"`
	Count       int     `json:"count"`
	NotionalDelta float64 `json:"notional_delta"`
	NotionalVega  float64 `json:"notional_vega"`
}

// RiskAggResult is BuildRiskAgg's output.
type RiskAggResult struct {
	Rows               []RiskAggRow
	TotalDeltaNotional map[string]float64 // per index
	RowCount           map[string]int     // per index
	BucketUtilization  map[string]float64 // per index
	BuildSeconds       float64
}

// MultiplierFunc resolves the per-index contract multiplier.
type MultiplierFunc func(index string) float64

// BuildRiskAgg implements spec §4.F's risk aggregation builder: same
// bucketing as the vol surface, summing greeks per bucket and deriving
// notional exposures.
func BuildRiskAgg(points []OptionPoint, edges []float64, multiplier MultiplierFunc) RiskAggResult {
	start := time.Now()
	if len(edges) == 0 {
		edges = DefaultBucketEdges
	}
	if multiplier == nil {
		multiplier = func(string) float64 { return 1 }
	}

	type key struct {
		index, expiry string
		bucket        int
	}
	type accum struct {
		delta, gamma, vega, theta, rho float64
		count                          int
	}
	buckets := map[key]*accum{}
	groupKeys := map[[2]string]bool{}

	for _, p := range points {
		if !p.HasGreeks || p.Underlying <= 0 {
			continue
		}
		moneyness := (p.Strike/p.Underlying - 1) * 100
		b := bucketIndex(edges, moneyness)
		k := key{p.Index, p.Expiry, b}
		a, ok := buckets[k]
		if !ok {
			a = &accum{}
			buckets[k] = a
		}
		a.delta += p.Delta
		a.gamma += p.Gamma
		a.vega += p.Vega
		a.theta += p.Theta
		a.rho += p.Rho
		a.count++
		groupKeys[[2]string{p.Index, p.Expiry}] = true
	}

	var rows []RiskAggRow
	totalDelta := map[string]float64{}
	totalVega := map[string]float64{}
	rowCount := map[string]int{}
	populatedBuckets := map[string]int{}

	for k, a := range buckets {
		mult := multiplier(k.index)
		notionalDelta := math.Abs(a.delta) * mult
		notionalVega := math.Abs(a.vega) * mult
		rows = append(rows, RiskAggRow{
			Index: k.index, Expiry: k.expiry, BucketLabel: bucketLabel(edges, k.bucket),
			Delta: a.delta, Gamma: a.gamma, Vega: a.vega, Theta: a.theta, Rho: a.rho,
			Count: a.count, NotionalDelta: notionalDelta, NotionalVega: notionalVega,
		})
		totalDelta[k.index] += notionalDelta
		totalVega[k.index] += notionalVega
		rowCount[k.index] += a.count
		populatedBuckets[k.index]++
	}

	theoreticalBuckets := float64(len(edges) + 1)
	utilization := map[string]float64{}
	for idx := range groupKeys2(groupKeys) {
		if theoreticalBuckets > 0 {
			utilization[idx] = float64(populatedBuckets[idx]) / theoreticalBuckets
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Index != rows[j].Index {
			return rows[i].Index < rows[j].Index
		}
		if rows[i].Expiry != rows[j].Expiry {
			return rows[i].Expiry < rows[j].Expiry
		}
		return rows[i].BucketLabel < rows[j].BucketLabel
	})

	return RiskAggResult{
		Rows:               rows,
		TotalDeltaNotional: totalDelta,
		RowCount:           rowCount,
		BucketUtilization:  utilization,
		BuildSeconds:       time.Since(start).Seconds(),
	}
}

func groupKeys2(groupKeys map[[2]string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range groupKeys {
		out[k[0]] = true
	}
	return out
}
