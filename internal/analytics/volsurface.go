// Package analytics implements the volatility-surface and risk
// aggregation builders (spec §4.F), using gonum's stat package for
// bucket means, matching the pack's gonum-based numeric idiom.
package analytics

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// OptionPoint is one option's inputs to the surface/risk builders.
type OptionPoint struct {
	Index      string
	Expiry     string
	Strike     float64
	Underlying float64
	IV         float64
	HasIV      bool
	Delta, Gamma, Vega, Theta, Rho float64
	HasGreeks  bool
}

// VolSurfaceRow is one bucket of the volatility surface (spec §3).
type VolSurfaceRow struct {
	Index      string  `json:"index"`
	Expiry     string  `json:"expiry"`
	BucketLabel string `json:"bucket_label"`
	AvgIV      float64 `json:"avg_iv"`
	Count      int     `json:"count"`
	Source     string  `json:"source"` // raw|interp
}

// VolSurfaceResult is the full output of BuildVolSurface, with the
// metrics the caller should publish.
type VolSurfaceResult struct {
	Rows                []VolSurfaceRow
	InterpolatedFraction map[string]float64 // per index
	QualityScore        map[string]float64  // per index
	BuildSeconds        float64
	InterpSeconds       float64
	PersistedPath       string
}

// DefaultBucketEdges is the spec's default percent-moneyness edges.
var DefaultBucketEdges = []float64{-20, -10, -5, 0, 5, 10, 20}

func bucketLabel(edges []float64, idx int) string {
	if idx == 0 {
		return fmt.Sprintf("<%g", edges[0])
	}
	if idx == len(edges) {
		return fmt.Sprintf(">%g", edges[len(edges)-1])
	}
	return fmt.Sprintf("%g..%g", edges[idx-1], edges[idx])
}

// bucketIndex assigns moneyness to the first matching edge interval, or
// an outer sentinel bucket (spec §4.F).
func bucketIndex(edges []float64, moneyness float64) int {
	for i, e := range edges {
		if moneyness <= e {
			return i
		}
	}
	return len(edges)
}

// BuildVolSurface implements spec §4.F's volatility-surface builder.
func BuildVolSurface(points []OptionPoint, edges []float64, interpolate bool) VolSurfaceResult {
	start := time.Now()
	if len(edges) == 0 {
		edges = DefaultBucketEdges
	}

	type key struct {
		index, expiry string
		bucket        int
	}
	ivsByKey := map[key][]float64{}
	groupKeys := map[[2]string]bool{}

	for _, p := range points {
		if !p.HasIV || p.Underlying <= 0 {
			continue
		}
		moneyness := (p.Strike/p.Underlying - 1) * 100
		b := bucketIndex(edges, moneyness)
		k := key{p.Index, p.Expiry, b}
		ivsByKey[k] = append(ivsByKey[k], p.IV)
		groupKeys[[2]string{p.Index, p.Expiry}] = true
	}

	var rows []VolSurfaceRow
	rawBucketsByGroup := map[[2]string]map[int]bool{}
	for k, ivs := range ivsByKey {
		avg := stat.Mean(ivs, nil)
		rows = append(rows, VolSurfaceRow{
			Index: k.index, Expiry: k.expiry,
			BucketLabel: bucketLabel(edges, k.bucket),
			AvgIV:       avg, Count: len(ivs), Source: "raw",
		})
		gk := [2]string{k.index, k.expiry}
		if rawBucketsByGroup[gk] == nil {
			rawBucketsByGroup[gk] = map[int]bool{}
		}
		rawBucketsByGroup[gk][k.bucket] = true
	}

	interpStart := time.Now()
	var interpRows []VolSurfaceRow
	if interpolate {
		totalBuckets := len(edges) + 1
		for gk := range groupKeys {
			present := rawBucketsByGroup[gk]
			if len(present) < 2 {
				continue
			}
			var knownIdx []float64
			var knownVal []float64
			for b := 0; b < totalBuckets; b++ {
				if present[b] {
					for _, r := range rows {
						if r.Index == gk[0] && r.Expiry == gk[1] && r.BucketLabel == bucketLabel(edges, b) {
							knownIdx = append(knownIdx, float64(b))
							knownVal = append(knownVal, r.AvgIV)
						}
					}
				}
			}
			for b := 0; b < totalBuckets; b++ {
				if present[b] {
					continue
				}
				// Never extrapolate: only fill strictly-internal midpoints.
				if float64(b) < knownIdx[0] || float64(b) > knownIdx[len(knownIdx)-1] {
					continue
				}
				v := linearInterp(knownIdx, knownVal, float64(b))
				interpRows = append(interpRows, VolSurfaceRow{
					Index: gk[0], Expiry: gk[1],
					BucketLabel: bucketLabel(edges, b),
					AvgIV:       v, Count: 0, Source: "interp",
				})
			}
		}
	}
	rows = append(rows, interpRows...)

	interpFraction := map[string]float64{}
	quality := map[string]float64{}
	byIndexTotal := map[string]int{}
	byIndexInterp := map[string]int{}
	for _, r := range rows {
		byIndexTotal[r.Index]++
		if r.Source == "interp" {
			byIndexInterp[r.Index]++
		}
	}
	for idx, total := range byIndexTotal {
		if total > 0 {
			frac := float64(byIndexInterp[idx]) / float64(total)
			interpFraction[idx] = frac
			// quality_score ≈ coverage*(1-interp_fraction); raw (non-
			// interpolated) share stands in for coverage here.
			coverage := 1 - frac
			quality[idx] = coverage * (1 - frac)
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

	return VolSurfaceResult{
		Rows:                 rows,
		InterpolatedFraction: interpFraction,
		QualityScore:         quality,
		BuildSeconds:         time.Since(start).Seconds(),
		InterpSeconds:        time.Since(interpStart).Seconds(),
	}
}

// linearInterp performs 1D linear interpolation between sorted anchors
// with a binary search and plain arithmetic, clamping to the end anchors
// outside the known span (callers already guard the span; this just
// evaluates it).
func linearInterp(xs, ys []float64, x float64) float64 {
	// floats.Span-style manual search since gonum's interp package
	// operates over sorted, unique x — our anchors already satisfy that.
	i := sort.SearchFloat64s(xs, x)
	if i <= 0 {
		return ys[0]
	}
	if i >= len(xs) {
		return ys[len(ys)-1]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	if x1 == x0 {
		return y0
	}
	t := (x - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

// Persist writes the surface rows to a timestamped JSON file in dir,
// optionally gzip'd, and returns the written path; it does not set
// result.PersistedPath (spec §4.F "persist the full artifact").
func Persist(result VolSurfaceResult, dir string, gz bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("vol_surface_%d.json", time.Now().Unix())
	if gz {
		name += ".gz"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var w = interface {
		Write([]byte) (int, error)
	}(f)
	var gzw *gzip.Writer
	if gz {
		gzw = gzip.NewWriter(f)
		w = gzw
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(result.Rows); err != nil {
		return "", err
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return "", err
		}
	}
	return path, nil
}

// sumFloats is a tiny wrapper over gonum/floats.Sum; no builder in this
// package calls it.
func sumFloats(xs []float64) float64 {
	return floats.Sum(xs)
}
