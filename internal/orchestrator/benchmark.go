package orchestrator

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/g6-platform/g6/internal/domain"
)

// benchmarkIndexExpiry mirrors one expiry's summary inside a benchmark
// artifact's indices list (spec §6 "Benchmark artifact").
type benchmarkIndexExpiry struct {
	Rule           domain.ExpiryRule    `json:"rule"`
	Status         domain.ExpiryStatus  `json:"status"`
	Options        int                  `json:"options"`
	StrikeCoverage float64              `json:"strike_coverage"`
	FieldCoverage  float64              `json:"field_coverage"`
	PartialReason  domain.PartialReason `json:"partial_reason,omitempty"`
}

type benchmarkIndex struct {
	Index    string                  `json:"index"`
	Status   domain.ExpiryStatus     `json:"status"`
	Expiries []benchmarkIndexExpiry  `json:"expiries"`
}

// BenchmarkArtifact is the on-disk shape written once per cycle (spec §6).
type BenchmarkArtifact struct {
	Version            int                    `json:"version"`
	Timestamp          string                 `json:"timestamp"`
	DurationSeconds    float64                `json:"duration_s"`
	PhaseTimes         map[string]float64     `json:"phase_times"`
	PhaseFailures      map[string]int         `json:"phase_failures"`
	OptionsTotal       int                    `json:"options_total"`
	Indices            []benchmarkIndex       `json:"indices"`
	PartialReasonTotals map[string]int        `json:"partial_reason_totals"`
	Anomalies          []AnomalyFlag          `json:"anomalies,omitempty"`
	AnomalySummary     map[string]interface{} `json:"anomaly_summary,omitempty"`
	DigestSHA256       string                 `json:"digest_sha256"`
}

// buildBenchmarkArtifact converts a CycleResult into the on-disk shape,
// computing the canonical-JSON digest before the digest field itself is
// populated (the digest covers every other field). hist carries the
// rolling per-metric windows used for MAD-based anomaly detection
// across cycles; pass nil to skip detection.
func buildBenchmarkArtifact(result CycleResult, hist *anomalyHistory) BenchmarkArtifact {
	art := BenchmarkArtifact{
		Version:   1,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000000Z"),
		DurationSeconds: result.Duration.Seconds(),
		PhaseTimes:    map[string]float64{},
		PhaseFailures: map[string]int{},
		OptionsTotal:  result.OptionsTotal,
		PartialReasonTotals: map[string]int{},
	}
	for phase, d := range result.PhaseTimes {
		art.PhaseTimes[phase] = d.Seconds()
	}
	for phase, n := range result.PhaseFailures {
		art.PhaseFailures[phase] = n
	}

	indexNames := make([]string, 0, len(result.IndexStatus))
	for name := range result.IndexStatus {
		indexNames = append(indexNames, name)
	}
	sort.Strings(indexNames)

	for _, name := range indexNames {
		cs := result.IndexStatus[name]
		bi := benchmarkIndex{Index: name, Status: cs.Status}
		for _, e := range cs.Expiries {
			bi.Expiries = append(bi.Expiries, benchmarkIndexExpiry{
				Rule: e.Rule, Status: e.Status, Options: e.OptionsCount,
				StrikeCoverage: e.StrikeCoverage, FieldCoverage: e.FieldCoverage,
				PartialReason: e.PartialReason,
			})
			if e.PartialReason != domain.ReasonNone {
				art.PartialReasonTotals[string(e.PartialReason)]++
			}
		}
		art.Indices = append(art.Indices, bi)
	}

	if hist != nil {
		var flags []AnomalyFlag
		if flagged, score := hist.observe("duration_s", art.DurationSeconds); flagged {
			flags = append(flags, AnomalyFlag{Metric: "duration_s", Value: art.DurationSeconds, Score: score})
		}
		if flagged, score := hist.observe("options_total", float64(art.OptionsTotal)); flagged {
			flags = append(flags, AnomalyFlag{Metric: "options_total", Value: float64(art.OptionsTotal), Score: score})
		}
		phaseNames := make([]string, 0, len(art.PhaseTimes))
		for phase := range art.PhaseTimes {
			phaseNames = append(phaseNames, phase)
		}
		sort.Strings(phaseNames)
		for _, phase := range phaseNames {
			v := art.PhaseTimes[phase]
			if flagged, score := hist.observe("phase:"+phase, v); flagged {
				flags = append(flags, AnomalyFlag{Metric: "phase:" + phase, Value: v, Score: score})
			}
		}
		art.Anomalies = flags
		art.AnomalySummary = summarizeAnomalies(flags)
	}

	// Struct field order is fixed regardless of map iteration order, so
	// marshaling the artifact before the digest field is populated
	// already gives a stable, canonical byte sequence (spec §8: "digest
	// is stable under key order").
	digestInput, _ := json.Marshal(art)
	sum := sha256.Sum256(digestInput)
	art.DigestSHA256 = hex.EncodeToString(sum[:])
	return art
}

// WriteBenchmark writes the per-cycle benchmark artifact under dir,
// gzip'd when gz is set, then prunes older files beyond keepN (spec §6,
// §7 "benchmark writes are best-effort and never block the cycle").
// hist is the orchestrator's persistent rolling-anomaly window; pass nil
// to skip anomaly detection.
func WriteBenchmark(dir string, keepN int, gz bool, result CycleResult, hist *anomalyHistory) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	art := buildBenchmarkArtifact(result, hist)
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("benchmark_cycle_%s.json", time.Now().UTC().Format("20060102T150405.000000Z"))
	if gz {
		name += ".gz"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if gz {
		gzw := gzip.NewWriter(f)
		if _, err := gzw.Write(data); err != nil {
			gzw.Close()
			return err
		}
		if err := gzw.Close(); err != nil {
			return err
		}
	} else {
		if _, err := f.Write(data); err != nil {
			return err
		}
	}

	return pruneBenchmarks(dir, keepN)
}

// pruneBenchmarks keeps only the keepN most recent benchmark_cycle_*
// files in dir, removing older ones by name (lexicographic == chronological
// given the zero-padded UTC timestamp naming).
func pruneBenchmarks(dir string, keepN int) error {
	if keepN <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if len(n) >= len("benchmark_cycle_") && n[:len("benchmark_cycle_")] == "benchmark_cycle_" {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	if len(names) <= keepN {
		return nil
	}
	toRemove := names[:len(names)-keepN]
	for _, n := range toRemove {
		_ = os.Remove(filepath.Join(dir, n))
	}
	return nil
}
