// Command g6-bench-report renders a terminal summary over the
// benchmark_cycle_*.json[.gz] artifacts the orchestrator writes each
// cycle (spec §6 "Benchmark artifact"): cycles/hour, overall success
// rate, and a per-phase timing breakdown.
package main

import (
	"compress/gzip"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// artifact mirrors orchestrator.BenchmarkArtifact's on-disk shape; it
// is redeclared here rather than imported so this CLI stays a
// read-only consumer of the artifact contract, not a compile-time
// dependent of the orchestrator package.
type artifact struct {
	Version             int                `json:"version"`
	Timestamp           string             `json:"timestamp"`
	DurationSeconds     float64            `json:"duration_s"`
	PhaseTimes          map[string]float64 `json:"phase_times"`
	PhaseFailures       map[string]int     `json:"phase_failures"`
	OptionsTotal        int                `json:"options_total"`
	Indices             []indexSummary     `json:"indices"`
	PartialReasonTotals map[string]int     `json:"partial_reason_totals"`
	DigestSHA256        string             `json:"digest_sha256"`
}

type indexSummary struct {
	Index  string `json:"index"`
	Status string `json:"status"`
}

func main() {
	dir := flag.String("dir", "", "directory of benchmark_cycle_*.json[.gz] artifacts")
	last := flag.Int("last", 0, "only consider the N most recent artifacts (0 = all)")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "g6-bench-report: -dir is required")
		os.Exit(2)
	}

	paths, err := listArtifacts(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "g6-bench-report: %v\n", err)
		os.Exit(1)
	}
	if *last > 0 && len(paths) > *last {
		paths = paths[len(paths)-*last:]
	}
	if len(paths) == 0 {
		fmt.Println("g6-bench-report: no benchmark artifacts found")
		return
	}

	arts := make([]artifact, 0, len(paths))
	for _, p := range paths {
		a, err := readArtifact(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "g6-bench-report: skipping %s: %v\n", p, err)
			continue
		}
		arts = append(arts, a)
	}

	report(arts)
}

func listArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, "benchmark_cycle_") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

func readArtifact(path string) (artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return artifact{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return artifact{}, err
		}
		defer gzr.Close()
		r = gzr
	}

	var a artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return artifact{}, err
	}
	return a, nil
}

func report(arts []artifact) {
	var totalDuration float64
	var oldestTS, newestTS time.Time
	successCycles := 0
	phaseSum := map[string]float64{}
	phaseCount := map[string]int{}

	for i, a := range arts {
		totalDuration += a.DurationSeconds
		if ts, err := time.Parse("2006-01-02T15:04:05.000000Z", a.Timestamp); err == nil {
			if i == 0 || ts.Before(oldestTS) {
				oldestTS = ts
			}
			if i == 0 || ts.After(newestTS) {
				newestTS = ts
			}
		}

		allOK := true
		for _, idx := range a.Indices {
			if idx.Status != "OK" {
				allOK = false
				break
			}
		}
		if allOK {
			successCycles++
		}

		for phase, secs := range a.PhaseTimes {
			phaseSum[phase] += secs
			phaseCount[phase]++
		}
	}

	n := len(arts)
	fmt.Printf("g6-bench-report: %d cycles analyzed\n", n)
	if !oldestTS.IsZero() && !newestTS.IsZero() && newestTS.After(oldestTS) {
		hours := newestTS.Sub(oldestTS).Hours()
		if hours > 0 {
			fmt.Printf("cycles/hour:        %.2f\n", float64(n)/hours)
		}
	}
	fmt.Printf("success rate:       %.1f%% (%d/%d cycles all-index OK)\n", 100*float64(successCycles)/float64(n), successCycles, n)
	fmt.Printf("avg cycle duration: %.2fs\n", totalDuration/float64(n))

	fmt.Println("\nphase           avg_seconds  samples")
	phases := make([]string, 0, len(phaseSum))
	for p := range phaseSum {
		phases = append(phases, p)
	}
	sort.Strings(phases)
	for _, p := range phases {
		avg := phaseSum[p] / float64(phaseCount[p])
		fmt.Printf("%-15s %11.3f  %7d\n", p, avg, phaseCount[p])
	}

	reasonTotals := map[string]int{}
	for _, a := range arts {
		for reason, n := range a.PartialReasonTotals {
			reasonTotals[reason] += n
		}
	}
	if len(reasonTotals) > 0 {
		fmt.Println("\npartial reasons    count")
		reasons := make([]string, 0, len(reasonTotals))
		for r := range reasonTotals {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Printf("%-18s %5d\n", r, reasonTotals[r])
		}
	}
}
