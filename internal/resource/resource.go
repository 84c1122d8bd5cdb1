// Package resource snapshots process CPU/memory usage for the runtime
// status artifact (spec §4.I), grounded in the teacher's
// internal/server/system_handlers.go gopsutil usage.
package resource

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	MemoryMB float64
	CPUPct   float64
}

// Read samples current memory and CPU usage.
func Read() Snapshot {
	var snap Snapshot

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryMB = float64(vm.Used) / (1024 * 1024)
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPct = pct[0]
	}

	return snap
}

// Tier classifies a memory reading into the ordinal pressure levels
// (0=normal, 1=elevated, 2=high, 3=critical) and a matching label,
// crossing each threshold in ascending order.
func Tier(memoryMB, elevatedMB, highMB, criticalMB float64) (int, string) {
	switch {
	case criticalMB > 0 && memoryMB >= criticalMB:
		return 3, "critical"
	case highMB > 0 && memoryMB >= highMB:
		return 2, "high"
	case elevatedMB > 0 && memoryMB >= elevatedMB:
		return 1, "elevated"
	default:
		return 0, "normal"
	}
}
