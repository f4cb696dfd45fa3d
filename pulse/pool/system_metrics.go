package pool

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/pulsegraph/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Number of workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Tasks waiting in the admission queue
}

// memoryStats is swapped in tests.
var memoryStats = getMemoryStats

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := memoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	return SystemMetrics{
		WorkersActive: wp.ActiveWorkers(),
		WorkersTotal:  wp.cfg.Workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    len(wp.queue),
	}
}

// maxWorkersForMemory caps the worker count against available memory.
// Job bodies are opaque, so the budget per worker is a rough allowance.
func maxWorkersForMemory(availableGB float64) int {
	const memoryPerWorker = 0.25 // GB allowance per concurrent job body
	const memoryBuffer = 1.0     // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 worker
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	return recommended
}

// checkMemoryPressure validates worker count against available memory.
// Returns a warning message if the count may be too high, empty string if OK.
func checkMemoryPressure(workers int) string {
	total, available, err := memoryStats()
	if err != nil || total == 0 {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := maxWorkersForMemory(availableGB)

	if workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
