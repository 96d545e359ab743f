// Package benchmark - Functionality for running detector benchmarks on synthetic frames.
package benchmark

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PerformanceMetrics captures detailed performance data
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"`
	Timestamp       time.Time      `json:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration"`
	Latency         LatencyMetrics `json:"latency"`
	FramesPerSecond float64        `json:"frames_per_second"`
	MemoryStats     MemoryMetrics  `json:"memory_stats"`
	CPUStats        CPUMetrics     `json:"cpu_stats"`
	DetectionCount  int            `json:"detection_count"`
	ErrorRate       float64        `json:"error_rate"`
}

// LatencyMetrics summarizes per-frame latency in milliseconds.
type LatencyMetrics struct {
	Mean float64 `json:"mean_ms"`
	P50  float64 `json:"p50_ms"`
	P95  float64 `json:"p95_ms"`
	Max  float64 `json:"max_ms"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU  int `json:"num_cpu"`
	Workers int `json:"workers"`
}

// NewLatencyMetrics summarizes frame latencies. An empty input gives zero metrics.
func NewLatencyMetrics(latencies []time.Duration) LatencyMetrics {
	if len(latencies) == 0 {
		return LatencyMetrics{}
	}
	ms := make([]float64, len(latencies))
	for i, d := range latencies {
		ms[i] = float64(d.Microseconds()) / 1e3
	}
	sort.Float64s(ms)
	return LatencyMetrics{
		Mean: stat.Mean(ms, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, ms, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, ms, nil),
		Max:  ms[len(ms)-1],
	}
}
