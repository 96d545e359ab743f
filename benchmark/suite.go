package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/inference"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/postprocess"
	"github.com/nvr-ai/go-fusion3d/util"
)

// Predictor is the part of the detector a benchmark drives.
type Predictor interface {
	Predict(ctx context.Context, f inference.Frame) (postprocess.DetectionResult, error)
}

// Suite manages and executes benchmark scenarios
type Suite struct {
	predictor Predictor
	cfg       *config.Config
	outputDir string
	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - predictor: The detector under test.
//   - cfg: Its configuration; synthetic frames fill its range and image size.
//   - outputDir: Where SaveResults writes. Empty disables saving.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(predictor Predictor, cfg *config.Config, outputDir string) *Suite {
	return &Suite{
		predictor: predictor,
		cfg:       cfg,
		outputDir: outputDir,
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// SyntheticFrames generates the scenario's frames: uniform points over the configured range and a
// gradient image of the configured size.
func SyntheticFrames(cfg *config.Config, scenario Scenario) []inference.Frame {
	rng := rand.New(rand.NewSource(scenario.Seed))
	n := scenario.Frames
	if n < 1 {
		n = 1
	}

	frames := make([]inference.Frame, n)
	for f := range frames {
		cloud := make(pointcloud.Cloud, scenario.Points)
		for i := range cloud {
			cloud[i] = pointcloud.Point{
				X:         cfg.PCRange[0] + rng.Float32()*(cfg.PCRange[3]-cfg.PCRange[0]),
				Y:         cfg.PCRange[1] + rng.Float32()*(cfg.PCRange[4]-cfg.PCRange[1]),
				Z:         cfg.PCRange[2] + rng.Float32()*(cfg.PCRange[5]-cfg.PCRange[2]),
				Intensity: rng.Float32(),
			}
		}

		img := image.NewRGBA(image.Rect(0, 0, cfg.OriImgW, cfg.OriImgH))
		shift := uint8(rng.Intn(256))
		for y := 0; y < cfg.OriImgH; y++ {
			for x := 0; x < cfg.OriImgW; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8(x) + shift, G: uint8(y), B: shift, A: 255})
			}
		}
		frames[f] = inference.Frame{Points: cloud, Image: img}
	}
	return frames
}

// RunScenario executes a single benchmark scenario
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s has %d iterations", scenario.Name, scenario.Iterations)
	}
	frames := SyntheticFrames(bs.cfg, scenario)

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	// Warmup runs
	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := bs.predictor.Predict(ctx, frames[i%len(frames)]); err != nil {
			continue // Skip warmup errors
		}
	}

	// Capture initial memory stats
	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	latencies := make([]time.Duration, scenario.Iterations)
	var detections, failures atomic.Int64

	startTime := time.Now()
	util.Parallel(scenario.Iterations, scenario.Workers, func(start, end int) {
		for i := start; i < end; i++ {
			frameStart := time.Now()
			result, err := bs.predictor.Predict(ctx, frames[i%len(frames)])
			latencies[i] = time.Since(frameStart)
			if err != nil {
				failures.Add(1)
				continue
			}
			detections.Add(int64(len(result)))
		}
	})
	totalDuration := time.Since(startTime)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Capture final memory stats
	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.TotalDuration = totalDuration
	metrics.Latency = NewLatencyMetrics(latencies)
	metrics.FramesPerSecond = float64(scenario.Iterations) / totalDuration.Seconds()
	metrics.DetectionCount = int(detections.Load())
	metrics.ErrorRate = float64(failures.Load()) / float64(scenario.Iterations)

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
	}

	metrics.CPUStats = CPUMetrics{
		NumCPU:  runtime.NumCPU(),
		Workers: scenario.Workers,
	}

	return metrics, nil
}

// RunAllScenarios executes all configured benchmark scenarios and saves the results. A failing
// scenario is logged and skipped.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logging.Warn(logging.Fields{"scenario": scenario.Name, "error": err.Error()}, "scenario failed")
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		logging.Info(logging.Fields{
			"scenario": scenario.Name,
			"fps":      metrics.FramesPerSecond,
			"p50_ms":   metrics.Latency.P50,
			"p95_ms":   metrics.Latency.P95,
		}, "scenario completed")
	}

	if bs.outputDir == "" {
		return nil
	}
	return bs.SaveResults()
}

// SaveResults persists benchmark results to filesystem as JSON and a CSV summary.
func (bs *Suite) SaveResults() error {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "save summary csv")
	}

	logging.Info(logging.Fields{"results": resultsFile, "summary": summaryFile}, "benchmark results saved")
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	rows := [][]string{{"scenario", "points", "workers", "fps", "p50_ms", "p95_ms", "alloc_mb", "detections", "error_rate"}}
	for _, r := range results {
		rows = append(rows, []string{
			r.Scenario.Name,
			strconv.Itoa(r.Scenario.Points),
			strconv.Itoa(r.Scenario.Workers),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.P50, 'f', 3, 64),
			strconv.FormatFloat(r.Latency.P95, 'f', 3, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
