package benchmark

import (
	"fmt"
)

// Scenario defines a specific test configuration
type Scenario struct {
	Name string `json:"name"`
	// Points is the size of every synthetic cloud.
	Points int `json:"points"`
	// Frames is the number of distinct synthetic frames cycled through.
	Frames     int   `json:"frames"`
	Iterations int   `json:"iterations"`
	WarmupRuns int   `json:"warmup_runs"`
	Workers    int   `json:"workers"`
	Seed       int64 `json:"seed"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Points:     20000,
			Frames:     4,
			Iterations: 20,
			WarmupRuns: 2,
			Workers:    1,
			Seed:       1,
		},
	}
}

// WithPoints sets the number of points per frame
func (sb *ScenarioBuilder) WithPoints(points int) *ScenarioBuilder {
	sb.scenario.Points = points
	return sb
}

// WithFrames sets the number of distinct frames
func (sb *ScenarioBuilder) WithFrames(frames int) *ScenarioBuilder {
	sb.scenario.Frames = frames
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithWorkers sets the number of frames processed concurrently
func (sb *ScenarioBuilder) WithWorkers(workers int) *ScenarioBuilder {
	sb.scenario.Workers = workers
	return sb
}

// WithSeed sets the seed of the synthetic frames
func (sb *ScenarioBuilder) WithSeed(seed int64) *ScenarioBuilder {
	sb.scenario.Seed = seed
	return sb
}

// Build returns the configured test scenario
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// QuickScenarios returns a small sweep over cloud density and concurrency.
//
// Arguments:
//   - iterations: Frames measured per scenario.
//
// Returns:
//   - []Scenario: The scenarios.
func QuickScenarios(iterations int) []Scenario {
	var out []Scenario
	for _, points := range []int{5000, 20000, 60000} {
		for _, workers := range []int{1, 4} {
			out = append(out, NewScenarioBuilder(fmt.Sprintf("points-%d-workers-%d", points, workers)).
				WithPoints(points).
				WithWorkers(workers).
				WithIterations(iterations).
				Build())
		}
	}
	return out
}
