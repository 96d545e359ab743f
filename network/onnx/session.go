package onnx

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-fusion3d/logging"
)

var (
	envOnce sync.Once
	envErr  error
)

// SharedLibPath returns the default path of the onnxruntime shared library for the current
// platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: The platform has no default.
func SharedLibPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// initEnvironment loads the runtime library once per process.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			if libPath, envErr = SharedLibPath(); envErr != nil {
				return
			}
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
			return
		}
		if ort.IsInitialized() {
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "initialize onnxruntime environment")
			return
		}
		logging.Info(logging.Fields{"library": libPath}, "onnxruntime environment initialized")
	})
	return envErr
}

// ProfiledSession wraps an ONNX session with run counters.
type ProfiledSession struct {
	session        *ort.AdvancedSession
	config         OptimizationConfig
	inferenceCount int64
	totalTime      time.Duration
	mu             sync.Mutex
}

// NewProfiledSession creates a session bound to preallocated input and output tensors.
//
// Arguments:
//   - modelPath: Path to the ONNX model file
//   - inputNames: Names of input tensors
//   - outputNames: Names of output tensors
//   - inputs: Input tensor objects
//   - outputs: Output tensor objects
//   - config: Optimization configuration
//
// Returns:
//   - *ProfiledSession: Configured profiled session
//   - error: Session creation error if any
func NewProfiledSession(
	modelPath string,
	inputNames []string,
	outputNames []string,
	inputs []ort.Value,
	outputs []ort.Value,
	config OptimizationConfig,
) (*ProfiledSession, error) {
	options, err := OptimizedSessionOptions(config)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(modelPath, inputNames, outputNames, inputs, outputs, options)
	if err != nil {
		return nil, errors.Wrap(err, "create onnx session")
	}
	return &ProfiledSession{session: session, config: config}, nil
}

// Run executes the model once. Runs are serialized.
func (ps *ProfiledSession) Run() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	start := time.Now()
	err := ps.session.Run()
	ps.inferenceCount++
	ps.totalTime += time.Since(start)
	return err
}

// Metrics returns run statistics as log fields.
func (ps *ProfiledSession) Metrics() logging.Fields {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	fields := logging.Fields{
		"inference_count":    ps.inferenceCount,
		"total_time_ms":      float64(ps.totalTime.Microseconds()) / 1e3,
		"optimization_level": ps.config.GraphOptimizationLevel,
	}
	if ps.inferenceCount > 0 {
		avg := float64(ps.totalTime.Microseconds()) / 1e3 / float64(ps.inferenceCount)
		fields["average_time_ms"] = avg
	}
	return fields
}

// Destroy releases the session.
func (ps *ProfiledSession) Destroy() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.session == nil {
		return nil
	}
	err := ps.session.Destroy()
	ps.session = nil
	return err
}
