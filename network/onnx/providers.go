// Package onnx - ONNX Runtime backend for an exported detector network.
package onnx

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/logging"
)

// Provider represents different ONNX Runtime execution providers
type Provider string

const (
	// CPUExecutionProvider uses CPU for inference
	CPUExecutionProvider Provider = "cpu"

	// CUDAExecutionProvider uses NVIDIA CUDA for GPU acceleration
	CUDAExecutionProvider Provider = "cuda"

	// TensorRTExecutionProvider uses NVIDIA TensorRT for optimized inference
	TensorRTExecutionProvider Provider = "tensorrt"

	// DNNLExecutionProvider uses Intel DNNL (oneDNN) for CPU optimization
	DNNLExecutionProvider Provider = "dnnl"

	// CoreMLExecutionProvider uses Apple CoreML for macOS/iOS acceleration
	CoreMLExecutionProvider Provider = "coreml"

	// OpenVINOExecutionProvider uses Intel OpenVINO for inference optimization
	OpenVINOExecutionProvider Provider = "openvino"
)

// ProviderConfig is one execution provider and its runtime options.
type ProviderConfig struct {
	Provider Provider
	Options  map[string]string
}

// OptimizationConfig contains the ONNX Runtime session settings.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization
	GraphOptimizationLevel ort.GraphOptimizationLevel

	// ExecutionMode controls sequential vs parallel execution
	ExecutionMode ort.ExecutionMode

	// IntraOpNumThreads sets threads for parallelizing ops
	IntraOpNumThreads int

	// InterOpNumThreads sets threads for parallelizing independent ops
	InterOpNumThreads int

	// ExecutionProviders in priority order, highest first
	ExecutionProviders []ProviderConfig
}

// DefaultProviderOptions returns the options used for a provider named in the configuration.
func DefaultProviderOptions(p Provider) map[string]string {
	switch p {
	case CUDAExecutionProvider:
		return map[string]string{
			"device_id":                 "0",
			"gpu_mem_limit":             "2147483648", // 2GB
			"arena_extend_strategy":     "kSameAsRequested",
			"cudnn_conv_algo_search":    "HEURISTIC",
			"do_copy_in_default_stream": "1",
		}
	case TensorRTExecutionProvider:
		return map[string]string{
			"device_id":               "0",
			"trt_max_workspace_size":  "1073741824", // 1GB
			"trt_fp16_enable":         "true",
			"trt_engine_cache_enable": "true",
		}
	case OpenVINOExecutionProvider:
		return map[string]string{
			"device_type": "CPU",
		}
	default:
		return map[string]string{}
	}
}

// NewOptimizationConfig derives session settings from the backend configuration. Providers
// keep their configured order; an empty list runs on CPU.
//
// Arguments:
//   - cfg: The onnx section of a validated configuration.
//
// Returns:
//   - OptimizationConfig: The session settings.
func NewOptimizationConfig(cfg config.ONNXConfig) OptimizationConfig {
	numCPU := runtime.NumCPU()
	oc := OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      maxInt(1, numCPU/2),
		InterOpNumThreads:      1,
	}
	if cfg.IntraOpThreads > 0 {
		oc.IntraOpNumThreads = cfg.IntraOpThreads
	}
	if cfg.InterOpThreads > 0 {
		oc.InterOpNumThreads = cfg.InterOpThreads
		oc.ExecutionMode = ort.ExecutionModeParallel
	}
	for _, name := range cfg.Providers {
		p := Provider(name)
		oc.ExecutionProviders = append(oc.ExecutionProviders, ProviderConfig{
			Provider: p,
			Options:  DefaultProviderOptions(p),
		})
	}
	if len(oc.ExecutionProviders) == 0 {
		oc.ExecutionProviders = []ProviderConfig{{Provider: CPUExecutionProvider}}
	}
	return oc
}

// OptimizedSessionOptions applies the optimization settings to new ONNX Runtime session options.
//
// Arguments:
//   - config: Optimization configuration to apply
//
// Returns:
//   - *ort.SessionOptions: Configured session options; the caller destroys them
//   - error: Configuration error if any
func OptimizedSessionOptions(config OptimizationConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	settings := []error{
		options.SetGraphOptimizationLevel(config.GraphOptimizationLevel),
		options.SetExecutionMode(config.ExecutionMode),
		options.SetIntraOpNumThreads(config.IntraOpNumThreads),
		options.SetInterOpNumThreads(config.InterOpNumThreads),
	}
	for _, err := range settings {
		if err != nil {
			options.Destroy()
			return nil, errors.Wrap(err, "apply session settings")
		}
	}

	if err := applyExecutionProviders(options, config.ExecutionProviders); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "configure execution providers")
	}
	return options, nil
}

// applyExecutionProviders appends the providers in priority order. A provider that fails to load
// is skipped with a warning; ONNX Runtime falls back to the CPU.
func applyExecutionProviders(options *ort.SessionOptions, providers []ProviderConfig) error {
	for _, provider := range providers {
		fields := logging.Fields{"provider": provider.Provider}
		var err error

		switch provider.Provider {
		case CPUExecutionProvider:
			// CPU provider is always available, no explicit configuration needed

		case CUDAExecutionProvider:
			err = appendCUDA(options, provider.Options)

		case TensorRTExecutionProvider:
			err = appendTensorRT(options, provider.Options)

		case CoreMLExecutionProvider:
			err = options.AppendExecutionProviderCoreML(0)

		case OpenVINOExecutionProvider:
			err = options.AppendExecutionProviderOpenVINO(provider.Options)

		case DNNLExecutionProvider:
			logging.Info(fields, "provider not supported by onnxruntime_go, using CPU")

		default:
			return errors.Errorf("unsupported execution provider: %s", provider.Provider)
		}

		if err != nil {
			fields["error"] = err.Error()
			logging.Warn(fields, "failed to enable execution provider")
			continue
		}
		logging.Debug(fields, "execution provider configured")
	}
	return nil
}

func appendCUDA(options *ort.SessionOptions, values map[string]string) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	if err := cuda.Update(values); err != nil {
		return fmt.Errorf("cuda options: %w", err)
	}
	return options.AppendExecutionProviderCUDA(cuda)
}

func appendTensorRT(options *ort.SessionOptions, values map[string]string) error {
	trt, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return err
	}
	defer trt.Destroy()
	if err := trt.Update(values); err != nil {
		return fmt.Errorf("tensorrt options: %w", err)
	}
	return options.AppendExecutionProviderTensorRT(trt)
}

// maxInt returns the maximum of two integers
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
