// Package config - provides the validated detector configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/chewxy/math32"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is the root cause of every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend selects where the dense network math runs.
type Backend string

const (
	// BackendNative runs the network on gorgonia's CPU tape machine.
	BackendNative Backend = "native"
	// BackendONNX runs an exported network through ONNX Runtime.
	BackendONNX Backend = "onnx"
)

// Regression selects the per-component regression loss.
type Regression string

const (
	// RegressionL1 is the absolute error.
	RegressionL1 Regression = "l1"
	// RegressionL2 is the squared error.
	RegressionL2 Regression = "l2"
)

// Config holds every option the detector core consumes.
//
// A Config is validated once with Validate and is read-only afterwards; it is shared by
// all frames and goroutines.
type Config struct {
	// PCRange is the voxelized volume: xmin, ymin, zmin, xmax, ymax, zmax.
	PCRange []float32 `yaml:"pc_range" validate:"len=6"`
	// PCVoxelSize is the voxel edge length along x, y and z.
	PCVoxelSize []float32 `yaml:"pc_voxel_size" validate:"len=3,dive,gt=0"`
	// PCMaxNumVoxels caps the number of voxels per frame.
	PCMaxNumVoxels int `yaml:"pc_max_num_voxels" validate:"gt=0"`
	// PCMaxNumPointsPerVoxel caps the number of points kept per voxel.
	PCMaxNumPointsPerVoxel int `yaml:"pc_max_num_points_per_voxel" validate:"gt=0"`
	// PCNumInputFeatures is the raw per-point width (x, y, z, intensity).
	PCNumInputFeatures int `yaml:"pc_num_input_features" validate:"eq=4"`
	// PCNumFilters are the widths of the point feature encoder stages.
	PCNumFilters []int `yaml:"pc_num_filters" validate:"min=1,dive,gt=0"`
	// PCUseNorm enables per-channel normalization in every encoder stage.
	PCUseNorm bool `yaml:"pc_use_norm"`
	// PCWithDistance appends the distance from the origin to each point's features.
	PCWithDistance bool `yaml:"pc_with_distance"`

	// YoloAnchors is the single anchor template (h, w, l).
	YoloAnchors []float32 `yaml:"yolo_anchors" validate:"len=3,dive,gt=0"`
	// YoloNumBoxPerCell is the number of anchors per cell. Only 1 is supported.
	YoloNumBoxPerCell int `yaml:"yolo_num_box_per_cell" validate:"eq=1"`
	// YoloBoxLength is the number of values per anchor prediction.
	YoloBoxLength int `yaml:"yolo_box_length" validate:"eq=9"`

	// OriImgH and OriImgW are the camera image dimensions supplied per frame.
	OriImgH int `yaml:"ori_img_h" validate:"gt=0"`
	OriImgW int `yaml:"ori_img_w" validate:"gt=0"`
	// ImageConvChannels are the widths of the image branch 3x3 convolutions.
	ImageConvChannels []int `yaml:"image_conv_channels" validate:"min=1,dive,gt=0"`
	// FusionChannels is the width of the fused feature map.
	FusionChannels int `yaml:"fusion_channels" validate:"gt=0"`

	// InferenceConfThreshold is the confidence cutoff applied before NMS.
	InferenceConfThreshold float32 `yaml:"inference_conf_threshold" validate:"gte=0,lte=1"`
	// NMSOverlapThreshold is the rotated IoU above which a box is suppressed.
	NMSOverlapThreshold float32 `yaml:"NMS_overlap_threshold" validate:"gte=0,lte=1"`
	// MAPOverlapThreshold is the rotated IoU above which a detection is a true positive.
	MAPOverlapThreshold float32 `yaml:"MAP_overlap_threshold" validate:"gte=0,lte=1"`

	// Loss weights and options.
	LossConfWeight     float32    `yaml:"loss_conf_weight" validate:"gte=0"`
	LossLocWeight      float32    `yaml:"loss_loc_weight" validate:"gte=0"`
	LossYawWeight      float32    `yaml:"loss_yaw_weight" validate:"gte=0"`
	LossPositiveWeight float32    `yaml:"loss_positive_weight" validate:"gt=0"`
	LossRegression     Regression `yaml:"loss_regression" validate:"oneof=l1 l2"`

	// Seed drives parameter initialisation.
	Seed int64 `yaml:"seed"`
	// Weights is a directory of <parameter>.npy files loaded over the initial parameters of the
	// native backend. Empty keeps the seeded initialisation.
	Weights string `yaml:"weights"`

	// Backend selects the compute backend.
	Backend Backend      `yaml:"backend" validate:"oneof=native onnx"`
	ONNX    ONNXConfig   `yaml:"onnx"`
	Log     LogConfig    `yaml:"log"`
	Workers WorkerConfig `yaml:"workers"`
}

// ONNXConfig configures the ONNX Runtime backend.
type ONNXConfig struct {
	// ModelPath is the exported network.
	ModelPath string `yaml:"model_path"`
	// SharedLibraryPath overrides the platform default onnxruntime library.
	SharedLibraryPath string `yaml:"shared_library_path"`
	// Providers lists execution providers in priority order (cpu, cuda, coreml, openvino).
	Providers []string `yaml:"providers" validate:"dive,oneof=cpu cuda tensorrt dnnl coreml openvino"`
	// IntraOpThreads and InterOpThreads size the runtime thread pools. Zero picks a default.
	IntraOpThreads int `yaml:"intra_op_threads" validate:"gte=0"`
	InterOpThreads int `yaml:"inter_op_threads" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// WorkerConfig sizes the frame-level worker pool.
type WorkerConfig struct {
	// Frames is the number of frames processed concurrently. Zero uses runtime.NumCPU.
	Frames int `yaml:"frames" validate:"gte=0"`
	// NMS is the number of goroutines computing overlaps within one frame; 0 or 1 runs inline.
	NMS int `yaml:"nms" validate:"gte=0"`
}

// Default returns the configuration the detector was trained with.
//
// Returns:
//   - *Config: A valid configuration.
func Default() *Config {
	return &Config{
		PCRange:                []float32{0, -60, -3, 120, 60, 1},
		PCVoxelSize:            []float32{0.32, 0.32, 4},
		PCMaxNumVoxels:         12000,
		PCMaxNumPointsPerVoxel: 100,
		PCNumInputFeatures:     4,
		PCNumFilters:           []int{64, 128, 128},
		PCUseNorm:              true,
		PCWithDistance:         false,
		YoloAnchors:            []float32{1.56, 1.6, 3.9},
		YoloNumBoxPerCell:      1,
		YoloBoxLength:          9,
		OriImgH:                375,
		OriImgW:                1242,
		ImageConvChannels:      []int{16, 32},
		FusionChannels:         128,
		InferenceConfThreshold: 0.5,
		NMSOverlapThreshold:    0.5,
		MAPOverlapThreshold:    0.5,
		LossConfWeight:         1,
		LossLocWeight:          1,
		LossYawWeight:          1,
		LossPositiveWeight:     1,
		LossRegression:         RegressionL1,
		Seed:                   10,
		Backend:                BackendNative,
		ONNX: ONNXConfig{
			Providers: []string{"cpu"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
//
// Arguments:
//   - path: The YAML file to read.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: Read, decode or validation failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every option and the values derived from them.
//
// Returns:
//   - error: nil, or an error whose cause is ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Wrapf(ErrInvalidConfig, "%s failed %s=%s (value %v)",
				fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	for axis, name := range []string{"x", "y", "z"} {
		if c.PCRange[axis+3] <= c.PCRange[axis] {
			return errors.Wrapf(ErrInvalidConfig, "pc_range %s max %v not above min %v",
				name, c.PCRange[axis+3], c.PCRange[axis])
		}
	}
	for axis, n := range c.GridSize() {
		if n <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "grid dimension %d is %d", axis, n)
		}
	}

	w, l := float64(c.YoloAnchors[1]), float64(c.YoloAnchors[2])
	if math.Sqrt(w*w+l*l) <= 0 {
		return errors.Wrap(ErrInvalidConfig, "anchor footprint diagonal is zero")
	}

	if c.Backend == BackendONNX && c.ONNX.ModelPath == "" {
		return errors.Wrap(ErrInvalidConfig, "onnx.model_path is required for the onnx backend")
	}
	return nil
}

// GridSize returns the number of voxels along x, y and z.
func (c *Config) GridSize() [3]int {
	var out [3]int
	for i := 0; i < 3; i++ {
		out[i] = int(math32.Round((c.PCRange[i+3] - c.PCRange[i]) / c.PCVoxelSize[i]))
	}
	return out
}

// Anchor returns the anchor template as (h, w, l).
func (c *Config) Anchor() (h, w, l float32) {
	return c.YoloAnchors[0], c.YoloAnchors[1], c.YoloAnchors[2]
}

// PointFeatureWidth is the decorated per-point feature width fed to the encoder.
func (c *Config) PointFeatureWidth() int {
	// raw + centroid offset (3) + pillar center offset (2) + optional distance.
	n := c.PCNumInputFeatures + 5
	if c.PCWithDistance {
		n++
	}
	return n
}

// String summarises the grid for logs.
func (c *Config) String() string {
	g := c.GridSize()
	return fmt.Sprintf("grid %dx%dx%d voxel %v range %v backend %s", g[0], g[1], g[2],
		c.PCVoxelSize, c.PCRange, c.Backend)
}
