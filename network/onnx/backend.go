package onnx

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/encoder"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/images"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/network"
)

// Tensor names of the exported network.
const (
	InputFeatures     = "voxel_features" // float32 [MaxVoxels, Pad, Features]
	InputMask         = "voxel_mask"     // float32 [MaxVoxels, Pad]
	InputCoords       = "voxel_coords"   // int64 [MaxVoxels, 2] as (iy, ix)
	InputCount        = "voxel_count"    // int64 [1]
	InputImage        = "image"          // float32 [1, 3, Height, Width]
	OutputPredictions = "predictions"    // float32 [1, Anchors*BoxLength, Height, Width]
)

var _ network.Backend = (*Backend)(nil)

// Layout is the fixed tensor geometry the model was exported with.
type Layout struct {
	MaxVoxels int
	Pad       int
	Features  int
	Height    int
	Width     int
	Anchors   int
	BoxLength int
}

// LayoutFromConfig derives the layout from a validated configuration.
func LayoutFromConfig(cfg *config.Config) Layout {
	grid := cfg.GridSize()
	return Layout{
		MaxVoxels: cfg.PCMaxNumVoxels,
		Pad:       cfg.PCMaxNumPointsPerVoxel,
		Features:  encoder.FeatureWidth(cfg.PCWithDistance),
		Height:    grid[1],
		Width:     grid[0],
		Anchors:   cfg.YoloNumBoxPerCell,
		BoxLength: cfg.YoloBoxLength,
	}
}

// Pack writes a decorated batch into the fixed-size voxel inputs, zeroing unused rows.
//
// Arguments:
//   - batch: Decorated points padded to l.Pad rows.
//   - l: The model layout.
//   - features, mask, coords: Input buffers sized by l.
//
// Returns:
//   - int64: Number of voxels written.
//   - error: The batch does not fit the layout.
func Pack(batch *encoder.PillarBatch, l Layout, features, mask []float32, coords []int64) (int64, error) {
	if batch.Voxels > l.MaxVoxels || batch.Pad != l.Pad || batch.Features != l.Features {
		return 0, errors.Wrapf(network.ErrShapeMismatch, "batch [%d, %d, %d] does not fit [%d, %d, %d]",
			batch.Voxels, batch.Pad, batch.Features, l.MaxVoxels, l.Pad, l.Features)
	}
	n := copy(features, batch.Data)
	clear(features[n:])
	n = copy(mask, batch.Mask)
	clear(mask[n:])
	clear(coords)
	for i, c := range batch.Coords {
		coords[2*i] = int64(c[1])
		coords[2*i+1] = int64(c[0])
	}
	return int64(batch.Voxels), nil
}

// Backend runs an exported network through ONNX Runtime. Tensors are bound once, so frames are
// serialized.
type Backend struct {
	mu           sync.Mutex
	layout       Layout
	dims         [3]int
	withDistance bool
	norm         images.Normalization

	features *ort.Tensor[float32]
	mask     *ort.Tensor[float32]
	coords   *ort.Tensor[int64]
	count    *ort.Tensor[int64]
	image    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	session  *ProfiledSession
}

// New loads the model named in cfg.ONNX.
//
// Order of operations:
//  1. Model check: the file must exist.
//  2. Environment setup: loads the runtime library once per process.
//  3. Tensor allocation: fixed-shape buffers for every input and the output.
//  4. Session creation: binds the tensors with the configured providers.
//
// Arguments:
//   - cfg: A validated configuration with backend onnx.
//
// Returns:
//   - *Backend: The backend; Close releases it.
//   - error: Missing model or runtime, or a model that does not accept the layout.
func New(cfg *config.Config) (*Backend, error) {
	if _, err := os.Stat(cfg.ONNX.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "onnx model %s", cfg.ONNX.ModelPath)
	}
	if err := initEnvironment(cfg.ONNX.SharedLibraryPath); err != nil {
		return nil, err
	}

	l := LayoutFromConfig(cfg)
	b := &Backend{
		layout:       l,
		dims:         cfg.GridSize(),
		withDistance: cfg.PCWithDistance,
		norm:         images.ImageNet,
	}
	if err := b.allocate(); err != nil {
		b.destroyTensors()
		return nil, err
	}

	oc := NewOptimizationConfig(cfg.ONNX)
	session, err := NewProfiledSession(cfg.ONNX.ModelPath,
		[]string{InputFeatures, InputMask, InputCoords, InputCount, InputImage},
		[]string{OutputPredictions},
		[]ort.Value{b.features, b.mask, b.coords, b.count, b.image},
		[]ort.Value{b.output},
		oc)
	if err != nil {
		b.destroyTensors()
		return nil, err
	}
	b.session = session

	logging.Info(logging.Fields{
		"backend":   config.BackendONNX,
		"model":     cfg.ONNX.ModelPath,
		"providers": cfg.ONNX.Providers,
		"grid":      b.dims,
	}, "network ready")
	return b, nil
}

func (b *Backend) allocate() error {
	l := b.layout
	var err error
	if b.features, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(l.MaxVoxels), int64(l.Pad), int64(l.Features))); err != nil {
		return errors.Wrap(err, "allocate "+InputFeatures)
	}
	if b.mask, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(l.MaxVoxels), int64(l.Pad))); err != nil {
		return errors.Wrap(err, "allocate "+InputMask)
	}
	if b.coords, err = ort.NewEmptyTensor[int64](ort.NewShape(int64(l.MaxVoxels), 2)); err != nil {
		return errors.Wrap(err, "allocate "+InputCoords)
	}
	if b.count, err = ort.NewEmptyTensor[int64](ort.NewShape(1)); err != nil {
		return errors.Wrap(err, "allocate "+InputCount)
	}
	if b.image, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(l.Height), int64(l.Width))); err != nil {
		return errors.Wrap(err, "allocate "+InputImage)
	}
	channels := int64(l.Anchors * l.BoxLength)
	if b.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, channels, int64(l.Height), int64(l.Width))); err != nil {
		return errors.Wrap(err, "allocate "+OutputPredictions)
	}
	return nil
}

// Forward runs the exported network on one frame.
func (b *Backend) Forward(ctx context.Context, in network.Input) (*head.RawPredictions, error) {
	if err := network.CheckInput(in, b.dims); err != nil {
		return nil, err
	}
	batch, err := encoder.Decorate(in.Grid, b.withDistance, b.layout.Pad)
	if err != nil {
		return nil, err
	}
	camera, err := images.ToTensor(in.Image, b.layout.Width, b.layout.Height, b.norm)
	if err != nil {
		return nil, errors.Wrap(err, "camera input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, errors.New("onnx backend is closed")
	}

	count, err := Pack(batch, b.layout, b.features.GetData(), b.mask.GetData(), b.coords.GetData())
	if err != nil {
		return nil, err
	}
	b.count.GetData()[0] = count
	copy(b.image.GetData(), camera)

	if err := b.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run onnx session")
	}
	out := append([]float32(nil), b.output.GetData()...)
	return head.FromCHW(out, b.layout.Anchors, b.layout.BoxLength, b.layout.Height, b.layout.Width)
}

// Close releases the session and its tensors.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.session != nil {
		logging.Info(b.session.Metrics(), "onnx session closed")
		err = b.session.Destroy()
		b.session = nil
	}
	b.destroyTensors()
	return err
}

func (b *Backend) destroyTensors() {
	destroy(&b.features)
	destroy(&b.mask)
	destroy(&b.coords)
	destroy(&b.count)
	destroy(&b.image)
	destroy(&b.output)
}

func destroy[T ort.TensorData](t **ort.Tensor[T]) {
	if *t != nil {
		(*t).Destroy()
		*t = nil
	}
}
