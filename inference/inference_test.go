package inference

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion3d/codec"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/network"
	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/util"
)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PCRange = []float32{0, -4, -2, 8, 4, 2}
	cfg.PCVoxelSize = []float32{1, 1, 4}
	cfg.PCMaxNumVoxels = 32
	cfg.PCMaxNumPointsPerVoxel = 8
	cfg.PCNumFilters = []int{4, 4}
	cfg.ImageConvChannels = []int{2}
	cfg.FusionChannels = 4
	cfg.OriImgH, cfg.OriImgW = 12, 40
	cfg.Workers.Frames = 4
	require.NoError(t, cfg.Validate())
	return cfg
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 20), B: 90, A: 255})
		}
	}
	return img
}

func testFrame(seed int64, cfg *config.Config) Frame {
	rng := rand.New(rand.NewSource(seed))
	cloud := make(pointcloud.Cloud, 60)
	for i := range cloud {
		cloud[i] = pointcloud.Point{X: rng.Float32() * 8, Y: rng.Float32()*8 - 4, Z: rng.Float32() - 0.5, Intensity: rng.Float32()}
	}
	return Frame{Points: cloud, Image: testImage(cfg.OriImgW, cfg.OriImgH)}
}

// fixedBackend returns the same predictions for every frame.
type fixedBackend struct {
	raw    *head.RawPredictions
	err    error
	calls  atomic.Int32
	closed atomic.Bool
}

func (b *fixedBackend) Forward(ctx context.Context, in network.Input) (*head.RawPredictions, error) {
	b.calls.Add(1)
	if in.Grid == nil || in.Image == nil {
		return nil, errors.New("incomplete input")
	}
	if b.err != nil {
		return nil, b.err
	}
	out := *b.raw
	out.Data = append([]float32(nil), b.raw.Data...)
	return &out, nil
}

func (b *fixedBackend) Close() error {
	b.closed.Store(true)
	return nil
}

// vehicle sits in cell (ix 3, iy 2) of smallConfig's grid.
var vehicle = geometry.Box3D{X: 3.4, Y: -1.3, Z: 0.1, H: 1.5, W: 1.7, L: 4.1, Yaw: 0.3}

// perfectBackend predicts vehicle exactly at its cell and nothing elsewhere.
func perfectBackend(t *testing.T, cfg *config.Config) *fixedBackend {
	t.Helper()
	c, err := codec.NewFromConfig(cfg)
	require.NoError(t, err)
	nx, ny := c.Dims()
	raw := head.NewRawPredictions(ny, nx, 1, codec.BoxLength)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			raw.At(iy, ix, 0)[codec.Conf] = -12
		}
	}
	ix, iy, ok := c.CellOf(vehicle.X, vehicle.Y)
	require.True(t, ok)
	target := c.Encode(vehicle, ix, iy)
	target[codec.Conf] = 12
	copy(raw.At(iy, ix, 0), target[:])
	return &fixedBackend{raw: raw}
}

func TestPredict(t *testing.T) {
	cfg := smallConfig(t)
	backend := perfectBackend(t, cfg)
	d := NewDetectorBuilder().WithConfig(cfg).WithBackend(backend).MustBuild()

	result, err := d.Predict(context.Background(), testFrame(1, cfg))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.InDelta(t, 1, result[0].Confidence, 1e-4)
	assert.InDelta(t, vehicle.X, result[0].Box.X, 1e-4)
	assert.InDelta(t, vehicle.Y, result[0].Box.Y, 1e-4)
	assert.InDelta(t, vehicle.L, result[0].Box.L, 1e-4)
	assert.InDelta(t, vehicle.Yaw, result[0].Box.Yaw, 1e-4)

	require.NoError(t, d.Close())
	assert.True(t, backend.closed.Load())
}

func TestPredictErrors(t *testing.T) {
	cfg := smallConfig(t)
	backend := perfectBackend(t, cfg)
	d := NewDetectorBuilder().WithConfig(cfg).WithBackend(backend).MustBuild()
	frame := testFrame(1, cfg)

	_, err := d.Predict(context.Background(), Frame{Points: frame.Points})
	assert.ErrorContains(t, err, "no image")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Predict(ctx, frame)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.calls.Load())

	backend.err = errors.New("device lost")
	_, err = d.Predict(context.Background(), frame)
	assert.ErrorContains(t, err, "device lost")
}

func TestEmptyFrameHasNoDetections(t *testing.T) {
	cfg := smallConfig(t)
	backend := perfectBackend(t, cfg)
	clear(backend.raw.Data)
	for i := 0; i < backend.raw.Sites(); i++ {
		backend.raw.Data[i*codec.BoxLength+codec.Conf] = -12
	}
	d := NewDetectorBuilder().WithConfig(cfg).WithBackend(backend).MustBuild()

	result, err := d.Predict(context.Background(), Frame{Image: testImage(cfg.OriImgW, cfg.OriImgH)})
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Empty(t, result)
}

func TestLoss(t *testing.T) {
	cfg := smallConfig(t)
	d := NewDetectorBuilder().WithConfig(cfg).WithBackend(perfectBackend(t, cfg)).MustBuild()

	frame := testFrame(2, cfg)
	frame.GroundTruth = []geometry.Box3D{vehicle}
	result, err := d.Loss(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumPositive)
	assert.InDelta(t, 0, result.Localization, 1e-5)
	assert.InDelta(t, 0, result.Orientation, 1e-5)
	assert.Less(t, result.Confidence, float32(1e-3))
}

func TestDetectBatchAndEvaluate(t *testing.T) {
	cfg := smallConfig(t)
	backend := perfectBackend(t, cfg)
	d := NewDetectorBuilder().WithConfig(cfg).WithBackend(backend).MustBuild()

	frames := make([]Frame, 9)
	for i := range frames {
		frames[i] = testFrame(int64(i), cfg)
		frames[i].GroundTruth = []geometry.Box3D{vehicle}
	}

	results, err := d.DetectBatch(context.Background(), frames)
	require.NoError(t, err)
	require.Len(t, results, len(frames))
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, int32(len(frames)), backend.calls.Load())

	report, err := d.Evaluate(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, len(frames), report.Frames)
	assert.Equal(t, len(frames), report.Detections)
	assert.Equal(t, len(frames), report.GroundTruth)
	assert.InDelta(t, 1, report.AveragePrecision, 1e-9)

	frames[0].GroundTruth = append(frames[0].GroundTruth,
		geometry.Box3D{X: 6.5, Y: 3.5, Z: 0, H: 1.5, W: 1.6, L: 3.9})
	report, err = d.Evaluate(context.Background(), frames)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, report.AveragePrecision, 1e-9)

	frames[5].Image = nil
	_, err = d.DetectBatch(context.Background(), frames)
	assert.ErrorContains(t, err, "frame 5")
}

func TestBuilder(t *testing.T) {
	_, err := NewDetectorBuilder().Build()
	assert.Error(t, err)

	_, err = NewDetectorBuilder().WithConfig(nil).Build()
	assert.Error(t, err)

	cfg := config.Default()
	cfg.PCVoxelSize = []float32{0, 1, 1}
	b := NewDetectorBuilder().WithConfig(cfg)
	assert.True(t, b.HasError())
	_, err = b.WithBackend(&fixedBackend{}).Build()
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.Panics(t, func() { b.MustBuild() })

	cfg = smallConfig(t)
	cfg.Backend = config.BackendONNX
	cfg.ONNX.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err = NewDetectorBuilder().WithConfig(cfg).Build()
	assert.Error(t, err)
}

func TestNativeDetector(t *testing.T) {
	cfg := smallConfig(t)
	d, err := NewDetectorBuilder().WithConfig(cfg).Build()
	require.NoError(t, err)
	defer d.Close()

	frame := testFrame(3, cfg)
	raw, err := d.Forward(context.Background(), frame)
	require.NoError(t, err)
	require.NoError(t, raw.CheckShape(8, 8, 1, codec.BoxLength))

	result, err := d.Predict(context.Background(), frame)
	require.NoError(t, err)
	for _, det := range result {
		assert.GreaterOrEqual(t, det.Confidence, cfg.InferenceConfThreshold)
	}

	frame.GroundTruth = []geometry.Box3D{vehicle}
	l, err := d.Loss(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, 1, l.NumPositive)
	assert.Greater(t, l.Total, float32(0))
}

func writeFrame(t *testing.T, dir string, id string, cfg *config.Config, labels string) {
	t.Helper()
	frame := testFrame(4, cfg)
	for sub, name := range map[string]string{util.PointsDir: id + ".bin", util.ImagesDir: id + ".png"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
		f, err := os.Create(filepath.Join(dir, sub, name))
		require.NoError(t, err)
		if sub == util.PointsDir {
			require.NoError(t, pointcloud.WriteKITTI(f, frame.Points))
		} else {
			require.NoError(t, png.Encode(f, frame.Image))
		}
		require.NoError(t, f.Close())
	}
	if labels != "" {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, util.LabelsDir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, util.LabelsDir, id+".txt"), []byte(labels), 0o644))
	}
}

func TestLoadFrames(t *testing.T) {
	cfg := smallConfig(t)
	dir := t.TempDir()
	writeFrame(t, dir, "000007", cfg, "3.4 -1.3 0.1 1.5 1.7 4.1 0.3\n")
	writeFrame(t, dir, "000003", cfg, "")

	frames, err := LoadFrames(dir, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	want := testFrame(4, cfg)
	assert.Equal(t, want.Points, frames[0].Points)
	assert.Empty(t, frames[0].GroundTruth)
	assert.Equal(t, []geometry.Box3D{vehicle}, frames[1].GroundTruth)
	assert.Equal(t, image.Rect(0, 0, cfg.OriImgW, cfg.OriImgH), frames[1].Image.Bounds())

	require.NoError(t, os.WriteFile(filepath.Join(dir, util.LabelsDir, "000003.txt"), []byte("1 2 3\n"), 0o644))
	_, err = LoadFrames(dir, 1)
	assert.ErrorContains(t, err, "frame 000003")
}
