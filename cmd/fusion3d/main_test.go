package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/util"
)

const smallConfig = `
pc_range: [0, -4, -2, 8, 4, 2]
pc_voxel_size: [1, 1, 4]
pc_max_num_voxels: 32
pc_max_num_points_per_voxel: 8
pc_num_filters: [4, 4]
image_conv_channels: [2]
fusion_channels: 4
ori_img_h: 12
ori_img_w: 40
log:
  level: warn
`

func writeFrame(t *testing.T, dir, id string) util.FrameFiles {
	t.Helper()
	files := util.FrameFiles{
		Points: filepath.Join(dir, util.PointsDir, id+".bin"),
		Image:  filepath.Join(dir, util.ImagesDir, id+".png"),
		Labels: filepath.Join(dir, util.LabelsDir, id+".txt"),
	}
	for _, sub := range []string{util.PointsDir, util.ImagesDir, util.LabelsDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}

	f, err := os.Create(files.Points)
	require.NoError(t, err)
	require.NoError(t, pointcloud.WriteKITTI(f, pointcloud.Cloud{
		{X: 3.2, Y: -1.1, Z: 0, Intensity: 0.4},
		{X: 3.6, Y: -1.5, Z: 0.3, Intensity: 0.6},
		{X: 6.1, Y: 2.2, Z: -0.2, Intensity: 0.1},
	}))
	require.NoError(t, f.Close())

	img := image.NewRGBA(image.Rect(0, 0, 40, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: 100, B: uint8(y * 10), A: 255})
		}
	}
	f, err = os.Create(files.Image)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.NoError(t, os.WriteFile(files.Labels, []byte("3.4 -1.3 0.1 1.5 1.7 4.1 0.3\n"), 0o644))
	return files
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallConfig+extra), 0o644))
	return path
}

func TestDetect(t *testing.T) {
	files := writeFrame(t, t.TempDir(), "000001")
	cfg := writeConfig(t, "")

	var out bytes.Buffer
	err := run(context.Background(), []string{"fusion3d", "detect", "--config", cfg,
		"--points", files.Points, "--image", files.Image, "--labels", files.Labels}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "detections")
	assert.Contains(t, out.String(), "ground truth 1, AP")
}

func TestEvaluateWithSavedWeights(t *testing.T) {
	data := t.TempDir()
	writeFrame(t, data, "000001")
	writeFrame(t, data, "000002")
	weights := filepath.Join(t.TempDir(), "weights")

	var out bytes.Buffer
	err := run(context.Background(), []string{"fusion3d", "init-weights", "--config", writeConfig(t, ""), "--output", weights}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "parameters to "+weights)
	entries, err := os.ReadDir(weights)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	out.Reset()
	cfg := writeConfig(t, "weights: "+weights+"\n")
	err = run(context.Background(), []string{"fusion3d", "evaluate", "--config", cfg, "--data", data}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "frames 2,")
	assert.Contains(t, out.String(), "ground truth 2,")
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"fusion3d"}, &out))
	assert.Error(t, run(context.Background(), []string{"fusion3d", "detect", "--points", "a.bin"}, &out))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pc_voxel_size: [0, 1, 1]\n"), 0o644))
	err := run(context.Background(), []string{"fusion3d", "evaluate", "--config", bad, "--data", t.TempDir()}, &out)
	assert.ErrorContains(t, err, "invalid configuration")
}
