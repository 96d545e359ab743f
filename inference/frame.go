package inference

import (
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/images"
	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/util"
)

// Frame is one synchronized camera and LiDAR capture. GroundTruth is only read by Loss and
// Evaluate.
type Frame struct {
	Points      pointcloud.Cloud
	Image       image.Image
	GroundTruth []geometry.Box3D
}

// LoadFrame reads the scan, image and, when present, labels of one frame.
//
// Arguments:
//   - files: The frame's files.
//
// Returns:
//   - Frame: The decoded frame.
//   - error: A file is missing or malformed.
func LoadFrame(files util.FrameFiles) (Frame, error) {
	var (
		f   Frame
		err error
	)
	if f.Points, err = pointcloud.ReadKITTIFile(files.Points); err != nil {
		return Frame{}, err
	}
	if f.Image, err = images.Load(files.Image); err != nil {
		return Frame{}, err
	}
	if files.Labels != "" {
		if f.GroundTruth, err = geometry.ReadBoxesFile(files.Labels); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// LoadFrames reads every frame of a dataset split.
//
// Arguments:
//   - dir: Directory laid out as util.LoadDirectoryFrameFiles expects.
//   - workers: Frames decoded concurrently. Zero or less uses runtime.NumCPU.
//
// Returns:
//   - []Frame: Frames in frame-number order.
//   - error: The first failure, by frame order.
func LoadFrames(dir string, workers int) ([]Frame, error) {
	files, err := util.LoadDirectoryFrameFiles(dir)
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, len(files))
	errs := make([]error, len(files))
	util.Parallel(len(files), workers, func(start, end int) {
		for i := start; i < end; i++ {
			frames[i], errs[i] = LoadFrame(files[i])
		}
	})
	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "frame %06d", files[i].Frame)
		}
	}
	return frames, nil
}
