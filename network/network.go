// Package network - compute backends running the encoder, fusion backbone and head.
package network

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/voxel"
)

// ErrShapeMismatch is returned when an input or output does not have the layout the backend
// was built for.
var ErrShapeMismatch = errors.New("shape mismatch")

// Input is one frame's network input.
type Input struct {
	// Grid is the voxelized point cloud.
	Grid *voxel.Grid
	// Image is the camera frame at native resolution.
	Image image.Image
}

// Backend runs the dense part of the detector.
type Backend interface {
	// Forward computes the raw predictions of one frame.
	Forward(ctx context.Context, in Input) (*head.RawPredictions, error)
	// Close releases backend resources.
	Close() error
}

// CheckInput validates in against a grid of dims.
func CheckInput(in Input, dims [3]int) error {
	if in.Grid == nil {
		return errors.New("voxel grid is nil")
	}
	if in.Image == nil {
		return errors.New("camera image is nil")
	}
	if in.Grid.Dims != dims {
		return errors.Wrapf(ErrShapeMismatch, "grid is %v, backend expects %v", in.Grid.Dims, dims)
	}
	return nil
}
