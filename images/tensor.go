package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Normalization holds per-channel RGB statistics on the 0-255 scale.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the standardization the camera branch is trained with.
var ImageNet = Normalization{
	Mean: [3]float32{123.675, 116.28, 103.53},
	Std:  [3]float32{58.395, 57.12, 57.375},
}

// ToTensor resizes img to width x height and converts it to a standardized CHW RGB tensor.
//
// The resize maps the full frame onto the target grid, so pixel column u lands on tensor column
// u*width/W regardless of aspect ratio.
//
// Arguments:
//   - img: The camera frame.
//   - width: Target columns.
//   - height: Target rows.
//   - norm: Channel statistics.
//
// Returns:
//   - []float32: The tensor laid out [3, height, width].
//   - error: A nil or empty image, or a non-positive target size.
//
// @example
//
//	data, err := images.ToTensor(frame, nx, ny, images.ImageNet)
func ToTensor(img image.Image, width, height int, norm Normalization) ([]float32, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if img.Bounds().Empty() {
		return nil, errors.New("image is empty")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}

	resized := img
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		resized = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	}

	bounds := resized.Bounds()
	plane := width * height
	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			out[i] = (float32(r>>8) - norm.Mean[0]) / norm.Std[0]
			out[plane+i] = (float32(g>>8) - norm.Mean[1]) / norm.Std[1]
			out[2*plane+i] = (float32(b>>8) - norm.Mean[2]) / norm.Std[2]
		}
	}
	return out, nil
}
