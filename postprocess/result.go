// Package postprocess - decoding, thresholding and rotated non-maximum suppression of raw
// predictions.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/go-fusion3d/geometry"
)

// Detection is a decoded box and its confidence.
type Detection struct {
	// The oriented box.
	Box geometry.Box3D
	// The sigmoid of the confidence logit.
	Confidence float32
}

// String formats the detection for logs and the CLI.
func (d Detection) String() string {
	b := d.Box
	return fmt.Sprintf("conf=%.3f center=(%.2f, %.2f, %.2f) size=(h %.2f, w %.2f, l %.2f) yaw=%.3f",
		d.Confidence, b.X, b.Y, b.Z, b.H, b.W, b.L, b.Yaw)
}

// DetectionResult is the detections of one frame ordered by descending confidence.
type DetectionResult []Detection

// Boxes returns the boxes in order.
func (r DetectionResult) Boxes() []geometry.Box3D {
	boxes := make([]geometry.Box3D, len(r))
	for i, d := range r {
		boxes[i] = d.Box
	}
	return boxes
}
