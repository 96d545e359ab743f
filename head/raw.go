package head

import (
	"github.com/pkg/errors"
)

// RawPredictions is the head output laid out (H, W, A, BoxLength). Per anchor the values are
// (confidence logit, dx, dy, dz, dh, dw, dl, yaw sin, yaw cos); nothing is activated.
type RawPredictions struct {
	Height    int
	Width     int
	Anchors   int
	BoxLength int
	Data      []float32
}

// NewRawPredictions allocates a zeroed prediction grid.
func NewRawPredictions(height, width, anchors, boxLength int) *RawPredictions {
	return &RawPredictions{
		Height:    height,
		Width:     width,
		Anchors:   anchors,
		BoxLength: boxLength,
		Data:      make([]float32, height*width*anchors*boxLength),
	}
}

// FromCHW reorders a channel-major [A*BoxLength, H, W] map into a prediction grid. Channel
// a*BoxLength+k holds value k of anchor a.
//
// Arguments:
//   - data: The channel-major map.
//   - anchors: Anchors per cell.
//   - boxLength: Values per anchor.
//   - height, width: Spatial size.
//
// Returns:
//   - *RawPredictions: The reordered grid.
//   - error: data does not hold exactly A*BoxLength*H*W values.
func FromCHW(data []float32, anchors, boxLength, height, width int) (*RawPredictions, error) {
	channels := anchors * boxLength
	if len(data) != channels*height*width {
		return nil, errors.Errorf("prediction map has %d values, want %dx%dx%d",
			len(data), channels, height, width)
	}

	out := NewRawPredictions(height, width, anchors, boxLength)
	plane := height * width
	for c := 0; c < channels; c++ {
		a, k := c/boxLength, c%boxLength
		src := data[c*plane : (c+1)*plane]
		for iy := 0; iy < height; iy++ {
			for ix := 0; ix < width; ix++ {
				out.Data[((iy*width+ix)*anchors+a)*boxLength+k] = src[iy*width+ix]
			}
		}
	}
	return out, nil
}

// At returns the values of anchor a at cell (iy, ix). The slice aliases the grid.
func (r *RawPredictions) At(iy, ix, a int) []float32 {
	off := ((iy*r.Width+ix)*r.Anchors + a) * r.BoxLength
	return r.Data[off : off+r.BoxLength : off+r.BoxLength]
}

// Sites returns the number of (cell, anchor) prediction sites.
func (r *RawPredictions) Sites() int {
	return r.Height * r.Width * r.Anchors
}

// CheckShape reports whether the grid has the expected layout.
func (r *RawPredictions) CheckShape(height, width, anchors, boxLength int) error {
	if r == nil {
		return errors.New("raw predictions are nil")
	}
	if r.Height != height || r.Width != width || r.Anchors != anchors || r.BoxLength != boxLength {
		return errors.Errorf("raw predictions are (%d, %d, %d, %d), want (%d, %d, %d, %d)",
			r.Height, r.Width, r.Anchors, r.BoxLength, height, width, anchors, boxLength)
	}
	if len(r.Data) != height*width*anchors*boxLength {
		return errors.Errorf("raw predictions hold %d values, want %d",
			len(r.Data), height*width*anchors*boxLength)
	}
	return nil
}
