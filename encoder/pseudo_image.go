package encoder

import (
	"gorgonia.org/tensor"
)

// PseudoImage is the dense bird's-eye feature map laid out [Channels, Height, Width], where
// Height runs along y and Width along x. Cells without a voxel are zero.
type PseudoImage struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewPseudoImage allocates a zeroed map.
func NewPseudoImage(channels, height, width int) *PseudoImage {
	return &PseudoImage{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// Scatter writes a voxel's features into its (iy, ix) cell, keeping the element-wise maximum
// when several vertical bins share the cell.
func (p *PseudoImage) Scatter(coord [3]int, features []float32) {
	ix, iy := coord[0], coord[1]
	plane := p.Height * p.Width
	off := iy*p.Width + ix
	for c, f := range features {
		if f > p.Data[c*plane+off] {
			p.Data[c*plane+off] = f
		}
	}
}

// At returns the feature of channel c at cell (iy, ix).
func (p *PseudoImage) At(c, iy, ix int) float32 {
	return p.Data[(c*p.Height+iy)*p.Width+ix]
}

// Tensor views the map as a [1, C, H, W] tensor sharing Data.
func (p *PseudoImage) Tensor() *tensor.Dense {
	return tensor.New(tensor.WithShape(1, p.Channels, p.Height, p.Width), tensor.WithBacking(p.Data))
}
