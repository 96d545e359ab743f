// Package codec - provides the anchor encoding shared by target construction and decoding.
package codec

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/geometry"
)

// Positions of the values in one anchor prediction.
const (
	Conf = iota
	DX
	DY
	DZ
	DH
	DW
	DL
	YawSin
	YawCos
	// BoxLength is the number of values per anchor.
	BoxLength
)

// Anchor is the fixed box template (h, w, l) every prediction regresses against.
type Anchor struct {
	H float32
	W float32
	L float32
}

// Diagonal returns the footprint diagonal used to normalize planar offsets.
func (a Anchor) Diagonal() float32 {
	return math32.Sqrt(a.W*a.W + a.L*a.L)
}

// Codec converts between boxes and raw predictions for the cells of one grid. It is immutable
// and safe for concurrent use.
type Codec struct {
	anchor    Anchor
	diag      float32
	rangeMin  [2]float32
	voxelSize [2]float32
	nx, ny    int
	cz        float32
}

// New creates a codec.
//
// Arguments:
//   - anchor: The anchor template. Every dimension must be positive.
//   - pcRange: xmin, ymin, zmin, xmax, ymax, zmax of the grid.
//   - voxelSize: Edge lengths along x, y, z.
//
// Returns:
//   - *Codec: The codec.
//   - error: A degenerate anchor or grid.
func New(anchor Anchor, pcRange, voxelSize []float32) (*Codec, error) {
	if anchor.H <= 0 || anchor.W <= 0 || anchor.L <= 0 {
		return nil, errors.Errorf("anchor dimensions must be positive, got %+v", anchor)
	}
	diag := anchor.Diagonal()
	if diag <= 0 || math32.IsInf(diag, 0) {
		return nil, errors.Errorf("anchor diagonal %v cannot normalize offsets", diag)
	}
	if len(pcRange) != 6 || len(voxelSize) != 3 {
		return nil, errors.New("range needs 6 values and voxel size 3")
	}
	if voxelSize[0] <= 0 || voxelSize[1] <= 0 {
		return nil, errors.Errorf("voxel size %v is not positive", voxelSize)
	}

	c := &Codec{
		anchor:    anchor,
		diag:      diag,
		rangeMin:  [2]float32{pcRange[0], pcRange[1]},
		voxelSize: [2]float32{voxelSize[0], voxelSize[1]},
		nx:        int(math32.Round((pcRange[3] - pcRange[0]) / voxelSize[0])),
		ny:        int(math32.Round((pcRange[4] - pcRange[1]) / voxelSize[1])),
		cz:        (pcRange[2] + pcRange[5]) / 2,
	}
	if c.nx <= 0 || c.ny <= 0 {
		return nil, errors.Errorf("grid %dx%d is empty", c.nx, c.ny)
	}
	return c, nil
}

// NewFromConfig creates the codec for a validated configuration.
func NewFromConfig(cfg *config.Config) (*Codec, error) {
	h, w, l := cfg.Anchor()
	return New(Anchor{H: h, W: w, L: l}, cfg.PCRange, cfg.PCVoxelSize)
}

// Anchor returns the anchor template.
func (c *Codec) Anchor() Anchor {
	return c.anchor
}

// Dims returns the number of cells along x and y.
func (c *Codec) Dims() (nx, ny int) {
	return c.nx, c.ny
}

// CellCenter returns the world-space center of cell (ix, iy). The vertical center is the middle
// of the range, the grid having a single vertical bin.
func (c *Codec) CellCenter(ix, iy int) (cx, cy, cz float32) {
	cx = c.rangeMin[0] + (float32(ix)+0.5)*c.voxelSize[0]
	cy = c.rangeMin[1] + (float32(iy)+0.5)*c.voxelSize[1]
	return cx, cy, c.cz
}

// CellOf returns the cell containing (x, y), or false when it lies outside the grid.
func (c *Codec) CellOf(x, y float32) (ix, iy int, ok bool) {
	fx := math32.Floor((x - c.rangeMin[0]) / c.voxelSize[0])
	fy := math32.Floor((y - c.rangeMin[1]) / c.voxelSize[1])
	if !(fx >= 0 && fx < float32(c.nx) && fy >= 0 && fy < float32(c.ny)) {
		return 0, 0, false
	}
	return int(fx), int(fy), true
}

// Encode returns the regression target of box relative to the anchor at cell (ix, iy). The
// confidence slot holds the positive label 1.
func (c *Codec) Encode(box geometry.Box3D, ix, iy int) [BoxLength]float32 {
	cx, cy, cz := c.CellCenter(ix, iy)
	sin, cos := math32.Sincos(box.Yaw)

	var t [BoxLength]float32
	t[Conf] = 1
	t[DX] = (box.X - cx) / c.diag
	t[DY] = (box.Y - cy) / c.diag
	t[DZ] = (box.Z - cz) / c.anchor.H
	t[DH] = math32.Log(box.H / c.anchor.H)
	t[DW] = math32.Log(box.W / c.anchor.W)
	t[DL] = math32.Log(box.L / c.anchor.L)
	t[YawSin] = sin
	t[YawCos] = cos
	return t
}

// Decode inverts Encode for the raw prediction of cell (ix, iy). raw holds BoxLength values
// with the confidence as a logit.
//
// Returns:
//   - geometry.Box3D: The decoded box.
//   - float32: sigmoid of the confidence logit.
func (c *Codec) Decode(raw []float32, ix, iy int) (geometry.Box3D, float32) {
	cx, cy, cz := c.CellCenter(ix, iy)
	box := geometry.Box3D{
		X:   cx + raw[DX]*c.diag,
		Y:   cy + raw[DY]*c.diag,
		Z:   cz + raw[DZ]*c.anchor.H,
		H:   math32.Exp(raw[DH]) * c.anchor.H,
		W:   math32.Exp(raw[DW]) * c.anchor.W,
		L:   math32.Exp(raw[DL]) * c.anchor.L,
		Yaw: math32.Atan2(raw[YawSin], raw[YawCos]),
	}
	return box, Sigmoid(raw[Conf])
}

// Sigmoid maps a logit to a probability without overflowing for large magnitudes.
func Sigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}
