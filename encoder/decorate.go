package encoder

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/voxel"
)

// BaseFeatures is the width of a decorated point without the distance feature:
// x, y, z, intensity, the offset from the voxel centroid and the xy offset from the pillar center.
const BaseFeatures = 9

// PillarBatch is a grid's decorated points, padded to the same number of rows per voxel.
type PillarBatch struct {
	// Voxels, Pad and Features give the layout [Voxels, Pad, Features] of Data.
	Voxels   int
	Pad      int
	Features int
	Data     []float32
	// Mask is 1 for rows holding a point and 0 for padding, laid out [Voxels, Pad].
	Mask []float32
	// Coords are the voxel coordinates, in grid order.
	Coords [][3]int
}

// FeatureWidth returns the decorated point width.
func FeatureWidth(withDistance bool) int {
	if withDistance {
		return BaseFeatures + 1
	}
	return BaseFeatures
}

// Decorate expands every retained point into its feature row.
//
// Arguments:
//   - grid: The voxelized frame.
//   - withDistance: Append the point's distance from the sensor origin.
//   - pad: Rows per voxel. Zero or less pads to the fullest voxel of the grid.
//
// Returns:
//   - *PillarBatch: The decorated points.
//   - error: A voxel holds more than pad points.
func Decorate(grid *voxel.Grid, withDistance bool, pad int) (*PillarBatch, error) {
	if pad <= 0 {
		pad = 1
		for _, v := range grid.Voxels {
			if v.Count() > pad {
				pad = v.Count()
			}
		}
	}

	width := FeatureWidth(withDistance)
	n := grid.Len()
	b := &PillarBatch{
		Voxels:   n,
		Pad:      pad,
		Features: width,
		Data:     make([]float32, n*pad*width),
		Mask:     make([]float32, n*pad),
		Coords:   make([][3]int, n),
	}

	for i, v := range grid.Voxels {
		if v.Count() > pad {
			return nil, errors.Errorf("voxel %v holds %d points, pad is %d", v.Coord, v.Count(), pad)
		}
		b.Coords[i] = v.Coord
		centroid := mean(v.Points)
		center := grid.Center(v.Coord)

		for j, p := range v.Points {
			row := b.Data[(i*pad+j)*width : (i*pad+j+1)*width]
			pos := p.Vector()
			off := pos.Sub(centroid)
			row[0], row[1], row[2], row[3] = p.X, p.Y, p.Z, p.Intensity
			row[4], row[5], row[6] = float32(off.X), float32(off.Y), float32(off.Z)
			row[7], row[8] = p.X-center[0], p.Y-center[1]
			if withDistance {
				row[9] = float32(pos.Norm())
			}
			b.Mask[i*pad+j] = 1
		}
	}
	return b, nil
}

func mean(points []pointcloud.Point) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p.Vector())
	}
	if len(points) == 0 {
		return sum
	}
	return sum.Mul(1 / float64(len(points)))
}
