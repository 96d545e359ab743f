// Package voxel - discretizes point clouds into a bounded, deterministic voxel grid.
package voxel

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/pointcloud"
	"github.com/nvr-ai/go-fusion3d/util"
)

// Voxel is one occupied grid cell and the points retained in it.
type Voxel struct {
	// Coord is (ix, iy, iz).
	Coord [3]int
	// Points are the first points seen in this cell, at most the per-voxel cap.
	Points []pointcloud.Point
}

// Count returns the number of retained points.
func (v Voxel) Count() int {
	return len(v.Points)
}

// Stats counts the points a build discarded. Every discard is a deliberate capacity or
// range policy, not an error.
type Stats struct {
	// InputPoints is the size of the input cloud.
	InputPoints int
	// OutOfRange points fell outside the grid.
	OutOfRange int
	// Truncated points arrived after their voxel was full.
	Truncated int
	// Overflow points belonged to voxels that were never created because the voxel cap was hit.
	Overflow int
}

// Kept returns the number of points present in the grid.
func (s Stats) Kept() int {
	return s.InputPoints - s.OutOfRange - s.Truncated - s.Overflow
}

// Grid is the voxelized frame. Voxels are in first-seen order and their coordinates are unique.
type Grid struct {
	Voxels    []Voxel
	Dims      [3]int
	RangeMin  [3]float32
	VoxelSize [3]float32
	MaxPoints int
	Stats     Stats
}

// Len returns the number of voxels.
func (g *Grid) Len() int {
	return len(g.Voxels)
}

// Center returns the world-space center of the cell at coord.
func (g *Grid) Center(coord [3]int) [3]float32 {
	var c [3]float32
	for i := 0; i < 3; i++ {
		c[i] = g.RangeMin[i] + (float32(coord[i])+0.5)*g.VoxelSize[i]
	}
	return c
}

// Builder voxelizes clouds for a fixed range, voxel size and pair of caps. It is immutable
// and safe for concurrent use.
type Builder struct {
	rangeMin  [3]float32
	voxelSize [3]float32
	dims      [3]int
	maxVoxels int
	maxPoints int
}

// NewBuilder creates a builder.
//
// Arguments:
//   - pcRange: xmin, ymin, zmin, xmax, ymax, zmax.
//   - voxelSize: Edge lengths along x, y, z.
//   - maxVoxels: Cap on voxels per frame.
//   - maxPoints: Cap on points per voxel.
//
// Returns:
//   - *Builder: The builder.
//   - error: The parameters describe an empty or degenerate grid.
func NewBuilder(pcRange, voxelSize []float32, maxVoxels, maxPoints int) (*Builder, error) {
	if len(pcRange) != 6 || len(voxelSize) != 3 {
		return nil, errors.Errorf("range needs 6 values and voxel size 3, got %d and %d",
			len(pcRange), len(voxelSize))
	}
	if maxVoxels <= 0 || maxPoints <= 0 {
		return nil, errors.Errorf("caps must be positive, got %d voxels and %d points", maxVoxels, maxPoints)
	}

	b := &Builder{maxVoxels: maxVoxels, maxPoints: maxPoints}
	for i := 0; i < 3; i++ {
		if voxelSize[i] <= 0 {
			return nil, errors.Errorf("voxel size along axis %d is %v", i, voxelSize[i])
		}
		b.rangeMin[i] = pcRange[i]
		b.voxelSize[i] = voxelSize[i]
		b.dims[i] = int(math32.Round((pcRange[i+3] - pcRange[i]) / voxelSize[i]))
		if b.dims[i] <= 0 {
			return nil, errors.Errorf("grid dimension along axis %d is %d", i, b.dims[i])
		}
	}
	return b, nil
}

// NewBuilderFromConfig creates a builder from a validated configuration.
func NewBuilderFromConfig(cfg *config.Config) (*Builder, error) {
	return NewBuilder(cfg.PCRange, cfg.PCVoxelSize, cfg.PCMaxNumVoxels, cfg.PCMaxNumPointsPerVoxel)
}

// Dims returns the grid size along x, y and z.
func (b *Builder) Dims() [3]int {
	return b.dims
}

// Index returns the voxel coordinates of p, or false when p lies outside the grid.
func (b *Builder) Index(p pointcloud.Point) ([3]int, bool) {
	var coord [3]int
	for i, v := range [3]float32{p.X, p.Y, p.Z} {
		f := math32.Floor((v - b.rangeMin[i]) / b.voxelSize[i])
		// Written to also reject NaN.
		if !(f >= 0 && f < float32(b.dims[i])) {
			return coord, false
		}
		coord[i] = int(f)
	}
	return coord, true
}

// Build voxelizes points. Points are grouped per voxel in first-seen order; each voxel keeps its
// first maxPoints points and only the first maxVoxels distinct voxels are created. An empty cloud
// yields an empty grid.
//
// Arguments:
//   - points: The frame's cloud. It is not modified.
//
// Returns:
//   - *Grid: The voxel grid and its discard counters.
func (b *Builder) Build(points pointcloud.Cloud) *Grid {
	grid := &Grid{
		Dims:      b.dims,
		RangeMin:  b.rangeMin,
		VoxelSize: b.voxelSize,
		MaxPoints: b.maxPoints,
		Stats:     Stats{InputPoints: len(points)},
	}

	capHint := b.maxVoxels
	if len(points) < capHint {
		capHint = len(points)
	}
	slots := make(map[int]int, capHint)
	grid.Voxels = make([]Voxel, 0, capHint)

	nx, ny := b.dims[0], b.dims[1]
	for _, p := range points {
		coord, ok := b.Index(p)
		if !ok {
			grid.Stats.OutOfRange++
			continue
		}

		key := (coord[2]*ny+coord[1])*nx + coord[0]
		slot, seen := slots[key]
		if !seen {
			if len(grid.Voxels) >= b.maxVoxels {
				grid.Stats.Overflow++
				continue
			}
			slot = len(grid.Voxels)
			slots[key] = slot
			grid.Voxels = append(grid.Voxels, Voxel{Coord: coord})
		}

		v := &grid.Voxels[slot]
		if len(v.Points) >= b.maxPoints {
			grid.Stats.Truncated++
			continue
		}
		v.Points = append(v.Points, p)
	}

	if logging.DebugEnabled() && grid.Stats.Kept() != grid.Stats.InputPoints {
		logging.Debug(logging.Fields{
			"voxels":       len(grid.Voxels),
			"input_points": grid.Stats.InputPoints,
			"out_of_range": grid.Stats.OutOfRange,
			"truncated":    grid.Stats.Truncated,
			"overflow":     grid.Stats.Overflow,
		}, "voxel grid dropped points")
	}

	return grid
}

// BuildBatch voxelizes several frames concurrently. Frames share nothing but the builder.
//
// Arguments:
//   - clouds: One cloud per frame.
//   - workers: Maximum concurrent frames. Zero or less uses runtime.NumCPU.
//
// Returns:
//   - []*Grid: One grid per frame, in input order.
func (b *Builder) BuildBatch(clouds []pointcloud.Cloud, workers int) []*Grid {
	grids := make([]*Grid, len(clouds))
	util.Parallel(len(clouds), workers, func(start, end int) {
		for i := start; i < end; i++ {
			grids[i] = b.Build(clouds[i])
		}
	})
	return grids
}
