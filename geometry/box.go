// Package geometry - provides oriented 3D boxes and rotated overlap measures.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

// Box3D is an oriented box in the ego frame. L is the extent along the heading, W across it and
// H vertical. (X, Y, Z) is the box center and Yaw the heading around +z, counterclockwise
// from +x.
type Box3D struct {
	X   float32
	Y   float32
	Z   float32
	H   float32
	W   float32
	L   float32
	Yaw float32
}

// Footprint returns the bird's-eye-view rectangle as a closed counterclockwise ring.
func (b Box3D) Footprint() orb.Ring {
	sin, cos := math.Sincos(float64(b.Yaw))
	hl, hw := float64(b.L)/2, float64(b.W)/2
	cx, cy := float64(b.X), float64(b.Y)

	local := [4][2]float64{{hl, -hw}, {hl, hw}, {-hl, hw}, {-hl, -hw}}
	ring := make(orb.Ring, 0, 5)
	for _, c := range local {
		ring = append(ring, orb.Point{
			cx + c[0]*cos - c[1]*sin,
			cy + c[0]*sin + c[1]*cos,
		})
	}
	return append(ring, ring[0])
}

// Bound returns the axis-aligned bounds of the footprint.
func (b Box3D) Bound() orb.Bound {
	return b.Footprint().Bound()
}

// Area returns the footprint area.
func (b Box3D) Area() float64 {
	return float64(b.W) * float64(b.L)
}

// Volume returns the box volume.
func (b Box3D) Volume() float64 {
	return b.Area() * float64(b.H)
}
