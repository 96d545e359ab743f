package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Clip intersects subject with the convex counterclockwise ring clip using Sutherland–Hodgman
// clipping. Both rings are closed; the result is closed, or empty when the two do not overlap.
//
// Arguments:
//   - subject: Any simple ring.
//   - clip: A convex, counterclockwise ring.
//
// Returns:
//   - orb.Ring: The intersection polygon.
func Clip(subject, clip orb.Ring) orb.Ring {
	output := open(subject)
	edges := open(clip)

	for i := range edges {
		if len(output) == 0 {
			break
		}
		c1, c2 := edges[i], edges[(i+1)%len(edges)]

		input := output
		output = make([]orb.Point, 0, len(input)+2)
		s := input[len(input)-1]
		for _, e := range input {
			sIn := side(c1, c2, s) >= 0
			eIn := side(c1, c2, e) >= 0
			switch {
			case eIn && !sIn:
				output = append(output, intersect(c1, c2, s, e), e)
			case eIn:
				output = append(output, e)
			case sIn:
				output = append(output, intersect(c1, c2, s, e))
			}
			s = e
		}
	}

	if len(output) < 3 {
		return nil
	}
	return append(orb.Ring(output), output[0])
}

// open drops a closed ring's repeated last point.
func open(r orb.Ring) []orb.Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

// side is the cross product of (b-a) and (p-a); positive when p is left of a->b.
func side(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

// intersect returns where segment s->e crosses the line through a and b. s and e lie on
// opposite sides of the line.
func intersect(a, b, s, e orb.Point) orb.Point {
	ds, de := side(a, b, s), side(a, b, e)
	t := ds / (ds - de)
	return orb.Point{s[0] + t*(e[0]-s[0]), s[1] + t*(e[1]-s[1])}
}

// BEVIntersection returns the area shared by the two footprints.
func BEVIntersection(a, b Box3D) float64 {
	if a.Area() <= 0 || b.Area() <= 0 {
		return 0
	}
	if !a.Bound().Intersects(b.Bound()) {
		return 0
	}
	inter := Clip(a.Footprint(), b.Footprint())
	if inter == nil {
		return 0
	}
	return math.Abs(planar.Area(inter))
}

// RotatedIoU returns the bird's-eye-view intersection over union of two oriented boxes,
// accounting for yaw. Degenerate boxes have an IoU of 0.
func RotatedIoU(a, b Box3D) float32 {
	inter := BEVIntersection(a, b)
	union := a.Area() + b.Area() - inter
	if inter <= 0 || union <= 0 {
		return 0
	}
	return float32(math.Min(1, inter/union))
}

// IoU3D returns the volumetric intersection over union: the footprint intersection times the
// vertical overlap, over the union of both volumes.
func IoU3D(a, b Box3D) float32 {
	top := math.Min(float64(a.Z+a.H/2), float64(b.Z+b.H/2))
	bottom := math.Max(float64(a.Z-a.H/2), float64(b.Z-b.H/2))
	if top <= bottom {
		return 0
	}
	inter := BEVIntersection(a, b) * (top - bottom)
	union := a.Volume() + b.Volume() - inter
	if inter <= 0 || union <= 0 {
		return 0
	}
	return float32(math.Min(1, inter/union))
}
