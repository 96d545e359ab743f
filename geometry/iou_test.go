package geometry

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRotatedIoU_Correctness validates rotated IoU against closed-form cases.
func TestRotatedIoU_Correctness(t *testing.T) {
	car := Box3D{X: 10, Y: -3, Z: -1, H: 1.5, W: 2, L: 4}

	tests := []struct {
		name     string
		a        Box3D
		b        Box3D
		expected float32
		epsilon  float32
	}{
		{
			name:     "Identical boxes",
			a:        car,
			b:        car,
			expected: 1.0,
			epsilon:  1e-5,
		},
		{
			name:     "Disjoint boxes",
			a:        car,
			b:        Box3D{X: 30, Y: 10, H: 1.5, W: 2, L: 4},
			expected: 0.0,
			epsilon:  1e-6,
		},
		{
			name:     "Half overlap along heading",
			a:        Box3D{W: 2, L: 4},
			b:        Box3D{X: 2, W: 2, L: 4},
			expected: 1.0 / 3.0, // intersection=4, union=8+8-4=12
			epsilon:  1e-5,
		},
		{
			name:     "Longer box at the same place",
			a:        Box3D{W: 2, L: 4},
			b:        Box3D{W: 2, L: 5},
			expected: 0.8, // intersection=8, union=10
			epsilon:  1e-5,
		},
		{
			name:     "Heading flipped by pi",
			a:        Box3D{X: 1, Y: 2, W: 1.6, L: 3.9, Yaw: 0.3},
			b:        Box3D{X: 1, Y: 2, W: 1.6, L: 3.9, Yaw: 0.3 + math.Pi},
			expected: 1.0,
			epsilon:  1e-5,
		},
		{
			name:     "Square rotated a quarter turn",
			a:        Box3D{W: 2, L: 2},
			b:        Box3D{W: 2, L: 2, Yaw: math.Pi / 2},
			expected: 1.0,
			epsilon:  1e-5,
		},
		{
			name:     "Square rotated 45 degrees",
			a:        Box3D{W: 2, L: 2},
			b:        Box3D{W: 2, L: 2, Yaw: math.Pi / 4},
			expected: float32(math.Sqrt2 / 2), // octagon 8(sqrt2-1) over 8-8(sqrt2-1)
			epsilon:  1e-5,
		},
		{
			name:     "Crossed boxes",
			a:        Box3D{W: 2, L: 4},
			b:        Box3D{W: 2, L: 4, Yaw: math.Pi / 2},
			expected: 4.0 / 12.0, // intersection=2x2, union=8+8-4
			epsilon:  1e-5,
		},
		{
			name:     "Touching edges",
			a:        Box3D{W: 2, L: 4},
			b:        Box3D{X: 4, W: 2, L: 4},
			expected: 0.0,
			epsilon:  1e-6,
		},
		{
			name:     "Degenerate box",
			a:        Box3D{W: 0, L: 4},
			b:        Box3D{W: 2, L: 4},
			expected: 0.0,
			epsilon:  1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RotatedIoU(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, float64(tt.epsilon))

			// IoU(A, B) should equal IoU(B, A).
			assert.InDelta(t, result, RotatedIoU(tt.b, tt.a), 1e-5)
		})
	}
}

// TestFootprint checks the corner layout and winding of the footprint ring.
func TestFootprint(t *testing.T) {
	box := Box3D{X: 1, Y: 1, W: 2, L: 4, Yaw: math.Pi / 2}
	ring := box.Footprint()

	require.Len(t, ring, 5)
	assert.True(t, ring.Closed())
	assert.Equal(t, orb.CCW, ring.Orientation())
	assert.InDelta(t, 8.0, planar.Area(ring), 1e-9)

	bound := box.Bound()
	assert.InDelta(t, 0.0, bound.Min[0], 1e-9)
	assert.InDelta(t, 2.0, bound.Max[0], 1e-9)
	assert.InDelta(t, -1.0, bound.Min[1], 1e-9)
	assert.InDelta(t, 3.0, bound.Max[1], 1e-9)
}

// TestClip checks Sutherland–Hodgman clipping of overlapping and disjoint rings.
func TestClip(t *testing.T) {
	square := orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	shifted := orb.Ring{{1, 1}, {3, 1}, {3, 3}, {1, 3}, {1, 1}}
	far := orb.Ring{{5, 5}, {6, 5}, {6, 6}, {5, 6}, {5, 5}}

	inter := Clip(square, shifted)
	require.NotNil(t, inter)
	assert.True(t, inter.Closed())
	assert.InDelta(t, 1.0, planar.Area(inter), 1e-9)

	assert.Nil(t, Clip(square, far))
}

// TestIoU3D validates the volumetric overlap.
func TestIoU3D(t *testing.T) {
	a := Box3D{W: 2, L: 4, H: 2}
	assert.InDelta(t, 1.0, IoU3D(a, a), 1e-5)

	// Same footprint, half the height shared: inter=8, union=16+16-8.
	b := a
	b.Z = 1
	assert.InDelta(t, 1.0/3.0, IoU3D(a, b), 1e-5)

	c := a
	c.Z = 5
	assert.Equal(t, float32(0), IoU3D(a, c))
}
