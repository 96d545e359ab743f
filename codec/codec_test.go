package codec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/geometry"
)

func defaultCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewFromConfig(config.Default())
	require.NoError(t, err)
	return c
}

// TestRoundTrip validates decode(encode(box)) recovers the box for random boxes with yaw in
// [-pi, pi] and positive size.
func TestRoundTrip(t *testing.T) {
	c := defaultCodec(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		box := geometry.Box3D{
			X:   rng.Float32() * 119.9,
			Y:   rng.Float32()*119.9 - 59.95,
			Z:   rng.Float32()*3 - 2.5,
			H:   0.5 + rng.Float32()*3,
			W:   0.5 + rng.Float32()*3,
			L:   0.5 + rng.Float32()*8,
			Yaw: (rng.Float32()*2 - 1) * math.Pi,
		}
		ix, iy, ok := c.CellOf(box.X, box.Y)
		require.True(t, ok, "box %d center should be in the grid", i)

		target := c.Encode(box, ix, iy)
		got, conf := c.Decode(target[:], ix, iy)

		assert.InDelta(t, box.X, got.X, 1e-4)
		assert.InDelta(t, box.Y, got.Y, 1e-4)
		assert.InDelta(t, box.Z, got.Z, 1e-5)
		assert.InDelta(t, box.H, got.H, 1e-5*float64(box.H))
		assert.InDelta(t, box.W, got.W, 1e-5*float64(box.W))
		assert.InDelta(t, box.L, got.L, 1e-5*float64(box.L))
		// Compare headings on the circle: -pi and pi are the same angle.
		assert.InDelta(t, math.Sin(float64(box.Yaw)), math.Sin(float64(got.Yaw)), 1e-5)
		assert.InDelta(t, math.Cos(float64(box.Yaw)), math.Cos(float64(got.Yaw)), 1e-5)
		assert.InDelta(t, 0.7310586, conf, 1e-6, "positive label 1 decodes through the sigmoid")
	}
}

// TestEncodeQuarterTurn checks yaw = pi/2 encodes to (1, 0) and decodes back to pi/2.
func TestEncodeQuarterTurn(t *testing.T) {
	c := defaultCodec(t)
	box := geometry.Box3D{X: 10, Y: 0, Z: -1, H: 1.56, W: 1.6, L: 3.9, Yaw: math.Pi / 2}
	ix, iy, ok := c.CellOf(box.X, box.Y)
	require.True(t, ok)

	target := c.Encode(box, ix, iy)
	assert.InDelta(t, 1.0, target[YawSin], 1e-6)
	assert.InDelta(t, 0.0, target[YawCos], 1e-6)
	// Anchor-sized box encodes to zero log ratios.
	assert.InDelta(t, 0.0, target[DH], 1e-6)
	assert.InDelta(t, 0.0, target[DW], 1e-6)
	assert.InDelta(t, 0.0, target[DL], 1e-6)

	got, _ := c.Decode(target[:], ix, iy)
	assert.InDelta(t, math.Pi/2, got.Yaw, 1e-6)
}

// TestEncodeFormulas checks each target component against its definition.
func TestEncodeFormulas(t *testing.T) {
	anchor := Anchor{H: 2, W: 3, L: 4}
	c, err := New(anchor, []float32{0, 0, -2, 10, 10, 2}, []float32{1, 1, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, anchor.Diagonal(), 1e-6)

	cx, cy, cz := c.CellCenter(3, 7)
	assert.Equal(t, [3]float32{3.5, 7.5, 0}, [3]float32{cx, cy, cz})

	box := geometry.Box3D{X: 4, Y: 6.5, Z: 1, H: 4, W: 3, L: 2, Yaw: 0}
	target := c.Encode(box, 3, 7)
	assert.InDelta(t, 0.1, target[DX], 1e-6)  // (4-3.5)/5
	assert.InDelta(t, -0.2, target[DY], 1e-6) // (6.5-7.5)/5
	assert.InDelta(t, 0.5, target[DZ], 1e-6)  // (1-0)/2
	assert.InDelta(t, math.Log(2), target[DH], 1e-6)
	assert.InDelta(t, 0.0, target[DW], 1e-6)
	assert.InDelta(t, math.Log(0.5), target[DL], 1e-6)
	assert.InDelta(t, 0.0, target[YawSin], 1e-6)
	assert.InDelta(t, 1.0, target[YawCos], 1e-6)
}

// TestCellOf checks cell lookup at the grid edges.
func TestCellOf(t *testing.T) {
	c, err := New(Anchor{1, 1, 1}, []float32{0, -4, -2, 8, 4, 2}, []float32{1, 1, 4})
	require.NoError(t, err)
	nx, ny := c.Dims()
	assert.Equal(t, 8, nx)
	assert.Equal(t, 8, ny)

	ix, iy, ok := c.CellOf(0, -4)
	assert.True(t, ok)
	assert.Equal(t, [2]int{0, 0}, [2]int{ix, iy})

	ix, iy, ok = c.CellOf(7.99, 3.99)
	assert.True(t, ok)
	assert.Equal(t, [2]int{7, 7}, [2]int{ix, iy})

	for _, p := range [][2]float32{{8, 0}, {-0.01, 0}, {1, 4}, {1, float32(math.NaN())}} {
		_, _, ok = c.CellOf(p[0], p[1])
		assert.False(t, ok, "point %v is outside the grid", p)
	}
}

// TestSigmoid checks the probability mapping and its stability at large magnitudes.
func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-7)
	assert.InDelta(t, 1.0, Sigmoid(100), 1e-7)
	assert.InDelta(t, 0.0, Sigmoid(-100), 1e-7)
	assert.False(t, math.IsNaN(float64(Sigmoid(-1000))))
	assert.InDelta(t, 1-Sigmoid(2), Sigmoid(-2), 1e-7)
}

// TestNewRejectsDegenerateAnchors checks anchor degeneracy is a construction error.
func TestNewRejectsDegenerateAnchors(t *testing.T) {
	r := []float32{0, 0, 0, 10, 10, 1}
	v := []float32{1, 1, 1}
	for _, a := range []Anchor{{0, 1, 1}, {1, 0, 1}, {1, 1, -1}} {
		_, err := New(a, r, v)
		assert.Error(t, err, "anchor %+v", a)
	}
	_, err := New(Anchor{1, 1, 1}, r, []float32{0, 1, 1})
	assert.Error(t, err)
	_, err = New(Anchor{1, 1, 1}, []float32{0, 0, 0, 0, 10, 1}, v)
	assert.Error(t, err)
}
