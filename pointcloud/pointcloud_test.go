package pointcloud

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKITTIRoundTrip validates that a written scan reads back point for point.
func TestKITTIRoundTrip(t *testing.T) {
	cloud := Cloud{
		{X: 1.5, Y: -2.25, Z: 0.5, Intensity: 0.1},
		{X: 60, Y: 0, Z: -1.75, Intensity: 0.9},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteKITTI(&buf, cloud))
	assert.Equal(t, 32, buf.Len())

	got, err := ReadKITTI(&buf)
	require.NoError(t, err)
	assert.Equal(t, cloud, got)
}

// TestReadKITTIEdgeCases checks empty and truncated scans.
func TestReadKITTIEdgeCases(t *testing.T) {
	got, err := ReadKITTI(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadKITTI(bytes.NewReader(make([]byte, 20)))
	assert.Error(t, err)
}

// TestRangeContains checks the half-open bounds used by voxelization.
func TestRangeContains(t *testing.T) {
	r, err := NewRange([]float32{0, -10, -3, 10, 10, 1})
	require.NoError(t, err)

	assert.True(t, r.Contains(Point{X: 0, Y: -10, Z: -3}))
	assert.False(t, r.Contains(Point{X: 10, Y: 0, Z: 0}))
	assert.False(t, r.Contains(Point{X: 5, Y: 0, Z: 1}))
	assert.False(t, r.Contains(Point{X: -0.01, Y: 0, Z: 0}))

	cloud := Cloud{{X: 1}, {X: 11}, {X: 2, Y: 3}}
	assert.Equal(t, Cloud{{X: 1}, {X: 2, Y: 3}}, cloud.Crop(r))

	_, err = NewRange([]float32{1, 2, 3})
	assert.Error(t, err)
}

// TestFromFloat32s checks the flat layout conversion.
func TestFromFloat32s(t *testing.T) {
	got, err := FromFloat32s([]float32{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, Cloud{{1, 2, 3, 4}, {5, 6, 7, 8}}, got)

	_, err = FromFloat32s([]float32{1, 2, 3})
	assert.Error(t, err)
}
