package geometry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBoxes(t *testing.T) {
	text := `# x y z h w l yaw
10.5 -2 -0.8 1.5 1.6 3.9 0.1

  20 4.25 -1 1.4 1.7 4.2 -1.5708
`
	boxes, err := ReadBoxes(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, []Box3D{
		{X: 10.5, Y: -2, Z: -0.8, H: 1.5, W: 1.6, L: 3.9, Yaw: 0.1},
		{X: 20, Y: 4.25, Z: -1, H: 1.4, W: 1.7, L: 4.2, Yaw: -1.5708},
	}, boxes)

	boxes, err = ReadBoxes(strings.NewReader("# nothing\n"))
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestReadBoxesRejectsMalformedRows(t *testing.T) {
	for name, text := range map[string]string{
		"short":  "1 2 3 4 5 6\n",
		"long":   "1 2 3 4 5 6 7 8\n",
		"number": "1 2 3 4 five 6 7\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadBoxes(strings.NewReader(text))
			assert.ErrorContains(t, err, "line 1")
		})
	}
}

func TestReadBoxesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 2 3 1.5 1.6 3.9 0\n"), 0o644))
	boxes, err := ReadBoxesFile(path)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, float32(3.9), boxes[0].L)

	_, err = ReadBoxesFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
