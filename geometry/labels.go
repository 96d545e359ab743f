package geometry

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// labelFields is the number of values per label row: x y z h w l yaw.
const labelFields = 7

// ReadBoxes parses ground-truth rows of whitespace separated "x y z h w l yaw" values in the
// LiDAR frame. Blank lines and lines starting with '#' are skipped.
//
// Arguments:
//   - r: The label text.
//
// Returns:
//   - []Box3D: The boxes in file order.
//   - error: A row with the wrong number of values or a value that is not a number.
func ReadBoxes(r io.Reader) ([]Box3D, error) {
	var boxes []Box3D
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != labelFields {
			return nil, errors.Errorf("line %d: %d values, want %d", line, len(fields), labelFields)
		}
		var v [labelFields]float32
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			v[i] = float32(x)
		}
		boxes = append(boxes, Box3D{X: v[0], Y: v[1], Z: v[2], H: v[3], W: v[4], L: v[5], Yaw: v[6]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	return boxes, nil
}

// ReadBoxesFile opens and parses a label file.
func ReadBoxesFile(path string) ([]Box3D, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	boxes, err := ReadBoxes(f)
	if err != nil {
		return nil, errors.Wrapf(err, "labels %s", path)
	}
	return boxes, nil
}
