// Package pointcloud - provides LiDAR point types and frame readers.
package pointcloud

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Point is one LiDAR return in the ego frame.
type Point struct {
	X         float32
	Y         float32
	Z         float32
	Intensity float32
}

// Vector returns the point's position.
func (p Point) Vector() r3.Vector {
	return r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// Cloud is an ordered, read-only frame of points.
type Cloud []Point

// Range is an axis-aligned region of interest.
type Range struct {
	Min r3.Vector
	Max r3.Vector
}

// NewRange builds a Range from xmin, ymin, zmin, xmax, ymax, zmax.
func NewRange(v []float32) (Range, error) {
	if len(v) != 6 {
		return Range{}, errors.Errorf("range needs 6 values, got %d", len(v))
	}
	return Range{
		Min: r3.Vector{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])},
		Max: r3.Vector{X: float64(v[3]), Y: float64(v[4]), Z: float64(v[5])},
	}, nil
}

// Contains reports whether p lies in the half-open range [Min, Max).
func (r Range) Contains(p Point) bool {
	v := p.Vector()
	return v.X >= r.Min.X && v.X < r.Max.X &&
		v.Y >= r.Min.Y && v.Y < r.Max.Y &&
		v.Z >= r.Min.Z && v.Z < r.Max.Z
}

// Crop returns the points inside r, preserving order.
func (c Cloud) Crop(r Range) Cloud {
	out := make(Cloud, 0, len(c))
	for _, p := range c {
		if r.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

// FromFloat32s interprets a flat x, y, z, intensity slice as a cloud.
func FromFloat32s(values []float32) (Cloud, error) {
	if len(values)%4 != 0 {
		return nil, errors.Errorf("flat cloud length %d is not a multiple of 4", len(values))
	}
	out := make(Cloud, len(values)/4)
	for i := range out {
		out[i] = Point{X: values[4*i], Y: values[4*i+1], Z: values[4*i+2], Intensity: values[4*i+3]}
	}
	return out, nil
}

// ReadKITTI decodes a KITTI velodyne scan: little-endian float32 quadruples.
//
// Arguments:
//   - r: The scan bytes.
//
// Returns:
//   - Cloud: The decoded points.
//   - error: A truncated record or read failure.
func ReadKITTI(r io.Reader) (Cloud, error) {
	br := bufio.NewReader(r)
	var (
		out Cloud
		buf [16]byte
	)
	for {
		n, err := io.ReadFull(br, buf[:])
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "point %d truncated after %d bytes", len(out), n)
		}
		out = append(out, Point{
			X:         math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
			Y:         math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
			Z:         math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
		})
	}
}

// ReadKITTIFile opens and decodes a KITTI velodyne .bin file.
func ReadKITTIFile(path string) (Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	cloud, err := ReadKITTI(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return cloud, nil
}

// WriteKITTI encodes c in the KITTI velodyne layout.
func WriteKITTI(w io.Writer, c Cloud) error {
	bw := bufio.NewWriter(w)
	var buf [16]byte
	for _, p := range c {
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.Z))
		binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(p.Intensity))
		if _, err := bw.Write(buf[:]); err != nil {
			return errors.Wrap(err, "write point")
		}
	}
	return errors.Wrap(bw.Flush(), "flush points")
}
