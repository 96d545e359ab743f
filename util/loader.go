package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Subdirectories of a KITTI-style dataset split.
const (
	PointsDir = "velodyne"
	ImagesDir = "image_2"
	LabelsDir = "label_2"
)

// FrameFiles are the files of one frame. Labels is empty when the frame has no label file.
type FrameFiles struct {
	// Frame is the frame number parsed from the file name.
	Frame  int
	Points string
	Image  string
	Labels string
}

// LoadDirectoryFrameFiles pairs the scans, images and labels of a dataset split by frame number.
// Frames are those with a scan; each must also have an image. Labels are optional.
//
// Arguments:
// - dir: Directory containing velodyne/, image_2/ and optionally label_2/.
//
// Returns:
// - []FrameFiles: One entry per frame, sorted by frame number.
// - error: Error if a directory cannot be read, a name is not a frame number or an image is missing.
func LoadDirectoryFrameFiles(dir string) ([]FrameFiles, error) {
	points, err := frameIndex(filepath.Join(dir, PointsDir), ".bin")
	if err != nil {
		return nil, err
	}
	images, err := frameIndex(filepath.Join(dir, ImagesDir), ".png", ".jpg", ".jpeg", ".bmp")
	if err != nil {
		return nil, err
	}
	labels, err := frameIndex(filepath.Join(dir, LabelsDir), ".txt")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	frames := make([]FrameFiles, 0, len(points))
	for frame, path := range points {
		img, ok := images[frame]
		if !ok {
			return nil, errors.Errorf("frame %06d has no image in %s", frame, filepath.Join(dir, ImagesDir))
		}
		frames = append(frames, FrameFiles{
			Frame:  frame,
			Points: path,
			Image:  img,
			Labels: labels[frame],
		})
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Frame < frames[j].Frame
	})

	return frames, nil
}

// frameIndex maps frame numbers to the files in dir with one of the extensions.
func frameIndex(dir string, exts ...string) (map[int]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", dir)
	}

	index := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		for _, want := range exts {
			if ext != want {
				continue
			}
			frame, err := strconv.Atoi(strings.TrimSuffix(file.Name(), filepath.Ext(file.Name())))
			if err != nil {
				return nil, errors.Wrapf(err, "frame number of %s", file.Name())
			}
			index[frame] = filepath.Join(dir, file.Name())
		}
	}
	return index, nil
}
