// Package images - camera frame decoding and conversion to normalized network input.
package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
)

// ImageFormat represents supported image formats.
type ImageFormat string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
)

// FormatFromPath returns the format implied by a file extension.
//
// Arguments:
//   - path: File path.
//
// Returns:
//   - ImageFormat: The format.
//   - error: The extension is not a supported format.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	default:
		return "", errors.Errorf("unsupported image extension %q", filepath.Ext(path))
	}
}

// Decode decodes encoded image bytes.
//
// Arguments:
//   - data: The encoded image.
//   - format: The encoding.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: Empty input, unknown format or corrupt data.
func Decode(data []byte, format ImageFormat) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	reader := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(reader)
	case FormatPNG:
		img, err = png.Decode(reader)
	case FormatBMP:
		img, err = bmp.Decode(reader)
	default:
		return nil, errors.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", format)
	}
	return img, nil
}

// Load reads and decodes an image file.
//
// @example
//
//	img, err := images.Load("testing/image_2/000010.png")
//	if err != nil {
//	    return err
//	}
func Load(path string) (image.Image, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", path)
	}
	return Decode(data, format)
}
