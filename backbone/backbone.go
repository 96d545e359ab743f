// Package backbone - fuses the LiDAR pseudo-image with camera features on the bird's-eye grid.
package backbone

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/encoder"
	"github.com/nvr-ai/go-fusion3d/images"
	"github.com/nvr-ai/go-fusion3d/nn"
)

// Options describes the fusion network.
type Options struct {
	// PseudoChannels is the depth of the LiDAR pseudo-image.
	PseudoChannels int
	// ImageChannels are the widths of the 3x3 camera convolutions.
	ImageChannels []int
	// FusionChannels is the depth of the fused map.
	FusionChannels int
	Normalization  images.Normalization
}

// OptionsFromConfig reads the backbone options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PseudoChannels: cfg.PCNumFilters[len(cfg.PCNumFilters)-1],
		ImageChannels:  append([]int(nil), cfg.ImageConvChannels...),
		FusionChannels: cfg.FusionChannels,
		Normalization:  images.ImageNet,
	}
}

// FeatureMap is the fused map laid out [Channels, Height, Width].
type FeatureMap struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Backbone is the camera branch and the fusion projection.
type Backbone struct {
	opts   Options
	camera []*nn.Conv2D
	fuse   *nn.Conv2D
}

// New creates a backbone whose parameters are drawn from in, named "backbone.*".
func New(opts Options, in *nn.Initializer) (*Backbone, error) {
	if opts.PseudoChannels <= 0 || opts.FusionChannels <= 0 {
		return nil, errors.Errorf("backbone needs positive widths, got pseudo %d and fusion %d",
			opts.PseudoChannels, opts.FusionChannels)
	}
	b := &Backbone{opts: opts}
	prev := 3
	for i, c := range opts.ImageChannels {
		if c <= 0 {
			return nil, errors.Errorf("image conv %d has width %d", i, c)
		}
		b.camera = append(b.camera, nn.NewConv2D(in, fmt.Sprintf("backbone.image.%d", i), prev, c, 3))
		prev = c
	}
	b.fuse = nn.NewConv2D(in, "backbone.fuse", opts.PseudoChannels+prev, opts.FusionChannels, 1)
	return b, nil
}

// OutChannels returns the fused map depth.
func (b *Backbone) OutChannels() int {
	return b.opts.FusionChannels
}

// ImageTensor converts the camera frame to the backbone's [3, height, width] input.
func (b *Backbone) ImageTensor(img image.Image, width, height int) ([]float32, error) {
	data, err := images.ToTensor(img, width, height, b.opts.Normalization)
	if err != nil {
		return nil, errors.Wrap(err, "camera input")
	}
	return data, nil
}

// Apply adds the backbone to g.
//
// Arguments:
//   - g: The graph.
//   - pseudo: The [1, PseudoChannels, H, W] pseudo-image.
//   - camera: The [1, 3, H, W] camera tensor at grid resolution.
//
// Returns:
//   - *G.Node: The [1, FusionChannels, H, W] fused map.
//   - error: Shape or graph failure.
func (b *Backbone) Apply(g *G.ExprGraph, pseudo, camera *G.Node) (*G.Node, error) {
	x := camera
	for _, conv := range b.camera {
		y, err := conv.Apply(g, x)
		if err != nil {
			return nil, err
		}
		if x, err = G.Rectify(y); err != nil {
			return nil, errors.Wrap(err, "image relu")
		}
	}

	stacked, err := G.Concat(1, pseudo, x)
	if err != nil {
		return nil, errors.Wrap(err, "concat lidar and camera")
	}
	fused, err := b.fuse.Apply(g, stacked)
	if err != nil {
		return nil, err
	}
	return G.Rectify(fused)
}

// Fuse runs the backbone on its own.
//
// Arguments:
//   - img: The camera frame at native resolution.
//   - pseudo: The LiDAR pseudo-image.
//
// Returns:
//   - *FeatureMap: The fused map, spatially aligned with pseudo.
//   - error: A nil image, a pseudo-image of the wrong depth or a graph failure.
func (b *Backbone) Fuse(img image.Image, pseudo *encoder.PseudoImage) (*FeatureMap, error) {
	if pseudo.Channels != b.opts.PseudoChannels {
		return nil, errors.Errorf("pseudo-image has %d channels, backbone expects %d",
			pseudo.Channels, b.opts.PseudoChannels)
	}
	camera, err := b.ImageTensor(img, pseudo.Width, pseudo.Height)
	if err != nil {
		return nil, err
	}

	g := G.NewGraph()
	h, w := pseudo.Height, pseudo.Width
	out, err := b.Apply(g,
		nn.Input(g, "pseudo", pseudo.Data, 1, pseudo.Channels, h, w),
		nn.Input(g, "camera", camera, 1, 3, h, w))
	if err != nil {
		return nil, err
	}
	values, err := nn.Run(g, out)
	if err != nil {
		return nil, errors.Wrap(err, "fuse")
	}
	return &FeatureMap{Channels: b.opts.FusionChannels, Height: h, Width: w, Data: values[0]}, nil
}
