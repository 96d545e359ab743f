// Package encoder - turns a voxel grid into a dense pseudo-image with a stack of pillar feature
// layers.
package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/nn"
	"github.com/nvr-ai/go-fusion3d/voxel"
)

// Options describes the encoder network.
type Options struct {
	// Filters are the output widths of the feature layers; the last one is the pseudo-image depth.
	Filters      []int
	UseNorm      bool
	WithDistance bool
	// Pad is the number of rows per voxel fed to the network. Zero pads each frame to its fullest
	// voxel.
	Pad int
}

// OptionsFromConfig reads the encoder options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Filters:      append([]int(nil), cfg.PCNumFilters...),
		UseNorm:      cfg.PCUseNorm,
		WithDistance: cfg.PCWithDistance,
	}
}

type stage struct {
	points *nn.Linear
	// pooled projects the previous stage's voxel maximum; nil on the first stage.
	pooled *nn.Linear
	norm   *nn.Norm
}

// Encoder is the point feature network. Parameters are only read during Encode, so one Encoder
// may serve several goroutines.
type Encoder struct {
	opts   Options
	width  int
	stages []stage
}

// New creates an encoder whose parameters are drawn from in.
//
// Each layer projects the point rows, normalizes (when enabled), applies ReLU and takes the
// maximum over the voxel's points. Every layer after the first sees the point rows of the
// previous layer next to that layer's voxel maximum, projected with separate weights.
//
// Arguments:
//   - opts: Network shape.
//   - in: Parameter source; names are prefixed with "pfn.".
//
// Returns:
//   - *Encoder: The encoder.
//   - error: The options describe an empty network.
func New(opts Options, in *nn.Initializer) (*Encoder, error) {
	if len(opts.Filters) == 0 {
		return nil, errors.New("encoder needs at least one filter layer")
	}
	e := &Encoder{opts: opts, width: FeatureWidth(opts.WithDistance)}

	prev := e.width
	for i, out := range opts.Filters {
		if out <= 0 {
			return nil, errors.Errorf("filter layer %d has width %d", i, out)
		}
		name := fmt.Sprintf("pfn.%d", i)
		s := stage{points: nn.NewLinear(in, name+".linear", prev, out, !opts.UseNorm)}
		if i > 0 {
			s.pooled = nn.NewLinear(in, name+".pooled", prev, out, false)
		}
		if opts.UseNorm {
			s.norm = nn.NewNorm(in, name+".norm", out)
		}
		e.stages = append(e.stages, s)
		prev = out
	}
	return e, nil
}

// OutChannels returns the pseudo-image depth.
func (e *Encoder) OutChannels() int {
	return e.opts.Filters[len(e.opts.Filters)-1]
}

// Norms returns the normalization of every layer, or nil when normalization is disabled.
func (e *Encoder) Norms() []*nn.Norm {
	if !e.opts.UseNorm {
		return nil
	}
	norms := make([]*nn.Norm, len(e.stages))
	for i, s := range e.stages {
		norms[i] = s.norm
	}
	return norms
}

// Apply adds the feature layers for batch to g and returns the [Voxels, OutChannels] node of
// per-voxel features.
func (e *Encoder) Apply(g *G.ExprGraph, batch *PillarBatch) (*G.Node, error) {
	if batch.Features != e.width {
		return nil, errors.Errorf("points have %d features, encoder expects %d", batch.Features, e.width)
	}
	v, p := batch.Voxels, batch.Pad
	rows := nn.Input(g, "points", batch.Data, v*p, batch.Features)
	mask := nn.Input(g, "mask", batch.Mask, v*p, 1)

	var pooled *G.Node
	for i, s := range e.stages {
		out := s.points.Weight.Shape()[1]
		y, err := s.points.Apply(g, rows)
		if err != nil {
			return nil, err
		}
		if s.pooled != nil {
			if y, err = addPooled(g, s.pooled, y, pooled, v, p, out); err != nil {
				return nil, err
			}
		}
		if s.norm != nil {
			if y, err = s.norm.Apply(g, y); err != nil {
				return nil, err
			}
		}
		if y, err = G.Rectify(y); err != nil {
			return nil, errors.Wrapf(err, "pfn.%d relu", i)
		}
		// Activations are non-negative here, so zeroed padding never wins the maximum.
		if y, err = G.BroadcastHadamardProd(y, mask, nil, []byte{1}); err != nil {
			return nil, errors.Wrapf(err, "pfn.%d mask", i)
		}
		grouped, err := G.Reshape(y, tensor.Shape{v, p, out})
		if err != nil {
			return nil, errors.Wrapf(err, "pfn.%d group", i)
		}
		if pooled, err = G.Max(grouped, 1); err != nil {
			return nil, errors.Wrapf(err, "pfn.%d max", i)
		}
		rows = y
	}
	return pooled, nil
}

// addPooled adds the projection of each voxel's previous maximum to every row of that voxel.
func addPooled(g *G.ExprGraph, l *nn.Linear, y, pooled *G.Node, v, p, out int) (*G.Node, error) {
	m, err := l.Apply(g, pooled)
	if err != nil {
		return nil, err
	}
	y3, err := G.Reshape(y, tensor.Shape{v, p, out})
	if err != nil {
		return nil, errors.Wrap(err, "reshape rows")
	}
	m3, err := G.Reshape(m, tensor.Shape{v, 1, out})
	if err != nil {
		return nil, errors.Wrap(err, "reshape pooled")
	}
	sum, err := G.BroadcastAdd(y3, m3, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "add pooled")
	}
	return G.Reshape(sum, tensor.Shape{v * p, out})
}

// VoxelFeatures runs the feature layers over grid.
//
// Returns:
//   - []float32: Per-voxel features laid out [grid.Len(), OutChannels].
//   - error: Decoration or graph failure.
func (e *Encoder) VoxelFeatures(grid *voxel.Grid) ([]float32, error) {
	if grid.Len() == 0 {
		return nil, nil
	}
	batch, err := Decorate(grid, e.opts.WithDistance, e.opts.Pad)
	if err != nil {
		return nil, err
	}

	g := G.NewGraph()
	features, err := e.Apply(g, batch)
	if err != nil {
		return nil, err
	}
	out, err := nn.Run(g, features)
	if err != nil {
		return nil, errors.Wrap(err, "encode voxels")
	}
	return out[0], nil
}

// Encode produces the pseudo-image for grid. An empty grid gives an all-zero image without
// running the network.
func (e *Encoder) Encode(grid *voxel.Grid) (*PseudoImage, error) {
	img := NewPseudoImage(e.OutChannels(), grid.Dims[1], grid.Dims[0])
	features, err := e.VoxelFeatures(grid)
	if err != nil {
		return nil, err
	}
	for i, v := range grid.Voxels {
		img.Scatter(v.Coord, features[i*img.Channels:(i+1)*img.Channels])
	}
	return img, nil
}
