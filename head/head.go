// Package head - the detection head and its raw prediction grid.
package head

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-fusion3d/nn"
)

// ConfidencePrior is the initial objectness probability; the confidence bias starts at its logit
// so an untrained head predicts few boxes.
const ConfidencePrior = 0.01

// confidenceBias is log(p/(1-p)) for ConfidencePrior.
const confidenceBias = -4.59512

// Head projects the fused map to the per-anchor box values.
type Head struct {
	anchors   int
	boxLength int
	conv      *nn.Conv2D
}

// New creates a head with parameters "head.*" drawn from in.
//
// Arguments:
//   - in: Parameter source.
//   - inChannels: Depth of the fused map.
//   - anchors: Anchors per cell.
//   - boxLength: Values per anchor; value 0 of every anchor is the confidence logit.
//
// Returns:
//   - *Head: The head.
//   - error: A non-positive size.
func New(in *nn.Initializer, inChannels, anchors, boxLength int) (*Head, error) {
	if inChannels <= 0 || anchors <= 0 || boxLength <= 0 {
		return nil, errors.Errorf("head sizes must be positive, got in=%d anchors=%d length=%d",
			inChannels, anchors, boxLength)
	}
	h := &Head{
		anchors:   anchors,
		boxLength: boxLength,
		conv:      nn.NewConv2D(in, "head.conv", inChannels, anchors*boxLength, 1),
	}
	bias := h.conv.Bias.Data()
	for a := 0; a < anchors; a++ {
		bias[a*boxLength] = confidenceBias
	}
	return h, nil
}

// Anchors returns the anchors per cell.
func (h *Head) Anchors() int {
	return h.anchors
}

// BoxLength returns the values per anchor.
func (h *Head) BoxLength() int {
	return h.boxLength
}

// OutChannels returns Anchors*BoxLength.
func (h *Head) OutChannels() int {
	return h.anchors * h.boxLength
}

// Apply adds the head to g, mapping [1, C, H, W] to [1, A*BoxLength, H, W].
func (h *Head) Apply(g *G.ExprGraph, fused *G.Node) (*G.Node, error) {
	return h.conv.Apply(g, fused)
}

// Predict runs the head on a channel-major fused map.
//
// Arguments:
//   - data: The fused map laid out [channels, height, width].
//   - channels, height, width: Its shape.
//
// Returns:
//   - *RawPredictions: The un-activated prediction grid.
//   - error: Shape or graph failure.
func (h *Head) Predict(data []float32, channels, height, width int) (*RawPredictions, error) {
	if len(data) != channels*height*width {
		return nil, errors.Errorf("fused map has %d values, want %dx%dx%d", len(data), channels, height, width)
	}
	g := G.NewGraph()
	out, err := h.Apply(g, nn.Input(g, "fused", data, 1, channels, height, width))
	if err != nil {
		return nil, err
	}
	values, err := nn.Run(g, out)
	if err != nil {
		return nil, errors.Wrap(err, "head")
	}
	return FromCHW(values[0], h.anchors, h.boxLength, height, width)
}
