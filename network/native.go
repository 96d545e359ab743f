package network

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-fusion3d/backbone"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/encoder"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/nn"
)

var _ Backend = (*Native)(nil)

// Native is the gorgonia backend. Each Forward builds its own graphs over shared parameters, so
// frames run concurrently; loading weights waits for running frames.
type Native struct {
	mu       sync.RWMutex
	dims     [3]int
	params   *nn.Params
	encoder  *encoder.Encoder
	backbone *backbone.Backbone
	head     *head.Head
}

// NewNative builds the network described by cfg with parameters seeded from cfg.Seed, then loads
// cfg.Weights when set.
//
// Arguments:
//   - cfg: A validated configuration.
//
// Returns:
//   - *Native: The backend.
//   - error: A network that cannot be built or weights that do not fit it.
func NewNative(cfg *config.Config) (*Native, error) {
	params := nn.NewParams()
	in := nn.NewInitializer(cfg.Seed, params)

	enc, err := encoder.New(encoder.OptionsFromConfig(cfg), in)
	if err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	bb, err := backbone.New(backbone.OptionsFromConfig(cfg), in)
	if err != nil {
		return nil, errors.Wrap(err, "backbone")
	}
	hd, err := head.New(in, bb.OutChannels(), cfg.YoloNumBoxPerCell, cfg.YoloBoxLength)
	if err != nil {
		return nil, errors.Wrap(err, "head")
	}

	n := &Native{
		dims:     cfg.GridSize(),
		params:   params,
		encoder:  enc,
		backbone: bb,
		head:     hd,
	}
	if cfg.Weights != "" {
		if err := n.LoadWeights(cfg.Weights); err != nil {
			return nil, err
		}
	}

	logging.Info(logging.Fields{
		"backend":    config.BackendNative,
		"parameters": params.Size(),
		"grid":       n.dims,
	}, "network ready")
	return n, nil
}

// Params returns the network parameters.
func (n *Native) Params() *nn.Params {
	return n.params
}

// LoadWeights reads parameter files from dir.
func (n *Native) LoadWeights(dir string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	loaded, err := n.params.LoadDir(dir)
	if err != nil {
		return errors.Wrap(err, "load weights")
	}
	if missing := len(n.params.Names()) - loaded; missing > 0 {
		logging.Warn(logging.Fields{"dir": dir, "loaded": loaded, "missing": missing},
			"parameters without weights keep their initial values")
	}
	return nil
}

// Forward runs the encoder, backbone and head on one frame.
func (n *Native) Forward(ctx context.Context, in Input) (*head.RawPredictions, error) {
	if err := CheckInput(in, n.dims); err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	pseudo, err := n.encoder.Encode(in.Grid)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	camera, err := n.backbone.ImageTensor(in.Image, pseudo.Width, pseudo.Height)
	if err != nil {
		return nil, err
	}

	h, w := pseudo.Height, pseudo.Width
	g := G.NewGraph()
	fused, err := n.backbone.Apply(g,
		nn.Input(g, "pseudo", pseudo.Data, 1, pseudo.Channels, h, w),
		nn.Input(g, "camera", camera, 1, 3, h, w))
	if err != nil {
		return nil, errors.Wrap(err, "backbone")
	}
	out, err := n.head.Apply(g, fused)
	if err != nil {
		return nil, errors.Wrap(err, "head")
	}
	values, err := nn.Run(g, out)
	if err != nil {
		return nil, errors.Wrap(err, "forward")
	}
	return head.FromCHW(values[0], n.head.Anchors(), n.head.BoxLength(), h, w)
}

// Close is a no-op; the native backend holds no external resources.
func (n *Native) Close() error {
	return nil
}
