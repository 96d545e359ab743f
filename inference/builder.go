package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/codec"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/loss"
	"github.com/nvr-ai/go-fusion3d/network"
	"github.com/nvr-ai/go-fusion3d/postprocess"
	"github.com/nvr-ai/go-fusion3d/voxel"
)

// DetectorBuilder assembles a Detector with a fluent API. The first error stops the chain and
// is returned by Build.
type DetectorBuilder struct {
	cfg     *config.Config
	backend network.Backend
	err     error
}

// NewDetectorBuilder creates a new detector builder.
//
// Returns:
//   - *DetectorBuilder: The detector builder.
func NewDetectorBuilder() *DetectorBuilder {
	return &DetectorBuilder{}
}

// WithConfig validates and sets the configuration.
//
// Arguments:
//   - cfg: The detector configuration. It must not be modified afterwards.
//
// Returns:
//   - *DetectorBuilder: The detector builder.
func (b *DetectorBuilder) WithConfig(cfg *config.Config) *DetectorBuilder {
	if b.HasError() {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config is nil")
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.cfg = cfg
	return b
}

// WithBackend sets the compute backend. Without it, Build creates the backend the
// configuration selects.
//
// Arguments:
//   - backend: The backend. The detector takes ownership and closes it.
//
// Returns:
//   - *DetectorBuilder: The detector builder.
func (b *DetectorBuilder) WithBackend(backend network.Backend) *DetectorBuilder {
	if b.HasError() {
		return b
	}
	b.backend = backend
	return b
}

// HasError checks if the detector builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *DetectorBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the detector and panics if there is an error.
//
// Returns:
//   - *Detector: The detector.
func (b *DetectorBuilder) MustBuild() *Detector {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// Build builds the detector.
//
// Returns:
//   - *Detector: The detector.
//   - error: The error if any.
func (b *DetectorBuilder) Build() (*Detector, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.cfg == nil {
		return nil, errors.New("config not configured")
	}

	voxels, err := voxel.NewBuilderFromConfig(b.cfg)
	if err != nil {
		return nil, err
	}
	c, err := codec.NewFromConfig(b.cfg)
	if err != nil {
		return nil, err
	}

	backend := b.backend
	if backend == nil {
		if backend, err = NewBackend(b.cfg); err != nil {
			return nil, err
		}
	}

	return &Detector{
		cfg:     b.cfg,
		voxels:  voxels,
		codec:   c,
		backend: backend,
		loss:    loss.New(c, loss.OptionsFromConfig(b.cfg)),
		nms: postprocess.NMSConfig{
			IoUThreshold: b.cfg.NMSOverlapThreshold,
			NumWorkers:   b.cfg.Workers.NMS,
		},
	}, nil
}
