package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/network"
	"github.com/nvr-ai/go-fusion3d/network/onnx"
)

// Backends is a list of all supported compute backends.
var Backends = []config.Backend{config.BackendNative, config.BackendONNX}

// NewBackend creates the backend cfg selects.
//
// Arguments:
//   - cfg: A validated configuration.
//
// Returns:
//   - network.Backend: The backend; the caller closes it.
//   - error: The backend could not be created.
func NewBackend(cfg *config.Config) (network.Backend, error) {
	switch cfg.Backend {
	case config.BackendNative:
		return network.NewNative(cfg)
	case config.BackendONNX:
		return onnx.New(cfg)
	default:
		return nil, errors.Errorf("unknown backend %q, want one of %v", cfg.Backend, Backends)
	}
}
