// Package backends defines the interface to the engines computing group normalization, and a registry of them.
//
// Backends register themselves with Register, usually in an init function, so users only need to import
// the backend package (e.g. `import _ "github.com/gomlx/groupnorm/backends/xla"`) to make it available.
//
// The default backend is selected by the environment variable GROUPNORM_BACKEND, in the format
// "<name>[:<config>]" (e.g. "xla:cuda"). If not set, the "cpu" backend is used.
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/groupnorm/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend computes group normalization and its gradient.
//
// x has shape [batch, channels, spatial...], and gamma and beta have shape [channels].
// Statistics are taken per (example, group) over the group's channels and all spatial positions.
// The output and gx have x's dtype, while gGamma and gBeta have the parameters' dtype, which can be
// of higher precision (mixed precision).
type Backend interface {
	// Name of the backend, including its configuration, e.g. "xla:cpu".
	Name() string

	// GroupNormForward returns y = (x - mean) / sqrt(var + eps) * gamma[c] + beta[c].
	GroupNormForward(x, gamma, beta *tensor.Tensor, groups int, eps float64) (*tensor.Tensor, error)

	// GroupNormBackward returns the gradients of sum(y * gy) with respect to x, gamma and beta.
	GroupNormBackward(x, gamma, gy *tensor.Tensor, groups int, eps float64) (gx, gGamma, gBeta *tensor.Tensor, err error)

	// Finalize releases the resources held by the backend. It can't be used afterward.
	Finalize()
}

// Constructor creates a backend for the given configuration. The configuration is backend specific,
// and it may be empty.
type Constructor func(config string) (Backend, error)

const (
	// ConfigEnvVar is the environment variable used to select the default backend.
	ConfigEnvVar = "GROUPNORM_BACKEND"

	// DefaultName is the backend used if ConfigEnvVar is not set.
	DefaultName = "cpu"
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Constructor)
)

// Register a backend constructor under name. Registering the same name twice replaces the previous one.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = constructor
}

// List returns the sorted names of the registered backends.
func List() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// New creates the backend described by spec, in the format "<name>[:<config>]".
// If spec is empty, it uses the default, see Default.
func New(spec string) (Backend, error) {
	if spec == "" {
		spec = os.Getenv(ConfigEnvVar)
		if spec == "" {
			spec = DefaultName
		}
	}
	name, config, _ := strings.Cut(spec, ":")
	registryMu.Lock()
	constructor, found := registry[name]
	registryMu.Unlock()
	if !found {
		return nil, errors.Errorf("backend %q not registered (registered backends: %v), maybe it's missing an import of its package?",
			name, List())
	}
	backend, err := constructor(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", spec)
	}
	klog.V(1).Infof("created backend %q", backend.Name())
	return backend, nil
}

// Default returns the backend selected by the environment variable GROUPNORM_BACKEND, or the "cpu" backend.
func Default() (Backend, error) {
	return New("")
}
