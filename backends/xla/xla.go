// Package xla implements a group normalization backend that lowers the computation to a StableHLO
// program and executes it with a PJRT plugin (github.com/gomlx/gopjrt/pjrt), e.g. "cpu" or "cuda".
//
// Compiled programs are cached per input shapes, dtypes, groups and epsilon.
//
// With WithReplicas(n) the computation is distributed over n devices (SPMD data parallelism): the batch
// is split across the devices, padded if it isn't divisible by n.
//
// It registers itself as "xla", and the configuration is the plugin name, e.g. "xla:cuda".
package xla

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/groupnorm/backends"
	"github.com/gomlx/groupnorm/tensor"
	"github.com/gomlx/groupnorm/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// BackendName is the name the backend is registered with.
const BackendName = "xla"

// DefaultPlugin is used if no plugin name is given.
const DefaultPlugin = "cpu"

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		return New(config)
	})
}

// PluginAvailable returns whether the PJRT plugin can be loaded.
func PluginAvailable(name string) bool {
	_, err := pjrt.GetPlugin(name)
	return err == nil
}

// AvailablePlugins returns the sorted names of the PJRT plugins found.
func AvailablePlugins() []string {
	return slices.Sorted(maps.Keys(pjrt.AvailablePlugins()))
}

// Backend implements backends.Backend with a PJRT client.
type Backend struct {
	pluginName string
	client     *pjrt.Client
	replicas   int

	mu          sync.Mutex
	executables map[programKey]*pjrt.LoadedExecutable
}

// Compile time check.
var _ backends.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(b *Backend)

// WithReplicas distributes the computation over numReplicas devices. Default is 1.
func WithReplicas(numReplicas int) Option {
	return func(b *Backend) {
		b.replicas = numReplicas
	}
}

// New creates a backend with the given PJRT plugin. If pluginName is empty, DefaultPlugin is used.
func New(pluginName string, options ...Option) (*Backend, error) {
	if pluginName == "" {
		pluginName = DefaultPlugin
	}
	b := &Backend{
		pluginName:  pluginName,
		replicas:    1,
		executables: make(map[programKey]*pjrt.LoadedExecutable),
	}
	for _, option := range options {
		option(b)
	}
	if b.replicas < 1 {
		return nil, errors.Errorf("invalid number of replicas %d", b.replicas)
	}
	plugin, err := pjrt.GetPlugin(pluginName)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load PJRT plugin %q", pluginName)
	}
	b.client, err = plugin.NewClient(nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create PJRT client for plugin %q", pluginName)
	}
	if numDevices := b.client.NumDevices(); b.replicas > numDevices {
		b.Finalize()
		return nil, errors.Errorf("%d replicas requested, but PJRT plugin %q only has %d devices", b.replicas, pluginName, numDevices)
	}
	klog.V(1).Infof("xla backend: plugin %q, %d devices, %d replicas", pluginName, b.client.NumDevices(), b.replicas)
	return b, nil
}

// Name implements backends.Backend.
func (b *Backend) Name() string {
	return BackendName + ":" + b.pluginName
}

// NumDevices returns the number of devices of the PJRT client.
func (b *Backend) NumDevices() int {
	return b.client.NumDevices()
}

// Replicas returns the number of devices the computation is distributed over.
func (b *Backend) Replicas() int {
	return b.replicas
}

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, exec := range b.executables {
		if err := exec.Destroy(); err != nil {
			klog.Warningf("xla backend: failed to destroy executable %v: %+v", key, err)
		}
	}
	b.executables = nil
	if b.client != nil {
		if err := b.client.Destroy(); err != nil {
			klog.Warningf("xla backend: failed to destroy PJRT client: %+v", err)
		}
		b.client = nil
	}
}

// programKey identifies a compiled program.
type programKey struct {
	backward   bool
	dtype      dtypes.DType
	paramDType dtypes.DType
	dimensions string
	groups     int
	eps        float64
}

func (k programKey) String() string {
	kind := "forward"
	if k.backward {
		kind = "backward"
	}
	return fmt.Sprintf("%s(%s%s, params=%s, groups=%d, eps=%g)", kind, k.dtype, k.dimensions, k.paramDType, k.groups, k.eps)
}

// executable returns the compiled program for key, building and compiling it if not yet in cache.
func (b *Backend) executable(key programKey, build func() ([]byte, error)) (*pjrt.LoadedExecutable, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, errors.New("xla backend already finalized")
	}
	if exec, found := b.executables[key]; found {
		return exec, nil
	}
	program, err := build()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build program %s", key)
	}
	klog.V(1).Infof("xla backend: compiling %s", key)
	klog.V(2).Infof("program:\n%s", program)
	compilation := b.client.Compile().WithStableHLO(program)
	if b.replicas > 1 {
		compilation = compilation.WithSPMD(b.replicas)
	}
	exec, err := compilation.Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to compile program %s:\n%s", key, program)
	}
	b.executables[key] = exec
	return exec, nil
}

// execute runs exec with one list of inputs per replica, and returns numOutputs results per replica.
func (b *Backend) execute(exec *pjrt.LoadedExecutable, perReplicaInputs [][]*tensor.Tensor, numOutputs int) ([][]*tensor.Tensor, error) {
	var buffers []*pjrt.Buffer
	destroyAll := func(bufs []*pjrt.Buffer) {
		for _, buf := range bufs {
			if err := buf.Destroy(); err != nil {
				klog.Warningf("xla backend: failed to destroy buffer: %+v", err)
			}
		}
	}
	for replica, inputs := range perReplicaInputs {
		for _, input := range inputs {
			buf, err := b.client.BufferFromHost().
				FromFlatDataWithDimensions(input.Flat(), input.Shape().Dimensions).
				ToDeviceNum(replica).Done()
			if err != nil {
				destroyAll(buffers)
				return nil, errors.WithMessagef(err, "failed to transfer input %s to device #%d", input.Shape(), replica)
			}
			buffers = append(buffers, buf)
		}
	}
	outputs, err := exec.Execute(buffers...).DonateAll().Done()
	if err != nil {
		destroyAll(buffers)
		return nil, errors.WithMessage(err, "failed to execute program")
	}
	defer destroyAll(outputs)
	if len(outputs) != numOutputs*len(perReplicaInputs) {
		return nil, errors.Errorf("program returned %d outputs, expected %d per replica for %d replicas",
			len(outputs), numOutputs, len(perReplicaInputs))
	}
	results := make([][]*tensor.Tensor, len(perReplicaInputs))
	for replica := range results {
		results[replica] = make([]*tensor.Tensor, numOutputs)
		for i := range numOutputs {
			flat, dims, err := outputs[replica*numOutputs+i].ToFlatDataAndDimensions()
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to transfer output #%d of replica #%d", i, replica)
			}
			if results[replica][i], err = tensor.FromFlatAndDimensions(flat, dims...); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// splitBatch splits x, and gy if not nil, along the batch axis in one chunk per replica.
//
// If the batch size is not divisible by the number of replicas, x is padded with copies of its
// last example and gy with zeros: padded groups keep a finite variance even with eps = 0, and
// contribute nothing to the parameter gradients.
func (b *Backend) splitBatch(x, gy *tensor.Tensor) (chunks [][]*tensor.Tensor, err error) {
	chunks = make([][]*tensor.Tensor, b.replicas)
	if b.replicas == 1 {
		chunks[0] = []*tensor.Tensor{x}
		if gy != nil {
			chunks[0] = append(chunks[0], gy)
		}
		return
	}
	if err = b.appendChunks(chunks, x, false); err != nil {
		return nil, err
	}
	if gy != nil {
		if err = b.appendChunks(chunks, gy, true); err != nil {
			return nil, err
		}
	}
	return
}

func (b *Backend) appendChunks(chunks [][]*tensor.Tensor, t *tensor.Tensor, padWithZeros bool) error {
	parts, err := t.Split()
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	for len(parts)%b.replicas != 0 {
		pad := last.Clone()
		if padWithZeros {
			if pad, err = tensor.Zeros(t.DType(), last.Shape().Dimensions...); err != nil {
				return err
			}
		}
		parts = append(parts, pad)
	}
	chunkSize := len(parts) / b.replicas
	for replica := range b.replicas {
		chunk, err := tensor.Concatenate(0, parts[replica*chunkSize:(replica+1)*chunkSize]...)
		if err != nil {
			return err
		}
		chunks[replica] = append(chunks[replica], chunk)
	}
	return nil
}

// joinBatch concatenates the per-replica results back into one tensor, dropping the padding.
func joinBatch(perReplica []*tensor.Tensor, batchSize int) (*tensor.Tensor, error) {
	if len(perReplica) == 1 {
		return perReplica[0], nil
	}
	var parts []*tensor.Tensor
	for _, t := range perReplica {
		replicaParts, err := t.Split()
		if err != nil {
			return nil, err
		}
		parts = append(parts, replicaParts...)
	}
	return tensor.Concatenate(0, parts[:batchSize]...)
}

// sumReplicas adds the per-replica partial results, in float64, and returns them in the given dtype.
func sumReplicas(perReplica []*tensor.Tensor, dtype dtypes.DType) (*tensor.Tensor, error) {
	if len(perReplica) == 1 {
		return perReplica[0], nil
	}
	sum := perReplica[0].Float64s()
	for _, t := range perReplica[1:] {
		floats.Add(sum, t.Float64s())
	}
	return tensor.FromFloat64s(dtype, sum, perReplica[0].Shape().Dimensions...)
}

func (b *Backend) key(backward bool, x, gamma *tensor.Tensor, groups int, eps float64) (key programKey, chunkShape shapes.Shape) {
	chunkShape = x.Shape().Clone()
	chunkShape.Dimensions[0] = (chunkShape.Dimensions[0] + b.replicas - 1) / b.replicas
	key = programKey{
		backward:   backward,
		dtype:      x.DType(),
		paramDType: gamma.DType(),
		dimensions: fmt.Sprint(chunkShape.Dimensions),
		groups:     groups,
		eps:        eps,
	}
	return
}

// GroupNormForward implements backends.Backend.
func (b *Backend) GroupNormForward(x, gamma, beta *tensor.Tensor, groups int, eps float64) (*tensor.Tensor, error) {
	if err := backends.CheckForward(x, gamma, beta, groups); err != nil {
		return nil, err
	}
	key, chunkShape := b.key(false, x, gamma, groups, eps)
	exec, err := b.executable(key, func() ([]byte, error) {
		return forwardProgram(chunkShape, gamma.DType(), groups, eps, b.replicas)
	})
	if err != nil {
		return nil, err
	}
	chunks, err := b.splitBatch(x, nil)
	if err != nil {
		return nil, err
	}
	for replica := range chunks {
		chunks[replica] = append(chunks[replica], gamma, beta)
	}
	results, err := b.execute(exec, chunks, 1)
	if err != nil {
		return nil, err
	}
	ys := make([]*tensor.Tensor, len(results))
	for replica, outputs := range results {
		if err = outputs[0].Shape().Check(x.DType(), chunkShape.Dimensions...); err != nil {
			return nil, errors.WithMessagef(err, "forward output of replica #%d", replica)
		}
		ys[replica] = outputs[0]
	}
	return joinBatch(ys, x.Shape().Dimensions[0])
}

// GroupNormBackward implements backends.Backend.
func (b *Backend) GroupNormBackward(x, gamma, gy *tensor.Tensor, groups int, eps float64) (gx, gGamma, gBeta *tensor.Tensor, err error) {
	if err = backends.CheckBackward(x, gamma, gy, groups); err != nil {
		return
	}
	key, chunkShape := b.key(true, x, gamma, groups, eps)
	exec, err := b.executable(key, func() ([]byte, error) {
		return backwardProgram(chunkShape, gamma.DType(), groups, eps, b.replicas)
	})
	if err != nil {
		return
	}
	chunks, err := b.splitBatch(x, gy)
	if err != nil {
		return
	}
	for replica := range chunks {
		// Program parameters order: x, gamma, gy.
		chunks[replica] = []*tensor.Tensor{chunks[replica][0], gamma, chunks[replica][1]}
	}
	results, err := b.execute(exec, chunks, 3)
	if err != nil {
		return
	}
	gxs := make([]*tensor.Tensor, len(results))
	gGammas := make([]*tensor.Tensor, len(results))
	gBetas := make([]*tensor.Tensor, len(results))
	for replica, outputs := range results {
		if err = outputs[0].Shape().Check(x.DType(), chunkShape.Dimensions...); err != nil {
			err = errors.WithMessagef(err, "gradient of x of replica #%d", replica)
			return
		}
		for _, grad := range outputs[1:] {
			if err = grad.Shape().Check(gamma.DType(), gamma.Shape().Dimensions...); err != nil {
				err = errors.WithMessagef(err, "parameter gradient of replica #%d", replica)
				return
			}
		}
		gxs[replica], gGammas[replica], gBetas[replica] = outputs[0], outputs[1], outputs[2]
	}
	if gx, err = joinBatch(gxs, x.Shape().Dimensions[0]); err != nil {
		return
	}
	if gGamma, err = sumReplicas(gGammas, gamma.DType()); err != nil {
		return
	}
	gBeta, err = sumReplicas(gBetas, gamma.DType())
	return
}
