package nn

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear is a row-wise projection x·W (+ b) of an [N, in] matrix.
type Linear struct {
	Weight *Param // [in, out]
	Bias   *Param // [1, out], nil without bias
}

// NewLinear creates a He-initialised projection.
func NewLinear(in *Initializer, name string, inDim, outDim int, bias bool) *Linear {
	l := &Linear{Weight: in.HeNormal(name+".weight", inDim, inDim, outDim)}
	if bias {
		l.Bias = in.Constant(name+".bias", 0, 1, outDim)
	}
	return l
}

// Apply projects x.
func (l *Linear) Apply(g *G.ExprGraph, x *G.Node) (*G.Node, error) {
	y, err := G.Mul(x, l.Weight.Node(g))
	if err != nil {
		return nil, errors.Wrapf(err, "%s matmul", l.Weight.Name)
	}
	if l.Bias == nil {
		return y, nil
	}
	return G.BroadcastAdd(y, l.Bias.Node(g), nil, []byte{0})
}

// Norm is per-channel normalization in its inference form: batch-norm statistics folded into a
// scale and shift, y = x*scale + shift, over the last axis of an [N, C] matrix.
type Norm struct {
	Scale *Param // [1, C]
	Shift *Param // [1, C]
}

// NewNorm creates an identity normalization.
func NewNorm(in *Initializer, name string, channels int) *Norm {
	return &Norm{
		Scale: in.Constant(name+".scale", 1, 1, channels),
		Shift: in.Constant(name+".shift", 0, 1, channels),
	}
}

// Fold sets scale and shift from batch-norm parameters and running statistics.
func (n *Norm) Fold(gamma, beta, mean, variance []float32, eps float32) error {
	scale, shift := n.Scale.Data(), n.Shift.Data()
	c := len(scale)
	if len(gamma) != c || len(beta) != c || len(mean) != c || len(variance) != c {
		return errors.Errorf("%s expects %d channels", n.Scale.Name, c)
	}
	for i := 0; i < c; i++ {
		scale[i] = gamma[i] / math32.Sqrt(variance[i]+eps)
		shift[i] = beta[i] - mean[i]*scale[i]
	}
	return nil
}

// Apply normalizes x.
func (n *Norm) Apply(g *G.ExprGraph, x *G.Node) (*G.Node, error) {
	y, err := G.BroadcastHadamardProd(x, n.Scale.Node(g), nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "%s", n.Scale.Name)
	}
	return G.BroadcastAdd(y, n.Shift.Node(g), nil, []byte{0})
}

// Conv2D is a stride-1, same-padded convolution over a [1, C, H, W] map.
type Conv2D struct {
	Filter *Param // [out, in, k, k]
	Bias   *Param // [1, out, 1, 1]
	Kernel int
}

// NewConv2D creates a He-initialised convolution with an odd kernel.
func NewConv2D(in *Initializer, name string, inC, outC, kernel int) *Conv2D {
	return &Conv2D{
		Filter: in.HeNormal(name+".weight", inC*kernel*kernel, outC, inC, kernel, kernel),
		Bias:   in.Constant(name+".bias", 0, 1, outC, 1, 1),
		Kernel: kernel,
	}
}

// Apply convolves x keeping its spatial size.
func (c *Conv2D) Apply(g *G.ExprGraph, x *G.Node) (*G.Node, error) {
	pad := c.Kernel / 2
	y, err := G.Conv2d(x, c.Filter.Node(g), tensor.Shape{c.Kernel, c.Kernel},
		[]int{pad, pad}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "%s conv", c.Filter.Name)
	}
	return G.BroadcastAdd(y, c.Bias.Node(g), nil, []byte{2, 3})
}

// Input binds data with the given shape into g.
func Input(g *G.ExprGraph, name string, data []float32, shape ...int) *G.Node {
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return G.NewTensor(g, tensor.Float32, len(shape),
		G.WithShape(shape...), G.WithName(name), G.WithValue(t))
}

// Run executes g on a tape machine and copies out the values of outputs.
//
// Arguments:
//   - g: A graph whose inputs are all bound.
//   - outputs: Nodes to read after execution.
//
// Returns:
//   - [][]float32: One row-major slice per output.
//   - error: Execution failure or an output without a float32 value.
func Run(g *G.ExprGraph, outputs ...*G.Node) ([][]float32, error) {
	vm := G.NewTapeMachine(g)
	defer vm.Close()

	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run graph")
	}

	results := make([][]float32, len(outputs))
	for i, n := range outputs {
		v := n.Value()
		if v == nil {
			return nil, errors.Errorf("node %s has no value", n.Name())
		}
		data, ok := v.Data().([]float32)
		if !ok {
			return nil, errors.Errorf("node %s holds %T, want []float32", n.Name(), v.Data())
		}
		results[i] = append([]float32(nil), data...)
	}
	return results, nil
}
