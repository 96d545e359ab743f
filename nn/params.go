// Package nn - provides the gorgonia building blocks shared by the network stages.
package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a named float32 weight tensor.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Shape returns the parameter's shape.
func (p *Param) Shape() tensor.Shape {
	return p.Value.Shape()
}

// Data returns the parameter's backing slice.
func (p *Param) Data() []float32 {
	return p.Value.Data().([]float32)
}

// Node binds the parameter's current value into g. Each graph gets its own tensor header over
// the shared backing slice, since a machine sets the engine of every value it is given.
func (p *Param) Node(g *G.ExprGraph) *G.Node {
	shape := p.Value.Shape().Clone()
	value := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(p.Data()))
	return G.NewTensor(g, tensor.Float32, shape.Dims(),
		G.WithShape(shape...), G.WithName(p.Name), G.WithValue(value))
}

// Params is an ordered registry of every parameter of a network.
type Params struct {
	list   []*Param
	byName map[string]*Param
}

// NewParams creates an empty registry.
func NewParams() *Params {
	return &Params{byName: make(map[string]*Param)}
}

func (ps *Params) add(p *Param) *Param {
	if _, dup := ps.byName[p.Name]; dup {
		panic("nn: duplicate parameter " + p.Name)
	}
	ps.list = append(ps.list, p)
	ps.byName[p.Name] = p
	return p
}

// Get returns the named parameter.
func (ps *Params) Get(name string) (*Param, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// Names returns parameter names in creation order.
func (ps *Params) Names() []string {
	names := make([]string, len(ps.list))
	for i, p := range ps.list {
		names[i] = p.Name
	}
	return names
}

// Size returns the total number of scalars.
func (ps *Params) Size() int {
	n := 0
	for _, p := range ps.list {
		n += p.Shape().TotalSize()
	}
	return n
}

// Set copies data into the named parameter.
//
// Arguments:
//   - name: Parameter name.
//   - data: Values in row-major order; the length must match the parameter.
//
// Returns:
//   - error: Unknown name or wrong length.
func (ps *Params) Set(name string, data []float32) error {
	p, ok := ps.byName[name]
	if !ok {
		return errors.Errorf("unknown parameter %q", name)
	}
	dst := p.Data()
	if len(dst) != len(data) {
		return errors.Errorf("parameter %q has %d values, got %d", name, len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// Load sets every parameter present in weights. Unknown names are an error; parameters missing
// from weights keep their values.
func (ps *Params) Load(weights map[string][]float32) error {
	for name, data := range weights {
		if err := ps.Set(name, data); err != nil {
			return err
		}
	}
	return nil
}

// Initializer creates parameters drawn from an explicit random source, so two networks built
// from the same seed are identical.
type Initializer struct {
	rng    *rand.Rand
	params *Params
}

// NewInitializer creates an initializer registering into params.
func NewInitializer(seed int64, params *Params) *Initializer {
	return &Initializer{rng: rand.New(rand.NewSource(seed)), params: params}
}

// Params returns the registry parameters are added to.
func (in *Initializer) Params() *Params {
	return in.params
}

// HeNormal creates a parameter drawn from N(0, 2/fanIn).
func (in *Initializer) HeNormal(name string, fanIn int, shape ...int) *Param {
	std := math.Sqrt(2 / float64(fanIn))
	size := tensor.Shape(shape).TotalSize()
	data := make([]float32, size)
	for i := range data {
		data[i] = float32(in.rng.NormFloat64() * std)
	}
	return in.params.add(&Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
	})
}

// Constant creates a parameter filled with v.
func (in *Initializer) Constant(name string, v float32, shape ...int) *Param {
	size := tensor.Shape(shape).TotalSize()
	data := make([]float32, size)
	for i := range data {
		data[i] = v
	}
	return in.params.add(&Param{
		Name:  name,
		Value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)),
	})
}
