package nn

import "fmt"

// Trace records the activations of one forward pass. Activations[0] is the input and
// Activations[i+1] is the output of layer i.
type Trace struct {
	Activations [][]float64
}

// Output returns the final activation.
func (t *Trace) Output() []float64 {
	return t.Activations[len(t.Activations)-1]
}

// Sequential chains layers.
type Sequential struct {
	layers []Layer
}

// NewSequential creates a network from layers in order. Layer names must be unique.
func NewSequential(layers ...Layer) (*Sequential, error) {
	seen := make(map[string]bool, len(layers))
	for _, l := range layers {
		if seen[l.Name()] {
			return nil, fmt.Errorf("duplicate layer name: %s", l.Name())
		}
		seen[l.Name()] = true
	}
	return &Sequential{layers: layers}, nil
}

// Layers returns the layers in definition order.
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// Forward runs x through every layer.
func (s *Sequential) Forward(x []float64) (*Trace, error) {
	trace := &Trace{Activations: make([][]float64, 0, len(s.layers)+1)}
	trace.Activations = append(trace.Activations, x)
	cur := x
	for _, l := range s.layers {
		next, err := l.Forward(cur)
		if err != nil {
			return nil, err
		}
		trace.Activations = append(trace.Activations, next)
		cur = next
	}
	return trace, nil
}

// Backward propagates gradOut through the trace, accumulating gradients into every
// trainable layer. Propagation stops below the earliest trainable layer.
func (s *Sequential) Backward(trace *Trace, gradOut []float64) {
	first := len(s.layers)
	for i, l := range s.layers {
		if l.Trainable() && len(l.Params()) > 0 {
			first = i
			break
		}
	}
	g := gradOut
	for i := len(s.layers) - 1; i >= first; i-- {
		g = s.layers[i].Backward(trace.Activations[i], trace.Activations[i+1], g)
	}
}

// Params returns every parameter in layer order.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// TrainableParams returns the parameters of trainable layers.
func (s *Sequential) TrainableParams() []*Param {
	var params []*Param
	for _, l := range s.layers {
		if l.Trainable() {
			params = append(params, l.Params()...)
		}
	}
	return params
}

// ZeroGrad clears all gradient accumulators.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.ZeroGrad()
	}
}
