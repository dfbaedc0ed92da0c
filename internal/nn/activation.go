package nn

// ReLU applies max(x, 0) elementwise.
type ReLU struct {
	trainableFlag
	name string
}

// NewReLU creates a ReLU layer.
func NewReLU(name string) *ReLU {
	return &ReLU{trainableFlag: trainableFlag{trainable: true}, name: name}
}

func (r *ReLU) Name() string { return r.name }
func (r *ReLU) Kind() string { return KindReLU }

func (r *ReLU) OutputDim(inputDim int) (int, error) {
	return inputDim, nil
}

func (r *ReLU) Forward(in []float64) ([]float64, error) {
	out := make([]float64, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = v
		}
	}
	return out, nil
}

func (r *ReLU) Backward(in, out, gradOut []float64) []float64 {
	gradIn := make([]float64, len(in))
	for i, v := range in {
		if v > 0 {
			gradIn[i] = gradOut[i]
		}
	}
	return gradIn
}

func (r *ReLU) Params() []*Param { return nil }
