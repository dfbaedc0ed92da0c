// Package nn provides the small set of layers, the optimizer and the parameter codec
// used by the embedding tower. Layers work on one example at a time; batching is
// done by the caller accumulating gradients before an optimizer step.
package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Layer kinds.
const (
	KindPool  = "pool"
	KindDense = "dense"
	KindReLU  = "relu"
	KindONNX  = "onnx"
)

// Param is a trainable tensor stored row-major with its gradient accumulator.
type Param struct {
	Name  string
	Rows  int
	Cols  int
	Value []float64
	Grad  []float64
}

// NewParam allocates a zeroed rows×cols parameter.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

// ValueMat returns a matrix view sharing Value's storage.
func (p *Param) ValueMat() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Value)
}

// GradMat returns a matrix view sharing Grad's storage.
func (p *Param) GradMat() *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, p.Grad)
}

// ZeroGrad clears the gradient accumulator.
func (p *Param) ZeroGrad() {
	clear(p.Grad)
}

// Len returns the number of scalars.
func (p *Param) Len() int {
	return len(p.Value)
}

// Layer is one stage of a feed-forward network.
type Layer interface {
	Name() string
	Kind() string
	// OutputDim returns the output width for the given input width.
	OutputDim(inputDim int) (int, error)
	Forward(in []float64) ([]float64, error)
	// Backward accumulates parameter gradients when trainable and returns dL/din.
	Backward(in, out, gradOut []float64) []float64
	Params() []*Param
	Trainable() bool
	SetTrainable(trainable bool)
}

type trainableFlag struct {
	trainable bool
}

func (f *trainableFlag) Trainable() bool {
	return f.trainable
}

func (f *trainableFlag) SetTrainable(trainable bool) {
	f.trainable = trainable
}

func checkDim(layer string, got, want int) error {
	if got != want {
		return fmt.Errorf("layer %s: input dimension mismatch: got %d, expected %d", layer, got, want)
	}
	return nil
}
