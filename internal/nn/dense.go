package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense computes W·x + b with W of shape out×in.
type Dense struct {
	trainableFlag
	name   string
	in     int
	out    int
	weight *Param
	bias   *Param
}

// NewDense creates a dense layer with Glorot-uniform weights drawn from rng and zero bias.
func NewDense(name string, in, out int, rng *rand.Rand) (*Dense, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("layer %s: dimensions must be positive, got %dx%d", name, in, out)
	}
	d := &Dense{
		trainableFlag: trainableFlag{trainable: true},
		name:          name,
		in:            in,
		out:           out,
		weight:        NewParam(name+"/kernel", out, in),
		bias:          NewParam(name+"/bias", 1, out),
	}
	limit := math.Sqrt(6 / float64(in+out))
	for i := range d.weight.Value {
		d.weight.Value[i] = (rng.Float64()*2 - 1) * limit
	}
	return d, nil
}

func (d *Dense) Name() string { return d.name }
func (d *Dense) Kind() string { return KindDense }

// In returns the input width.
func (d *Dense) In() int { return d.in }

// Out returns the output width.
func (d *Dense) Out() int { return d.out }

func (d *Dense) OutputDim(inputDim int) (int, error) {
	if err := checkDim(d.name, inputDim, d.in); err != nil {
		return 0, err
	}
	return d.out, nil
}

func (d *Dense) Forward(in []float64) ([]float64, error) {
	if err := checkDim(d.name, len(in), d.in); err != nil {
		return nil, err
	}
	y := mat.NewVecDense(d.out, nil)
	y.MulVec(d.weight.ValueMat(), mat.NewVecDense(d.in, in))
	out := y.RawVector().Data
	floats.Add(out, d.bias.Value)
	return out, nil
}

func (d *Dense) Backward(in, out, gradOut []float64) []float64 {
	g := mat.NewVecDense(d.out, gradOut)
	if d.trainable {
		gw := d.weight.GradMat()
		gw.RankOne(gw, 1, g, mat.NewVecDense(d.in, in))
		floats.Add(d.bias.Grad, gradOut)
	}
	gradIn := mat.NewVecDense(d.in, nil)
	gradIn.MulVec(d.weight.ValueMat().T(), g)
	return gradIn.RawVector().Data
}

func (d *Dense) Params() []*Param {
	return []*Param{d.weight, d.bias}
}
