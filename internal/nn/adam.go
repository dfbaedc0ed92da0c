package nn

import "math"

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	step  int
	m     map[*Param][]float64
	v     map[*Param][]float64
}

// NewAdam creates an optimizer with the usual defaults (β1=0.9, β2=0.999, ε=1e-7).
func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-7,
		m:     make(map[*Param][]float64),
		v:     make(map[*Param][]float64),
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.lr
}

// SetLearningRate changes the learning rate for subsequent steps.
func (a *Adam) SetLearningRate(lr float64) {
	a.lr = lr
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int {
	return a.step
}

// Step applies one update to params from their accumulated gradients.
func (a *Adam) Step(params []*Param) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, p.Len())
			a.m[p] = m
		}
		v, ok := a.v[p]
		if !ok {
			v = make([]float64, p.Len())
			a.v[p] = v
		}
		for i, g := range p.Grad {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g
			v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
			mHat := m[i] / c1
			vHat := v[i] / c2
			p.Value[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
