package nn

import (
	"bytes"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
)

func newTestNet(t *testing.T) *Sequential {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	d1, err := NewDense("hidden", 4, 3, rng)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := NewDense("out", 3, 2, rng)
	if err != nil {
		t.Fatal(err)
	}
	net, err := NewSequential(d1, NewReLU("hidden/relu"), d2)
	if err != nil {
		t.Fatal(err)
	}
	return net
}

func halfSquaredNorm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s / 2
}

func TestSequential_gradientCheck(t *testing.T) {
	net := newTestNet(t)
	x := []float64{0.5, -1.2, 0.3, 2.0}

	trace, err := net.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	// d(½‖y‖²)/dy = y
	net.ZeroGrad()
	net.Backward(trace, trace.Output())

	const h = 1e-6
	for _, p := range net.Params() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up, _ := net.Forward(x)
			p.Value[i] = orig - h
			down, _ := net.Forward(x)
			p.Value[i] = orig
			numeric := (halfSquaredNorm(up.Output()) - halfSquaredNorm(down.Output())) / (2 * h)
			if math.Abs(numeric-p.Grad[i]) > 1e-5 {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, i, p.Grad[i], numeric)
			}
		}
	}
}

func TestSequential_frozenLayerGetsNoGradient(t *testing.T) {
	net := newTestNet(t)
	net.Layers()[0].SetTrainable(false)
	trace, err := net.Forward([]float64{1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	net.ZeroGrad()
	net.Backward(trace, []float64{1, 1})
	for _, g := range net.Layers()[0].Params()[0].Grad {
		if g != 0 {
			t.Fatal("frozen layer accumulated a gradient")
		}
	}
	if len(net.TrainableParams()) != 2 {
		t.Errorf("expected 2 trainable params, got %d", len(net.TrainableParams()))
	}
}

func TestSequential_duplicateNames(t *testing.T) {
	if _, err := NewSequential(NewReLU("a"), NewReLU("a")); err == nil {
		t.Error("expected error for duplicate layer names")
	}
}

func TestDense_dimensionMismatch(t *testing.T) {
	d, err := NewDense("d", 3, 2, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Forward([]float64{1, 2}); err == nil {
		t.Error("expected dimension error")
	}
	if _, err := NewDense("d", 0, 2, nil); err == nil {
		t.Error("expected error for zero input width")
	}
}

func TestGridPool(t *testing.T) {
	// 2x4 image, 1 channel, 2x2 grid: each cell covers one row and two columns.
	p, err := NewGridPool("pool", 2, 4, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	in := []float64{1, 3, 5, 7, 2, 4, 6, 8}
	out, err := p.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 6, 3, 7}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("cell %d: got %v, want %v", i, out[i], want[i])
		}
	}
	grad := p.Backward(in, out, []float64{2, 0, 0, 4})
	wantGrad := []float64{1, 1, 0, 0, 0, 0, 2, 2}
	for i := range wantGrad {
		if grad[i] != wantGrad[i] {
			t.Errorf("grad %d: got %v, want %v", i, grad[i], wantGrad[i])
		}
	}
	if _, err := NewGridPool("pool", 2, 2, 3, 4); err == nil {
		t.Error("expected error for grid larger than input")
	}
}

func TestAdam_minimizesQuadratic(t *testing.T) {
	p := NewParam("w", 1, 2)
	p.Value[0], p.Value[1] = 3, -2
	opt := NewAdam(0.1)
	for i := 0; i < 500; i++ {
		p.ZeroGrad()
		for j, v := range p.Value {
			p.Grad[j] = 2 * v
		}
		opt.Step([]*Param{p})
	}
	for j, v := range p.Value {
		if math.Abs(v) > 0.05 {
			t.Errorf("w[%d] = %v, expected near 0", j, v)
		}
	}
	if opt.Steps() != 500 {
		t.Errorf("Steps = %d", opt.Steps())
	}
	opt.SetLearningRate(0.05)
	if opt.LearningRate() != 0.05 {
		t.Error("SetLearningRate did not apply")
	}
}

func TestParams_SaveLoad(t *testing.T) {
	src := newTestNet(t)
	path := filepath.Join(t.TempDir(), "weights", "tower.bin")
	if err := SaveParams(path, src.Params()); err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewPCG(9, 9))
	d1, _ := NewDense("hidden", 4, 3, rng)
	d2, _ := NewDense("out", 3, 2, rng)
	dst, _ := NewSequential(d1, NewReLU("hidden/relu"), d2)
	n, err := LoadParams(path, dst.Params())
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("loaded %d params, want 4", n)
	}
	for i, p := range src.Params() {
		q := dst.Params()[i]
		for j := range p.Value {
			if float32(p.Value[j]) != float32(q.Value[j]) {
				t.Fatalf("%s[%d]: got %v, want %v", p.Name, j, q.Value[j], p.Value[j])
			}
		}
	}
}

func TestReadParams_partialAndMismatch(t *testing.T) {
	src := newTestNet(t)
	var buf bytes.Buffer
	if err := WriteParams(&buf, src.Params()[:2]); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	dst := newTestNet(t)
	n, err := ReadParams(bytes.NewReader(data), dst.Params())
	if err != nil || n != 2 {
		t.Fatalf("partial load: n=%d err=%v", n, err)
	}

	wrong := NewParam("hidden/kernel", 2, 2)
	if _, err := ReadParams(bytes.NewReader(data), []*Param{wrong, NewParam("hidden/bias", 1, 3)}); err == nil {
		t.Error("expected shape mismatch error")
	}
	if _, err := ReadParams(bytes.NewReader(data), []*Param{NewParam("other", 1, 1)}); err == nil {
		t.Error("expected unknown parameter error")
	}
	if _, err := ReadParams(bytes.NewReader(data[:10]), dst.Params()); err == nil {
		t.Error("expected error for truncated stream")
	}
}

func TestReadParams_rejectsOversizedName(t *testing.T) {
	data := []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
	_, err := ReadParams(bytes.NewReader(data), newTestNet(t).Params())
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("expected name length error, got %v", err)
	}
}

func BenchmarkSequential_ForwardBackward(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 2))
	pool, _ := NewGridPool("pool", 64, 64, 3, 8)
	d1, _ := NewDense("hidden", 192, 128, rng)
	d2, _ := NewDense("out", 128, 64, rng)
	net, _ := NewSequential(pool, d1, NewReLU("relu"), d2)
	x := make([]float64, 64*64*3)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	grad := make([]float64, 64)
	for i := range grad {
		grad[i] = 1
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr, err := net.Forward(x)
		if err != nil {
			b.Fatal(err)
		}
		net.Backward(tr, grad)
		net.ZeroGrad()
	}
}
