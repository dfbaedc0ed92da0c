package embedding

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/twinscope/internal/nn"
)

func testSpec() ExtractorSpec {
	return ExtractorSpec{ImageSize: 4, PoolGrid: 2, Hidden: []int{5}, EmbeddingDim: 3, Seed: 7}
}

func newTestTower(t *testing.T, freeze FreezeOptions) *Tower {
	t.Helper()
	layers, err := BuildExtractor(testSpec())
	if err != nil {
		t.Fatal(err)
	}
	tower, err := NewTower(layers, freeze)
	if err != nil {
		t.Fatal(err)
	}
	return tower
}

func trainableByName(tower *Tower) map[string]bool {
	out := make(map[string]bool)
	for _, l := range tower.Layers() {
		out[l.Name()] = l.Trainable()
	}
	return out
}

func TestBuildExtractor_layout(t *testing.T) {
	layers, err := BuildExtractor(testSpec())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"pool", "block1_dense", "block1_relu", "embedding"}
	if len(layers) != len(want) {
		t.Fatalf("got %d layers, want %d", len(layers), len(want))
	}
	for i, name := range want {
		if layers[i].Name() != name {
			t.Errorf("layer %d: got %s, want %s", i, layers[i].Name(), name)
		}
	}
	if layers[1].(*nn.Dense).In() != 2*2*3 {
		t.Errorf("first dense input: got %d", layers[1].(*nn.Dense).In())
	}
}

func TestBuildExtractor_invalid(t *testing.T) {
	spec := testSpec()
	spec.PoolGrid = 8
	if _, err := BuildExtractor(spec); err == nil {
		t.Error("expected error for grid larger than image")
	}
	spec = testSpec()
	spec.EmbeddingDim = 0
	if _, err := BuildExtractor(spec); err == nil {
		t.Error("expected error for zero embedding dim")
	}
}

func TestNewTower_freezeUntil(t *testing.T) {
	tower := newTestTower(t, FreezeOptions{FreezeUntil: "block1_dense"})
	got := trainableByName(tower)
	want := map[string]bool{"pool": false, "block1_dense": false, "block1_relu": true, "embedding": true}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s trainable=%v, want %v", name, got[name], w)
		}
	}
	if n := len(tower.TrainableParams()); n != 2 {
		t.Errorf("expected 2 trainable params, got %d", n)
	}
}

func TestNewTower_noFreeze(t *testing.T) {
	tower := newTestTower(t, FreezeOptions{})
	for name, trainable := range trainableByName(tower) {
		if !trainable {
			t.Errorf("%s should be trainable", name)
		}
	}
}

func TestNewTower_unknownBoundary(t *testing.T) {
	layers, err := BuildExtractor(testSpec())
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewTower(layers, FreezeOptions{FreezeUntil: "conv5_block3_out"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if cfgErr.Value != "conv5_block3_out" || !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewTower_keepFrozenKinds(t *testing.T) {
	tower := newTestTower(t, FreezeOptions{KeepFrozenKinds: []string{nn.KindDense}})
	got := trainableByName(tower)
	if got["block1_dense"] || got["embedding"] {
		t.Error("dense layers should stay frozen")
	}
	if !got["pool"] || !got["block1_relu"] {
		t.Error("non-dense layers should be trainable")
	}
}

func TestTower_Embed(t *testing.T) {
	tower := newTestTower(t, FreezeOptions{})
	x := make([]float64, testSpec().InputDim())
	for i := range x {
		x[i] = float64(i%7) / 7
	}
	a, err := tower.Embed(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 3 || tower.Dim() != 3 {
		t.Fatalf("embedding width %d, Dim %d", len(a), tower.Dim())
	}
	b, _ := tower.Embed(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}
	if _, err := tower.Embed(x[:5]); err == nil {
		t.Error("expected error for wrong input width")
	}
}

func TestTower_LoadWeights(t *testing.T) {
	src := newTestTower(t, FreezeOptions{})
	path := filepath.Join(t.TempDir(), "extractor.bin")
	if err := nn.SaveParams(path, src.Params()); err != nil {
		t.Fatal(err)
	}
	spec := testSpec()
	spec.Seed = 99
	layers, err := BuildExtractor(spec)
	if err != nil {
		t.Fatal(err)
	}
	dst, err := NewTower(layers, FreezeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.LoadWeights(path); err != nil {
		t.Fatal(err)
	}
	x := make([]float64, spec.InputDim())
	for i := range x {
		x[i] = 0.25
	}
	a, _ := src.Embed(x)
	b, _ := dst.Embed(x)
	for i := range a {
		if diff := a[i] - b[i]; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("component %d: %v vs %v", i, a[i], b[i])
		}
	}
	if err := dst.LoadWeights(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing weights file")
	}
	if err := dst.Close(); err != nil {
		t.Error(err)
	}
}
