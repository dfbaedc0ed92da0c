package siamese

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/twinscope/internal/batch"
	"github.com/hyperjump/twinscope/internal/embedding"
	"github.com/hyperjump/twinscope/internal/metric"
	"github.com/hyperjump/twinscope/internal/nn"
)

func testArch() Architecture {
	return Architecture{
		Extractor:     embedding.ExtractorSpec{ImageSize: 4, PoolGrid: 2, Hidden: []int{8}, EmbeddingDim: 4, Seed: 3},
		Preprocessing: "tf",
		Margin:        1,
	}
}

// syntheticBatch builds pairs whose left and right images are equal for positives
// and unrelated for negatives.
func syntheticBatch(rng *rand.Rand, n, dim int) *batch.Batch {
	b := &batch.Batch{}
	for i := 0; i < n; i++ {
		left := make([]float64, dim)
		for j := range left {
			left[j] = rng.Float64()*2 - 1
		}
		right := left
		label := 1.0
		if i%2 == 1 {
			right = make([]float64, dim)
			for j := range right {
				right[j] = rng.Float64()*2 - 1
			}
			label = 0
		}
		b.Left = append(b.Left, left)
		b.Right = append(b.Right, right)
		b.Labels = append(b.Labels, label)
	}
	return b
}

func TestModel_DistanceSharesWeights(t *testing.T) {
	m, err := Build(testArch())
	if err != nil {
		t.Fatal(err)
	}
	x := make([]float64, 48)
	for i := range x {
		x[i] = float64(i) / 48
	}
	d, err := m.Distance(x, x)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d-math.Sqrt(metric.Epsilon)) > 1e-12 {
		t.Errorf("identical inputs should sit at the distance floor, got %v", d)
	}
}

func TestModel_TrainBatchReducesLoss(t *testing.T) {
	arch := testArch()
	// A wide margin keeps every negative inside the hinge.
	arch.Margin = 10
	m, err := Build(arch)
	if err != nil {
		t.Fatal(err)
	}
	b := syntheticBatch(rand.New(rand.NewPCG(5, 5)), 8, 48)
	before, _, err := m.EvalBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	opt := nn.NewAdam(0.01)
	for i := 0; i < 50; i++ {
		if _, _, err := m.TrainBatch(b, opt); err != nil {
			t.Fatal(err)
		}
	}
	after, distances, err := m.EvalBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	if after >= before {
		t.Errorf("loss did not decrease: before %v, after %v", before, after)
	}
	if len(distances) != 8 {
		t.Errorf("expected 8 distances, got %d", len(distances))
	}
}

func TestModel_TrainBatchLeavesFrozenLayers(t *testing.T) {
	arch := testArch()
	arch.FreezeUntil = "block1_dense"
	m, err := Build(arch)
	if err != nil {
		t.Fatal(err)
	}
	frozen := m.Tower().Layers()[1].Params()[0]
	snapshot := append([]float64(nil), frozen.Value...)
	b := syntheticBatch(rand.New(rand.NewPCG(6, 6)), 4, 48)
	if _, _, err := m.TrainBatch(b, nn.NewAdam(0.01)); err != nil {
		t.Fatal(err)
	}
	for i := range snapshot {
		if frozen.Value[i] != snapshot[i] {
			t.Fatal("frozen layer was updated")
		}
	}
}

func TestModel_TrainBatchEmpty(t *testing.T) {
	m, err := Build(testArch())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.TrainBatch(&batch.Batch{}, nn.NewAdam(0.01)); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestBuild_unknownFreezeBoundary(t *testing.T) {
	arch := testArch()
	arch.FreezeUntil = "nope"
	if _, err := Build(arch); err == nil {
		t.Error("expected configuration error")
	}
}

func TestModel_SaveLoad(t *testing.T) {
	m, err := Build(testArch())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "out", "final.model")
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Architecture().Preprocessing != "tf" || loaded.Margin() != 1 {
		t.Errorf("architecture not restored: %+v", loaded.Architecture())
	}
	b := syntheticBatch(rand.New(rand.NewPCG(7, 7)), 4, 48)
	_, want, _ := m.EvalBatch(b)
	_, got, err := loaded.EvalBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-4 {
			t.Errorf("distance %d: got %v, want %v", i, got[i], want[i])
		}
	}

	arch, err := ReadArchitecture(path)
	if err != nil {
		t.Fatal(err)
	}
	if arch.Extractor.EmbeddingDim != 4 {
		t.Errorf("embedding dim %d", arch.Extractor.EmbeddingDim)
	}
}

func TestLoad_invalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.model")
	if err := os.WriteFile(path, []byte("garbage data"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid model file")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.model")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadArchitecture_rejectsOversizedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.model")
	data := append(fileMagic[:], 0xff, 0xff, 0xff, 0xff)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadArchitecture(path); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("expected header length error, got %v", err)
	}
}
