package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
data:
  image_dir: "/data/images"
  catalog_path: "/data/labels.json"
  eval_fraction: 0.25
training:
  batch_size: 16
  epochs: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Data.ImageDir != "/data/images" || cfg.Data.CatalogPath != "/data/labels.json" {
		t.Errorf("unexpected data config: %+v", cfg.Data)
	}
	if cfg.Data.EvalFraction != 0.25 {
		t.Errorf("eval_fraction: got %g", cfg.Data.EvalFraction)
	}
	if cfg.Training.BatchSize != 16 || cfg.Training.Epochs != 3 {
		t.Errorf("unexpected training config: %+v", cfg.Training)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
data:
  image_dir: "./images"
  catalog_path: "./labels.json"
storage:
  checkpoint_dir: "./ckpt"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "images"); cfg.Data.ImageDir != want {
		t.Errorf("image_dir = %s, want %s", cfg.Data.ImageDir, want)
	}
	if want := filepath.Join(dir, "ckpt"); cfg.Storage.CheckpointDir != want {
		t.Errorf("checkpoint_dir = %s, want %s", cfg.Storage.CheckpointDir, want)
	}
	if want := filepath.Join(dir, "data", "runs.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path default = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if cfg.Model.WeightsPath != "" {
		t.Errorf("weights_path should stay empty, got %q", cfg.Model.WeightsPath)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"eval fraction too large", "data:\n  eval_fraction: 1.5\n"},
		{"unknown cache policy", "image:\n  cache_policy: fifo\n"},
		{"lru without capacity", "image:\n  cache_policy: lru\n"},
		{"onnx without output dim", "model:\n  onnx:\n    model_path: /m.onnx\n"},
		{"bad plateau factor", "training:\n  plateau:\n    factor: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Data.EvalFraction != 0.2 {
		t.Errorf("default eval_fraction: got %g", cfg.Data.EvalFraction)
	}
	if cfg.Image.Size != 64 || cfg.Image.Preprocessing != "tf" || cfg.Image.CachePolicy != "never" {
		t.Errorf("image defaults: got %+v", cfg.Image)
	}
	if cfg.Training.Margin != 1.0 {
		t.Errorf("default margin: got %g", cfg.Training.Margin)
	}
	if p := cfg.Training.Plateau; p.Patience != 3 || p.Factor != 0.5 || p.MinLR != 1e-6 {
		t.Errorf("plateau defaults: got %+v", p)
	}
	if len(cfg.Model.Hidden) != 1 || cfg.Model.Hidden[0] != 128 {
		t.Errorf("hidden defaults: got %v", cfg.Model.Hidden)
	}
	if cfg.Model.ONNX.InputName != "" {
		t.Error("onnx names should stay empty without a model path")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDataConfig_ShufflePairsOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		d := &DataConfig{}
		if !d.ShufflePairsOrDefault() {
			t.Error("want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		d := &DataConfig{ShufflePairs: &f}
		if d.ShufflePairsOrDefault() {
			t.Error("want false")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{Training: TrainingConfig{BatchSize: 8, Epochs: 2}}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Training.BatchSize != 8 || loaded.Training.Epochs != 2 {
		t.Errorf("loaded training: got %+v", loaded.Training)
	}
}
