// Package config provides configuration loading and structs for twinscope.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Data     DataConfig     `yaml:"data"`
	Image    ImageConfig    `yaml:"image"`
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
}

// DataConfig locates the catalog and images and controls pair construction.
type DataConfig struct {
	ImageDir         string  `yaml:"image_dir"`
	CatalogPath      string  `yaml:"catalog_path"`
	EvalFraction     float64 `yaml:"eval_fraction"`
	Seed             uint64  `yaml:"seed"`
	ShufflePairs     *bool   `yaml:"shuffle_pairs"`
	MaxNegativeDraws int     `yaml:"max_negative_draws"`
	SkipExhausted    bool    `yaml:"skip_exhausted"`
}

// ShufflePairsOrDefault returns whether to shuffle positive/negative units; defaults to true when unset.
func (d *DataConfig) ShufflePairsOrDefault() bool {
	if d.ShufflePairs != nil {
		return *d.ShufflePairs
	}
	return true
}

// ImageConfig controls decoding, letterboxing, and the image cache.
type ImageConfig struct {
	Size          int    `yaml:"size"`
	Preprocessing string `yaml:"preprocessing"`
	CachePolicy   string `yaml:"cache_policy"`
	CacheCapacity int    `yaml:"cache_capacity"`
}

// ONNXConfig configures an optional pretrained ONNX backbone stage.
type ONNXConfig struct {
	ModelPath  string `yaml:"model_path"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	OutputDim  int    `yaml:"output_dim"`
}

// ModelConfig describes the embedding tower.
type ModelConfig struct {
	PoolGrid        int        `yaml:"pool_grid"`
	Hidden          []int      `yaml:"hidden"`
	EmbeddingDim    int        `yaml:"embedding_dim"`
	WeightsPath     string     `yaml:"weights_path"`
	FreezeUntil     string     `yaml:"freeze_until"`
	KeepFrozenKinds []string   `yaml:"keep_frozen_kinds"`
	ONNX            ONNXConfig `yaml:"onnx"`
}

// PlateauConfig controls learning-rate reduction when training loss stalls.
type PlateauConfig struct {
	Patience int     `yaml:"patience"`
	Factor   float64 `yaml:"factor"`
	MinLR    float64 `yaml:"min_lr"`
}

// TrainingConfig holds optimizer and loop settings.
type TrainingConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	Epochs       int           `yaml:"epochs"`
	LearningRate float64       `yaml:"learning_rate"`
	Margin       float64       `yaml:"margin"`
	Plateau      PlateauConfig `yaml:"plateau"`
	Prefetch     int           `yaml:"prefetch"`
	Progress     *bool         `yaml:"progress"`
}

// ProgressOrDefault returns whether to render a progress bar; defaults to true when unset.
func (t *TrainingConfig) ProgressOrDefault() bool {
	if t.Progress != nil {
		return *t.Progress
	}
	return true
}

// StorageConfig holds paths for checkpoints, run history, and the gallery index.
type StorageConfig struct {
	CheckpointDir string `yaml:"checkpoint_dir"`
	DatabasePath  string `yaml:"database_path"`
	GalleryPath   string `yaml:"gallery_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads and parses the config file at path, applies defaults, expands paths, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Data.ImageDir = expandPath(cfg.Data.ImageDir, configDir)
	cfg.Data.CatalogPath = expandPath(cfg.Data.CatalogPath, configDir)
	cfg.Model.WeightsPath = expandPath(cfg.Model.WeightsPath, configDir)
	cfg.Model.ONNX.ModelPath = expandPath(cfg.Model.ONNX.ModelPath, configDir)
	cfg.Storage.CheckpointDir = expandPath(cfg.Storage.CheckpointDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.GalleryPath = expandPath(cfg.Storage.GalleryPath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that cannot produce a run.
func (c *Config) Validate() error {
	if c.Data.EvalFraction < 0 || c.Data.EvalFraction >= 1 {
		return fmt.Errorf("data.eval_fraction must be in [0, 1), got %g", c.Data.EvalFraction)
	}
	if c.Image.Size <= 0 {
		return fmt.Errorf("image.size must be positive, got %d", c.Image.Size)
	}
	switch c.Image.CachePolicy {
	case "never":
	case "lru":
		if c.Image.CacheCapacity <= 0 {
			return fmt.Errorf("image.cache_capacity must be positive for the lru policy")
		}
	default:
		return fmt.Errorf("unknown image.cache_policy %q (supported: never, lru)", c.Image.CachePolicy)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.Plateau.Factor <= 0 || c.Training.Plateau.Factor >= 1 {
		return fmt.Errorf("training.plateau.factor must be in (0, 1), got %g", c.Training.Plateau.Factor)
	}
	if c.Model.ONNX.ModelPath != "" && c.Model.ONNX.OutputDim <= 0 {
		return fmt.Errorf("model.onnx.output_dim must be set when model.onnx.model_path is used")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
