package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Data.EvalFraction == 0 {
		cfg.Data.EvalFraction = 0.2
	}
	if cfg.Data.Seed == 0 {
		cfg.Data.Seed = 42
	}
	if cfg.Data.ShufflePairs == nil {
		t := true
		cfg.Data.ShufflePairs = &t
	}
	if cfg.Data.MaxNegativeDraws == 0 {
		cfg.Data.MaxNegativeDraws = 1000
	}
	if cfg.Image.Size == 0 {
		cfg.Image.Size = 64
	}
	if cfg.Image.Preprocessing == "" {
		cfg.Image.Preprocessing = "tf"
	}
	if cfg.Image.CachePolicy == "" {
		cfg.Image.CachePolicy = "never"
	}
	if cfg.Model.PoolGrid == 0 {
		cfg.Model.PoolGrid = 8
	}
	if cfg.Model.Hidden == nil {
		cfg.Model.Hidden = []int{128}
	}
	if cfg.Model.EmbeddingDim == 0 {
		cfg.Model.EmbeddingDim = 64
	}
	if cfg.Model.ONNX.ModelPath != "" {
		if cfg.Model.ONNX.InputName == "" {
			cfg.Model.ONNX.InputName = "input"
		}
		if cfg.Model.ONNX.OutputName == "" {
			cfg.Model.ONNX.OutputName = "features"
		}
	}
	if cfg.Training.BatchSize == 0 {
		cfg.Training.BatchSize = 32
	}
	if cfg.Training.Epochs == 0 {
		cfg.Training.Epochs = 10
	}
	if cfg.Training.LearningRate == 0 {
		cfg.Training.LearningRate = 0.001
	}
	if cfg.Training.Margin == 0 {
		cfg.Training.Margin = 1.0
	}
	if cfg.Training.Plateau.Patience == 0 {
		cfg.Training.Plateau.Patience = 3
	}
	if cfg.Training.Plateau.Factor == 0 {
		cfg.Training.Plateau.Factor = 0.5
	}
	if cfg.Training.Plateau.MinLR == 0 {
		cfg.Training.Plateau.MinLR = 1e-6
	}
	if cfg.Storage.CheckpointDir == "" {
		cfg.Storage.CheckpointDir = "./checkpoints"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/runs.db"
	}
	if cfg.Storage.GalleryPath == "" {
		cfg.Storage.GalleryPath = "./data/gallery.idx"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}
