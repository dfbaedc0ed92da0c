// Package main is the twinscope CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/batch"
	"github.com/hyperjump/twinscope/internal/catalog"
	"github.com/hyperjump/twinscope/internal/cli"
	"github.com/hyperjump/twinscope/internal/config"
	"github.com/hyperjump/twinscope/internal/embedding"
	"github.com/hyperjump/twinscope/internal/gallery"
	"github.com/hyperjump/twinscope/internal/imagecache"
	"github.com/hyperjump/twinscope/internal/models"
	"github.com/hyperjump/twinscope/internal/sampler"
	"github.com/hyperjump/twinscope/internal/server"
	"github.com/hyperjump/twinscope/internal/siamese"
	"github.com/hyperjump/twinscope/internal/storage"
	"github.com/hyperjump/twinscope/internal/trainer"
	"github.com/hyperjump/twinscope/internal/watcher"
	"github.com/hyperjump/twinscope/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/twinscope/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists. Returns the config and the path
// that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "train":
		runTrain()
	case "evaluate":
		runEvaluate()
	case "pairs":
		runPairs()
	case "index":
		runIndex()
	case "serve":
		runServe()
	case "runs":
		runRuns()
	case "version", "--version", "-v":
		fmt.Printf("twinscope version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// bootstrap loads the config and builds the logger, exiting on failure.
func bootstrap(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func fatal(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	_ = logger.Sync()
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func runTrain() {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	epochs := fs.Int("epochs", 0, "override training.epochs")
	batchSize := fs.Int("batch-size", 0, "override training.batch_size")
	noProgress := fs.Bool("no-progress", false, "disable the per-epoch progress bar")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	cfg, logger := bootstrap(*configPath, *debug)
	defer logger.Sync()
	if *epochs > 0 {
		cfg.Training.Epochs = *epochs
	}
	if *batchSize > 0 {
		cfg.Training.BatchSize = *batchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := train(ctx, cfg, logger, cfg.Training.ProgressOrDefault() && !*noProgress)
	if err != nil {
		fatal(logger, "Training failed", err)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fatal(logger, "Output failed", err)
	}
}

// train runs a full Compile → Fit → Evaluate → Save cycle and records it as a run.
func train(ctx context.Context, cfg *config.Config, logger *zap.Logger, progress bool) (*trainer.Report, error) {
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	trainSet, trainStats, err := samplePairs(cfg, logger, components.Train, cfg.Data.Seed)
	if err != nil {
		return nil, fmt.Errorf("sample training pairs: %w", err)
	}
	evalSet, evalStats, err := samplePairs(cfg, logger, components.Eval, cfg.Data.Seed+1)
	if err != nil {
		return nil, fmt.Errorf("sample evaluation pairs: %w", err)
	}
	logger.Info("pairs sampled",
		zap.Int("train_entities", trainStats.Entities),
		zap.Int("train_pairs", trainSet.Len()),
		zap.Int("eval_entities", evalStats.Entities),
		zap.Int("eval_pairs", evalSet.Len()),
		zap.Int("skipped", trainStats.Skipped+evalStats.Skipped),
		zap.Int("exhausted", trainStats.Exhausted+evalStats.Exhausted),
	)

	model, err := siamese.Build(architecture(cfg), siamese.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer model.Close()
	if cfg.Model.WeightsPath != "" {
		if err := model.Tower().LoadWeights(cfg.Model.WeightsPath); err != nil {
			return nil, err
		}
	}

	images, err := newLoader(cfg, model.Architecture(), logger)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	run := &models.Run{
		ID:         runID,
		Config:     runConfig(cfg),
		TrainPairs: trainSet.Len(),
		EvalPairs:  evalSet.Len(),
	}
	if err := components.Storage.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	logger.Info("run started", zap.String("run_id", runID))

	report, err := fit(ctx, cfg, logger, model, images, trainSet, evalSet, components.Storage, runID, progress)

	status, runErr := models.RunStatusCompleted, ""
	var evalAcc *float64
	if err != nil {
		status, runErr = models.RunStatusFailed, err.Error()
	} else {
		evalAcc = &report.EvalAccuracy
	}
	if ferr := components.Storage.FinishRun(context.Background(), runID, status, evalAcc, runErr); ferr != nil {
		logger.Warn("failed to finish run record", zap.String("run_id", runID), zap.Error(ferr))
	}
	return report, err
}

func fit(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	model *siamese.Model,
	images *loader,
	trainSet, evalSet *models.PairDataset,
	rec trainer.Recorder,
	runID string,
	progress bool,
) (*trainer.Report, error) {
	opts := []trainer.Option{
		trainer.WithLogger(logger),
		trainer.WithRecorder(rec, runID),
	}
	if progress {
		opts = append(opts, trainer.WithProgress(os.Stderr))
	}
	tr, err := trainer.New(model, trainer.Config{
		Epochs:        cfg.Training.Epochs,
		LearningRate:  cfg.Training.LearningRate,
		CheckpointDir: cfg.Storage.CheckpointDir,
		Plateau: trainer.PlateauConfig{
			Patience: cfg.Training.Plateau.Patience,
			Factor:   cfg.Training.Plateau.Factor,
			MinLR:    cfg.Training.Plateau.MinLR,
		},
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := tr.Compile(); err != nil {
		return nil, err
	}

	trainSrc, closeTrain, err := images.source(ctx, trainSet, cfg.Training.Prefetch)
	if err != nil {
		return nil, fmt.Errorf("training stream: %w", err)
	}
	defer closeTrain()
	evalSrc, closeEval, err := images.source(ctx, evalSet, cfg.Training.Prefetch)
	if err != nil {
		return nil, fmt.Errorf("validation stream: %w", err)
	}
	defer closeEval()

	if _, err := tr.Fit(ctx, trainSrc, evalSrc); err != nil {
		return nil, err
	}

	final, err := images.stream(evalSet)
	if err != nil {
		return nil, fmt.Errorf("evaluation stream: %w", err)
	}
	if _, err := tr.Evaluate(ctx, final); err != nil {
		return nil, err
	}
	reportPath, err := tr.Save()
	if err != nil {
		return nil, err
	}
	logger.Info("report written", zap.String("path", reportPath), zap.Any("image_cache", images.cache.Stats()))
	return tr.Report(), nil
}

func runEvaluate() {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	modelPath := fs.String("model", "", "model file (default: <checkpoint_dir>/final.model)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	cfg, logger := bootstrap(*configPath, *debug)
	defer logger.Sync()
	path := *modelPath
	if path == "" {
		path = filepath.Join(cfg.Storage.CheckpointDir, trainer.FinalModelName)
	}

	entities, err := catalog.Load(cfg.Data.CatalogPath)
	if err != nil {
		fatal(logger, "Failed to load catalog", err)
	}
	_, evalEntities, err := catalog.Split(entities, cfg.Data.EvalFraction, cfg.Data.Seed)
	if err != nil {
		fatal(logger, "Failed to split catalog", err)
	}
	evalSet, _, err := samplePairs(cfg, logger, evalEntities, cfg.Data.Seed+1)
	if err != nil {
		fatal(logger, "Failed to sample pairs", err)
	}

	model, err := siamese.Load(path, siamese.WithLogger(logger))
	if err != nil {
		fatal(logger, "Failed to load model", err)
	}
	defer model.Close()
	images, err := newLoader(cfg, model.Architecture(), logger)
	if err != nil {
		fatal(logger, "Failed to prepare images", err)
	}
	stream, err := images.stream(evalSet)
	if err != nil {
		fatal(logger, "Failed to build evaluation stream", err)
	}
	steps, err := stream.StepsPerEpoch()
	if err != nil {
		fatal(logger, "Failed to build evaluation stream", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loss, acc, n, err := trainer.Score(ctx, model, stream, steps)
	if err != nil {
		fatal(logger, "Evaluation failed", err)
	}
	logger.Info("evaluation finished", zap.Float64("loss", loss), zap.Float64("accuracy", acc), zap.Int("pairs", n))
	if err := cli.WriteAccuracy(os.Stdout, path, acc, n, format); err != nil {
		fatal(logger, "Output failed", err)
	}
}

func runPairs() {
	fs := flag.NewFlagSet("pairs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	split := fs.String("split", "train", "which entities to sample: train, eval or all")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	cfg, logger := bootstrap(*configPath, false)
	defer logger.Sync()

	entities, err := catalog.Load(cfg.Data.CatalogPath)
	if err != nil {
		fatal(logger, "Failed to load catalog", err)
	}
	seed := cfg.Data.Seed
	switch *split {
	case "all":
	case "train", "eval":
		trainEntities, evalEntities, err := catalog.Split(entities, cfg.Data.EvalFraction, cfg.Data.Seed)
		if err != nil {
			fatal(logger, "Failed to split catalog", err)
		}
		entities = trainEntities
		if *split == "eval" {
			entities, seed = evalEntities, cfg.Data.Seed+1
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown split %q; use train, eval, or all\n", *split)
		os.Exit(1)
	}

	ds, stats, err := samplePairs(cfg, logger, entities, seed)
	if err != nil {
		fatal(logger, "Failed to sample pairs", err)
	}
	if err := cli.WritePairs(os.Stdout, ds, stats, format); err != nil {
		fatal(logger, "Output failed", err)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	modelPath := fs.String("model", "", "model file (default: <checkpoint_dir>/final.model)")
	outPath := fs.String("out", "", "gallery file (default: storage.gallery_path)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := bootstrap(*configPath, *debug)
	defer logger.Sync()
	path := *modelPath
	if path == "" {
		path = filepath.Join(cfg.Storage.CheckpointDir, trainer.FinalModelName)
	}
	dest := *outPath
	if dest == "" {
		dest = cfg.Storage.GalleryPath
	}

	entities, err := catalog.Load(cfg.Data.CatalogPath)
	if err != nil {
		fatal(logger, "Failed to load catalog", err)
	}
	model, err := siamese.Load(path, siamese.WithLogger(logger))
	if err != nil {
		fatal(logger, "Failed to load model", err)
	}
	defer model.Close()
	images, err := newLoader(cfg, model.Architecture(), logger)
	if err != nil {
		fatal(logger, "Failed to prepare images", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	gal, err := buildGallery(ctx, model, images, entities, logger)
	if err != nil {
		fatal(logger, "Indexing failed", err)
	}
	if err := gal.Save(dest); err != nil {
		fatal(logger, "Failed to save gallery", err)
	}
	fmt.Printf("Indexed %d images of %d entities into %s\n", gal.Size(), gal.Entities(), dest)
}

// buildGallery embeds every catalog image. Images that fail to load are skipped.
func buildGallery(ctx context.Context, model *siamese.Model, images *loader, entities []models.Entity, logger *zap.Logger) (*gallery.Index, error) {
	gal, err := gallery.New(model.Tower().Dim())
	if err != nil {
		return nil, err
	}
	var entries []gallery.Entry
	for i := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := &entities[i]
		for _, img := range e.Images {
			x, err := images.load(img.Filename)
			if err != nil {
				logger.Warn("skipping image", zap.String("entity", e.ID), zap.String("filename", img.Filename), zap.Error(err))
				continue
			}
			emb, err := model.Embed(x)
			if err != nil {
				return nil, err
			}
			entries = append(entries, gallery.Entry{
				ID:       gallery.EntryID(e.ID, img.Filename),
				EntityID: e.ID,
				Filename: img.Filename,
				Vector:   gallery.ToFloat32(emb),
			})
		}
	}
	if err := gal.Add(ctx, entries); err != nil {
		return nil, err
	}
	return gal, nil
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	modelPath := fs.String("model", "", "model file to serve and watch (default: <checkpoint_dir>/final.model)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := bootstrap(*configPath, *debug)
	defer logger.Sync()
	path := *modelPath
	if path == "" {
		path = filepath.Join(cfg.Storage.CheckpointDir, trainer.FinalModelName)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fatal(logger, "Failed to initialize storage", err)
	}
	defer store.Close()

	var labels *catalog.LabelIndex
	if cfg.Data.CatalogPath != "" {
		entities, err := catalog.Load(cfg.Data.CatalogPath)
		if err != nil {
			logger.Warn("catalog not loaded; entity search disabled", zap.Error(err))
		} else if labels, err = catalog.NewLabelIndex(entities); err != nil {
			fatal(logger, "Failed to index catalog labels", err)
		}
	}
	if labels != nil {
		defer labels.Close()
	}

	var gal *gallery.Index
	if g, err := gallery.Load(cfg.Storage.GalleryPath); err != nil {
		logger.Warn("gallery not loaded; identify disabled", zap.String("path", cfg.Storage.GalleryPath), zap.Error(err))
	} else {
		gal = g
	}

	srv := server.NewServer(cfg, store, labels, gal, logger)
	if _, err := os.Stat(path); err == nil {
		if err := srv.ReloadModel(path); err != nil {
			logger.Warn("model not loaded", zap.String("path", path), zap.Error(err))
		}
	} else {
		logger.Info("waiting for model", zap.String("path", path))
	}

	watchOpts := []watcher.WatcherOption{}
	if cfg.Debug || *debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		filepath.Dir(path),
		[]string{filepath.Base(path)},
		func(changed string) {
			if err := srv.ReloadModel(changed); err != nil {
				logger.Warn("model reload failed", zap.String("path", changed), zap.Error(err))
			}
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		fatal(logger, "Failed to start watcher", err)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 20, "number of runs to list")
	offset := fs.Int("offset", 0, "number of newest runs to skip")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*output)
	cfg, logger := bootstrap(*configPath, false)
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fatal(logger, "Failed to initialize storage", err)
	}
	defer store.Close()
	ctx := context.Background()

	if fs.NArg() > 0 {
		id := fs.Arg(0)
		run, err := store.GetRun(ctx, id)
		if err != nil {
			fatal(logger, "Failed to get run", err)
		}
		epochs, err := store.ListEpochs(ctx, id)
		if err != nil {
			fatal(logger, "Failed to list epochs", err)
		}
		checkpoints, err := store.ListCheckpoints(ctx, id)
		if err != nil {
			fatal(logger, "Failed to list checkpoints", err)
		}
		_ = cli.WriteJSON(os.Stdout, map[string]interface{}{
			"run":         run,
			"epochs":      epochs,
			"checkpoints": checkpoints,
		})
		return
	}

	runs, err := store.ListRuns(ctx, *offset, *limit)
	if err != nil {
		fatal(logger, "Failed to list runs", err)
	}
	if err := cli.WriteRuns(os.Stdout, runs, format); err != nil {
		fatal(logger, "Output failed", err)
	}
}

// Components holds the shared pieces a training run needs.
type Components struct {
	Storage *storage.SQLiteStorage
	Train   []models.Entity
	Eval    []models.Entity
}

// Close releases resources held by the components.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	entities, err := catalog.Load(cfg.Data.CatalogPath)
	if err != nil {
		return nil, err
	}
	train, eval, err := catalog.Split(entities, cfg.Data.EvalFraction, cfg.Data.Seed)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog loaded",
		zap.Int("entities", len(entities)),
		zap.Int("images", catalog.ImageCount(entities)),
		zap.Int("train_entities", len(train)),
		zap.Int("eval_entities", len(eval)),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &Components{Storage: store, Train: train, Eval: eval}, nil
}

func samplePairs(cfg *config.Config, logger *zap.Logger, entities []models.Entity, seed uint64) (*models.PairDataset, sampler.Stats, error) {
	s := sampler.New(seed,
		sampler.WithShuffle(cfg.Data.ShufflePairsOrDefault()),
		sampler.WithMaxDraws(cfg.Data.MaxNegativeDraws),
		sampler.WithSkipExhausted(cfg.Data.SkipExhausted),
		sampler.WithLogger(logger),
	)
	ds, stats, err := s.Build(entities)
	if err != nil {
		return nil, stats, err
	}
	if err := ds.Validate(); err != nil {
		return nil, stats, fmt.Errorf("invalid pair dataset: %w", err)
	}
	return ds, stats, nil
}

// architecture maps config onto a model architecture.
func architecture(cfg *config.Config) siamese.Architecture {
	arch := siamese.Architecture{
		Extractor: embedding.ExtractorSpec{
			ImageSize:    cfg.Image.Size,
			PoolGrid:     cfg.Model.PoolGrid,
			Hidden:       cfg.Model.Hidden,
			EmbeddingDim: cfg.Model.EmbeddingDim,
			Seed:         cfg.Data.Seed,
		},
		FreezeUntil:   cfg.Model.FreezeUntil,
		KeepFrozen:    cfg.Model.KeepFrozenKinds,
		Preprocessing: cfg.Image.Preprocessing,
		Margin:        cfg.Training.Margin,
	}
	if cfg.Model.ONNX.ModelPath != "" {
		arch.Extractor.ONNX = &embedding.ONNXSpec{
			ModelPath:  cfg.Model.ONNX.ModelPath,
			InputName:  cfg.Model.ONNX.InputName,
			OutputName: cfg.Model.ONNX.OutputName,
			OutputDim:  cfg.Model.ONNX.OutputDim,
		}
	}
	return arch
}

func runConfig(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"image_size":     cfg.Image.Size,
		"preprocessing":  cfg.Image.Preprocessing,
		"embedding_dim":  cfg.Model.EmbeddingDim,
		"hidden":         cfg.Model.Hidden,
		"freeze_until":   cfg.Model.FreezeUntil,
		"batch_size":     cfg.Training.BatchSize,
		"epochs":         cfg.Training.Epochs,
		"learning_rate":  cfg.Training.LearningRate,
		"margin":         cfg.Training.Margin,
		"eval_fraction":  cfg.Data.EvalFraction,
		"seed":           cfg.Data.Seed,
		"checkpoint_dir": cfg.Storage.CheckpointDir,
	}
}

// loader turns image filenames into model inputs for one architecture.
type loader struct {
	cfg        *config.Config
	cache      *imagecache.Cache
	preprocess batch.Preprocessor
	logger     *zap.Logger
}

func newLoader(cfg *config.Config, arch siamese.Architecture, logger *zap.Logger) (*loader, error) {
	cache, err := imagecache.NewFromConfig(arch.Extractor.ImageSize, cfg.Image.CachePolicy, cfg.Image.CacheCapacity)
	if err != nil {
		return nil, err
	}
	preprocess, err := batch.NewPreprocessor(arch.Preprocessing)
	if err != nil {
		return nil, err
	}
	return &loader{cfg: cfg, cache: cache, preprocess: preprocess, logger: logger}, nil
}

func (l *loader) load(filename string) ([]float64, error) {
	t, err := l.cache.Get(filename, l.cfg.Data.ImageDir)
	if err != nil {
		return nil, err
	}
	return l.preprocess(t), nil
}

func (l *loader) stream(ds *models.PairDataset) (*batch.Stream, error) {
	return batch.NewStream(ds, l.cache, l.cfg.Data.ImageDir, l.cfg.Training.BatchSize, l.preprocess, batch.WithLogger(l.logger))
}

// source returns a stream over ds, wrapped in a prefetcher when depth > 0. The
// returned func stops the prefetcher.
func (l *loader) source(ctx context.Context, ds *models.PairDataset, depth int) (batch.Source, func(), error) {
	s, err := l.stream(ds)
	if err != nil {
		return nil, nil, err
	}
	if depth <= 0 {
		return s, func() {}, nil
	}
	p := batch.Prefetch(ctx, s, depth)
	return p, p.Close, nil
}

func printUsage() {
	fmt.Println(`twinscope - Pairwise visual similarity trainer

Usage:
  twinscope train [flags]          Train a model on the catalog and report held-out accuracy
  twinscope evaluate [flags]       Score a saved model on the held-out pairs
  twinscope pairs [flags]          Print the sampled positive/negative pairs
  twinscope index [flags]          Embed every catalog image into the identify gallery
  twinscope serve [flags]          Start the HTTP server and hot-reload the final model
  twinscope runs [flags] [id]      List recorded training runs, or show one
  twinscope version                Show version
  twinscope help                   Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/twinscope/config.yaml)
  --debug            Enable debug logging

Train Flags:
  --epochs int       Override training.epochs
  --batch-size int   Override training.batch_size
  --no-progress      Disable the per-epoch progress bar
  --output string    Output format: text or json (default: text)

Evaluate / Index / Serve Flags:
  --model string     Model file (default: <checkpoint_dir>/final.model)
  --out string       Gallery file for index (default: storage.gallery_path)

Pairs Flags:
  --split string     train, eval, or all (default: train)

Runs Flags:
  --limit int        Number of runs (default: 20)
  --offset int       Runs to skip
  --output string    Output format: text or json

Examples:
  twinscope train --epochs 20
  twinscope evaluate --output json
  twinscope pairs --split eval --output json
  twinscope index
  twinscope serve
  twinscope runs`)
}
