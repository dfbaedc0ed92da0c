// Package trainer runs contrastive training of a siamese model with validation,
// checkpointing and learning-rate reduction on plateau.
package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/batch"
	"github.com/hyperjump/twinscope/internal/metric"
	"github.com/hyperjump/twinscope/internal/models"
	"github.com/hyperjump/twinscope/internal/nn"
	"github.com/hyperjump/twinscope/internal/siamese"
)

// FinalModelName is the artifact written after the last epoch.
const FinalModelName = "final.model"

// ReportName is the evaluation report written by Save.
const ReportName = "report.json"

// CheckpointName returns the file name for a checkpoint taken after epoch.
func CheckpointName(epoch int, valLoss float64) string {
	return fmt.Sprintf("weights.%02d-%.2f.ckpt", epoch, valLoss)
}

// Config holds the training loop settings.
type Config struct {
	Epochs        int
	LearningRate  float64
	CheckpointDir string
	Plateau       PlateauConfig
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("checkpoint directory is required")
	}
	if c.Plateau.Patience <= 0 {
		return fmt.Errorf("plateau patience must be positive")
	}
	if c.Plateau.Factor <= 0 || c.Plateau.Factor >= 1 {
		return fmt.Errorf("plateau factor must be in (0, 1)")
	}
	return nil
}

// Recorder persists training history. storage.Storage satisfies it.
type Recorder interface {
	RecordEpoch(ctx context.Context, rec *models.EpochRecord) error
	RecordCheckpoint(ctx context.Context, rec *models.CheckpointRecord) error
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch        int     `json:"epoch"`
	Loss         float64 `json:"loss"`
	Accuracy     float64 `json:"accuracy"`
	ValLoss      float64 `json:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy"`
	LearningRate float64 `json:"learning_rate"`
	Checkpoint   string  `json:"checkpoint,omitempty"`
}

// Report is the outcome of a finished run.
type Report struct {
	RunID        string        `json:"run_id,omitempty"`
	Epochs       []EpochResult `json:"epochs"`
	BestValLoss  float64       `json:"best_val_loss"`
	FinalModel   string        `json:"final_model"`
	EvalAccuracy float64       `json:"eval_accuracy"`
	EvalPairs    int           `json:"eval_pairs"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Trainer drives one model through Configured → Compiled → Training → Evaluated → Saved.
type Trainer struct {
	cfg      Config
	model    *siamese.Model
	opt      *nn.Adam
	plateau  *Plateau
	state    State
	fitDone  bool
	best     float64
	history  []EpochResult
	final    string
	evalAcc  float64
	evalN    int
	recorder Recorder
	runID    string
	progress io.Writer
	logger   *zap.Logger
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithRecorder records epochs and checkpoints under runID.
func WithRecorder(rec Recorder, runID string) Option {
	return func(t *Trainer) {
		t.recorder = rec
		t.runID = runID
	}
}

// WithProgress draws a per-epoch progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) {
		t.progress = w
	}
}

// New creates a trainer in the Configured state.
func New(model *siamese.Model, cfg Config, opts ...Option) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Trainer{
		cfg:    cfg,
		model:  model,
		state:  StateConfigured,
		best:   math.Inf(1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() State {
	return t.state
}

// History returns the finished epochs.
func (t *Trainer) History() []EpochResult {
	return t.history
}

// LearningRate returns the optimizer's current learning rate, or the configured
// initial rate before Compile.
func (t *Trainer) LearningRate() float64 {
	if t.opt == nil {
		return t.cfg.LearningRate
	}
	return t.opt.LearningRate()
}

// Compile binds an Adam optimizer at the initial learning rate.
func (t *Trainer) Compile() error {
	if t.state != StateConfigured {
		return stateError("Compile", t.state, StateConfigured)
	}
	t.opt = nn.NewAdam(t.cfg.LearningRate)
	t.plateau = NewPlateau(t.cfg.Plateau)
	t.state = StateCompiled
	return nil
}

// Fit trains for the configured number of epochs. Each epoch consumes
// train.StepsPerEpoch() batches, then validates on eval.StepsPerEpoch() batches.
// A checkpoint is written whenever validation loss improves and the final model is
// written after the last epoch. Cancellation is checked between steps; artifacts
// already written stay on disk.
func (t *Trainer) Fit(ctx context.Context, train, eval batch.Source) ([]EpochResult, error) {
	if t.state != StateCompiled {
		return nil, stateError("Fit", t.state, StateCompiled)
	}
	steps, err := train.StepsPerEpoch()
	if err != nil {
		return nil, fmt.Errorf("training stream: %w", err)
	}
	valSteps, err := eval.StepsPerEpoch()
	if err != nil {
		return nil, fmt.Errorf("validation stream: %w", err)
	}
	if err := os.MkdirAll(t.cfg.CheckpointDir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	t.state = StateTraining

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		result, err := t.runEpoch(ctx, epoch, steps, valSteps, train, eval)
		if err != nil {
			return t.history, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.history = append(t.history, result)
	}

	final := filepath.Join(t.cfg.CheckpointDir, FinalModelName)
	if err := t.model.Save(final); err != nil {
		return t.history, fmt.Errorf("save final model: %w", err)
	}
	t.final = final
	last := t.history[len(t.history)-1]
	t.logger.Info("saved final model", zap.String("path", final))
	t.record(func(r Recorder) error {
		return r.RecordCheckpoint(ctx, &models.CheckpointRecord{
			RunID: t.runID, Epoch: last.Epoch, ValLoss: last.ValLoss, Path: final, Final: true,
		})
	})
	t.fitDone = true
	return t.history, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch, steps, valSteps int, train, eval batch.Source) (EpochResult, error) {
	result := EpochResult{Epoch: epoch, LearningRate: t.opt.LearningRate()}

	bar := t.newBar(epoch, steps)
	var trainAcc metric.Accumulator
	var lossSum float64
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		b, err := train.Next()
		if err != nil {
			return result, err
		}
		loss, distances, err := t.model.TrainBatch(b, t.opt)
		if err != nil {
			return result, err
		}
		lossSum += loss * float64(b.Size())
		trainAcc.Update(b.Labels, distances)
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	result.Loss = lossSum / float64(trainAcc.Count())
	result.Accuracy = trainAcc.Result()

	valLoss, valAcc, n, err := t.evaluate(ctx, eval, valSteps)
	if err != nil {
		return result, fmt.Errorf("validation: %w", err)
	}
	result.ValLoss, result.ValAccuracy = valLoss, valAcc

	if valLoss < t.best {
		path := filepath.Join(t.cfg.CheckpointDir, CheckpointName(epoch, valLoss))
		if err := t.model.Save(path); err != nil {
			return result, fmt.Errorf("save checkpoint: %w", err)
		}
		t.logger.Info("validation loss improved, saved checkpoint",
			zap.Int("epoch", epoch),
			zap.Float64("previous", t.best),
			zap.Float64("val_loss", valLoss),
			zap.String("path", path),
		)
		t.best = valLoss
		result.Checkpoint = path
		t.record(func(r Recorder) error {
			return r.RecordCheckpoint(ctx, &models.CheckpointRecord{RunID: t.runID, Epoch: epoch, ValLoss: valLoss, Path: path})
		})
	}

	if lr, reduced := t.plateau.Observe(result.Loss, t.opt.LearningRate()); reduced {
		t.opt.SetLearningRate(lr)
		t.logger.Info("reducing learning rate",
			zap.Int("epoch", epoch),
			zap.Float64("learning_rate", lr),
		)
	}

	t.logger.Info("epoch finished",
		zap.Int("epoch", epoch),
		zap.Int("epochs", t.cfg.Epochs),
		zap.Float64("loss", result.Loss),
		zap.Float64("accuracy", result.Accuracy),
		zap.Float64("val_loss", result.ValLoss),
		zap.Float64("val_accuracy", result.ValAccuracy),
		zap.Int("val_pairs", n),
		zap.Float64("learning_rate", result.LearningRate),
	)
	t.record(func(r Recorder) error {
		return r.RecordEpoch(ctx, &models.EpochRecord{
			RunID: t.runID, Epoch: epoch, Loss: result.Loss, Accuracy: result.Accuracy,
			ValLoss: result.ValLoss, ValAccuracy: result.ValAccuracy, LearningRate: result.LearningRate,
		})
	})
	return result, nil
}

// evaluate scores the trainer's model on src.
func (t *Trainer) evaluate(ctx context.Context, src batch.Source, steps int) (float64, float64, int, error) {
	return Score(ctx, t.model, src, steps)
}

// Score runs steps batches of src through model without updating it and returns the
// sample-weighted loss, threshold accuracy and pair count.
func Score(ctx context.Context, model *siamese.Model, src batch.Source, steps int) (float64, float64, int, error) {
	var acc metric.Accumulator
	var lossSum float64
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, 0, err
		}
		b, err := src.Next()
		if err != nil {
			return 0, 0, 0, err
		}
		loss, distances, err := model.EvalBatch(b)
		if err != nil {
			return 0, 0, 0, err
		}
		lossSum += loss * float64(b.Size())
		acc.Update(b.Labels, distances)
	}
	if acc.Count() == 0 {
		return 0, 0, 0, batch.ErrEmptyDataset
	}
	return lossSum / float64(acc.Count()), acc.Result(), acc.Count(), nil
}

// Evaluate runs one deterministic pass of src.StepsPerEpoch() batches and returns
// the threshold accuracy. src should be a freshly constructed stream.
func (t *Trainer) Evaluate(ctx context.Context, src batch.Source) (float64, error) {
	if t.state != StateTraining || !t.fitDone {
		return 0, stateError("Evaluate", t.state, StateTraining)
	}
	steps, err := src.StepsPerEpoch()
	if err != nil {
		return 0, fmt.Errorf("evaluation stream: %w", err)
	}
	loss, acc, n, err := t.evaluate(ctx, src, steps)
	if err != nil {
		return 0, err
	}
	t.evalAcc, t.evalN = acc, n
	t.state = StateEvaluated
	t.logger.Info("evaluation finished",
		zap.Float64("accuracy", acc),
		zap.Float64("loss", loss),
		zap.Int("pairs", n),
	)
	return acc, nil
}

// Save writes the run report next to the checkpoints and returns its path.
func (t *Trainer) Save() (string, error) {
	if t.state != StateEvaluated {
		return "", stateError("Save", t.state, StateEvaluated)
	}
	report := t.Report()
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(t.cfg.CheckpointDir, ReportName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	t.state = StateSaved
	return path, nil
}

// Report returns the run summary so far.
func (t *Trainer) Report() *Report {
	return &Report{
		RunID:        t.runID,
		Epochs:       t.history,
		BestValLoss:  t.best,
		FinalModel:   t.final,
		EvalAccuracy: t.evalAcc,
		EvalPairs:    t.evalN,
		FinishedAt:   time.Now(),
	}
}

// record runs fn against the recorder. History is best effort: failures are logged.
func (t *Trainer) record(fn func(Recorder) error) {
	if t.recorder == nil {
		return
	}
	if err := fn(t.recorder); err != nil {
		t.logger.Warn("failed to record training history", zap.String("run_id", t.runID), zap.Error(err))
	}
}

func (t *Trainer) newBar(epoch, steps int) *progressbar.ProgressBar {
	if t.progress == nil {
		return nil
	}
	return progressbar.NewOptions(steps,
		progressbar.OptionSetWriter(t.progress),
		progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch, t.cfg.Epochs)),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
