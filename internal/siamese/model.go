// Package siamese pairs one embedding tower with the distance head so both legs of
// a pair are embedded by the same weights.
package siamese

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/batch"
	"github.com/hyperjump/twinscope/internal/embedding"
	"github.com/hyperjump/twinscope/internal/metric"
	"github.com/hyperjump/twinscope/internal/nn"
)

// Architecture is everything needed to rebuild a model before reading its weights.
type Architecture struct {
	Extractor     embedding.ExtractorSpec `json:"extractor"`
	FreezeUntil   string                  `json:"freeze_until,omitempty"`
	KeepFrozen    []string                `json:"keep_frozen_kinds,omitempty"`
	Preprocessing string                  `json:"preprocessing"`
	Margin        float64                 `json:"margin"`
}

// Model is a two-leg distance model over a single shared tower.
type Model struct {
	arch   Architecture
	tower  *embedding.Tower
	logger *zap.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Model) {
		m.logger = logger
	}
}

// Build creates a model with freshly initialized weights.
func Build(arch Architecture, opts ...Option) (*Model, error) {
	if arch.Margin <= 0 {
		arch.Margin = metric.DefaultMargin
	}
	m := &Model{arch: arch, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	layers, err := embedding.BuildExtractor(arch.Extractor)
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor: %w", err)
	}
	freeze := embedding.FreezeOptions{FreezeUntil: arch.FreezeUntil, KeepFrozenKinds: arch.KeepFrozen}
	tower, err := embedding.NewTower(layers, freeze, embedding.WithLogger(m.logger))
	if err != nil {
		return nil, err
	}
	m.tower = tower
	return m, nil
}

// Architecture returns the model architecture.
func (m *Model) Architecture() Architecture {
	return m.arch
}

// Tower returns the shared tower.
func (m *Model) Tower() *embedding.Tower {
	return m.tower
}

// Margin returns the contrastive margin.
func (m *Model) Margin() float64 {
	return m.arch.Margin
}

// Embed returns the embedding of one preprocessed image.
func (m *Model) Embed(x []float64) ([]float64, error) {
	return m.tower.Embed(x)
}

// Distance embeds both inputs with the shared tower and returns their distance.
func (m *Model) Distance(left, right []float64) (float64, error) {
	u, err := m.tower.Embed(left)
	if err != nil {
		return 0, err
	}
	v, err := m.tower.Embed(right)
	if err != nil {
		return 0, err
	}
	return metric.Distance(u, v), nil
}

// TrainBatch runs one optimizer step on the mean contrastive loss of b and returns
// the batch loss and the per-pair distances measured before the update.
func (m *Model) TrainBatch(b *batch.Batch, opt *nn.Adam) (float64, []float64, error) {
	n := b.Size()
	if n == 0 {
		return 0, nil, fmt.Errorf("empty batch")
	}
	m.tower.ZeroGrad()
	distances := make([]float64, n)
	scale := 1 / float64(n)
	for i := 0; i < n; i++ {
		left, err := m.tower.Forward(b.Left[i])
		if err != nil {
			return 0, nil, err
		}
		right, err := m.tower.Forward(b.Right[i])
		if err != nil {
			return 0, nil, err
		}
		d, gradU := metric.DistanceGrad(left.Output(), right.Output())
		distances[i] = d

		dL := metric.ContrastiveGrad(b.Labels[i], d, m.arch.Margin) * scale
		gradLeft := make([]float64, len(gradU))
		gradRight := make([]float64, len(gradU))
		for j, g := range gradU {
			gradLeft[j] = dL * g
			gradRight[j] = -dL * g
		}
		m.tower.Backward(left, gradLeft)
		m.tower.Backward(right, gradRight)
	}
	opt.Step(m.tower.TrainableParams())
	return metric.MeanContrastive(b.Labels, distances, m.arch.Margin), distances, nil
}

// EvalBatch returns the mean contrastive loss and per-pair distances of b.
func (m *Model) EvalBatch(b *batch.Batch) (float64, []float64, error) {
	distances := make([]float64, b.Size())
	for i := range distances {
		d, err := m.Distance(b.Left[i], b.Right[i])
		if err != nil {
			return 0, nil, err
		}
		distances[i] = d
	}
	return metric.MeanContrastive(b.Labels, distances, m.arch.Margin), distances, nil
}

// Close releases tower resources.
func (m *Model) Close() error {
	return m.tower.Close()
}
