// Package embedding provides the shared embedding tower: a feature extractor whose
// early layers can be frozen, used identically on both legs of a pair.
package embedding

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/nn"
)

// ErrUnknownLayer is wrapped by ConfigError when a freeze boundary names no layer.
var ErrUnknownLayer = errors.New("unknown layer")

// ConfigError reports an invalid tower configuration detected at construction.
type ConfigError struct {
	Option string
	Value  string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Option, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FreezeOptions controls which extractor layers receive gradient updates.
type FreezeOptions struct {
	// FreezeUntil freezes every layer in definition order up to and including the
	// named layer. Empty leaves all layers trainable.
	FreezeUntil string
	// KeepFrozenKinds keeps layers of these kinds frozen even after the boundary.
	KeepFrozenKinds []string
}

// Tower maps a preprocessed image to an embedding. One Tower serves both legs of a
// pair so they share weights.
type Tower struct {
	net    *nn.Sequential
	dim    int
	logger *zap.Logger
}

// Option configures a Tower.
type Option func(*Tower)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tower) {
		t.logger = logger
	}
}

// NewTower wraps layers and applies the freeze options. An unknown FreezeUntil name
// is a *ConfigError.
func NewTower(layers []nn.Layer, freeze FreezeOptions, opts ...Option) (*Tower, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("tower needs at least one layer")
	}
	net, err := nn.NewSequential(layers...)
	if err != nil {
		return nil, err
	}
	t := &Tower{net: net, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	if err := t.applyFreeze(freeze); err != nil {
		return nil, err
	}
	last := layers[len(layers)-1]
	if d, ok := last.(*nn.Dense); ok {
		t.dim = d.Out()
	}
	return t, nil
}

func (t *Tower) applyFreeze(freeze FreezeOptions) error {
	layers := t.net.Layers()
	boundary := -1
	if freeze.FreezeUntil != "" {
		boundary = slices.IndexFunc(layers, func(l nn.Layer) bool { return l.Name() == freeze.FreezeUntil })
		if boundary < 0 {
			return &ConfigError{Option: "freeze_until", Value: freeze.FreezeUntil, Err: ErrUnknownLayer}
		}
	}
	for i, l := range layers {
		switch {
		case l.Kind() == nn.KindONNX:
			l.SetTrainable(false)
		case i <= boundary:
			l.SetTrainable(false)
		case slices.Contains(freeze.KeepFrozenKinds, l.Kind()):
			l.SetTrainable(false)
		default:
			l.SetTrainable(true)
		}
	}
	var frozen []string
	for _, l := range layers {
		if !l.Trainable() {
			frozen = append(frozen, l.Name())
		}
	}
	if len(frozen) > 0 {
		t.logger.Info("frozen extractor layers", zap.Strings("layers", frozen))
	}
	return nil
}

// Dim returns the embedding width.
func (t *Tower) Dim() int {
	return t.dim
}

// Layers returns the extractor layers in definition order.
func (t *Tower) Layers() []nn.Layer {
	return t.net.Layers()
}

// Forward embeds x and keeps the activations needed by Backward.
func (t *Tower) Forward(x []float64) (*nn.Trace, error) {
	return t.net.Forward(x)
}

// Embed returns the embedding of x.
func (t *Tower) Embed(x []float64) ([]float64, error) {
	trace, err := t.net.Forward(x)
	if err != nil {
		return nil, err
	}
	return trace.Output(), nil
}

// Backward accumulates gradients for one forward trace. Calling it once per leg
// sums both legs' contributions into the shared parameters.
func (t *Tower) Backward(trace *nn.Trace, gradOut []float64) {
	t.net.Backward(trace, gradOut)
}

// Params returns every parameter.
func (t *Tower) Params() []*nn.Param {
	return t.net.Params()
}

// TrainableParams returns the parameters of unfrozen layers.
func (t *Tower) TrainableParams() []*nn.Param {
	return t.net.TrainableParams()
}

// ZeroGrad clears gradient accumulators.
func (t *Tower) ZeroGrad() {
	t.net.ZeroGrad()
}

// LoadWeights reads pretrained extractor weights. Layers absent from the file keep
// their initialization.
func (t *Tower) LoadWeights(path string) error {
	n, err := nn.LoadParams(path, t.net.Params())
	if err != nil {
		return fmt.Errorf("failed to load weights from %s: %w", path, err)
	}
	t.logger.Info("loaded extractor weights", zap.String("path", path), zap.Int("params", n))
	return nil
}

// Close releases layers holding external resources.
func (t *Tower) Close() error {
	var errs []error
	for _, l := range t.net.Layers() {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
