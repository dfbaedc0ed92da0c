// Package batch streams preprocessed image pairs from a pair dataset in fixed order.
package batch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/imagecache"
	"github.com/hyperjump/twinscope/internal/models"
)

var (
	// ErrEmptyDataset is returned when a stream has no pairs to emit.
	ErrEmptyDataset = errors.New("empty training set")
	// ErrBatchTooLarge is returned when the dataset holds fewer pairs than one batch.
	ErrBatchTooLarge = errors.New("dataset smaller than batch size")
)

// Batch holds preprocessed left and right inputs with their labels.
type Batch struct {
	Left   [][]float64
	Right  [][]float64
	Labels []float64
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Source yields batches and knows how many make one epoch.
type Source interface {
	Next() (*Batch, error)
	StepsPerEpoch() (int, error)
}

// Stream is an endless batch sequence over a pair dataset. It walks pairs in their
// stored order, emits a batch when it holds batchSize examples or reaches the last
// pair, then wraps to the first pair without reshuffling. Not safe for concurrent use.
type Stream struct {
	dataset    *models.PairDataset
	cache      *imagecache.Cache
	baseDir    string
	batchSize  int
	preprocess Preprocessor
	pos        int
	logger     *zap.Logger
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// NewStream creates a stream reading images through cache.
func NewStream(dataset *models.PairDataset, cache *imagecache.Cache, baseDir string, batchSize int, preprocess Preprocessor, opts ...Option) (*Stream, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("image cache is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if preprocess == nil {
		var err error
		if preprocess, err = NewPreprocessor(ModeNone); err != nil {
			return nil, err
		}
	}
	s := &Stream{
		dataset:    dataset,
		cache:      cache,
		baseDir:    baseDir,
		batchSize:  batchSize,
		preprocess: preprocess,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Len returns the number of pairs in one pass.
func (s *Stream) Len() int {
	return s.dataset.Len()
}

// BatchSize returns the configured batch size.
func (s *Stream) BatchSize() int {
	return s.batchSize
}

// StepsPerEpoch returns len/batchSize. The trailing partial batch of each pass is
// not counted, so an epoch of steps never crosses into the next pass unevenly.
func (s *Stream) StepsPerEpoch() (int, error) {
	n := s.dataset.Len()
	if n == 0 {
		return 0, ErrEmptyDataset
	}
	if n < s.batchSize {
		return 0, fmt.Errorf("%w: %d pairs, batch size %d", ErrBatchTooLarge, n, s.batchSize)
	}
	return n / s.batchSize, nil
}

// Next returns the next batch. Image load failures abort the batch and leave the
// stream positioned at its first pair.
func (s *Stream) Next() (*Batch, error) {
	n := s.dataset.Len()
	if n == 0 {
		return nil, ErrEmptyDataset
	}

	b := &Batch{
		Left:   make([][]float64, 0, s.batchSize),
		Right:  make([][]float64, 0, s.batchSize),
		Labels: make([]float64, 0, s.batchSize),
	}
	i := s.pos
	for {
		pair := s.dataset.Pairs[i]
		left, err := s.load(pair.A)
		if err != nil {
			return nil, err
		}
		right, err := s.load(pair.B)
		if err != nil {
			return nil, err
		}
		b.Left = append(b.Left, left)
		b.Right = append(b.Right, right)
		b.Labels = append(b.Labels, float64(s.dataset.Labels[i]))

		if b.Size() == s.batchSize || i == n-1 {
			break
		}
		i++
	}

	s.pos = (i + 1) % n
	if s.pos == 0 {
		s.logger.Debug("batch stream wrapped", zap.Int("pairs", n))
	}
	return b, nil
}

func (s *Stream) load(filename string) ([]float64, error) {
	t, err := s.cache.Get(filename, s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	return s.preprocess(t), nil
}
