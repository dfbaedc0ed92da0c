// Package sampler turns a multi-label, multi-image catalog into interleaved
// positive/negative training pairs under a label-disjointness constraint.
package sampler

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/models"
)

// DefaultMaxDraws bounds the negative-entity rejection loop.
const DefaultMaxDraws = 1000

// ErrNoValidNegative is returned (wrapped in *ExhaustedError) when no label-disjoint
// entity could be drawn for a positive source entity.
var ErrNoValidNegative = errors.New("no valid negative entity")

// ExhaustedError reports the entity whose negative draw ran out of attempts.
type ExhaustedError struct {
	EntityID string
	Draws    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("entity %s: %v after %d draws", e.EntityID, ErrNoValidNegative, e.Draws)
}

func (e *ExhaustedError) Unwrap() error { return ErrNoValidNegative }

// Sampler builds pair datasets. It is not safe for concurrent use.
type Sampler struct {
	rng           *rand.Rand
	shuffleSeed   uint64
	shuffle       bool
	maxDraws      int
	skipExhausted bool
	logger        *zap.Logger
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithShuffle enables shuffling of whole positive/negative units.
func WithShuffle(enabled bool) Option {
	return func(s *Sampler) { s.shuffle = enabled }
}

// WithMaxDraws sets the per-pair bound on negative-entity draws.
func WithMaxDraws(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.maxDraws = n
		}
	}
}

// WithSkipExhausted drops an entity's units instead of failing when its negative draw is exhausted.
func WithSkipExhausted(skip bool) Option {
	return func(s *Sampler) { s.skipExhausted = skip }
}

// WithLogger sets a logger for skipped entities.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// New creates a sampler whose random draws and unit shuffle derive from seed.
func New(seed uint64, opts ...Option) *Sampler {
	s := &Sampler{
		rng:         rand.New(rand.NewPCG(seed, seed+1)),
		shuffleSeed: seed,
		shuffle:     true,
		maxDraws:    DefaultMaxDraws,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats summarizes one Build call.
type Stats struct {
	Entities        int `json:"entities"`
	PositiveSources int `json:"positive_sources"`
	Skipped         int `json:"skipped"`
	Exhausted       int `json:"exhausted"`
	Units           int `json:"units"`
}

// unit is a positive pair and its negative counterpart.
type unit struct {
	positive models.Pair
	negative models.Pair
}

// Build produces the pair dataset for entities. Entities with fewer than two images
// contribute no pairs but may still supply negative images.
func (s *Sampler) Build(entities []models.Entity) (*models.PairDataset, Stats, error) {
	stats := Stats{Entities: len(entities)}
	var units []unit
	for i := range entities {
		e := &entities[i]
		if len(e.Images) < 2 {
			stats.Skipped++
			continue
		}
		entityUnits, err := s.entityUnits(entities, i)
		if err != nil {
			var exhausted *ExhaustedError
			if s.skipExhausted && errors.As(err, &exhausted) {
				stats.Exhausted++
				if s.logger != nil {
					s.logger.Warn("skipping entity without a label-disjoint negative",
						zap.String("entity", e.ID), zap.Int("draws", exhausted.Draws))
				}
				continue
			}
			return nil, stats, err
		}
		stats.PositiveSources++
		units = append(units, entityUnits...)
	}

	if s.shuffle {
		shuffler := rand.New(rand.NewPCG(s.shuffleSeed, s.shuffleSeed^0x5851f42d4c957f2d))
		shuffler.Shuffle(len(units), func(i, j int) { units[i], units[j] = units[j], units[i] })
	}

	ds := &models.PairDataset{
		Pairs:  make([]models.Pair, 0, 2*len(units)),
		Labels: make([]int, 0, 2*len(units)),
	}
	for _, u := range units {
		ds.Pairs = append(ds.Pairs, u.positive, u.negative)
		ds.Labels = append(ds.Labels, models.LabelSimilar, models.LabelDissimilar)
	}
	stats.Units = len(units)
	return ds, stats, nil
}

// entityUnits builds one unit per unordered image combination of entities[idx].
func (s *Sampler) entityUnits(entities []models.Entity, idx int) ([]unit, error) {
	e := &entities[idx]
	k := len(e.Images)
	units := make([]unit, 0, k*(k-1)/2)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			neg, err := s.drawNegative(entities, idx)
			if err != nil {
				return nil, err
			}
			negImage := neg.Images[s.rng.IntN(len(neg.Images))].Filename

			a, b := e.Images[i].Filename, e.Images[j].Filename
			if s.rng.IntN(2) == 1 {
				a, b = b, a
			}
			units = append(units, unit{
				positive: models.Pair{A: a, B: b},
				negative: models.Pair{A: a, B: negImage},
			})
		}
	}
	return units, nil
}

// drawNegative draws entities uniformly until one is label-disjoint from entities[idx]
// and has at least one image. Drawing the source itself counts as a rejected draw.
func (s *Sampler) drawNegative(entities []models.Entity, idx int) (*models.Entity, error) {
	src := &entities[idx]
	for draw := 0; draw < s.maxDraws; draw++ {
		j := s.rng.IntN(len(entities))
		if j == idx {
			continue
		}
		cand := &entities[j]
		if len(cand.Images) == 0 {
			continue
		}
		if src.DisjointFrom(cand) {
			return cand, nil
		}
	}
	return nil, &ExhaustedError{EntityID: src.ID, Draws: s.maxDraws}
}
