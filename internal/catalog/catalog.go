// Package catalog loads the entity label file and splits it into train and eval sets.
package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/hyperjump/twinscope/internal/models"
)

// record is one value of the catalog JSON object.
type record struct {
	Labels []string          `json:"labels"`
	Images []models.ImageRef `json:"images"`
}

// Load parses the catalog file at path. Entities are returned sorted by ID so that
// seeded operations on the result are reproducible regardless of JSON key order.
func Load(path string) ([]models.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog JSON.
func Parse(data []byte) ([]models.Entity, error) {
	var raw map[string]record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	entities := make([]models.Entity, 0, len(raw))
	for id, rec := range raw {
		for i, img := range rec.Images {
			if img.Filename == "" {
				return nil, fmt.Errorf("entity %s: image %d has an empty filename", id, i)
			}
		}
		e := models.Entity{ID: id, Labels: rec.Labels, Images: rec.Images}
		e.NormalizeLabels()
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

// Split shuffles entities with seed and cuts off ceil(evalFraction*n) of them for evaluation.
// The input slice is not modified.
func Split(entities []models.Entity, evalFraction float64, seed uint64) (train, eval []models.Entity, err error) {
	if evalFraction < 0 || evalFraction >= 1 {
		return nil, nil, fmt.Errorf("eval fraction must be in [0, 1), got %g", evalFraction)
	}
	shuffled := make([]models.Entity, len(entities))
	copy(shuffled, entities)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	nEval := evalCount(evalFraction, len(shuffled))
	return shuffled[nEval:], shuffled[:nEval], nil
}

// splitTolerance absorbs float error in fraction*n, e.g. 0.55*100 = 55.00000000000001.
const splitTolerance = 1e-9

func evalCount(fraction float64, n int) int {
	return int(math.Ceil(fraction*float64(n) - splitTolerance))
}

// ImageCount returns the total number of image references across entities.
func ImageCount(entities []models.Entity) int {
	n := 0
	for i := range entities {
		n += len(entities[i].Images)
	}
	return n
}
