package models

import "fmt"

const (
	// LabelSimilar marks a positive pair (same entity).
	LabelSimilar = 1
	// LabelDissimilar marks a negative pair (label-disjoint entities).
	LabelDissimilar = 0
)

// Pair is two image filenames presented to the two legs of the model.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// PairDataset holds parallel pair and label sequences. Entries come in units of two:
// a positive at an even index followed by a negative sharing the anchor image.
type PairDataset struct {
	Pairs  []Pair `json:"pairs"`
	Labels []int  `json:"labels"`
}

// Len returns the number of examples.
func (d *PairDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Pairs)
}

// Validate checks the parallel-sequence and interleaving invariants.
func (d *PairDataset) Validate() error {
	if len(d.Pairs) != len(d.Labels) {
		return fmt.Errorf("pairs and labels length mismatch: %d vs %d", len(d.Pairs), len(d.Labels))
	}
	if len(d.Pairs)%2 != 0 {
		return fmt.Errorf("dataset length %d is odd", len(d.Pairs))
	}
	for i := 0; i < len(d.Pairs); i += 2 {
		if d.Labels[i] != LabelSimilar || d.Labels[i+1] != LabelDissimilar {
			return fmt.Errorf("unit at %d is not a positive followed by a negative", i)
		}
		pos, neg := d.Pairs[i], d.Pairs[i+1]
		if neg.A != pos.A && neg.A != pos.B {
			return fmt.Errorf("negative at %d does not share an image with its positive", i+1)
		}
	}
	return nil
}
