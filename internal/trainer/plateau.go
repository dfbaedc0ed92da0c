package trainer

import "math"

// PlateauMinDelta is the smallest loss decrease counted as an improvement.
const PlateauMinDelta = 1e-4

// PlateauConfig configures learning-rate reduction when the training loss stalls.
type PlateauConfig struct {
	Patience int
	Factor   float64
	MinLR    float64
}

// Plateau multiplies the learning rate by Factor after Patience epochs without
// improvement in the monitored loss, never going below MinLR.
type Plateau struct {
	cfg  PlateauConfig
	best float64
	wait int
}

// NewPlateau creates a scheduler.
func NewPlateau(cfg PlateauConfig) *Plateau {
	return &Plateau{cfg: cfg, best: math.Inf(1)}
}

// Observe records an epoch's loss and returns the learning rate to use next and
// whether it was reduced.
func (p *Plateau) Observe(loss, lr float64) (float64, bool) {
	if loss < p.best-PlateauMinDelta {
		p.best = loss
		p.wait = 0
		return lr, false
	}
	p.wait++
	if p.wait < p.cfg.Patience || lr <= p.cfg.MinLR {
		return lr, false
	}
	p.wait = 0
	return math.Max(lr*p.cfg.Factor, p.cfg.MinLR), true
}
