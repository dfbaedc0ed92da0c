package trainer

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when a trainer method is called out of order.
var ErrInvalidState = errors.New("invalid trainer state")

// State is the trainer lifecycle position.
type State int

const (
	StateConfigured State = iota
	StateCompiled
	StateTraining
	StateEvaluated
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateCompiled:
		return "compiled"
	case StateTraining:
		return "training"
	case StateEvaluated:
		return "evaluated"
	case StateSaved:
		return "saved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func stateError(op string, got State, want ...State) error {
	return fmt.Errorf("%w: %s requires %v, trainer is %s", ErrInvalidState, op, want, got)
}
