package models

import "time"

// RunStatus is the lifecycle state of a recorded training run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one training invocation as recorded in run history.
type Run struct {
	ID           string                 `json:"id" db:"id"`
	Status       RunStatus              `json:"status" db:"status"`
	Config       map[string]interface{} `json:"config,omitempty" db:"config"`
	TrainPairs   int                    `json:"train_pairs" db:"train_pairs"`
	EvalPairs    int                    `json:"eval_pairs" db:"eval_pairs"`
	EvalAccuracy *float64               `json:"eval_accuracy,omitempty" db:"eval_accuracy"`
	Error        string                 `json:"error,omitempty" db:"error"`
	StartedAt    time.Time              `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty" db:"finished_at"`
}

// EpochRecord summarizes one finished epoch.
type EpochRecord struct {
	RunID        string  `json:"run_id" db:"run_id"`
	Epoch        int     `json:"epoch" db:"epoch"`
	Loss         float64 `json:"loss" db:"loss"`
	Accuracy     float64 `json:"accuracy" db:"accuracy"`
	ValLoss      float64 `json:"val_loss" db:"val_loss"`
	ValAccuracy  float64 `json:"val_accuracy" db:"val_accuracy"`
	LearningRate float64 `json:"learning_rate" db:"learning_rate"`
}

// CheckpointRecord points at a persisted model state.
type CheckpointRecord struct {
	RunID     string    `json:"run_id" db:"run_id"`
	Epoch     int       `json:"epoch" db:"epoch"`
	ValLoss   float64   `json:"val_loss" db:"val_loss"`
	Path      string    `json:"path" db:"path"`
	Final     bool      `json:"final" db:"final"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
