// Package storage persists training run history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/twinscope/internal/models"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Storage defines run, epoch and checkpoint persistence operations.
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, evalAccuracy *float64, runErr string) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, offset, limit int) ([]*models.Run, error)

	// History
	RecordEpoch(ctx context.Context, rec *models.EpochRecord) error
	ListEpochs(ctx context.Context, runID string) ([]*models.EpochRecord, error)
	RecordCheckpoint(ctx context.Context, rec *models.CheckpointRecord) error
	ListCheckpoints(ctx context.Context, runID string) ([]*models.CheckpointRecord, error)

	// Stats
	CountRuns(ctx context.Context) (int64, error)

	Close() error
}
