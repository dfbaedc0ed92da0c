package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/twinscope/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		config TEXT,
		train_pairs INTEGER NOT NULL DEFAULT 0,
		eval_pairs INTEGER NOT NULL DEFAULT 0,
		eval_accuracy REAL,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		loss REAL NOT NULL,
		accuracy REAL NOT NULL,
		val_loss REAL NOT NULL,
		val_accuracy REAL NOT NULL,
		learning_rate REAL NOT NULL,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		val_loss REAL NOT NULL,
		path TEXT NOT NULL,
		final INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateRun inserts a run. StartedAt is set when zero.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *models.Run) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, config, train_pairs, eval_pairs, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), string(configJSON), run.TrainPairs, run.EvalPairs, run.StartedAt,
	)
	return err
}

// FinishRun sets the terminal status of a run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, id string, status models.RunStatus, evalAccuracy *float64, runErr string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, eval_accuracy = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), evalAccuracy, runErr, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, status, config, train_pairs, eval_pairs, eval_accuracy, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var status, configJSON string
	var evalAccuracy sql.NullFloat64
	var finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &status, &configJSON, &run.TrainPairs, &run.EvalPairs,
		&evalAccuracy, &run.Error, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	if evalAccuracy.Valid {
		v := evalAccuracy.Float64
		run.EvalAccuracy = &v
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if configJSON != "" && configJSON != "null" {
		if err := json.Unmarshal([]byte(configJSON), &run.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	return &run, nil
}

// GetRun returns a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first with offset and limit.
func (s *SQLiteStorage) ListRuns(ctx context.Context, offset, limit int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordEpoch stores an epoch summary, replacing an existing one for the same epoch.
func (s *SQLiteStorage) RecordEpoch(ctx context.Context, rec *models.EpochRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO epochs (run_id, epoch, loss, accuracy, val_loss, val_accuracy, learning_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Epoch, rec.Loss, rec.Accuracy, rec.ValLoss, rec.ValAccuracy, rec.LearningRate,
	)
	return err
}

// ListEpochs returns a run's epochs in order.
func (s *SQLiteStorage) ListEpochs(ctx context.Context, runID string) ([]*models.EpochRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, epoch, loss, accuracy, val_loss, val_accuracy, learning_rate
		 FROM epochs WHERE run_id = ? ORDER BY epoch`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []*models.EpochRecord
	for rows.Next() {
		var rec models.EpochRecord
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.Loss, &rec.Accuracy, &rec.ValLoss, &rec.ValAccuracy, &rec.LearningRate); err != nil {
			return nil, err
		}
		epochs = append(epochs, &rec)
	}
	return epochs, rows.Err()
}

// RecordCheckpoint stores a checkpoint reference. CreatedAt is set when zero.
func (s *SQLiteStorage) RecordCheckpoint(ctx context.Context, rec *models.CheckpointRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, epoch, val_loss, path, final, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Epoch, rec.ValLoss, rec.Path, rec.Final, rec.CreatedAt,
	)
	return err
}

// ListCheckpoints returns a run's checkpoints in write order.
func (s *SQLiteStorage) ListCheckpoints(ctx context.Context, runID string) ([]*models.CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, epoch, val_loss, path, final, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*models.CheckpointRecord
	for rows.Next() {
		var rec models.CheckpointRecord
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &rec.ValLoss, &rec.Path, &rec.Final, &rec.CreatedAt); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, &rec)
	}
	return checkpoints, rows.Err()
}

// CountRuns returns the number of recorded runs.
func (s *SQLiteStorage) CountRuns(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
