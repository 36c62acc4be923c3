// Package sqlite persists detection runs and their output boxes. Stores
// operate on a plain *sql.DB so the caller owns pooling and schema
// lifecycle (see internal/detectdb); writes go through a small
// busy-retry wrapper because several processes may share the WAL file.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses. A run is inserted as running and finalised exactly once.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run represents one invocation of the prediction pipeline over a batch
// of samples.
type Run struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	ModelName   string          `json:"model_name"`
	Source      string          `json:"source"`
	BatchSize   int             `json:"batch_size"`
	NumAnchors  int             `json:"num_anchors"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	ParamsJSON  json.RawMessage `json:"params_json,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunSummary is a lightweight version of Run for list views. It omits
// the params blob and adds the stored detection count.
type RunSummary struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	ModelName   string     `json:"model_name"`
	Status      string     `json:"status"`
	BatchSize   int        `json:"batch_size"`
	Detections  int        `json:"detections"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStore provides persistence for detection runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a new run. If RunID is empty a UUID is generated; a
// zero StartedAt defaults to now, an empty Status to running.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO detect_runs (
				run_id, model_name, source, batch_size, num_anchors,
				status, error, params_json, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.ModelName, run.Source, run.BatchSize, run.NumAnchors,
			run.Status, nullStr(run.Error), nullJSON(run.ParamsJSON),
			run.StartedAt.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// Complete finalises a run. An empty errMsg marks it completed,
// otherwise failed with the message recorded.
func (s *RunStore) Complete(runID string, completedAt time.Time, errMsg string) error {
	status := StatusCompleted
	if errMsg != "" {
		status = StatusFailed
	}

	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE detect_runs
			SET status = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, nullStr(errMsg), completedAt.UTC().Format(time.RFC3339), runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// Get returns a single run by ID, or nil when it does not exist.
func (s *RunStore) Get(runID string) (*Run, error) {
	var run Run
	var errMsg, params sql.NullString
	var startedAt string
	var completedAt sql.NullString

	err := s.db.QueryRow(`
		SELECT id, run_id, model_name, source, batch_size, num_anchors,
		       status, error, params_json, started_at, completed_at
		FROM detect_runs
		WHERE run_id = ?`, runID).Scan(
		&run.ID, &run.RunID, &run.ModelName, &run.Source, &run.BatchSize, &run.NumAnchors,
		&run.Status, &errMsg, &params, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	if errMsg.Valid {
		run.Error = errMsg.String
	}
	run.ParamsJSON = jsonOrNil(params)
	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at for run %s: %w", runID, err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at for run %s: %w", runID, err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

// Latest returns the most recently started run, or nil when the
// database holds no runs yet.
func (s *RunStore) Latest() (*Run, error) {
	var runID string
	err := s.db.QueryRow(`
		SELECT run_id FROM detect_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1`).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return s.Get(runID)
}

// ListRecent returns recent runs ordered by most recent first.
func (s *RunStore) ListRecent(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT r.id, r.run_id, r.model_name, r.status, r.batch_size,
		       r.started_at, r.completed_at,
		       (SELECT COUNT(*) FROM detections d WHERE d.run_id = r.run_id)
		FROM detect_runs r
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rec RunSummary
		var startedAt string
		var completedAt sql.NullString

		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ModelName, &rec.Status, &rec.BatchSize,
			&startedAt, &completedAt, &rec.Detections); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		rec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at for run %s: %w", rec.RunID, err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at for run %s: %w", rec.RunID, err)
			}
			rec.CompletedAt = &t
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Delete removes a run together with its stored detections.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin delete of run %s: %w", runID, err)
		}
		if _, err := tx.Exec(`DELETE FROM detections WHERE run_id = ?`, runID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete detections for run %s: %w", runID, err)
		}
		res, err := tx.Exec(`DELETE FROM detect_runs WHERE run_id = ?`, runID)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("delete run %s: %w", runID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			tx.Rollback()
			return fmt.Errorf("run %s not found", runID)
		}
		return tx.Commit()
	})
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON returns a nullable string for a JSON value, treating nil or
// empty as NULL.
func nullJSON(data json.RawMessage) *string {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

// jsonOrNil converts a sql.NullString to json.RawMessage, returning nil
// for NULL values.
func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
