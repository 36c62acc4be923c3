package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/pillars.detect/internal/detect"
)

// Detection is one persisted box from a run, flattened for SQL. Values
// are stored as REAL, so float32 pipeline outputs widen on insert.
type Detection struct {
	ID        int64   `json:"id"`
	RunID     string  `json:"run_id"`
	SampleIdx int     `json:"sample_idx"`
	Label     int     `json:"label"`
	DirClass  int     `json:"dir_class"`
	Score     float64 `json:"score"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Length    float64 `json:"length"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Yaw       float64 `json:"yaw"`
}

// FromRecord converts a pipeline detection record into its storage row.
func FromRecord(runID string, rec detect.Detection) Detection {
	return Detection{
		RunID:     runID,
		SampleIdx: int(rec.SampleIdx),
		Label:     int(rec.Label),
		DirClass:  int(rec.DirClass),
		Score:     float64(rec.Score),
		X:         float64(rec.Box.X),
		Y:         float64(rec.Box.Y),
		Z:         float64(rec.Box.Z),
		Length:    float64(rec.Box.Length),
		Width:     float64(rec.Box.Width),
		Height:    float64(rec.Box.Height),
		Yaw:       float64(rec.Box.Yaw),
	}
}

// DetectionStore provides persistence for per-run detections.
type DetectionStore struct {
	db *sql.DB
}

// NewDetectionStore creates a new DetectionStore.
func NewDetectionStore(db *sql.DB) *DetectionStore {
	return &DetectionStore{db: db}
}

// InsertBatch persists all records for a run inside one transaction.
// An empty batch is a no-op; a run with no detections is a valid result.
func (s *DetectionStore) InsertBatch(runID string, recs []detect.Detection) error {
	if len(recs) == 0 {
		return nil
	}

	err := retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO detections (
				run_id, sample_idx, label, dir_class, score,
				x, y, z, length, width, height, yaw
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, rec := range recs {
			row := FromRecord(runID, rec)
			if _, err := stmt.Exec(
				row.RunID, row.SampleIdx, row.Label, row.DirClass, row.Score,
				row.X, row.Y, row.Z, row.Length, row.Width, row.Height, row.Yaw,
			); err != nil {
				stmt.Close()
				tx.Rollback()
				return err
			}
		}
		stmt.Close()
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("inserting %d detections for run %s: %w", len(recs), runID, err)
	}
	return nil
}

// ListByRun returns the stored detections for a run, ordered by sample
// and then by descending score within each sample.
func (s *DetectionStore) ListByRun(runID string) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, sample_idx, label, dir_class, score,
		       x, y, z, length, width, height, yaw
		FROM detections
		WHERE run_id = ?
		ORDER BY sample_idx ASC, score DESC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing detections for run %s: %w", runID, err)
	}
	defer rows.Close()

	var dets []Detection
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.RunID, &d.SampleIdx, &d.Label, &d.DirClass, &d.Score,
			&d.X, &d.Y, &d.Z, &d.Length, &d.Width, &d.Height, &d.Yaw); err != nil {
			return nil, fmt.Errorf("scanning detection row: %w", err)
		}
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// CountByRun returns the number of stored detections for a run.
func (s *DetectionStore) CountByRun(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM detections WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting detections for run %s: %w", runID, err)
	}
	return count, nil
}

// ClassCounts returns the number of detections per foreground class id.
func (s *DetectionStore) ClassCounts(runID string) (map[int]int, error) {
	rows, err := s.db.Query(`
		SELECT label, COUNT(*)
		FROM detections
		WHERE run_id = ?
		GROUP BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting classes for run %s: %w", runID, err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var label, count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("scanning class count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// Scores returns every stored score for a run, for histogramming.
func (s *DetectionStore) Scores(runID string) ([]float64, error) {
	rows, err := s.db.Query(`SELECT score FROM detections WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing scores for run %s: %w", runID, err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// DeleteByRun removes all detections for a run. Removing zero rows is
// not an error.
func (s *DetectionStore) DeleteByRun(runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM detections WHERE run_id = ?`, runID)
		return err
	})
}
