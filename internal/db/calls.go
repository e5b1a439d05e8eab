package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/callviewhq/callview/internal/stats"
)

// Call lifecycle statuses. Only completed calls enter aggregates.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Call represents a row in the calls table.
type Call struct {
	ID         string  `json:"id"`
	ManagerID  string  `json:"manager_id"`
	Filename   string  `json:"filename"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
	UploadDate string  `json:"upload_date"`
	CreatedAt  string  `json:"created_at"`
}

// callCols is the column list for call queries. Keep in sync
// with scanCall.
const callCols = `id, manager_id, filename, status, error,
	upload_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(rs rowScanner) (Call, error) {
	var c Call
	err := rs.Scan(
		&c.ID, &c.ManagerID, &c.Filename, &c.Status,
		&c.Error, &c.UploadDate, &c.CreatedAt,
	)
	return c, err
}

// UploadStamp formats an upload time for storage. Second
// precision keeps stored strings lexicographically comparable
// with window bounds.
func UploadStamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// InsertCall stores a newly uploaded call.
func (db *DB) InsertCall(ctx context.Context, c Call) error {
	return db.Update(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calls
				(id, manager_id, filename, status, upload_date)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.ManagerID, c.Filename, c.Status, c.UploadDate,
		)
		if err != nil {
			return fmt.Errorf("inserting call: %w", err)
		}
		return nil
	})
}

// GetCall fetches one call by ID. Returns nil when absent.
func (db *DB) GetCall(ctx context.Context, id string) (*Call, error) {
	row := db.reader.QueryRowContext(ctx,
		`SELECT `+callCols+` FROM calls WHERE id = ?`, id,
	)
	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying call: %w", err)
	}
	return &c, nil
}

// SetCallStatus transitions a call's status. The error message is
// cleared unless the new status is failed.
func (db *DB) SetCallStatus(
	ctx context.Context, id, status, errMsg string,
) error {
	return db.Update(func(tx *sql.Tx) error {
		var msg *string
		if status == StatusFailed && errMsg != "" {
			msg = &errMsg
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE calls SET status = ?, error = ? WHERE id = ?`,
			status, msg, id,
		)
		if err != nil {
			return fmt.Errorf("updating call status: %w", err)
		}
		n, err := res.RowsAffected()
		if err == nil && n == 0 {
			return fmt.Errorf("call %s not found", id)
		}
		return nil
	})
}

// ListCallsByStatus returns calls in a given status, oldest
// first. The pipeline uses this to requeue interrupted work on
// startup.
func (db *DB) ListCallsByStatus(
	ctx context.Context, status string,
) ([]Call, error) {
	rows, err := db.reader.QueryContext(ctx,
		`SELECT `+callCols+` FROM calls
		 WHERE status = ? ORDER BY upload_date ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("querying calls by status: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calls: %w", err)
	}
	return out, nil
}

// HasCallForFile reports whether any call row references the
// given stored filename. The uploads watcher uses this to skip
// files already tracked.
func (db *DB) HasCallForFile(
	ctx context.Context, filename string,
) (bool, error) {
	var n int
	err := db.reader.QueryRowContext(ctx,
		`SELECT count(*) FROM calls WHERE filename = ?`, filename,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking call filename: %w", err)
	}
	return n > 0, nil
}

// SaveTranscription stores (or replaces) a call's transcript
// segments JSON.
func (db *DB) SaveTranscription(
	ctx context.Context, callID, segments string,
) error {
	return db.Update(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transcriptions (call_id, segments)
			 VALUES (?, ?)
			 ON CONFLICT(call_id) DO UPDATE SET segments = excluded.segments`,
			callID, segments,
		)
		if err != nil {
			return fmt.Errorf("saving transcription: %w", err)
		}
		return nil
	})
}

// AnalysisRecord is what the analysis pipeline persists for one
// call. New rows are written in the current encodings only; the
// legacy columns keep their empty defaults.
type AnalysisRecord struct {
	Category         string
	CriteriaScores   map[string]float64
	CategoryMistakes stats.Mistakes
	ClientComplaints stats.Complaints
	OverallScore     float64
}

func insertAnalysis(
	ctx context.Context, tx *sql.Tx, callID string, a AnalysisRecord,
) error {
	criteria, err := json.Marshal(a.CriteriaScores)
	if err != nil {
		return fmt.Errorf("encoding criteria scores: %w", err)
	}
	mistakes, err := json.Marshal(a.CategoryMistakes)
	if err != nil {
		return fmt.Errorf("encoding mistakes: %w", err)
	}
	complaints, err := json.Marshal(a.ClientComplaints)
	if err != nil {
		return fmt.Errorf("encoding complaints: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO analyses
			(call_id, category, criteria_scores,
			 category_mistakes, client_complaints, overall_score)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		callID, a.Category, string(criteria),
		string(mistakes), string(complaints), a.OverallScore,
	)
	if err != nil {
		return fmt.Errorf("inserting analysis: %w", err)
	}
	return nil
}

// SaveAnalysis stores the analysis for a call and marks it
// completed, atomically.
func (db *DB) SaveAnalysis(
	ctx context.Context, callID string, a AnalysisRecord,
) error {
	return db.Update(func(tx *sql.Tx) error {
		if err := insertAnalysis(ctx, tx, callID, a); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE calls SET status = ?, error = NULL WHERE id = ?`,
			StatusCompleted, callID,
		)
		if err != nil {
			return fmt.Errorf("completing call: %w", err)
		}
		return nil
	})
}

// ReplaceAnalysis is the retry path: analyses are immutable, so a
// re-run deletes the old row and re-creates it in one
// transaction.
func (db *DB) ReplaceAnalysis(
	ctx context.Context, callID string, a AnalysisRecord,
) error {
	return db.Update(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM analyses WHERE call_id = ?`, callID,
		); err != nil {
			return fmt.Errorf("deleting old analysis: %w", err)
		}
		if err := insertAnalysis(ctx, tx, callID, a); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE calls SET status = ?, error = NULL WHERE id = ?`,
			StatusCompleted, callID,
		)
		if err != nil {
			return fmt.Errorf("completing call: %w", err)
		}
		return nil
	})
}

// GetAnalysisRow fetches the stored analysis row and transcript
// segments for one call. Returns found=false when the call has no
// analysis yet.
func (db *DB) GetAnalysisRow(
	ctx context.Context, callID string,
) (row stats.AnalysisRow, segments string, found bool, err error) {
	err = db.reader.QueryRowContext(ctx,
		`SELECT a.call_id, COALESCE(a.category, ''),
			a.criteria_scores, a.mistakes,
			COALESCE(a.category_mistakes, ''),
			a.objections, COALESCE(a.client_complaints, ''),
			a.overall_score, COALESCE(t.segments, '')
		 FROM analyses a
		 LEFT JOIN transcriptions t ON t.call_id = a.call_id
		 WHERE a.call_id = ?`,
		callID,
	).Scan(
		&row.CallID, &row.Category, &row.CriteriaScores,
		&row.Mistakes, &row.CategoryMistakes, &row.Objections,
		&row.ClientComplaints, &row.OverallScore, &segments,
	)
	if err == sql.ErrNoRows {
		return stats.AnalysisRow{}, "", false, nil
	}
	if err != nil {
		return stats.AnalysisRow{}, "", false,
			fmt.Errorf("querying analysis: %w", err)
	}
	return row, segments, true, nil
}
