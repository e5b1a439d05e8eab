package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/callviewhq/callview/internal/stats"
	"github.com/callviewhq/callview/internal/timeutil"
)

// windowWhere builds the row-selection predicates shared by all
// analytics queries: completed calls only, inside the date
// window. Calls still mid-pipeline (status != completed) never
// reach the aggregator.
func windowWhere(w stats.DateWindow) (string, []any) {
	preds := []string{"c.status = ?"}
	args := []any{StatusCompleted}
	// Bounds truncate to second precision so the strings compare
	// lexicographically against stored upload_date values.
	if !w.From.IsZero() {
		preds = append(preds, "c.upload_date >= ?")
		args = append(args, timeutil.Format(w.From.Truncate(time.Second)))
	}
	if !w.To.IsZero() {
		preds = append(preds, "c.upload_date < ?")
		args = append(args, timeutil.Format(w.To.Truncate(time.Second)))
	}
	return strings.Join(preds, " AND "), args
}

// analysisCols selects the raw analysis columns plus the
// transcript segments, in scanAnalysisBundle order.
const analysisCols = `a.call_id, COALESCE(a.category, ''),
	a.criteria_scores, a.mistakes,
	COALESCE(a.category_mistakes, ''),
	a.objections, COALESCE(a.client_complaints, ''),
	a.overall_score, COALESCE(t.segments, '')`

func scanAnalysisBundle(
	rs rowScanner,
) (stats.AnalysisRow, string, error) {
	var row stats.AnalysisRow
	var segments string
	err := rs.Scan(
		&row.CallID, &row.Category, &row.CriteriaScores,
		&row.Mistakes, &row.CategoryMistakes, &row.Objections,
		&row.ClientComplaints, &row.OverallScore, &segments,
	)
	return row, segments, err
}

// toAnalysis decodes one raw bundle into the canonical form. This
// is the single point where storage-era JSON shapes are resolved;
// everything downstream sees stats.Analysis.
func toAnalysis(
	row stats.AnalysisRow, segments string, categoryKeys []string,
) stats.Analysis {
	a := stats.Normalize(row, categoryKeys)
	a.Segments = stats.ParseSegments(segments)
	return a
}

// CompletedAnalyses returns one manager's normalized analyses
// within the window.
func (db *DB) CompletedAnalyses(
	ctx context.Context, managerID string,
	w stats.DateWindow, categoryKeys []string,
) ([]stats.Analysis, error) {
	where, args := windowWhere(w)
	query := `SELECT ` + analysisCols + `
		FROM analyses a
		JOIN calls c ON c.id = a.call_id
		LEFT JOIN transcriptions t ON t.call_id = a.call_id
		WHERE ` + where + ` AND c.manager_id = ?
		ORDER BY c.upload_date ASC, a.call_id ASC`
	args = append(args, managerID)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying manager analyses: %w", err)
	}
	defer rows.Close()

	var out []stats.Analysis
	for rows.Next() {
		row, segments, err := scanAnalysisBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		out = append(out, toAnalysis(row, segments, categoryKeys))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analyses: %w", err)
	}
	return out, nil
}

// CompanyAnalyses returns every manager's normalized in-window
// analyses, grouped per manager, for the company rollup. Managers
// without completed calls still appear, with empty analysis sets.
func (db *DB) CompanyAnalyses(
	ctx context.Context, w stats.DateWindow, categoryKeys []string,
) ([]stats.ManagerAnalyses, error) {
	managers, err := db.ListManagers(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*stats.ManagerAnalyses, len(managers))
	out := make([]stats.ManagerAnalyses, len(managers))
	for i, m := range managers {
		out[i] = stats.ManagerAnalyses{ID: m.ID, Name: m.Name}
		byID[m.ID] = &out[i]
	}

	where, args := windowWhere(w)
	query := `SELECT c.manager_id, ` + analysisCols + `
		FROM analyses a
		JOIN calls c ON c.id = a.call_id
		LEFT JOIN transcriptions t ON t.call_id = a.call_id
		WHERE ` + where + `
		ORDER BY c.upload_date ASC, a.call_id ASC`

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying company analyses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var managerID string
		var row stats.AnalysisRow
		var segments string
		if err := rows.Scan(
			&managerID,
			&row.CallID, &row.Category, &row.CriteriaScores,
			&row.Mistakes, &row.CategoryMistakes, &row.Objections,
			&row.ClientComplaints, &row.OverallScore, &segments,
		); err != nil {
			return nil, fmt.Errorf("scanning company analysis: %w", err)
		}
		if m, ok := byID[managerID]; ok {
			m.Analyses = append(
				m.Analyses, toAnalysis(row, segments, categoryKeys),
			)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating company analyses: %w", err)
	}
	return out, nil
}

// CompletedCallDays returns the date bucket and manager name of
// every completed call in the window, for volume tallies. Dates
// bucket by the UTC calendar day of the upload.
func (db *DB) CompletedCallDays(
	ctx context.Context, w stats.DateWindow,
) ([]stats.CallDay, error) {
	where, args := windowWhere(w)
	query := `SELECT substr(c.upload_date, 1, 10), m.name
		FROM calls c
		JOIN managers m ON m.id = c.manager_id
		WHERE ` + where + `
		ORDER BY c.upload_date ASC`

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call days: %w", err)
	}
	defer rows.Close()

	var out []stats.CallDay
	for rows.Next() {
		var d stats.CallDay
		if err := rows.Scan(&d.Date, &d.Manager); err != nil {
			return nil, fmt.Errorf("scanning call day: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call days: %w", err)
	}
	return out, nil
}
