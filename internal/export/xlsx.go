// Package export renders aggregated stats as XLSX workbooks.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/callviewhq/callview/internal/stats"
)

const managersSheet = "Managers"

// ManagerWorkbook builds a one-sheet workbook with a row per
// manager. Category score columns follow catalog order so exports
// stay diffable across runs.
func ManagerWorkbook(
	company stats.CompanyStats, categoryKeys []string,
) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", managersSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	header := []any{
		"Manager", "Calls", "Average Score",
	}
	for _, cat := range categoryKeys {
		header = append(header, cat+" Score", cat+" Calls")
	}
	header = append(header,
		"Talk Ratio Manager %", "Talk Ratio Customer %",
		"Average Duration (s)",
	)
	if err := setRow(f, 1, header); err != nil {
		return nil, err
	}

	for i, m := range company.Managers {
		row := []any{m.Name, m.TotalCalls, m.AverageScore}
		for _, cat := range categoryKeys {
			row = append(row, m.CategoryScores[cat], m.CategoryCounts[cat])
		}
		row = append(row,
			m.TalkRatio.Manager, m.TalkRatio.Customer,
			m.AverageDuration,
		)
		if err := setRow(f, i+2, row); err != nil {
			return nil, err
		}
	}

	// Company totals as a trailing summary row.
	summary := make([]any, len(header))
	summary[0] = "Company"
	summary[1] = company.TotalCalls
	summary[2] = company.AverageScore
	if err := setRow(f, len(company.Managers)+3, summary); err != nil {
		return nil, err
	}

	return f, nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("addressing row %d: %w", row, err)
	}
	if err := f.SetSheetRow(managersSheet, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}
