package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callviewhq/callview/internal/stats"
)

func TestManagerWorkbook(t *testing.T) {
	company := stats.CompanyStats{
		TotalCalls:   3,
		AverageScore: 75,
		Managers: []stats.ManagerStats{
			{
				Name:            "Alice",
				TotalCalls:      2,
				AverageScore:    80,
				CategoryScores:  map[string]int{"Sales": 85},
				CategoryCounts:  map[string]int{"Sales": 2},
				TalkRatio:       stats.TalkRatio{Manager: 60, Customer: 40},
				AverageDuration: 120,
			},
			{
				Name:         "Bob",
				TotalCalls:   1,
				AverageScore: 65,
				TalkRatio:    stats.TalkRatio{Manager: 50, Customer: 50},
			},
		},
	}

	f, err := ManagerWorkbook(company, []string{"Sales", "Support"})
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Managers")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 4)

	assert.Equal(t, []string{
		"Manager", "Calls", "Average Score",
		"Sales Score", "Sales Calls",
		"Support Score", "Support Calls",
		"Talk Ratio Manager %", "Talk Ratio Customer %",
		"Average Duration (s)",
	}, rows[0])

	assert.Equal(t, "Alice", rows[1][0])
	assert.Equal(t, "85", rows[1][3])
	assert.Equal(t, "120", rows[1][9])
	assert.Equal(t, "Bob", rows[2][0])

	last := rows[len(rows)-1]
	assert.Equal(t, "Company", last[0])
	assert.Equal(t, "75", last[2])
}

func TestManagerWorkbookEmpty(t *testing.T) {
	f, err := ManagerWorkbook(stats.CompanyStats{}, nil)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Managers")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, "Manager", rows[0][0])
}
