package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRollupCompanyPooledAverage: the company average must come
// from the pooled set of analyses, not the mean of per-manager
// averages, so a manager with one call does not weigh as much as
// a manager with three.
func TestRollupCompanyPooledAverage(t *testing.T) {
	managers := []ManagerAnalyses{
		{
			ID: "m1", Name: "Alice",
			Analyses: []Analysis{
				analysis("Sales", map[string]float64{"Greeting": 100}),
				analysis("Sales", map[string]float64{"Greeting": 100}),
				analysis("Sales", map[string]float64{"Greeting": 100}),
			},
		},
		{
			ID: "m2", Name: "Bob",
			Analyses: []Analysis{
				analysis("Sales", map[string]float64{"Greeting": 0}),
			},
		},
	}

	got := RollupCompany(managers, []string{"Sales"}, salesCatalog)

	assert.Equal(t, 4, got.TotalCalls)
	// Pooled: (100+100+100+0)/4 = 75. Mean of manager averages
	// would be 50, the biased number this rollup must avoid.
	assert.Equal(t, 75, got.AverageScore)

	require.Len(t, got.Managers, 2)
	assert.Equal(t, "m1", got.Managers[0].ID)
	assert.Equal(t, "Alice", got.Managers[0].Name)
	assert.Equal(t, 100, got.Managers[0].AverageScore)
	assert.Equal(t, 0, got.Managers[1].AverageScore)
}

func TestRollupCompanyEmpty(t *testing.T) {
	got := RollupCompany(nil, []string{"Sales"}, nil)
	assert.Equal(t, 0, got.TotalCalls)
	assert.Equal(t, 0, got.AverageScore)
	assert.Empty(t, got.Managers)
}

func TestVolumeSeries(t *testing.T) {
	calls := []CallDay{
		{Date: "2026-08-02", Manager: "Alice"},
		{Date: "2026-08-01", Manager: "Alice"},
		{Date: "2026-08-01", Manager: "Bob"},
		{Date: "2026-08-01", Manager: "Alice"},
	}

	series := VolumeSeries(calls)
	require.Len(t, series, 2)

	// Sorted by date.
	assert.Equal(t, "2026-08-01", series[0].Date)
	assert.Equal(t, 3, series[0].Count)
	assert.Equal(t, 2, series[0].ByManager["Alice"])
	assert.Equal(t, 1, series[0].ByManager["Bob"])
	assert.Equal(t, "2026-08-02", series[1].Date)
	assert.Equal(t, 1, series[1].Count)
}

// TestVolumeEntryMarshal: manager counts flatten next to the
// date/count keys, the shape the stacked volume chart reads.
func TestVolumeEntryMarshal(t *testing.T) {
	data, err := json.Marshal(VolumeEntry{
		Date:      "2026-08-01",
		Count:     3,
		ByManager: map[string]int{"Alice": 2, "Bob": 1},
	})
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "2026-08-01", flat["date"])
	assert.Equal(t, float64(3), flat["count"])
	assert.Equal(t, float64(2), flat["Alice"])
	assert.Equal(t, float64(1), flat["Bob"])
}
