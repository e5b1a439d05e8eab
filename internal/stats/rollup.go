package stats

import (
	"encoding/json"
	"sort"
)

// ManagerAnalyses is one manager's in-window analyses, already
// fetched and normalized by the storage layer.
type ManagerAnalyses struct {
	ID       string
	Name     string
	Analyses []Analysis
}

// CompanyStats is the team-wide rollup for a date window.
type CompanyStats struct {
	TotalCalls   int            `json:"total_audios"`
	AverageScore int            `json:"average_score"`
	Managers     []ManagerStats `json:"managers"`
}

// RollupCompany runs the per-manager aggregation for every
// manager and composes company totals. The company average score
// is the pooled mean over all in-window analyses, not the mean
// of per-manager averages, which would skew toward managers with
// few calls.
func RollupCompany(
	managers []ManagerAnalyses,
	categoryKeys []string,
	criterionToCategory map[string]string,
) CompanyStats {
	out := CompanyStats{
		Managers: make([]ManagerStats, 0, len(managers)),
	}

	var pooled accum
	for _, m := range managers {
		ms := AggregateManager(
			m.Analyses, categoryKeys, criterionToCategory,
		)
		ms.ID = m.ID
		ms.Name = m.Name
		out.Managers = append(out.Managers, ms)
		out.TotalCalls += ms.TotalCalls

		for _, a := range m.Analyses {
			if score, ok := meanScore(a.Criteria); ok {
				pooled.add(score)
			}
		}
	}
	out.AverageScore = round(pooled.mean())
	return out
}

// CallDay is one completed call's date bucket, as handed in by
// the storage layer for volume views.
type CallDay struct {
	Date    string // YYYY-MM-DD, already local-date bucketed
	Manager string
}

// VolumeEntry is one date in the volume series. It marshals with
// per-manager counts flattened alongside date and count, the
// shape the dashboard's stacked chart consumes.
type VolumeEntry struct {
	Date      string
	Count     int
	ByManager map[string]int
}

// MarshalJSON flattens ByManager into top-level keys. The fixed
// date/count keys are written last so a manager named "date" or
// "count" cannot clobber them.
func (e VolumeEntry) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.ByManager)+2)
	for name, n := range e.ByManager {
		flat[name] = n
	}
	flat["date"] = e.Date
	flat["count"] = e.Count
	return json.Marshal(flat)
}

// VolumeSeries tallies completed calls per calendar date with a
// per-manager breakdown. A pure count, no estimation involved.
func VolumeSeries(calls []CallDay) []VolumeEntry {
	byDate := make(map[string]*VolumeEntry)
	for _, c := range calls {
		e, ok := byDate[c.Date]
		if !ok {
			e = &VolumeEntry{
				Date:      c.Date,
				ByManager: make(map[string]int),
			}
			byDate[c.Date] = e
		}
		e.Count++
		if c.Manager != "" {
			e.ByManager[c.Manager]++
		}
	}

	series := make([]VolumeEntry, 0, len(byDate))
	for _, e := range byDate {
		series = append(series, *e)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date < series[j].Date
	})
	return series
}
