package stats

import (
	"io"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Degradation warnings are expected noise in these tests.
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	log = quiet.WithField("component", "stats")
	os.Exit(m.Run())
}

func TestNormalizeCriteria(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]float64
	}{
		{
			name: "valid object",
			raw:  `{"Greeting":80,"Closing":60.5}`,
			want: map[string]float64{"Greeting": 80, "Closing": 60.5},
		},
		{"empty string", "", map[string]float64{}},
		{"malformed json", `{"Greeting":`, map[string]float64{}},
		{"array instead of object", `[1,2]`, map[string]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(
				AnalysisRow{CriteriaScores: tt.raw}, nil,
			)
			if diff := cmp.Diff(tt.want, got.Criteria); diff != "" {
				t.Errorf("criteria mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestNormalizeMistakesLegacyEquivalence feeds the same analysis
// in the legacy flat-list format and the pre-converted nested-map
// format and requires identical output.
func TestNormalizeMistakesLegacyEquivalence(t *testing.T) {
	legacy := AnalysisRow{
		Category: "Sales",
		Mistakes: `[
			{"mistake":"no greeting","recommendation":"greet first","tag":"greeting"},
			{"mistake":"no greeting","recommendation":"","tag":""},
			{"mistake":"talked over client","recommendation":"let them finish","tag":"listening"}
		]`,
	}
	converted := AnalysisRow{
		Category: "Sales",
		CategoryMistakes: `{
			"Sales": {
				"no greeting": {"count":2,"recommendation":"greet first","tag":"greeting"},
				"talked over client": {"count":1,"recommendation":"let them finish","tag":"listening"}
			}
		}`,
	}

	keys := []string{"Sales", "Support"}
	got := Normalize(legacy, keys).Mistakes
	want := Normalize(converted, keys).Mistakes
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("legacy/nested mismatch (-nested +legacy):\n%s", diff)
	}
}

func TestNormalizeMistakesCategoryFallback(t *testing.T) {
	raw := `[{"mistake":"m","recommendation":"r","tag":"t"}]`

	tests := []struct {
		name     string
		category string
		keys     []string
		wantCat  string
	}{
		{"own category wins", "Sales", []string{"Support"}, "Sales"},
		{"first known category", "", []string{"Support", "Sales"}, "Support"},
		{"default literal", "", nil, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(AnalysisRow{
				Category: tt.category, Mistakes: raw,
			}, tt.keys)
			require.Len(t, got.Mistakes, 1)
			assert.Contains(t, got.Mistakes, tt.wantCat)
			assert.Equal(t, 1, got.Mistakes[tt.wantCat]["m"].Count)
		})
	}
}

func TestNormalizeMistakesEmptyNeverOverwrites(t *testing.T) {
	got := Normalize(AnalysisRow{
		Category: "Sales",
		Mistakes: `[
			{"mistake":"m","recommendation":"","tag":""},
			{"mistake":"m","recommendation":"fix it","tag":"pace"},
			{"mistake":"m","recommendation":"","tag":""}
		]`,
	}, []string{"Sales"})

	d := got.Mistakes["Sales"]["m"]
	assert.Equal(t, 3, d.Count)
	assert.Equal(t, "fix it", d.Recommendation)
	assert.Equal(t, "pace", d.Tag)
}

func TestNormalizeComplaintsNewFormat(t *testing.T) {
	got := Normalize(AnalysisRow{
		ClientComplaints: `{
			"price": {
				"count": 2,
				"examples": ["too expensive", "too expensive"],
				"text_counts": {"too expensive": 2}
			}
		}`,
	}, nil)

	g := got.Complaints["price"]
	require.NotNil(t, g)
	assert.Equal(t, 2, g.Count)
	assert.Equal(t, []string{"too expensive"}, g.Examples)
	assert.Equal(t, 2, g.TextCounts["too expensive"])
}

func TestNormalizeComplaintsLegacyList(t *testing.T) {
	got := Normalize(AnalysisRow{
		Objections: `[
			{"text":"call me later","tag":"timing"},
			{"text":"call me later","tag":"timing"},
			{"text":"no budget"}
		]`,
	}, nil)

	timing := got.Complaints["timing"]
	require.NotNil(t, timing)
	assert.Equal(t, 2, timing.Count)
	assert.Equal(t, []string{"call me later"}, timing.Examples)
	assert.Equal(t, 2, timing.TextCounts["call me later"])

	// Missing tag defaults to "other".
	other := got.Complaints["other"]
	require.NotNil(t, other)
	assert.Equal(t, 1, other.Count)
	assert.Equal(t, []string{"no budget"}, other.Examples)
}

func TestNormalizeComplaintsOldestFormat(t *testing.T) {
	longText := "The client said the onboarding process was confusing. Nobody followed up."
	got := Normalize(AnalysisRow{
		Objections: `{
			"price": 3,
			"` + longText + `": 2
		}`,
	}, nil)

	// Short key without a period classifies as a tag.
	require.NotNil(t, got.Complaints["price"])
	assert.Equal(t, 3, got.Complaints["price"].Count)
	assert.Empty(t, got.Complaints["price"].Examples)

	// Long key with periods classifies as literal text under "other".
	other := got.Complaints["other"]
	require.NotNil(t, other)
	assert.Equal(t, 2, other.Count)
	assert.Equal(t, []string{longText}, other.Examples)
	assert.Equal(t, 2, other.TextCounts[longText])
}

// TestNormalizeFieldIsolation verifies that one malformed field
// degrades alone: the other two decode normally.
func TestNormalizeFieldIsolation(t *testing.T) {
	got := Normalize(AnalysisRow{
		Category:       "Sales",
		CriteriaScores: `{"Greeting":70}`,
		Mistakes:       `{{{not json`,
		Objections:     `[{"text":"t","tag":"price"}]`,
	}, []string{"Sales"})

	assert.Equal(t, map[string]float64{"Greeting": 70}, got.Criteria)
	assert.Empty(t, got.Mistakes)
	require.NotNil(t, got.Complaints["price"])
	assert.Equal(t, 1, got.Complaints["price"].Count)
}

func TestNormalizeNewFormatWinsOverLegacy(t *testing.T) {
	got := Normalize(AnalysisRow{
		Category:         "Sales",
		CategoryMistakes: `{"Sales":{"a":{"count":1,"recommendation":"","tag":""}}}`,
		Mistakes:         `[{"mistake":"b","recommendation":"","tag":""}]`,
		ClientComplaints: `{"price":{"count":1,"examples":[],"text_counts":{}}}`,
		Objections:       `[{"text":"ignored","tag":"ignored"}]`,
	}, []string{"Sales"})

	assert.Contains(t, got.Mistakes["Sales"], "a")
	assert.NotContains(t, got.Mistakes["Sales"], "b")
	assert.Contains(t, got.Complaints, "price")
	assert.NotContains(t, got.Complaints, "ignored")
}

func TestParseSegments(t *testing.T) {
	segs := ParseSegments(`[
		{"speaker":"manager","text":"hello","timestamp":"0:00"},
		{"speaker":"client","text":"hi","timestamp":null}
	]`)
	require.Len(t, segs, 2)
	assert.Equal(t, "manager", segs[0].Speaker)
	assert.Equal(t, "0:00", segs[0].Timestamp)
	assert.Equal(t, "", segs[1].Timestamp)

	assert.Nil(t, ParseSegments(""))
	assert.Nil(t, ParseSegments("null"))
	assert.Nil(t, ParseSegments(`{"not":"a list"}`))
	assert.Nil(t, ParseSegments(`[[[`))
}
