// Package stats is the analytics aggregation core: it folds
// per-call analysis rows and transcript segments into per-manager
// and company-wide statistics. It is pure: all rows are handed in
// already fetched, and no function here performs I/O or returns an
// error. Dirty historical data degrades to empty values instead of
// failing the request.
package stats

import "github.com/sirupsen/logrus"

// log receives field-level degradation warnings from the
// normalizer. Tests may swap it out to silence output.
var log logrus.FieldLogger = logrus.StandardLogger().
	WithField("component", "stats")

// Speaker labels as they appear in stored transcript segments.
const (
	SpeakerManager = "manager"
	SpeakerClient  = "client"
	SpeakerSystem  = "system"
)

// AnalysisRow mirrors one stored analyses row. The JSON columns
// are kept as raw strings: three historical encodings of mistakes
// and complaints exist, and decoding them is the normalizer's job.
type AnalysisRow struct {
	CallID   string
	Category string

	// CriteriaScores is a JSON object of criterion -> score (0-100).
	CriteriaScores string

	// Mistakes holds the legacy flat-list encoding; CategoryMistakes
	// holds the current nested-map encoding and wins when non-empty.
	Mistakes         string
	CategoryMistakes string

	// Objections holds the legacy encodings (flat list, or the
	// oldest key -> count map); ClientComplaints holds the current
	// tag-keyed encoding and wins when non-empty.
	Objections       string
	ClientComplaints string

	// OverallScore is the score persisted at ingestion. Aggregation
	// recomputes scores from CriteriaScores and does not use it.
	OverallScore float64
}

// TranscriptSegment is one speaker turn from a stored
// transcription. Storage order is not guaranteed chronological;
// the estimator re-sorts by parsed timestamp.
type TranscriptSegment struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// MistakeDetail describes one distinct mistake within a category.
type MistakeDetail struct {
	Count          int    `json:"count"`
	Recommendation string `json:"recommendation"`
	Tag            string `json:"tag"`
}

// Mistakes is the canonical form: category -> mistake text -> detail.
type Mistakes map[string]map[string]MistakeDetail

// ComplaintGroup collects client complaints that share a tag.
// Examples preserves first-seen order and is deduplicated;
// TextCounts tracks per-text occurrence counts.
type ComplaintGroup struct {
	Count      int            `json:"count"`
	Examples   []string       `json:"examples"`
	TextCounts map[string]int `json:"text_counts"`
}

// Complaints is the canonical form: tag -> group.
type Complaints map[string]*ComplaintGroup

// Analysis is one call's analysis decoded into the canonical form.
// Downstream aggregation never branches on storage format again.
type Analysis struct {
	Category   string
	Criteria   map[string]float64
	Mistakes   Mistakes
	Complaints Complaints
	Segments   []TranscriptSegment
}

// TalkRatio is the percentage split of speaking time. The two
// values are rounded independently and need not sum to exactly
// 100; that drift is historical behavior, not a bug.
type TalkRatio struct {
	Manager  int `json:"manager"`
	Customer int `json:"customer"`
}

// Estimate is the talk-ratio/duration result for one call.
// Nil fields mean "not computable from this transcript".
type Estimate struct {
	TalkRatio *TalkRatio
	Duration  *int // seconds
}

// ManagerStats is the per-manager aggregate view. It is rebuilt
// from persisted rows on every request and never stored.
type ManagerStats struct {
	ID              string                    `json:"id"`
	Name            string                    `json:"name"`
	TotalCalls      int                       `json:"total_audios"`
	AverageScore    int                       `json:"average_score"`
	CategoryScores  map[string]int            `json:"category_scores"`
	CategoryCounts  map[string]int            `json:"category_counts"`
	CriteriaScores  map[string]map[string]int `json:"criteria_scores"`
	TalkRatio       TalkRatio                 `json:"talk_ratio"`
	AverageDuration int                       `json:"average_duration"`
	Mistakes        Mistakes                  `json:"category_mistakes"`
	Complaints      Complaints                `json:"client_complaints"`
}

// CallStats is the per-audio view returned for a single call.
type CallStats struct {
	OverallScore int                `json:"overall_score"`
	Criteria     map[string]float64 `json:"criteria_scores"`
	Mistakes     Mistakes           `json:"category_mistakes"`
	Complaints   Complaints         `json:"client_complaints"`
	TalkRatio    *TalkRatio         `json:"talk_ratio"`
	Duration     *int               `json:"duration"`
}
