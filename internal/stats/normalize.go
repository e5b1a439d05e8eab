package stats

import (
	"strings"

	"github.com/tidwall/gjson"
)

// fallbackCategory picks the bucket for entries that carry no
// category of their own: the analysis's category if set, else the
// first known category, else the literal "default".
func fallbackCategory(own string, categoryKeys []string) string {
	if own != "" {
		return own
	}
	if len(categoryKeys) > 0 {
		return categoryKeys[0]
	}
	return "default"
}

// Normalize decodes one stored analysis row into the canonical
// form. Each of the three JSON fields is decoded independently:
// a malformed field degrades to its empty value and is logged,
// and the other fields are unaffected. Normalize never fails.
func Normalize(row AnalysisRow, categoryKeys []string) Analysis {
	return Analysis{
		Category: row.Category,
		Criteria: normalizeCriteria(row),
		Mistakes: normalizeMistakes(row, categoryKeys),
		Complaints: normalizeComplaints(
			row, categoryKeys,
		),
	}
}

func normalizeCriteria(row AnalysisRow) map[string]float64 {
	out := make(map[string]float64)
	raw := row.CriteriaScores
	if strings.TrimSpace(raw) == "" {
		return out
	}
	parsed := gjson.Parse(raw)
	if !gjson.Valid(raw) || !parsed.IsObject() {
		log.WithField("call_id", row.CallID).
			Warn("malformed criteria_scores, using empty")
		return out
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		out[key.Str] = value.Float()
		return true
	})
	return out
}

// present reports whether a stored JSON column actually carries a
// value. NULL columns surface as "" or the literal "null".
func present(raw string) bool {
	t := strings.TrimSpace(raw)
	return t != "" && t != "null"
}

func normalizeMistakes(
	row AnalysisRow, categoryKeys []string,
) Mistakes {
	out := make(Mistakes)

	// Current format: category -> mistake text -> detail.
	if present(row.CategoryMistakes) {
		parsed := gjson.Parse(row.CategoryMistakes)
		if !gjson.Valid(row.CategoryMistakes) || !parsed.IsObject() {
			log.WithField("call_id", row.CallID).
				Warn("malformed category_mistakes, using empty")
			return out
		}
		parsed.ForEach(func(cat, group gjson.Result) bool {
			if !group.IsObject() {
				return true
			}
			bucket := make(map[string]MistakeDetail)
			group.ForEach(func(text, d gjson.Result) bool {
				bucket[text.Str] = MistakeDetail{
					Count:          int(d.Get("count").Int()),
					Recommendation: d.Get("recommendation").Str,
					Tag:            d.Get("tag").Str,
				}
				return true
			})
			out[cat.Str] = bucket
			return true
		})
		return out
	}

	// Legacy format: flat list of occurrences. Every mistake lands
	// under a single category chosen by the fallback chain.
	if !present(row.Mistakes) {
		return out
	}
	parsed := gjson.Parse(row.Mistakes)
	if !gjson.Valid(row.Mistakes) || !parsed.IsArray() {
		log.WithField("call_id", row.CallID).
			Warn("malformed mistakes, using empty")
		return out
	}

	cat := fallbackCategory(row.Category, categoryKeys)
	bucket := make(map[string]MistakeDetail)
	parsed.ForEach(func(_, item gjson.Result) bool {
		text := item.Get("mistake").Str
		if text == "" {
			return true
		}
		d := bucket[text]
		d.Count++
		// First-seen recommendation/tag win; a later empty value
		// never overwrites a non-empty one.
		if d.Recommendation == "" {
			d.Recommendation = item.Get("recommendation").Str
		}
		if d.Tag == "" {
			d.Tag = item.Get("tag").Str
		}
		bucket[text] = d
		return true
	})
	if len(bucket) > 0 {
		out[cat] = bucket
	}
	return out
}

// oldestKeyIsTag classifies a key from the oldest complaint
// encoding (a bare key -> count map) as a tag rather than a
// literal complaint text. Inherited technical debt: short keys
// without a period were tags, everything else was verbatim text.
func oldestKeyIsTag(key string) bool {
	return len(key) < 50 && !strings.Contains(key, ".")
}

// hasExample reports whether text is already recorded as an
// example. Example lists are short; a linear scan keeps the
// first-seen ordering logic trivial.
func hasExample(g *ComplaintGroup, text string) bool {
	for _, ex := range g.Examples {
		if ex == text {
			return true
		}
	}
	return false
}

// addComplaintText records one occurrence (or n occurrences) of a
// complaint text in a group, deduplicating examples while keeping
// first-seen order.
func addComplaintText(g *ComplaintGroup, text string, n int) {
	if text == "" {
		return
	}
	if g.TextCounts == nil {
		g.TextCounts = make(map[string]int)
	}
	if !hasExample(g, text) {
		g.Examples = append(g.Examples, text)
	}
	g.TextCounts[text] += n
}

func ensureGroup(out Complaints, tag string) *ComplaintGroup {
	g, ok := out[tag]
	if !ok {
		g = &ComplaintGroup{TextCounts: make(map[string]int)}
		out[tag] = g
	}
	return g
}

func normalizeComplaints(
	row AnalysisRow, categoryKeys []string,
) Complaints {
	out := make(Complaints)

	// Current format: tag -> {count, examples, text_counts}.
	if present(row.ClientComplaints) {
		parsed := gjson.Parse(row.ClientComplaints)
		if !gjson.Valid(row.ClientComplaints) || !parsed.IsObject() {
			log.WithField("call_id", row.CallID).
				Warn("malformed client_complaints, using empty")
			return out
		}
		parsed.ForEach(func(tag, group gjson.Result) bool {
			g := ensureGroup(out, tag.Str)
			g.Count += int(group.Get("count").Int())
			group.Get("text_counts").ForEach(
				func(text, n gjson.Result) bool {
					if text.Str != "" {
						g.TextCounts[text.Str] += int(n.Int())
					}
					return true
				})
			group.Get("examples").ForEach(
				func(_, ex gjson.Result) bool {
					if ex.Str != "" && !hasExample(g, ex.Str) {
						g.Examples = append(g.Examples, ex.Str)
					}
					return true
				})
			return true
		})
		return out
	}

	if !present(row.Objections) {
		return out
	}
	parsed := gjson.Parse(row.Objections)
	if !gjson.Valid(row.Objections) {
		log.WithField("call_id", row.CallID).
			Warn("malformed objections, using empty")
		return out
	}

	switch {
	case parsed.IsArray():
		// Legacy format: flat list of {text, tag} objections.
		parsed.ForEach(func(_, item gjson.Result) bool {
			tag := item.Get("tag").Str
			if tag == "" {
				tag = "other"
			}
			text := item.Get("text").Str
			g := ensureGroup(out, tag)
			g.Count++
			addComplaintText(g, text, 1)
			return true
		})

	case parsed.IsObject():
		// Oldest format: bare key -> count, where the key is
		// ambiguously either a tag or a literal complaint text.
		parsed.ForEach(func(key, n gjson.Result) bool {
			count := int(n.Int())
			if oldestKeyIsTag(key.Str) {
				ensureGroup(out, key.Str).Count += count
				return true
			}
			g := ensureGroup(out, "other")
			g.Count += count
			addComplaintText(g, key.Str, count)
			return true
		})

	default:
		log.WithField("call_id", row.CallID).
			Warn("malformed objections, using empty")
	}
	return out
}

// ParseSegments decodes a stored transcription's segments column.
// Malformed JSON yields an empty slice: a call without a readable
// transcript simply contributes no duration or talk-ratio data.
func ParseSegments(raw string) []TranscriptSegment {
	if !present(raw) {
		return nil
	}
	parsed := gjson.Parse(raw)
	if !gjson.Valid(raw) || !parsed.IsArray() {
		log.Warn("malformed transcript segments, skipping")
		return nil
	}
	var segs []TranscriptSegment
	parsed.ForEach(func(_, item gjson.Result) bool {
		segs = append(segs, TranscriptSegment{
			Speaker:   item.Get("speaker").Str,
			Text:      item.Get("text").Str,
			Timestamp: item.Get("timestamp").Str,
		})
		return true
	})
	return segs
}
