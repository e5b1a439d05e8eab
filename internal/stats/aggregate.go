package stats

// meanScore returns the mean of an analysis's own criteria
// values. Category and overall scores are always recomputed from
// criteria; the redundantly persisted overall_score is ignored.
func meanScore(criteria map[string]float64) (float64, bool) {
	if len(criteria) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range criteria {
		sum += v
	}
	return sum / float64(len(criteria)), true
}

// accum tracks a running sum for one averaged value.
type accum struct {
	sum float64
	n   int
}

func (a *accum) add(v float64) {
	a.sum += v
	a.n++
}

func (a *accum) mean() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

// mergeMistakes folds src into dst additively: counts sum, and a
// recommendation or tag already present is never overwritten,
// in particular not by an empty value.
func mergeMistakes(dst, src Mistakes) {
	for cat, group := range src {
		bucket, ok := dst[cat]
		if !ok {
			bucket = make(map[string]MistakeDetail)
			dst[cat] = bucket
		}
		for text, d := range group {
			cur := bucket[text]
			cur.Count += d.Count
			if cur.Recommendation == "" {
				cur.Recommendation = d.Recommendation
			}
			if cur.Tag == "" {
				cur.Tag = d.Tag
			}
			bucket[text] = cur
		}
	}
}

// mergeComplaints folds src into dst: counts and per-text counts
// sum, examples union with first-seen order preserved.
func mergeComplaints(dst, src Complaints) {
	for tag, g := range src {
		out := ensureGroup(dst, tag)
		out.Count += g.Count
		for _, ex := range g.Examples {
			if !hasExample(out, ex) {
				out.Examples = append(out.Examples, ex)
			}
		}
		for text, n := range g.TextCounts {
			out.TextCounts[text] += n
		}
	}
}

// AggregateManager folds one manager's analyses into a
// ManagerStats view. The fold is a single pass allocating fresh
// accumulators, so concurrent requests never share state.
func AggregateManager(
	analyses []Analysis,
	categoryKeys []string,
	criterionToCategory map[string]string,
) ManagerStats {
	known := make(map[string]bool, len(categoryKeys))
	for _, k := range categoryKeys {
		known[k] = true
	}

	var (
		overall    accum
		catScores  = make(map[string]*accum)
		catCounts  = make(map[string]int)
		critScores = make(map[string]map[string]*accum)
		mistakes   = make(Mistakes)
		complaints = make(Complaints)

		durations   accum
		managerPct  accum
		customerPct accum
	)

	for _, a := range analyses {
		score, scored := meanScore(a.Criteria)
		if scored {
			overall.add(score)
		}

		// Category score: each analysis contributes the mean of
		// its own criteria, only under a known category.
		if scored && known[a.Category] {
			acc, ok := catScores[a.Category]
			if !ok {
				acc = &accum{}
				catScores[a.Category] = acc
			}
			acc.add(score)
		}
		if known[a.Category] {
			catCounts[a.Category]++
		}

		// Criteria routing: the catalog mapping wins; unmapped
		// criteria fall back to the analysis's own category, then
		// the first known category, then "default".
		for criterion, v := range a.Criteria {
			cat := criterionToCategory[criterion]
			if cat == "" {
				cat = fallbackCategory(a.Category, categoryKeys)
			}
			bucket, ok := critScores[cat]
			if !ok {
				bucket = make(map[string]*accum)
				critScores[cat] = bucket
			}
			acc, ok := bucket[criterion]
			if !ok {
				acc = &accum{}
				bucket[criterion] = acc
			}
			acc.add(v)
		}

		mergeMistakes(mistakes, a.Mistakes)
		mergeComplaints(complaints, a.Complaints)

		// Analyses without a computable duration are excluded
		// from the averages, not treated as zero.
		est := EstimateCall(a.Segments)
		if est.Duration != nil {
			durations.add(float64(*est.Duration))
		}
		if est.TalkRatio != nil {
			managerPct.add(float64(est.TalkRatio.Manager))
			customerPct.add(float64(est.TalkRatio.Customer))
		}
	}

	out := ManagerStats{
		TotalCalls:      len(analyses),
		AverageScore:    round(overall.mean()),
		CategoryScores:  make(map[string]int, len(catScores)),
		CategoryCounts:  catCounts,
		CriteriaScores:  make(map[string]map[string]int, len(critScores)),
		TalkRatio:       TalkRatio{Manager: 50, Customer: 50},
		AverageDuration: round(durations.mean()),
		Mistakes:        mistakes,
		Complaints:      complaints,
	}

	for cat, acc := range catScores {
		out.CategoryScores[cat] = round(acc.mean())
	}
	for cat, bucket := range critScores {
		scores := make(map[string]int, len(bucket))
		for criterion, acc := range bucket {
			scores[criterion] = round(acc.mean())
		}
		out.CriteriaScores[cat] = scores
	}
	if managerPct.n > 0 {
		out.TalkRatio = TalkRatio{
			Manager:  round(managerPct.mean()),
			Customer: round(customerPct.mean()),
		}
	}
	return out
}

// CallStatsFor builds the per-audio view for a single analysis.
// Unlike aggregation, the per-call overall score is the one
// persisted at ingestion.
func CallStatsFor(
	row AnalysisRow,
	segments []TranscriptSegment,
	categoryKeys []string,
) CallStats {
	norm := Normalize(row, categoryKeys)
	est := EstimateCall(segments)
	return CallStats{
		OverallScore: round(row.OverallScore),
		Criteria:     norm.Criteria,
		Mistakes:     norm.Mistakes,
		Complaints:   norm.Complaints,
		TalkRatio:    est.TalkRatio,
		Duration:     est.Duration,
	}
}
