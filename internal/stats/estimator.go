package stats

import (
	"math"
	"regexp"
	"sort"
)

const (
	// wordsPerSecond is the speaking-rate heuristic used when a
	// segment's duration cannot be derived from timestamps.
	wordsPerSecond = 2.5

	// talkFraction is the assumed share of a call spent talking;
	// the remainder covers silence, hold, and pauses. Used to
	// extrapolate total duration on the word-count path.
	talkFraction = 0.6
)

var whitespace = regexp.MustCompile(`\s+`)

// wordCount mirrors the historical split-on-whitespace counting:
// a lone empty string still counts as one word. Preserved for
// compatibility with previously persisted aggregates.
func wordCount(text string) int {
	return len(whitespace.Split(text, -1))
}

func round(x float64) int {
	return int(math.Round(x))
}

// heuristicSeconds estimates a segment's duration from its word
// count, with a floor.
func heuristicSeconds(text string, floor int) int {
	sec := round(float64(wordCount(text)) / wordsPerSecond)
	if sec < floor {
		return floor
	}
	return sec
}

// EstimateCall reconstructs per-speaker talk time and total call
// duration from transcript segments. When any segment carries a
// parsable timestamp, durations come from the gaps between starts;
// otherwise everything falls back to the word-count heuristic.
// Empty input yields an Estimate with both fields nil.
func EstimateCall(segments []TranscriptSegment) Estimate {
	if len(segments) == 0 {
		return Estimate{}
	}

	hasTimestamps := false
	for _, s := range segments {
		if _, ok := ParseClock(s.Timestamp); ok {
			hasTimestamps = true
			break
		}
	}

	var managerTime, customerTime, duration int
	if hasTimestamps {
		managerTime, customerTime, duration = estimateTimed(segments)
	} else {
		managerTime, customerTime = estimateByWords(segments)
		duration = round(
			float64(managerTime+customerTime) / talkFraction,
		)
	}

	est := Estimate{Duration: &duration}
	total := managerTime + customerTime
	if total > 0 {
		// Manager and customer percentages are rounded
		// independently and may not sum to exactly 100. Forcing
		// customer = 100 - manager would change historical
		// aggregate outputs, so the drift stays.
		est.TalkRatio = &TalkRatio{
			Manager: round(
				float64(managerTime) / float64(total) * 100,
			),
			Customer: round(
				float64(customerTime) / float64(total) * 100,
			),
		}
	}
	return est
}

// timedSegment pairs a segment with its parsed start time.
type timedSegment struct {
	TranscriptSegment
	start   int
	started bool
}

// estimateTimed derives segment durations from timestamp gaps.
// Segments are first sorted by parsed start (storage order is
// not chronological), with unparsable timestamps sorting last.
// A segment's duration is the distance to the next segment (any
// speaker) with a strictly greater start; the last segment falls
// back to the word-count heuristic. Call duration is the maximum
// observed end time, not the sum of durations: segments may
// overlap or leave gaps.
func estimateTimed(
	segments []TranscriptSegment,
) (managerTime, customerTime, duration int) {
	timed := make([]timedSegment, 0, len(segments))
	for _, s := range segments {
		start, ok := ParseClock(s.Timestamp)
		timed = append(timed, timedSegment{
			TranscriptSegment: s, start: start, started: ok,
		})
	}
	sort.SliceStable(timed, func(i, j int) bool {
		if timed[i].started != timed[j].started {
			return timed[i].started
		}
		return timed[i].start < timed[j].start
	})

	maxEnd := 0
	for i, seg := range timed {
		if seg.started && seg.start > maxEnd {
			maxEnd = seg.start
		}
		if seg.Speaker == SpeakerSystem {
			continue
		}

		dur := -1
		if seg.started {
			for _, next := range timed[i+1:] {
				if next.started && next.start > seg.start {
					dur = next.start - seg.start
					break
				}
			}
		}
		if dur < 0 {
			dur = heuristicSeconds(seg.Text, 2)
		}

		if seg.started && seg.start+dur > maxEnd {
			maxEnd = seg.start + dur
		}

		switch seg.Speaker {
		case SpeakerManager:
			managerTime += dur
		default:
			customerTime += dur
		}
	}
	return managerTime, customerTime, maxEnd
}

// estimateByWords assigns every non-system segment a word-count
// duration with a one-second floor.
func estimateByWords(
	segments []TranscriptSegment,
) (managerTime, customerTime int) {
	for _, seg := range segments {
		if seg.Speaker == SpeakerSystem {
			continue
		}
		dur := heuristicSeconds(seg.Text, 1)
		switch seg.Speaker {
		case SpeakerManager:
			managerTime += dur
		default:
			customerTime += dur
		}
	}
	return managerTime, customerTime
}
