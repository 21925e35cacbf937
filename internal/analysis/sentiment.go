package analysis

import "math"

// sentimentSegments is how many timeline buckets a transcript is
// split into. Short transcripts get one bucket per word.
const sentimentSegments = 10

const (
	labelThreshold = 0.15
	trendThreshold = 0.15
)

var positiveWords = wordSet(
	"great", "good", "love", "excellent", "perfect", "happy", "helpful",
	"interested", "yes", "thanks", "thank", "awesome", "definitely",
	"easy", "fast", "works", "solved", "amazing", "agree", "excited",
)

var negativeWords = wordSet(
	"bad", "terrible", "hate", "problem", "issue", "unhappy", "cancel",
	"frustrated", "frustrating", "expensive", "slow", "broken", "no",
	"never", "worst", "difficult", "confusing", "wrong", "fail", "failed",
)

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// SentimentSummary describes how a call felt over time. Timeline
// values run from -1 (hostile) to 1 (delighted); volatility scales
// the timeline's standard deviation to 0-100.
type SentimentSummary struct {
	Timeline   []float64 `json:"timeline"`
	Mean       float64   `json:"mean"`
	Volatility float64   `json:"volatility"`
	Trend      string    `json:"trend"`
	Label      string    `json:"label"`
}

// ScoreSentiment builds the sentiment timeline for a transcript.
func ScoreSentiment(transcript string) SentimentSummary {
	tokens := tokenize(transcript)
	if len(tokens) == 0 {
		return SentimentSummary{Trend: "steady", Label: "neutral"}
	}

	segments := sentimentSegments
	if len(tokens) < segments {
		segments = len(tokens)
	}

	timeline := make([]float64, segments)
	size := len(tokens) / segments
	remainder := len(tokens) % segments

	start := 0
	for i := 0; i < segments; i++ {
		end := start + size
		if i < remainder {
			end++
		}
		timeline[i] = scoreSegment(tokens[start:end])
		start = end
	}

	mean := meanOf(timeline)

	return SentimentSummary{
		Timeline:   timeline,
		Mean:       round2(mean),
		Volatility: round2(volatility(timeline, mean)),
		Trend:      trendOf(timeline),
		Label:      labelOf(mean),
	}
}

// scoreSegment is the signed fraction of opinionated words in the
// segment.
func scoreSegment(tokens []string) float64 {
	var positive, negative int
	for _, token := range tokens {
		if _, ok := positiveWords[token]; ok {
			positive++
		}
		if _, ok := negativeWords[token]; ok {
			negative++
		}
	}

	total := positive + negative
	if total == 0 {
		return 0
	}
	return round2(float64(positive-negative) / float64(total))
}

// volatility is the population standard deviation of the timeline
// scaled to 0-100.
func volatility(timeline []float64, mean float64) float64 {
	if len(timeline) < 2 {
		return 0
	}

	var sum float64
	for _, v := range timeline {
		diff := v - mean
		sum += diff * diff
	}

	scaled := math.Sqrt(sum/float64(len(timeline))) * 100
	if scaled > 100 {
		scaled = 100
	}
	return scaled
}

// trendOf compares the back half of the call against the front half.
func trendOf(timeline []float64) string {
	if len(timeline) < 2 {
		return "steady"
	}

	half := len(timeline) / 2
	delta := meanOf(timeline[len(timeline)-half:]) - meanOf(timeline[:half])

	switch {
	case delta > trendThreshold:
		return "improving"
	case delta < -trendThreshold:
		return "declining"
	default:
		return "steady"
	}
}

func labelOf(mean float64) string {
	switch {
	case mean > labelThreshold:
		return "positive"
	case mean < -labelThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
