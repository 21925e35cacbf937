package analysis

import "math"

// CriterionScore is one weighted line of the coaching scorecard.
type CriterionScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Scorecard grades a call 0-100 from weighted criteria.
type Scorecard struct {
	Overall  float64          `json:"overall"`
	Criteria []CriterionScore `json:"criteria"`
}

const (
	weightDiscovery  = 0.30
	weightSentiment  = 0.25
	weightStability  = 0.20
	weightEngagement = 0.25
)

// BuildScorecard derives the coaching scorecard from the other
// analysis products. Discovery rewards the best framework coverage,
// stability penalizes sentiment swings, and engagement rewards
// question density.
func BuildScorecard(sentiment SentimentSummary, frameworks []FrameworkResult, stats TalkStats) Scorecard {
	discovery := 0.0
	for _, fr := range frameworks {
		if fr.Coverage*100 > discovery {
			discovery = fr.Coverage * 100
		}
	}

	tone := (sentiment.Mean + 1) / 2 * 100
	stability := 100 - sentiment.Volatility

	engagement := 0.0
	if stats.Sentences > 0 {
		engagement = float64(stats.Questions) / float64(stats.Sentences) * 400
		if engagement > 100 {
			engagement = 100
		}
	}

	criteria := []CriterionScore{
		{Name: "discovery", Score: round1(discovery), Weight: weightDiscovery},
		{Name: "sentiment", Score: round1(tone), Weight: weightSentiment},
		{Name: "stability", Score: round1(stability), Weight: weightStability},
		{Name: "engagement", Score: round1(engagement), Weight: weightEngagement},
	}

	var overall float64
	for _, c := range criteria {
		overall += c.Score * c.Weight
	}

	return Scorecard{
		Overall:  round1(overall),
		Criteria: criteria,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
