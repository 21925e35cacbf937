package analysis_test

import (
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/soundscribe/analytics-service/internal/analysis"
)

var _ = Describe("BuildScorecard", func() {
	It("should weight the four criteria into the overall grade", func() {
		sentiment := analysis.SentimentSummary{Mean: 1, Volatility: 0}
		frameworks := []analysis.FrameworkResult{{Framework: "BANT", Coverage: 1}}
		stats := analysis.TalkStats{Sentences: 4, Questions: 1}

		card := analysis.BuildScorecard(sentiment, frameworks, stats)
		Expect(card.Overall).To(BeNumerically("==", 100))
		Expect(card.Criteria).To(HaveLen(4))
	})

	It("should grade a silent call harshly but not at zero", func() {
		card := analysis.BuildScorecard(analysis.SentimentSummary{}, nil, analysis.TalkStats{})

		// Neutral tone scores 50 and a flat timeline scores 100 for stability.
		Expect(card.Overall).To(BeNumerically("==", 32.5))
	})

	It("should take the best framework coverage for discovery", func() {
		frameworks := []analysis.FrameworkResult{
			{Framework: "BANT", Coverage: 0.25},
			{Framework: "MEDDIC", Coverage: 0.5},
		}
		card := analysis.BuildScorecard(analysis.SentimentSummary{}, frameworks, analysis.TalkStats{})

		for _, criterion := range card.Criteria {
			if criterion.Name == "discovery" {
				Expect(criterion.Score).To(BeNumerically("==", 50))
			}
		}
	})

	It("should clamp engagement at 100", func() {
		stats := analysis.TalkStats{Sentences: 2, Questions: 10}
		card := analysis.BuildScorecard(analysis.SentimentSummary{}, nil, stats)

		for _, criterion := range card.Criteria {
			if criterion.Name == "engagement" {
				Expect(criterion.Score).To(BeNumerically("==", 100))
			}
		}
	})

	It("should carry weights that sum to one", func() {
		card := analysis.BuildScorecard(analysis.SentimentSummary{}, nil, analysis.TalkStats{})

		var sum float64
		for _, criterion := range card.Criteria {
			sum += criterion.Weight
		}
		Expect(sum).To(BeNumerically("==", 1))
	})
})

var _ = Describe("Analyzer", func() {
	var analyzer *analysis.Analyzer

	BeforeEach(func() {
		var err error
		analyzer, err = analysis.NewAnalyzer(8, slog.Default())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should produce a full summary", func() {
		transcript := "Thanks for the demo! The price looks good but I need approval from my manager this quarter."
		summary := analyzer.Analyze(transcript)

		Expect(summary.Sentiment.Label).To(Equal("positive"))
		Expect(summary.Topics).NotTo(BeEmpty())
		Expect(summary.Frameworks).To(HaveLen(3))
		Expect(summary.Scorecard.Overall).To(BeNumerically(">", 0))
		Expect(summary.Stats.Words).To(BeNumerically(">", 0))
		Expect(summary.BDR).To(BeNil())
	})

	It("should return identical results for the same transcript", func() {
		transcript := "the price is too expensive"
		first := analyzer.Analyze(transcript)
		second := analyzer.Analyze(transcript)

		Expect(second).To(Equal(first))
		Expect(analyzer.CacheLen()).To(Equal(1))
	})

	It("should cache per transcript", func() {
		analyzer.Analyze("first call transcript")
		analyzer.Analyze("second call transcript")
		Expect(analyzer.CacheLen()).To(Equal(2))
	})

	It("should reject a non-positive cache size", func() {
		_, err := analysis.NewAnalyzer(0, slog.Default())
		Expect(err).To(HaveOccurred())
	})

	It("should evict beyond the cache size", func() {
		small, err := analysis.NewAnalyzer(2, slog.Default())
		Expect(err).NotTo(HaveOccurred())

		small.Analyze("one")
		small.Analyze("two")
		small.Analyze("three")
		Expect(small.CacheLen()).To(Equal(2))
	})
})
