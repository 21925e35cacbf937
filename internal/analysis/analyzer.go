package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Summary is everything the service derives from one transcript. BDR
// is the raw payload returned by the hosted evaluation function and
// is absent when no function endpoint is configured.
type Summary struct {
	Sentiment  SentimentSummary  `json:"sentiment"`
	Topics     []TopicScore      `json:"topics"`
	Frameworks []FrameworkResult `json:"frameworks"`
	Scorecard  Scorecard         `json:"scorecard"`
	Stats      TalkStats         `json:"stats"`
	BDR        json.RawMessage   `json:"bdr,omitempty"`
}

// Analyzer runs the local analysis passes over transcripts. Results
// are cached by transcript hash since reprocessing and exports often
// hit the same text repeatedly.
type Analyzer struct {
	cache  *lru.Cache[string, Summary]
	logger *slog.Logger
}

func NewAnalyzer(cacheSize int, logger *slog.Logger) (*Analyzer, error) {
	cache, err := lru.New[string, Summary](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create analysis cache: %w", err)
	}
	return &Analyzer{cache: cache, logger: logger}, nil
}

// Analyze derives the full summary for a transcript.
func (a *Analyzer) Analyze(transcript string) Summary {
	key := cacheKey(transcript)
	if cached, ok := a.cache.Get(key); ok {
		a.logger.Debug("analysis cache hit", slog.String("key", key[:12]))
		return cached
	}

	sentiment := ScoreSentiment(transcript)
	frameworks := EvaluateFrameworks(transcript)
	stats := CountTalkStats(transcript)

	summary := Summary{
		Sentiment:  sentiment,
		Topics:     ExtractTopics(transcript),
		Frameworks: frameworks,
		Scorecard:  BuildScorecard(sentiment, frameworks, stats),
		Stats:      stats,
	}

	a.cache.Add(key, summary)
	return summary
}

// CacheLen reports how many summaries are cached.
func (a *Analyzer) CacheLen() int {
	return a.cache.Len()
}

func cacheKey(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}
