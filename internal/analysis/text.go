package analysis

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// tokenize splits a transcript into case-folded word tokens. Folding
// rather than lowercasing keeps keyword matching stable across
// locales.
func tokenize(transcript string) []string {
	fields := strings.FieldsFunc(transcript, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	caser := cases.Fold()
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tokens = append(tokens, caser.String(field))
	}
	return tokens
}

// TalkStats are raw transcript counts feeding the scorecard.
type TalkStats struct {
	Words     int `json:"words"`
	Sentences int `json:"sentences"`
	Questions int `json:"questions"`
}

func CountTalkStats(transcript string) TalkStats {
	stats := TalkStats{
		Words:     len(strings.Fields(transcript)),
		Questions: strings.Count(transcript, "?"),
	}
	for _, r := range transcript {
		if r == '.' || r == '!' || r == '?' {
			stats.Sentences++
		}
	}
	return stats
}
