package analysis

import "sort"

// TopicScore counts how often a conversation topic surfaced.
type TopicScore struct {
	Topic    string `json:"topic"`
	Mentions int    `json:"mentions"`
}

var topicKeywords = map[string][]string{
	"pricing":     {"price", "pricing", "cost", "discount", "budget", "expensive", "quote"},
	"contract":    {"contract", "terms", "renewal", "agreement", "cancel", "sign"},
	"support":     {"support", "help", "issue", "problem", "ticket", "bug"},
	"onboarding":  {"onboarding", "setup", "training", "implementation", "migration"},
	"competition": {"competitor", "competitors", "alternative", "alternatives", "switch", "compare"},
	"scheduling":  {"schedule", "meeting", "demo", "calendar", "reschedule"},
}

// keywordTopic inverts topicKeywords for single-pass counting.
var keywordTopic = func() map[string]string {
	index := make(map[string]string)
	for topic, words := range topicKeywords {
		for _, word := range words {
			index[word] = topic
		}
	}
	return index
}()

// ExtractTopics counts topic mentions across the transcript, most
// mentioned first. Topics with no mentions are omitted.
func ExtractTopics(transcript string) []TopicScore {
	mentions := make(map[string]int)
	for _, token := range tokenize(transcript) {
		if topic, ok := keywordTopic[token]; ok {
			mentions[topic]++
		}
	}

	scores := make([]TopicScore, 0, len(mentions))
	for topic, count := range mentions {
		scores = append(scores, TopicScore{Topic: topic, Mentions: count})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Mentions != scores[j].Mentions {
			return scores[i].Mentions > scores[j].Mentions
		}
		return scores[i].Topic < scores[j].Topic
	})
	return scores
}
