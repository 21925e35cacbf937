package analysis

import "math"

// ComponentResult reports whether one framework component was
// discussed and which signal words triggered it.
type ComponentResult struct {
	Name    string   `json:"name"`
	Covered bool     `json:"covered"`
	Signals []string `json:"signals,omitempty"`
}

// FrameworkResult is the coverage of one sales methodology across a
// call.
type FrameworkResult struct {
	Framework  string            `json:"framework"`
	Coverage   float64           `json:"coverage"`
	Components []ComponentResult `json:"components"`
}

type componentSpec struct {
	name     string
	keywords []string
}

type frameworkSpec struct {
	name       string
	components []componentSpec
}

var frameworkSpecs = []frameworkSpec{
	{
		name: "BANT",
		components: []componentSpec{
			{name: "budget", keywords: []string{"budget", "cost", "price", "afford", "invest"}},
			{name: "authority", keywords: []string{"decision", "approve", "manager", "boss", "sign"}},
			{name: "need", keywords: []string{"need", "problem", "challenge", "pain", "require"}},
			{name: "timeline", keywords: []string{"timeline", "quarter", "deadline", "month", "week"}},
		},
	},
	{
		name: "MEDDIC",
		components: []componentSpec{
			{name: "metrics", keywords: []string{"metric", "metrics", "roi", "kpi", "measure"}},
			{name: "economic buyer", keywords: []string{"buyer", "owner", "sponsor", "cfo"}},
			{name: "decision criteria", keywords: []string{"criteria", "requirement", "requirements", "evaluate"}},
			{name: "decision process", keywords: []string{"process", "approval", "procurement", "step"}},
			{name: "identify pain", keywords: []string{"pain", "struggle", "issue", "frustrated"}},
			{name: "champion", keywords: []string{"champion", "advocate", "supporter", "internally"}},
		},
	},
	{
		name: "SPICED",
		components: []componentSpec{
			{name: "situation", keywords: []string{"currently", "today", "using", "existing"}},
			{name: "pain", keywords: []string{"pain", "problem", "struggle", "frustrating"}},
			{name: "impact", keywords: []string{"impact", "revenue", "save", "grow", "improve"}},
			{name: "critical event", keywords: []string{"deadline", "launch", "renewal", "event"}},
			{name: "decision", keywords: []string{"decide", "decision", "evaluate", "next"}},
		},
	},
}

// EvaluateFrameworks scores BANT, MEDDIC, and SPICED coverage for a
// transcript.
func EvaluateFrameworks(transcript string) []FrameworkResult {
	seen := make(map[string]int)
	for _, token := range tokenize(transcript) {
		seen[token]++
	}

	results := make([]FrameworkResult, 0, len(frameworkSpecs))
	for _, spec := range frameworkSpecs {
		result := FrameworkResult{
			Framework:  spec.name,
			Components: make([]ComponentResult, 0, len(spec.components)),
		}

		covered := 0
		for _, component := range spec.components {
			cr := ComponentResult{Name: component.name}
			for _, keyword := range component.keywords {
				if seen[keyword] > 0 {
					cr.Signals = append(cr.Signals, keyword)
				}
			}
			cr.Covered = len(cr.Signals) > 0
			if cr.Covered {
				covered++
			}
			result.Components = append(result.Components, cr)
		}

		result.Coverage = math.Round(float64(covered)/float64(len(spec.components))*100) / 100
		results = append(results, result)
	}
	return results
}
