package router

import (
	"strings"
)

// NoIntentReason is reported when no pattern or keyword matched.
const NoIntentReason = "No specific intent detected - routing to general assistant"

// Classify scores every agent against the prompt and returns the winner.
//
// Each matching pattern adds PatternWeight and each contained keyword adds
// KeywordWeight to its rule's agent; the fallback agent gets BaselineBonus.
// Ties go to the agent declared first in the rule table. Prompts with no
// pattern or keyword match go to the fallback agent with NoIntentReason.
func (rs *RuleSet) Classify(prompt string) *Decision {
	promptLower := strings.ToLower(prompt)

	candidates := make([]Candidate, len(rs.rules))
	matched := false

	for i, rule := range rs.rules {
		c := Candidate{Agent: rule.agent}
		for j, re := range rule.patterns {
			if re.MatchString(promptLower) {
				c.Score += PatternWeight
				c.Patterns = append(c.Patterns, rule.sources[j])
			}
		}
		for _, keyword := range rule.keywords {
			if strings.Contains(promptLower, keyword) {
				c.Score += KeywordWeight
				c.Keywords = append(c.Keywords, keyword)
			}
		}
		if c.Score > 0 {
			matched = true
		}
		candidates[i] = c
	}

	candidates[rs.position[rs.fallback]].Score += BaselineBonus

	best, maxScore := -1, 0
	for i, c := range candidates {
		// strict comparison keeps the earliest declared agent on ties
		if c.Score > maxScore {
			best, maxScore = i, c.Score
		}
	}

	if maxScore == 0 || !matched {
		return &Decision{
			Agent:      rs.fallback,
			Reason:     NoIntentReason,
			Candidates: candidates,
		}
	}

	return &Decision{
		Agent:      rs.rules[best].agent,
		Reason:     rs.rules[best].reason,
		Matched:    true,
		Candidates: candidates,
	}
}
