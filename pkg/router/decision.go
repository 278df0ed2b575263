package router

import "github.com/zen-systems/enginegate/pkg/agent"

// Candidate captures one agent's score for a prompt.
type Candidate struct {
	Agent    agent.ID `json:"agent"`
	Score    int      `json:"score"`
	Patterns []string `json:"patterns,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Decision captures routing decision details.
type Decision struct {
	Agent         agent.ID    `json:"agent"`
	Reason        string      `json:"reason"`
	OriginalAgent agent.ID    `json:"original_agent,omitempty"`
	Matched       bool        `json:"matched"`
	Candidates    []Candidate `json:"candidates,omitempty"`
}

// Score returns the candidate score for an agent.
func (d *Decision) Score(id agent.ID) int {
	if d == nil {
		return 0
	}
	for _, c := range d.Candidates {
		if c.Agent == id {
			return c.Score
		}
	}
	return 0
}
