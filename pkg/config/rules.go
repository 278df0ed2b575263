package config

import (
	"fmt"
	"os"

	"github.com/zen-systems/enginegate/pkg/agent"
	"gopkg.in/yaml.v3"
)

// RuleTable holds the intent classification rules in declaration order.
// Declaration order is the tie-break order.
type RuleTable struct {
	Fallback agent.ID `yaml:"fallback"`
	Rules    []Rule   `yaml:"rules"`
}

// Rule scores a single agent against a prompt.
type Rule struct {
	Agent    agent.ID `yaml:"agent"`
	Patterns []string `yaml:"patterns"`
	Keywords []string `yaml:"keywords,omitempty"`
	Reason   string   `yaml:"reason"`
}

// LoadRuleTable reads a rule table from a YAML file.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse rule table %s: %w", path, err)
	}
	if table.Fallback == "" {
		table.Fallback = agent.Fallback
	}
	return &table, nil
}

// DefaultRuleTable returns the built-in rule table.
func DefaultRuleTable() *RuleTable {
	return &RuleTable{
		Fallback: agent.ChatGPT,
		Rules: []Rule{
			{
				Agent: agent.Codex,
				Patterns: []string{
					`\b(code|program|function|script|debug|compile|syntax|api|app|software|develop)\b`,
					`\b(react|vue|angular|django|flask|node|express|python|java|javascript|html|css)\b`,
					`\b(algorithm|data structure|class|object|method|variable|loop|array)\b`,
					`\b(programming|coding|software development|web dev)\b`,
				},
				Keywords: []string{"write code", "fix bug", "create function", "program", "debug", "build app"},
				Reason:   "Programming/code request detected",
			},
			{
				Agent: agent.Perplexity,
				Patterns: []string{
					`\b(link|source|reference|citation|article|research|paper|find|search|google|look up)\b`,
					`\b(where can I|find me|search for|give me sources|list of resources)\b`,
				},
				Keywords: []string{"sources", "references", "links", "citations", "research"},
				Reason:   "Source/link request detected",
			},
			{
				Agent: agent.Gemini,
				Patterns: []string{
					`\b(fact|history|date|location|famous|population|culture|definition|meaning)\b`,
					`\b(who|what|where|when)[\s\p{Zs}]+(is|are|was|were|did|does)\b`,
					`\b(factual|knowledge|google|search|information|dictionary)\b`,
				},
				Keywords: []string{"tell me about", "what is", "who is", "when did", "where is", "define"},
				Reason:   "Factual knowledge/lookup request detected",
			},
			{
				Agent: agent.DeepSeek,
				Patterns: []string{
					`\b(explain in detail|comprehensive|thorough|in-depth|elaborate|detailed)\b`,
					`\b(long form|essay|extensive|complete guide|full explanation)\b`,
				},
				Keywords: []string{"explain thoroughly", "detailed analysis", "comprehensive guide", "in depth"},
				Reason:   "Long-form explanation requested",
			},
			{
				Agent: agent.GPAI,
				Patterns: []string{
					`[\d\+\-\*\/\=\%\(\)]+`, // digits and arithmetic operators
					`\b(calculate|solve|equation|math|algebra|calculus|geometry|puzzle|logic)\b`,
					`\b(compute|sum|difference|product|quotient|modulo|derivative|integral)\b`,
				},
				Keywords: []string{"solve this", "calculate", "math problem", "equation", "formula"},
				Reason:   "Math/logic/puzzle request detected",
			},
			{
				Agent: agent.ChatGPT,
				Patterns: []string{
					`\b(opinion|thoughts|perspective|general|anyway|basically|overall)\b`,
				},
				Reason: "General knowledge/conversational query",
			},
		},
	}
}
