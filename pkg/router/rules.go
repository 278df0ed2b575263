package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
)

// Scoring weights. Together they define tie-break behavior, so changing any
// of them changes which agent wins for existing prompts.
const (
	PatternWeight = 3
	KeywordWeight = 5
	BaselineBonus = 1
)

// Rule table validation errors.
var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrMissingAgent   = errors.New("agent has no rule")
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrEmptyKeyword   = errors.New("empty keyword")
	ErrMissingReason  = errors.New("missing reason")
	ErrNoFallback     = errors.New("fallback agent missing or unknown")
)

// RuleError reports a problem with one rule of a table.
type RuleError struct {
	Index int
	Agent agent.ID
	Err   error
}

func (e *RuleError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("agent %q: %v", e.Agent, e.Err)
	}
	return fmt.Sprintf("rule %d (%s): %v", e.Index, e.Agent, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// RuleSet is a compiled, validated rule table. It is never mutated after
// construction and is safe for concurrent use.
type RuleSet struct {
	rules    []compiledRule
	fallback agent.ID
	position map[agent.ID]int
}

type compiledRule struct {
	agent    agent.ID
	patterns []*regexp.Regexp
	sources  []string
	keywords []string
	reason   string
}

// RouteInfo describes a routing rule.
type RouteInfo struct {
	Agent    agent.ID
	Patterns []string
	Keywords []string
	Reason   string
	Fallback bool
}

// NewRuleSet compiles and validates a rule table. Every known agent must
// have exactly one rule. All problems found are reported together.
func NewRuleSet(table *config.RuleTable) (*RuleSet, error) {
	if table == nil {
		return nil, fmt.Errorf("rule table is nil")
	}

	rs := &RuleSet{
		fallback: table.Fallback,
		position: make(map[agent.ID]int, len(table.Rules)),
	}
	var errs []error

	for i, rule := range table.Rules {
		id := rule.Agent
		if !id.Valid() {
			errs = append(errs, &RuleError{Index: i, Agent: id, Err: ErrUnknownAgent})
			continue
		}
		if first, dup := rs.position[id]; dup {
			errs = append(errs, &RuleError{Index: i, Agent: id, Err: fmt.Errorf("%w (first declared at rule %d)", ErrDuplicateAgent, first)})
			continue
		}
		if strings.TrimSpace(rule.Reason) == "" {
			errs = append(errs, &RuleError{Index: i, Agent: id, Err: ErrMissingReason})
		}

		compiled := compiledRule{agent: id, reason: rule.Reason}
		for _, pattern := range rule.Patterns {
			if pattern == "" {
				errs = append(errs, &RuleError{Index: i, Agent: id, Err: fmt.Errorf("%w: empty pattern", ErrInvalidPattern)})
				continue
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				errs = append(errs, &RuleError{Index: i, Agent: id, Err: fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)})
				continue
			}
			compiled.patterns = append(compiled.patterns, re)
			compiled.sources = append(compiled.sources, pattern)
		}
		for _, keyword := range rule.Keywords {
			if keyword == "" {
				errs = append(errs, &RuleError{Index: i, Agent: id, Err: ErrEmptyKeyword})
				continue
			}
			compiled.keywords = append(compiled.keywords, strings.ToLower(keyword))
		}

		rs.position[id] = len(rs.rules)
		rs.rules = append(rs.rules, compiled)
	}

	for _, id := range agent.All() {
		if _, ok := rs.position[id]; !ok {
			errs = append(errs, &RuleError{Index: -1, Agent: id, Err: ErrMissingAgent})
		}
	}
	if _, ok := rs.position[rs.fallback]; !ok {
		errs = append(errs, &RuleError{Index: -1, Agent: rs.fallback, Err: ErrNoFallback})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rs, nil
}

// Fallback returns the agent that receives unmatched prompts.
func (rs *RuleSet) Fallback() agent.ID {
	return rs.fallback
}

// Routes returns the rules in declaration order.
func (rs *RuleSet) Routes() []RouteInfo {
	routes := make([]RouteInfo, 0, len(rs.rules))
	for _, rule := range rs.rules {
		routes = append(routes, RouteInfo{
			Agent:    rule.agent,
			Patterns: append([]string(nil), rule.sources...),
			Keywords: append([]string(nil), rule.keywords...),
			Reason:   rule.reason,
			Fallback: rule.agent == rs.fallback,
		})
	}
	return routes
}

// Reason returns the configured reason for an agent.
func (rs *RuleSet) Reason(id agent.ID) (string, bool) {
	idx, ok := rs.position[id]
	if !ok {
		return "", false
	}
	return rs.rules[idx].reason, true
}
