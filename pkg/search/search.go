// Package search builds the mock search results shown alongside routed
// prompts.
package search

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zen-systems/enginegate/pkg/router"
	"github.com/zen-systems/enginegate/pkg/responder"
)

// DefaultAgentColor is used when a routed reply carries no color.
const DefaultAgentColor = "#40e0d0"

var sources = []string{"Wikipedia", "Academic Journal", "Technical Documentation"}

// Result is one search hit. The router fields are only set on the leading
// search-and-route entry.
type Result struct {
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
	Source         string `json:"source"`
	IsRouterResult bool   `json:"is_router_result,omitempty"`
	Agent          string `json:"agent,omitempty"`
	AgentColor     string `json:"agent_color,omitempty"`
	FullResponse   string `json:"full_response,omitempty"`
}

// Concepts returns the mock reference results for a query.
func Concepts(query string) []Result {
	if query == "" {
		return []Result{}
	}
	title := capitalize(query)
	out := make([]Result, 0, len(sources))
	for i, src := range sources {
		out = append(out, Result{
			Title:   fmt.Sprintf("%s - Key Concept %d", title, i+1),
			Snippet: fmt.Sprintf("Comprehensive information about %s. This includes relevant details and contextual understanding of the topic.", query),
			Source:  src,
		})
	}
	return out
}

// Results returns the plain search results: the reference results followed
// by a summary of how the query was classified.
func Results(query string, decision *router.Decision) []Result {
	out := Concepts(query)
	if query == "" || decision == nil {
		return out
	}
	return append(out, Result{
		Title:   "AI Agent Routing Result",
		Snippet: fmt.Sprintf("This query was classified as: %s. Reason: %s", strings.ToUpper(string(decision.Agent)), decision.Reason),
		Source:  "Engine Agent",
	})
}

// RouterResult describes a routed reply as a search hit.
func RouterResult(decision *router.Decision, record *responder.Record) Result {
	color := record.AgentColor
	if color == "" {
		color = DefaultAgentColor
	}
	return Result{
		Title:          fmt.Sprintf("🔍 AI ENGINE AGENT: Routed to %s", strings.ToUpper(string(decision.Agent))),
		Snippet:        fmt.Sprintf("**ROUTER DECISION**: %s\n\n%s", decision.Reason, record.Response),
		Source:         fmt.Sprintf("Agent: %s at %s", record.Agent, record.Timestamp),
		IsRouterResult: true,
		Agent:          string(decision.Agent),
		AgentColor:     color,
		FullResponse:   record.Response,
	}
}

// Routed returns the search-and-route results: the routed reply first,
// then the reference results.
func Routed(query string, decision *router.Decision, record *responder.Record) []Result {
	concepts := Concepts(query)
	if query == "" || decision == nil || record == nil {
		return concepts
	}
	return append([]Result{RouterResult(decision, record)}, concepts...)
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return strings.ToLower(s)
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}
