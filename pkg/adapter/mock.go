package adapter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/zen-systems/enginegate/pkg/agent"
)

// Template renders a canned reply around a truncated prompt.
// Format receives the prompt, cut to Limit runes, as its only %s verb.
type Template struct {
	Format string
	Limit  int
}

// Render formats the template for a prompt.
func (t Template) Render(prompt string) string {
	return fmt.Sprintf(t.Format, truncateRunes(prompt, t.Limit))
}

// MockAdapter returns canned responses for local runs and tests. The model
// name selects the template set, one set per agent.
type MockAdapter struct {
	templates       map[string][]Template
	defaultResponse string
	pick            func(n int) int
	Usage           *Usage
}

// MockOption configures a MockAdapter.
type MockOption func(*MockAdapter)

// WithPicker replaces the random template picker. pick must return a value
// in [0, n).
func WithPicker(pick func(n int) int) MockOption {
	return func(a *MockAdapter) {
		a.pick = pick
	}
}

// WithTemplates sets the template set for a model.
func WithTemplates(model string, templates []Template) MockOption {
	return func(a *MockAdapter) {
		a.templates[model] = templates
	}
}

// NewMockAdapter creates a mock adapter preloaded with a template set for
// every agent.
func NewMockAdapter(opts ...MockOption) *MockAdapter {
	a := &MockAdapter{
		templates:       defaultTemplates(),
		defaultResponse: "mock response:",
		pick:            rand.IntN,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the template sets this adapter can render.
func (a *MockAdapter) Models() []string {
	models := make([]string, 0, len(a.templates))
	for name := range a.templates {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

// Generate renders one of the model's templates for the prompt. Models
// without templates echo the prompt after a fixed prefix.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	templates := a.templates[model]
	if len(templates) == 0 {
		content := fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
		return &Response{Content: content, Adapter: a.Name(), Model: model, Usage: a.Usage}, nil
	}

	idx := a.pick(len(templates))
	if idx < 0 || idx >= len(templates) {
		idx = 0
	}
	return &Response{
		Content: templates[idx].Render(prompt),
		Adapter: a.Name(),
		Model:   model,
		Usage:   a.Usage,
	}, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func defaultTemplates() map[string][]Template {
	return map[string][]Template{
		string(agent.ChatGPT): {
			{"Based on general knowledge: '%s...' relates to various perspectives. ChatGPT would provide a balanced overview considering multiple viewpoints.", 50},
			{"ChatGPT analysis: The query '%s...' touches on general concepts. Here's what I know from my training data...", 40},
			{"General assistant response: I understand you're asking about '%s...'. Let me share some general information on this topic.", 30},
		},
		string(agent.Gemini): {
			{"Gemini factual lookup: Searching for '%s...'. According to verified sources, this involves several key facts and data points.", 50},
			{"Based on factual knowledge: '%s...' - this is documented in multiple authoritative sources. Let me summarize the key information.", 40},
			{"Gemini knowledge search: I've found relevant information about '%s...'. Here are the verified facts.", 30},
		},
		string(agent.DeepSeek): {
			{"DeepSeek detailed analysis: Let me provide a comprehensive explanation of '%s...' This topic has several layers to explore...", 40},
			{"In-depth explanation requested for: '%s...' I'll break this down into detailed components and elaborate on each aspect.", 30},
			{"DeepSeek long-form response: Your query about '%s...' requires thorough examination. Let me provide a complete guide.", 35},
		},
		string(agent.Perplexity): {
			{"Perplexity sources: I found multiple references for '%s...'. Here are relevant sources with citations and links.", 45},
			{"Source compilation for: '%s...' - I've gathered information from academic papers, articles, and verified references.", 35},
			{"Perplexity research: Regarding '%s...', here are the key sources and references with their credibility assessments.", 40},
		},
		string(agent.GPAI): {
			{"GPAI logical reasoning: Analyzing '%s...' through mathematical frameworks. The solution involves several computational steps.", 40},
			{"Math/Logic processing: For '%s...', I've computed the result using formal logic and mathematical operations.", 35},
			{"GPAI puzzle solver: Your query '%s...' requires logical deduction. Here's my step-by-step reasoning.", 30},
		},
		string(agent.Codex): {
			{"Codex programming: For '%s...', here's a code solution with implementation details and best practices.", 40},
			{"Software development: Analyzing '%s...' - I'll provide a clean, efficient implementation with documentation.", 35},
			{"Codex assistance: Your coding request '%s...' can be solved with this optimized approach.", 30},
		},
	}
}
