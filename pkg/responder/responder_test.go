package responder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zen-systems/enginegate/pkg/adapter"
	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
)

type flakyAdapter struct {
	name     string
	failures int
	err      error
	calls    int
}

func (a *flakyAdapter) Generate(_ context.Context, model string, prompt string) (*adapter.Response, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, a.err
	}
	return &adapter.Response{Content: "real: " + prompt, Adapter: a.name, Model: model}, nil
}

func (a *flakyAdapter) Name() string { return a.name }

func (a *flakyAdapter) Models() []string { return []string{"m1"} }

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
}

func firstTemplate(int) int { return 0 }

func TestRespondUsesMockByDefault(t *testing.T) {
	r := New(map[string]adapter.Adapter{"mock": adapter.NewMockAdapter(adapter.WithPicker(firstTemplate))}, WithClock(fixedClock))

	rec, err := r.Respond(context.Background(), agent.Gemini, "capital of France")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if rec.Agent != "Gemini" || rec.AgentColor != "#1a73e8" {
		t.Fatalf("unexpected agent metadata %+v", rec)
	}
	if rec.Timestamp != "13:04:05" {
		t.Fatalf("unexpected timestamp %q", rec.Timestamp)
	}
	want := "Gemini factual lookup: Searching for 'capital of France...'. According to verified sources, this involves several key facts and data points."
	if rec.Response != want {
		t.Fatalf("unexpected response %q", rec.Response)
	}
}

func TestRespondUnknownAgentAnswersAsFallback(t *testing.T) {
	r := New(map[string]adapter.Adapter{"mock": adapter.NewMockAdapter(adapter.WithPicker(firstTemplate))})

	rec, err := r.Respond(context.Background(), agent.ID("claude"), "hi")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if rec.Agent != "ChatGPT" {
		t.Fatalf("expected ChatGPT, got %s", rec.Agent)
	}
}

func TestRespondRetriesTransientErrors(t *testing.T) {
	provider := &flakyAdapter{name: "deepseek", failures: 2, err: &adapter.AdapterError{Status: 503}}
	r := New(
		map[string]adapter.Adapter{"deepseek": provider, "mock": adapter.NewMockAdapter()},
		WithTargets(map[agent.ID]config.RouteTarget{agent.DeepSeek: {Adapter: "deepseek", Model: "deepseek-chat"}}),
		WithRetry(config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 1, MaxBackoffMs: 2}),
	)

	rec, err := r.Respond(context.Background(), agent.DeepSeek, "essay")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", provider.calls)
	}
	if rec.Response != "real: essay" {
		t.Fatalf("unexpected response %q", rec.Response)
	}
	if len(rec.Calls) != 1 || rec.Calls[0].Retries != 2 || rec.Calls[0].FallbackUsed {
		t.Fatalf("unexpected call reports %+v", rec.Calls)
	}
}

func TestRespondFallsBackToMockOnPermanentError(t *testing.T) {
	provider := &flakyAdapter{name: "openai", failures: 10, err: errors.New("invalid key")}
	r := New(
		map[string]adapter.Adapter{"openai": provider, "mock": adapter.NewMockAdapter(adapter.WithPicker(firstTemplate))},
		WithTargets(map[agent.ID]config.RouteTarget{agent.ChatGPT: {Adapter: "openai", Model: "gpt-4o"}}),
		WithRetry(config.RetryConfig{MaxRetries: 3, BaseBackoffMs: 1, MaxBackoffMs: 1}),
	)

	rec, err := r.Respond(context.Background(), agent.ChatGPT, "opinion")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", provider.calls)
	}
	if len(rec.Calls) != 2 || !rec.Calls[1].FallbackUsed || rec.Calls[1].Adapter != "mock" {
		t.Fatalf("expected mock fallback report, got %+v", rec.Calls)
	}
}

func TestRespondWithoutFallbackReturnsError(t *testing.T) {
	r := New(
		map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()},
		WithTargets(map[agent.ID]config.RouteTarget{agent.Codex: {Adapter: "anthropic", Model: "claude-sonnet-4-20250514"}}),
		WithFallbackToMock(false),
	)

	if _, err := r.Respond(context.Background(), agent.Codex, "write code"); err == nil {
		t.Fatalf("expected error when adapter is missing and fallback disabled")
	}
}

func TestComputeBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{5, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := computeBackoff(200, 2000, tt.attempt); got != tt.want {
			t.Errorf("computeBackoff(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestTargetDefaults(t *testing.T) {
	r := New(nil, WithTargets(map[agent.ID]config.RouteTarget{agent.GPAI: {Adapter: "mock"}}))
	if got := r.Target(agent.GPAI); got.Model != "gpai" {
		t.Fatalf("expected mock model to default to agent id, got %+v", got)
	}
	if got := r.Target(agent.Codex); got.Adapter != "mock" || got.Model != "codex" {
		t.Fatalf("unexpected default target %+v", got)
	}
}

func TestRespondWithRetriesDisabled(t *testing.T) {
	for _, maxRetries := range []int{0, -1} {
		t.Run(fmt.Sprintf("max_retries=%d", maxRetries), func(t *testing.T) {
			mockOnly := New(
				map[string]adapter.Adapter{"mock": adapter.NewMockAdapter(adapter.WithPicker(firstTemplate))},
				WithRetry(config.RetryConfig{MaxRetries: maxRetries, BaseBackoffMs: 1, MaxBackoffMs: 1}),
			)
			rec, err := mockOnly.Respond(context.Background(), agent.Codex, "hello")
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			if rec.Agent != "Codex" || rec.Response == "" {
				t.Fatalf("unexpected record %+v", rec)
			}

			provider := &flakyAdapter{name: "deepseek", failures: 5, err: &adapter.AdapterError{Status: 503}}
			r := New(
				map[string]adapter.Adapter{"deepseek": provider, "mock": adapter.NewMockAdapter()},
				WithTargets(map[agent.ID]config.RouteTarget{agent.DeepSeek: {Adapter: "deepseek", Model: "deepseek-chat"}}),
				WithRetry(config.RetryConfig{MaxRetries: maxRetries, BaseBackoffMs: 1, MaxBackoffMs: 1}),
			)
			rec, err = r.Respond(context.Background(), agent.DeepSeek, "essay")
			if err != nil {
				t.Fatalf("respond: %v", err)
			}
			if provider.calls != 1 {
				t.Fatalf("expected a single provider call, got %d", provider.calls)
			}
			if len(rec.Calls) != 2 || rec.Calls[0].Retries != 0 || rec.Calls[1].Adapter != "mock" {
				t.Fatalf("unexpected call reports %+v", rec.Calls)
			}
		})
	}
}
