// Package responder turns a routing decision into a user-facing reply by
// calling the adapter configured for the chosen agent.
package responder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/enginegate/pkg/adapter"
	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
)

// TimestampLayout formats Record.Timestamp.
const TimestampLayout = "15:04:05"

// Record is the reply shown to the user.
type Record struct {
	Agent      string               `json:"agent"`
	AgentColor string               `json:"agent_color"`
	Response   string               `json:"response"`
	Timestamp  string               `json:"timestamp"`
	Calls      []adapter.CallReport `json:"-"`
}

// Responder dispatches prompts to per-agent adapters.
type Responder struct {
	adapters       map[string]adapter.Adapter
	targets        map[agent.ID]config.RouteTarget
	retry          config.RetryConfig
	fallbackToMock bool
	now            func() time.Time
	debug          bool
}

// Option configures a Responder.
type Option func(*Responder)

// WithTargets sets the adapter/model used for each agent. Agents without a
// target use the mock adapter.
func WithTargets(targets map[agent.ID]config.RouteTarget) Option {
	return func(r *Responder) {
		for id, t := range targets {
			r.targets[id] = t
		}
	}
}

// WithRetry sets retry and backoff behavior.
func WithRetry(retry config.RetryConfig) Option {
	return func(r *Responder) {
		r.retry = retry
	}
}

// WithFallbackToMock controls whether failed provider calls are answered
// by the mock adapter.
func WithFallbackToMock(enabled bool) Option {
	return func(r *Responder) {
		r.fallbackToMock = enabled
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) {
		r.now = now
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(r *Responder) {
		r.debug = debug
	}
}

// New creates a responder over the given adapters.
func New(adapters map[string]adapter.Adapter, opts ...Option) *Responder {
	r := &Responder{
		adapters:       adapters,
		targets:        make(map[agent.ID]config.RouteTarget),
		retry:          config.RetryConfig{MaxRetries: config.DefaultMaxRetries, BaseBackoffMs: 200, MaxBackoffMs: 2000},
		fallbackToMock: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the adapter/model that serves an agent.
func (r *Responder) Target(id agent.ID) config.RouteTarget {
	if t, ok := r.targets[id]; ok && t.Adapter != "" {
		if t.Model == "" && t.Adapter == "mock" {
			t.Model = string(id)
		}
		return t
	}
	return config.RouteTarget{Adapter: "mock", Model: string(id)}
}

// Respond generates the reply for an agent. Unknown agents answer as the
// fallback agent.
func (r *Responder) Respond(ctx context.Context, id agent.ID, prompt string) (*Record, error) {
	if !id.Valid() {
		id = agent.Fallback
	}

	targets := []config.RouteTarget{r.Target(id)}
	if r.fallbackToMock && targets[0].Adapter != "mock" {
		targets = append(targets, config.RouteTarget{Adapter: "mock", Model: string(id)})
	}

	resp, reports, err := r.call(ctx, targets, prompt)
	if err != nil {
		return nil, fmt.Errorf("respond as %s: %w", id, err)
	}

	info := id.Info()
	return &Record{
		Agent:      info.Display,
		AgentColor: info.Color,
		Response:   resp.Content,
		Timestamp:  r.now().Format(TimestampLayout),
		Calls:      reports,
	}, nil
}

func (r *Responder) call(ctx context.Context, targets []config.RouteTarget, prompt string) (*adapter.Response, []adapter.CallReport, error) {
	var reports []adapter.CallReport
	var lastErr error

	// every target gets at least one attempt
	maxRetries := max(r.retry.MaxRetries, 0)

	for idx, target := range targets {
		impl, ok := r.adapters[target.Adapter]
		if !ok || impl == nil {
			lastErr = fmt.Errorf("adapter %s not available", target.Adapter)
			reports = append(reports, adapter.CallReport{
				Adapter:      target.Adapter,
				Model:        target.Model,
				FallbackUsed: idx > 0,
				Error:        lastErr.Error(),
			})
			continue
		}

		for attempt := 0; attempt <= maxRetries; attempt++ {
			resp, err := impl.Generate(ctx, target.Model, prompt)
			if err == nil {
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Retries:      attempt,
					FallbackUsed: idx > 0,
				})
				return resp, reports, nil
			}

			lastErr = err
			if r.debug {
				log.Printf("[responder] %s/%s attempt %d failed: %v", target.Adapter, target.Model, attempt+1, err)
			}
			if !adapter.IsTransient(err) || attempt == maxRetries {
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Adapter,
					Model:        target.Model,
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Error:        err.Error(),
				})
				break
			}

			backoff := computeBackoff(r.retry.BaseBackoffMs, r.retry.MaxBackoffMs, attempt)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, reports, err
			}
		}

		if ctx.Err() != nil {
			return nil, reports, ctx.Err()
		}
		if idx+1 < len(targets) {
			log.Printf("[responder] %s/%s failed, falling back to %s", target.Adapter, target.Model, targets[idx+1].Adapter)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("adapter call failed")
	}
	return nil, reports, lastErr
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	backoff := time.Duration(baseMs) * time.Millisecond
	limit := time.Duration(maxMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
