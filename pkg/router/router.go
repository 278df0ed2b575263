package router

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
	"github.com/zen-systems/enginegate/pkg/responder"
)

// SubscriptionFallbackReason is reported when the classified agent is not
// subscribed and the prompt is served by the fallback agent instead.
const SubscriptionFallbackReason = "Fallback due to subscription status"

// Subscriptions reports which agents may serve prompts.
type Subscriptions interface {
	IsSubscribed(id agent.ID) bool
}

// Responder produces the reply for a routed prompt.
type Responder interface {
	Respond(ctx context.Context, id agent.ID, prompt string) (*responder.Record, error)
}

// Outcome is the result of dispatching a prompt.
type Outcome struct {
	// Decision is the classifier's decision.
	Decision *Decision
	// Fallback is set when the classified agent was unsubscribed.
	Fallback *Decision
	Response *responder.Record
}

// Routed returns the decision that was actually served.
func (o *Outcome) Routed() *Decision {
	if o.Fallback != nil {
		return o.Fallback
	}
	return o.Decision
}

// Router holds the active rule set and the collaborators used to serve
// classified prompts.
type Router struct {
	rules     atomic.Pointer[RuleSet]
	subs      Subscriptions
	responder Responder
	debug     bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSubscriptions sets the subscription collaborator. Without one every
// agent is treated as subscribed.
func WithSubscriptions(subs Subscriptions) RouterOption {
	return func(r *Router) {
		r.subs = subs
	}
}

// WithResponder sets the collaborator that generates replies.
func WithResponder(resp Responder) RouterOption {
	return func(r *Router) {
		r.responder = resp
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) RouterOption {
	return func(r *Router) {
		r.debug = debug
	}
}

// NewRouter compiles the rule table and creates a router. An invalid table
// is a startup error.
func NewRouter(table *config.RuleTable, opts ...RouterOption) (*Router, error) {
	rs, err := NewRuleSet(table)
	if err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	r := &Router{}
	r.rules.Store(rs)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Classify routes a prompt using the active rule set.
func (r *Router) Classify(prompt string) *Decision {
	decision := r.rules.Load().Classify(prompt)
	if r.debug {
		log.Printf("[router] %q -> %s (%s)", truncate(prompt, 40), decision.Agent, decision.Reason)
	}
	return decision
}

// RuleSet returns the active rule set.
func (r *Router) RuleSet() *RuleSet {
	return r.rules.Load()
}

// Routes returns the active rules in declaration order.
func (r *Router) Routes() []RouteInfo {
	return r.rules.Load().Routes()
}

// Reload validates a new rule table and makes it active. On error the
// current rule set stays in place.
func (r *Router) Reload(table *config.RuleTable) error {
	rs, err := NewRuleSet(table)
	if err != nil {
		return fmt.Errorf("invalid rule table: %w", err)
	}
	r.rules.Store(rs)
	return nil
}

// IsSubscribed reports whether an agent may serve prompts.
func (r *Router) IsSubscribed(id agent.ID) bool {
	if r.subs == nil {
		return true
	}
	return r.subs.IsSubscribed(id)
}

// Dispatch classifies the prompt, substitutes the fallback agent when the
// classified agent is unsubscribed, and generates the reply.
func (r *Router) Dispatch(ctx context.Context, prompt string) (*Outcome, error) {
	if r.responder == nil {
		return nil, fmt.Errorf("no responder configured")
	}

	decision := r.Classify(prompt)
	outcome := &Outcome{Decision: decision}

	target := decision.Agent
	if !r.IsSubscribed(target) {
		fallback := r.rules.Load().Fallback()
		outcome.Fallback = &Decision{
			Agent:         fallback,
			Reason:        SubscriptionFallbackReason,
			OriginalAgent: decision.Agent,
		}
		target = fallback
		if r.debug {
			log.Printf("[router] %s not subscribed, using %s", decision.Agent, fallback)
		}
	}

	resp, err := r.responder.Respond(ctx, target, prompt)
	if err != nil {
		return outcome, err
	}
	outcome.Response = resp
	return outcome, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
