// Package server exposes the router over HTTP.
//
// Endpoints:
//   - POST /prompt              - route a prompt and return the reply
//   - POST /search              - mock search results plus the classification
//   - POST /search-and-route    - search results led by the routed reply
//   - POST /subscription        - toggle an agent's subscription
//   - GET  /subscription/status - every agent's subscription
//   - POST /router-test         - classification details for a prompt
//   - GET  /history             - the session's recent prompts
//   - POST /history/clear       - forget the session's prompts
//   - GET  /healthz             - liveness
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/history"
	"github.com/zen-systems/enginegate/pkg/responder"
	"github.com/zen-systems/enginegate/pkg/router"
	"github.com/zen-systems/enginegate/pkg/search"
	"github.com/zen-systems/enginegate/pkg/subscription"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":5000"

	maxBodySize     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server serves the routing API.
type Server struct {
	addr      string
	mux       *http.ServeMux
	router    *router.Router
	responder router.Responder
	subs      subscription.Store
	history   *history.Store
	limiter   *rate.Limiter
	debug     bool
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRateLimit enables a global token bucket. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(s *Server) {
		s.debug = debug
	}
}

// New creates a server. The responder answers search-and-route queries;
// /prompt goes through the router's own dispatch.
func New(r *router.Router, resp router.Responder, subs subscription.Store, hist *history.Store, opts ...Option) *Server {
	s := &Server{
		addr:      DefaultAddr,
		mux:       http.NewServeMux(),
		router:    r,
		responder: resp,
		subs:      subs,
		history:   hist,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /prompt", s.handlePrompt)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("POST /search-and-route", s.handleSearchAndRoute)
	s.mux.HandleFunc("POST /subscription", s.handleSubscription)
	s.mux.HandleFunc("GET /subscription/status", s.handleSubscriptionStatus)
	s.mux.HandleFunc("POST /router-test", s.handleRouterTest)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("POST /history/clear", s.handleHistoryClear)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		Recovery(),
		Logging(),
		RateLimit(s.limiter),
		Session(),
	)(s.mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("[http] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// routing is the decision shape returned by /prompt.
type routing struct {
	Agent         agent.ID `json:"agent"`
	Reason        string   `json:"reason"`
	OriginalAgent agent.ID `json:"original_agent,omitempty"`
}

func routingOf(d *router.Decision) *routing {
	if d == nil {
		return nil
	}
	return &routing{Agent: d.Agent, Reason: d.Reason, OriginalAgent: d.OriginalAgent}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Fallback bool              `json:"fallback,omitempty"`
	Routing  *routing          `json:"routing"`
	Response *responder.Record `json:"response"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	s.decode(r, &req)

	outcome, err := s.router.Dispatch(r.Context(), req.Prompt)
	if err != nil {
		log.Printf("[http] dispatch failed: %v", err)
		writeError(w, http.StatusBadGateway, "responder unavailable")
		return
	}

	if outcome.Fallback != nil {
		writeJSON(w, http.StatusOK, promptResponse{
			Success:  false,
			Error:    fmt.Sprintf("%s is not subscribed", outcome.Decision.Agent.Info().Display),
			Fallback: true,
			Routing:  routingOf(outcome.Fallback),
			Response: outcome.Response,
		})
		return
	}

	if s.history != nil {
		s.history.Append(SessionID(r.Context()), history.NewEntry(
			req.Prompt,
			outcome.Response.Agent,
			outcome.Response.Timestamp,
			outcome.Decision.Reason,
		))
	}

	writeJSON(w, http.StatusOK, promptResponse{
		Success:  true,
		Routing:  routingOf(outcome.Decision),
		Response: outcome.Response,
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	s.decode(r, &req)

	var decision *router.Decision
	if req.Query != "" {
		decision = s.router.Classify(req.Query)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": search.Results(req.Query, decision)})
}

type searchAndRouteResponse struct {
	Results       []search.Result   `json:"results"`
	Routing       *routing          `json:"routing"`
	AgentResponse *responder.Record `json:"agent_response"`
}

func (s *Server) handleSearchAndRoute(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	s.decode(r, &req)

	if req.Query == "" {
		writeJSON(w, http.StatusOK, searchAndRouteResponse{Results: search.Concepts("")})
		return
	}

	decision := s.router.Classify(req.Query)
	record, err := s.responder.Respond(r.Context(), decision.Agent, req.Query)
	if err != nil {
		log.Printf("[http] search-and-route respond failed: %v", err)
		writeError(w, http.StatusBadGateway, "responder unavailable")
		return
	}

	writeJSON(w, http.StatusOK, searchAndRouteResponse{
		Results:       search.Routed(req.Query, decision, record),
		Routing:       routingOf(decision),
		AgentResponse: record,
	})
}

type subscriptionRequest struct {
	Agent  string `json:"agent"`
	Status bool   `json:"status"`
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	s.decode(r, &req)

	id := agent.ID(req.Agent)
	if err := s.subs.Set(id, req.Status); err != nil {
		if errors.Is(err, subscription.ErrUnknownAgent) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid agent"})
			return
		}
		log.Printf("[http] subscription update failed: %v", err)
		writeError(w, http.StatusInternalServerError, "subscription update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"agent":   id,
		"status":  req.Status,
	})
}

func (s *Server) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.subs.Snapshot())
}

type routerTestResponse struct {
	Prompt             string           `json:"prompt"`
	Routing            *router.Decision `json:"routing"`
	SubscriptionStatus bool             `json:"subscription_status"`
	AvailableAgents    []agent.ID       `json:"available_agents"`
}

func (s *Server) handleRouterTest(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	s.decode(r, &req)

	decision := s.router.Classify(req.Prompt)
	writeJSON(w, http.StatusOK, routerTestResponse{
		Prompt:             req.Prompt,
		Routing:            decision,
		SubscriptionStatus: s.subs.IsSubscribed(decision.Agent),
		AvailableAgents:    agent.All(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := []history.Entry{}
	if s.history != nil {
		entries = s.history.List(SessionID(r.Context()))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		s.history.Clear(SessionID(r.Context()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rules":  len(s.router.Routes()),
	})
}

// decode reads a JSON body into v. Missing or malformed bodies leave v at
// its zero value.
func (s *Server) decode(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || len(body) == 0 {
		return
	}
	if err := json.Unmarshal(body, v); err != nil && s.debug {
		log.Printf("[http] ignoring malformed body on %s: %v", r.URL.Path, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
