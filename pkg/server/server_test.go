package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zen-systems/enginegate/pkg/adapter"
	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
	"github.com/zen-systems/enginegate/pkg/history"
	"github.com/zen-systems/enginegate/pkg/responder"
	"github.com/zen-systems/enginegate/pkg/router"
	"github.com/zen-systems/enginegate/pkg/subscription"
)

type fixture struct {
	srv     *Server
	handler http.Handler
	subs    *subscription.MemoryStore
	history *history.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	mock := adapter.NewMockAdapter(adapter.WithPicker(func(int) int { return 0 }))
	resp := responder.New(
		map[string]adapter.Adapter{"mock": mock},
		responder.WithClock(func() time.Time { return time.Date(2024, 1, 2, 10, 11, 12, 0, time.UTC) }),
	)
	subs := subscription.NewMemoryStore()
	r, err := router.NewRouter(config.DefaultRuleTable(), router.WithSubscriptions(subs), router.WithResponder(resp))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	hist, err := history.NewStore(10, 16)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}

	srv := New(r, resp, subs, hist, opts...)
	return &fixture{srv: srv, handler: srv.Handler(), subs: subs, history: hist}
}

func (f *fixture) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatalf("no session cookie set")
	return nil
}

type promptResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Fallback bool   `json:"fallback"`
	Routing  struct {
		Agent         string `json:"agent"`
		OriginalAgent string `json:"original_agent"`
		Reason        string `json:"reason"`
	} `json:"routing"`
	Response responder.Record `json:"response"`
}

func TestPromptRoutesAndRecordsHistory(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/prompt", `{"prompt":"please fix bug in my script"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got promptResult
	decodeBody(t, rec, &got)

	if !got.Success || got.Routing.Agent != "codex" || got.Routing.Reason != "Programming/code request detected" {
		t.Fatalf("unexpected routing %+v", got)
	}
	if got.Response.Agent != "Codex" || got.Response.AgentColor != "#ff6e4a" || got.Response.Timestamp != "10:11:12" {
		t.Fatalf("unexpected response %+v", got.Response)
	}

	cookie := sessionCookie(t, rec)
	hist := f.do(t, http.MethodGet, "/history", "", cookie)
	var entries []history.Entry
	decodeBody(t, hist, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Agent != "Codex" || entries[0].RoutingReason != "Programming/code request detected" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}

	cleared := f.do(t, http.MethodPost, "/history/clear", "", cookie)
	if cleared.Code != http.StatusOK {
		t.Fatalf("expected 200 from clear, got %d", cleared.Code)
	}
	hist = f.do(t, http.MethodGet, "/history", "", cookie)
	decodeBody(t, hist, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(entries))
	}
}

func TestPromptFallsBackWhenUnsubscribed(t *testing.T) {
	f := newFixture(t)
	if err := f.subs.Set(agent.Gemini, false); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/prompt", `{"prompt":"What is the capital of France"}`)
	var got promptResult
	decodeBody(t, rec, &got)

	if got.Success || !got.Fallback {
		t.Fatalf("expected fallback response, got %+v", got)
	}
	if got.Error != "Gemini is not subscribed" {
		t.Fatalf("unexpected error %q", got.Error)
	}
	if got.Routing.Agent != "chatgpt" || got.Routing.OriginalAgent != "gemini" || got.Routing.Reason != router.SubscriptionFallbackReason {
		t.Fatalf("unexpected routing %+v", got.Routing)
	}
	if got.Response.Agent != "ChatGPT" {
		t.Fatalf("expected ChatGPT reply, got %+v", got.Response)
	}

	hist := f.do(t, http.MethodGet, "/history", "", sessionCookie(t, rec))
	var entries []history.Entry
	decodeBody(t, hist, &entries)
	if len(entries) != 0 {
		t.Fatalf("fallback replies must not be recorded, got %d entries", len(entries))
	}
}

func TestPromptMalformedBodyIsEmptyPrompt(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{"", "not json", `{"prompt": 42}`} {
		rec := f.do(t, http.MethodPost, "/prompt", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, rec.Code)
		}
		var got promptResult
		decodeBody(t, rec, &got)
		if got.Routing.Agent != "chatgpt" || got.Routing.Reason != router.NoIntentReason {
			t.Fatalf("body %q: unexpected routing %+v", body, got.Routing)
		}
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/search", `{"query":"history of rome"}`)
	var got struct {
		Results []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Source  string `json:"source"`
		} `json:"results"`
	}
	decodeBody(t, rec, &got)
	if len(got.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(got.Results))
	}
	if !strings.HasPrefix(got.Results[3].Snippet, "This query was classified as: GEMINI.") {
		t.Fatalf("unexpected routing snippet %q", got.Results[3].Snippet)
	}

	rec = f.do(t, http.MethodPost, "/search", `{}`)
	decodeBody(t, rec, &got)
	if len(got.Results) != 0 {
		t.Fatalf("expected no results for empty query, got %d", len(got.Results))
	}
}

func TestSearchAndRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/search-and-route", `{"query":"debug my code"}`)
	var got struct {
		Results []struct {
			Title          string `json:"title"`
			IsRouterResult bool   `json:"is_router_result"`
			Agent          string `json:"agent"`
		} `json:"results"`
		Routing       map[string]any    `json:"routing"`
		AgentResponse *responder.Record `json:"agent_response"`
	}
	decodeBody(t, rec, &got)

	if len(got.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(got.Results))
	}
	if !got.Results[0].IsRouterResult || got.Results[0].Agent != "codex" {
		t.Fatalf("expected leading router result, got %+v", got.Results[0])
	}
	if got.Routing["agent"] != "codex" || got.AgentResponse == nil || got.AgentResponse.Agent != "Codex" {
		t.Fatalf("unexpected routing %+v / %+v", got.Routing, got.AgentResponse)
	}

	rec = f.do(t, http.MethodPost, "/search-and-route", `{"query":""}`)
	var raw map[string]any
	decodeBody(t, rec, &raw)
	if raw["routing"] != nil || raw["agent_response"] != nil {
		t.Fatalf("expected null routing for empty query, got %+v", raw)
	}
}

func TestSubscriptionToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/subscription", `{"agent":"deepseek","status":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]any
	decodeBody(t, rec, &got)
	if got["success"] != true || got["agent"] != "deepseek" || got["status"] != false {
		t.Fatalf("unexpected response %+v", got)
	}

	status := f.do(t, http.MethodGet, "/subscription/status", "")
	var snap map[string]bool
	decodeBody(t, status, &snap)
	if len(snap) != 6 || snap["deepseek"] || !snap["codex"] {
		t.Fatalf("unexpected status %+v", snap)
	}

	rec = f.do(t, http.MethodPost, "/subscription", `{"agent":"claude","status":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	decodeBody(t, rec, &got)
	if got["success"] != false || got["error"] != "Invalid agent" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestRouterTest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/router-test", `{"prompt":"search"}`)
	var got struct {
		Prompt  string `json:"prompt"`
		Routing struct {
			Agent      string             `json:"agent"`
			Candidates []router.Candidate `json:"candidates"`
		} `json:"routing"`
		SubscriptionStatus bool     `json:"subscription_status"`
		AvailableAgents    []string `json:"available_agents"`
	}
	decodeBody(t, rec, &got)

	if got.Prompt != "search" || got.Routing.Agent != "perplexity" || !got.SubscriptionStatus {
		t.Fatalf("unexpected response %+v", got)
	}
	if len(got.Routing.Candidates) != 6 || got.Routing.Candidates[2].Score != 3 {
		t.Fatalf("unexpected candidates %+v", got.Routing.Candidates)
	}
	if len(got.AvailableAgents) != 6 || got.AvailableAgents[0] != "codex" {
		t.Fatalf("unexpected agents %v", got.AvailableAgents)
	}
}

func TestSessionCookieReused(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodGet, "/healthz", "")
	cookie := sessionCookie(t, first)

	second := f.do(t, http.MethodGet, "/healthz", "", cookie)
	for _, c := range second.Result().Cookies() {
		if c.Name == SessionCookie {
			t.Fatalf("a valid session cookie must not be replaced")
		}
	}

	bogus := f.do(t, http.MethodGet, "/healthz", "", &http.Cookie{Name: SessionCookie, Value: "not-a-uuid"})
	if c := sessionCookie(t, bogus); c.Value == "not-a-uuid" {
		t.Fatalf("invalid session ids must be replaced")
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/prompt", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/prompt"
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{"prompt":"solve 12 + 7 * 3"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestPromptWithRetriesDisabled(t *testing.T) {
	resp := responder.New(
		map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()},
		responder.WithRetry(config.RetryConfig{MaxRetries: -1, BaseBackoffMs: 1, MaxBackoffMs: 1}),
	)
	subs := subscription.NewMemoryStore()
	r, err := router.NewRouter(config.DefaultRuleTable(), router.WithSubscriptions(subs), router.WithResponder(resp))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	hist, err := history.NewStore(10, 16)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	f := &fixture{handler: New(r, resp, subs, hist).Handler()}

	rec := f.do(t, http.MethodPost, "/prompt", `{"prompt":"fix bug"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got promptResult
	decodeBody(t, rec, &got)
	if !got.Success || got.Routing.Agent != "codex" || got.Response.Agent != "Codex" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestRecoveryAfterHeadersWritten(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("partial"))
		panic("late boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status must not change once written, got %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Fatalf("no error body may follow a started response, got %q", rec.Body.String())
	}
}
