package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentboard/clock"
	"github.com/xiaot623/agentboard/config"
	"github.com/xiaot623/agentboard/domain"
	"github.com/xiaot623/agentboard/hub"
	"github.com/xiaot623/agentboard/parser"
	"github.com/xiaot623/agentboard/store"
	"github.com/xiaot623/agentboard/tracker"
	"github.com/xiaot623/agentboard/ws"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(t0)
	cfg := &config.Config{
		ModelName:        "claude",
		CostPerMTok:      15.0,
		ResetDelay:       60 * time.Second,
		OrchLiveness:     30 * time.Second,
		MaxAgentsInState: 100,
	}
	s := store.New(50, clk.Now)
	h := hub.NewHub()
	trk := tracker.New(s, parser.V1{}, cfg, tracker.Hooks{})
	return NewHandler(s, trk, h, ws.NewServer(h), cfg), clk
}

func postJSON(t *testing.T, h func(echo.Context) error, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestPostEventCreatesRecord(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"session_id":"s1","phase":"pre","tool_name":"Task","tool_input":{"description":"build"}}`
	rec := postJSON(t, h.PostEvent, "/event", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := h.store.Summary().Running; got != 1 {
		t.Fatalf("expected 1 running record, got %d", got)
	}
}

func TestPostEventMalformedBodyStillAccepted(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.PostEvent, "/event", `{not json`)

	if rec.Code != http.StatusOK {
		t.Fatalf("malformed payload must be acknowledged, got %d", rec.Code)
	}
	if got := h.store.Summary().Total; got != 0 {
		t.Fatalf("malformed payload must be dropped, got %d records", got)
	}
}

func TestHeartbeatRefreshesActivity(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(t, h.PostHeartbeat, "/heartbeat", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h.store.LastActivity() != t0 {
		t.Fatalf("heartbeat did not refresh activity")
	}
}

func TestResetClearsStore(t *testing.T) {
	h, _ := newTestHandler(t)

	postJSON(t, h.PostEvent, "/event",
		`{"session_id":"s1","phase":"pre","tool_name":"Task","tool_input":{"description":"build"}}`)
	postJSON(t, h.PostReset, "/reset", "")

	if got := h.store.Summary().Total; got != 0 {
		t.Fatalf("expected empty store after reset, got %d", got)
	}
}

func TestGetStateView(t *testing.T) {
	h, clk := newTestHandler(t)

	postJSON(t, h.PostEvent, "/event",
		`{"session_id":"s1","phase":"pre","tool_name":"Task","tool_input":{"description":"build"}}`)
	clk.Advance(time.Second)
	postJSON(t, h.PostEvent, "/event",
		`{"session_id":"s1","phase":"post","tool_name":"Task","tool_input":{"description":"build"},"tool_output":"ok <usage>total_tokens: 1000000</usage>"}`)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.GetState(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var view domain.StateView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if view.Summary.Completed != 1 || view.Summary.Total != 1 {
		t.Fatalf("unexpected summary: %+v", view.Summary)
	}
	if len(view.Agents) != 1 || view.Agents[0].Description != "build" {
		t.Fatalf("unexpected agents: %+v", view.Agents)
	}
	if len(view.Sessions) != 1 || view.Sessions[0].Completed != 1 {
		t.Fatalf("unexpected sessions: %+v", view.Sessions)
	}
	if view.CostUSD != 15.0 {
		t.Fatalf("expected 15.0 cost for 1M tokens, got %v", view.CostUSD)
	}
	if view.Model != "claude" {
		t.Fatalf("unexpected model: %q", view.Model)
	}
}

func TestOrchestratorStatusMapping(t *testing.T) {
	h, clk := newTestHandler(t)

	// No records, no activity ever: idle.
	if got := h.BuildState().OrchestratorStatus; got != domain.OrchIdle {
		t.Fatalf("expected idle, got %s", got)
	}

	// Running record: running.
	postJSON(t, h.PostEvent, "/event",
		`{"session_id":"s1","phase":"pre","tool_name":"Task","tool_input":{"description":"build"}}`)
	if got := h.BuildState().OrchestratorStatus; got != domain.OrchRunning {
		t.Fatalf("expected running, got %s", got)
	}

	// All resolved but activity still fresh: running.
	postJSON(t, h.PostEvent, "/event",
		`{"session_id":"s1","phase":"post","tool_name":"Task","tool_input":{"description":"build"},"tool_output":"ok"}`)
	if got := h.BuildState().OrchestratorStatus; got != domain.OrchRunning {
		t.Fatalf("expected running within liveness window, got %s", got)
	}

	// Liveness window expired, all resolved: done.
	clk.Advance(31 * time.Second)
	if got := h.BuildState().OrchestratorStatus; got != domain.OrchDone {
		t.Fatalf("expected done, got %s", got)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
