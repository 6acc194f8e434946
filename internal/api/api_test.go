package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/bart-task-go/internal/export"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/trials"
)

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	s := NewServer(opts)
	return s, s.Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func act(t *testing.T, h http.Handler, name string) ActionResponse {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/session/"+name, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: status %d body %s", name, w.Code, w.Body.String())
	}
	return decode[ActionResponse](t, w)
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, Options{})

	w := do(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
	resp := decode[HealthCheckResponse](t, w)
	if resp.Status != HealthStatusHealthy {
		t.Errorf("status = %s", resp.Status)
	}
	if resp.Checks["sequence"].Message != "63 trials" {
		t.Errorf("sequence check = %+v", resp.Checks["sequence"])
	}

	if w := do(t, h, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("liveness status %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/version", nil)
	if v := decode[VersionInfo](t, w); v.EngineVersion != EngineVersion {
		t.Errorf("version = %+v", v)
	}
}

func TestSessionRequiredBeforeStart(t *testing.T) {
	_, h := newTestServer(t, Options{})

	for _, path := range []string{"/api/v1/session", "/api/v1/session/records", "/api/v1/session/scores", "/api/v1/session/export.csv"} {
		w := do(t, h, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d", path, w.Code)
			continue
		}
		if got := decode[EngineError](t, w).Type; got != ErrTypeNoSession {
			t.Errorf("%s: error type %s", path, got)
		}
	}

	w := do(t, h, http.MethodPost, "/api/v1/session/pump", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("pump without session: status %d", w.Code)
	}
}

func TestTrialFlow(t *testing.T) {
	clock := session.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	_, h := newTestServer(t, Options{Clock: clock})

	w := do(t, h, http.MethodPost, "/api/v1/session", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status %d body %s", w.Code, w.Body.String())
	}
	started := decode[SessionResponse](t, w)
	if started.SessionID == "" || started.Seed != 12345 || started.Order != trials.OrderShuffled {
		t.Errorf("session = %+v", started)
	}
	if started.Snapshot.State != session.StateAppearing {
		t.Fatalf("state = %s, want appearing", started.Snapshot.State)
	}

	if resp := act(t, h, "pump"); resp.Applied {
		t.Error("pump accepted while appearing")
	}
	if resp := act(t, h, "ready"); !resp.Applied || resp.Snapshot.State != session.StateActive {
		t.Fatalf("ready = %+v", resp)
	}

	clock.Add(250 * time.Millisecond)
	resp := act(t, h, "pump")
	if !resp.Applied || resp.Snapshot.TimesPumped != 1 || resp.Snapshot.CurrentMoney != 1 {
		t.Fatalf("pump = %+v", resp)
	}

	resp = act(t, h, "collect")
	if !resp.Applied || resp.Snapshot.State != session.StateCollected || resp.Snapshot.TotalMoney != 1 {
		t.Fatalf("collect = %+v", resp)
	}

	resp = act(t, h, "advance")
	if !resp.Applied || resp.Snapshot.TrialIndex != 1 || resp.Snapshot.State != session.StateAppearing {
		t.Fatalf("advance = %+v", resp)
	}

	w = do(t, h, http.MethodGet, "/api/v1/session/records", nil)
	recs := decode[RecordsResponse](t, w)
	if recs.Total != 1 || len(recs.Records) != 1 || recs.Next != 1 {
		t.Fatalf("records = %+v", recs)
	}
	if r := recs.Records[0]; r.TimesPumped != 1 || r.AveragePumpRT != 250 || r.BlockName != "tutorial" {
		t.Errorf("record = %+v", r)
	}

	w = do(t, h, http.MethodGet, "/api/v1/session/records?since=1", nil)
	if recs := decode[RecordsResponse](t, w); len(recs.Records) != 0 || recs.Next != 1 {
		t.Errorf("records since=1 = %+v", recs)
	}

	w = do(t, h, http.MethodGet, "/api/v1/session/events", nil)
	events := decode[EventsResponse](t, w)
	if events.SessionID != started.SessionID || len(events.Events) == 0 {
		t.Fatalf("events = %+v", events)
	}
	for i := 1; i < len(events.Events); i++ {
		if events.Events[i].Seq <= events.Events[i-1].Seq {
			t.Fatalf("events out of order at %d", i)
		}
	}
	if events.LastSeq != events.Events[len(events.Events)-1].Seq {
		t.Errorf("lastSeq = %d", events.LastSeq)
	}
}

func TestFullSessionAndExport(t *testing.T) {
	_, h := newTestServer(t, Options{})

	if w := do(t, h, http.MethodPost, "/api/v1/session", StartRequest{Order: "blocked", Seed: 7}); w.Code != http.StatusCreated {
		t.Fatalf("start status %d", w.Code)
	}

	w := do(t, h, http.MethodGet, "/api/v1/session/export.csv", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("export before any record: status %d", w.Code)
	}
	if got := decode[EngineError](t, w).Type; got != ErrTypeNoRecords {
		t.Errorf("error type = %s", got)
	}

	for i := 0; i < trials.TotalTrials; i++ {
		act(t, h, "ready")
		act(t, h, "pump")
		act(t, h, "collect")
		if resp := act(t, h, "advance"); !resp.Applied {
			t.Fatalf("advance %d not applied: %+v", i, resp.Snapshot)
		}
	}

	w = do(t, h, http.MethodGet, "/api/v1/session", nil)
	if snap := decode[SessionResponse](t, w).Snapshot; snap.State != session.StateFinished || snap.RecordsLogged != trials.TotalTrials {
		t.Fatalf("snapshot = %+v", snap)
	}

	w = do(t, h, http.MethodGet, "/api/v1/session/scores", nil)
	scores := decode[ScoresResponse](t, w)
	if !scores.Final || len(scores.Summary) != 15 {
		t.Errorf("scores = %+v", scores)
	}

	w = do(t, h, http.MethodGet, "/api/v1/session/export.csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "bart_results_") {
		t.Errorf("content disposition = %q", cd)
	}

	parsed, err := export.ParseCSV(w.Body)
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(parsed.Records) != trials.TotalTrials || len(parsed.Summary) != 15 {
		t.Errorf("parsed %d records, %d summary rows", len(parsed.Records), len(parsed.Summary))
	}
}

func TestPacedSessionAdvancesItself(t *testing.T) {
	_, h := newTestServer(t, Options{Paced: true})

	w := do(t, h, http.MethodPost, "/api/v1/session", nil)
	if snap := decode[SessionResponse](t, w).Snapshot; snap.State != session.StateActive {
		t.Fatalf("state after start = %s, want active", snap.State)
	}

	act(t, h, "pump")
	resp := act(t, h, "collect")
	if resp.Snapshot.TrialIndex != 1 || resp.Snapshot.State != session.StateActive {
		t.Errorf("after collect = %+v", resp.Snapshot)
	}
}

func TestStartValidation(t *testing.T) {
	_, h := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"bad order", `{"order":"zigzag"}`},
		{"unknown field", `{"speed":3}`},
		{"malformed", `{"order":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status %d", w.Code)
			}
			if got := decode[EngineError](t, w).Type; got != ErrTypeValidation {
				t.Errorf("error type %s", got)
			}
		})
	}

	do(t, h, http.MethodPost, "/api/v1/session", nil)
	for _, q := range []string{"limit=0", "limit=abc", "since=-1", "since=64"} {
		if w := do(t, h, http.MethodGet, "/api/v1/session/records?"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("records?%s: status %d", q, w.Code)
		}
	}
}

func TestTokenRequired(t *testing.T) {
	_, h := newTestServer(t, Options{Token: "abc"})

	if w := do(t, h, http.MethodPost, "/api/v1/session", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.Header.Set(TokenHeader, "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("with token: status %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/session?token=abc", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("query token: status %d", w.Code)
	}

	// health stays open
	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: status %d", w.Code)
	}
}

func TestBalloonsAndNotFound(t *testing.T) {
	_, h := newTestServer(t, Options{})

	w := do(t, h, http.MethodGet, "/api/v1/balloons", nil)
	resp := decode[BalloonsResponse](t, w)
	if len(resp.Balloons) != 4 || resp.Balloons[3].Type != trials.High || resp.Balloons[3].MaxPumps != 8 {
		t.Errorf("balloons = %+v", resp.Balloons)
	}

	w = do(t, h, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode[EngineError](t, w).Type; got != ErrTypeNotFound {
		t.Errorf("error type %s", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, Options{})
	do(t, h, http.MethodPost, "/api/v1/session", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	body := w.Body.String()
	for _, want := range []string{
		"bart_sessions_started_total 1",
		`bart_http_requests_total{method="POST",route="/api/v1/session",status="201"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestEventStream(t *testing.T) {
	s, h := newTestServer(t, Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/session/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// wait for the subscription before starting the session
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(srv.URL+"/api/v1/session", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()
	resp, err = http.Post(srv.URL+"/api/v1/session/ready", "application/json", nil)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	resp.Body.Close()

	want := []string{FrameSession, string(session.EventTrialStarted), string(session.EventTrialActivated)}
	for i, w := range want {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f StreamFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		got := f.Type
		if f.Event != nil {
			got = string(f.Event.Type)
		}
		if got != w {
			t.Errorf("frame %d = %s, want %s", i, got, w)
		}
		if f.SessionID == "" {
			t.Errorf("frame %d has no session id", i)
		}
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:*", "https://task.example.org"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost:", false},
		{"http://localhost:80x", false},
		{"https://task.example.org", true},
		{"https://evil.example.org", false},
	}
	for _, tt := range tests {
		if got := originAllowed(allowed, tt.origin); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !originAllowed([]string{"*"}, "http://anything") {
		t.Error("wildcard did not match")
	}
}
