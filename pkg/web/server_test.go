package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/sink"
)

type mockController struct {
	mu         sync.Mutex
	starts     int
	advances   int
	utterances []string
}

func (m *mockController) Start() {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
}

func (m *mockController) AdvanceStep() {
	m.mu.Lock()
	m.advances++
	m.mu.Unlock()
}

func (m *mockController) HandleUtterance(text string) {
	m.mu.Lock()
	m.utterances = append(m.utterances, text)
	m.mu.Unlock()
}

func newTestServer(ctrl Controller) *Server {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.DiscardHandler)
	cfg.MaxLogs = 3
	return NewServer(cfg, ctrl)
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func TestControlEndpoints(t *testing.T) {
	ctrl := &mockController{}
	s := newTestServer(ctrl)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"start", "/api/start", "", http.StatusAccepted},
		{"advance", "/api/advance", "", http.StatusAccepted},
		{"utterance", "/api/utterance", `{"text":"I'm done"}`, http.StatusAccepted},
		{"empty utterance", "/api/utterance", `{"text":""}`, http.StatusBadRequest},
		{"bad body", "/api/utterance", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := do(t, s, http.MethodPost, tt.path, tt.body); status != tt.status {
				t.Errorf("status = %d, want %d (%s)", status, tt.status, body)
			}
		})
	}

	if ctrl.starts != 1 || ctrl.advances != 1 {
		t.Errorf("starts = %d, advances = %d", ctrl.starts, ctrl.advances)
	}
	if len(ctrl.utterances) != 1 || ctrl.utterances[0] != "I'm done" {
		t.Errorf("utterances = %q", ctrl.utterances)
	}
}

func TestControlWithoutController(t *testing.T) {
	s := newTestServer(nil)
	if status, _ := do(t, s, http.MethodPost, "/api/start", ""); status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
}

func TestStatusReflectsSinkEvents(t *testing.T) {
	s := newTestServer(nil)
	var _ sink.Sink = s

	s.StateChanged("RunningSteps", "StepAwaitingUserInput")
	s.StepChanged(&procedure.StepContext{ProcedureTitle: "Oil change", StepTitle: "Drain"})
	s.Highlight("wrench")
	s.Transcript(sink.RoleUser, "is this right")
	s.Transcript(sink.RoleAssistant, "OK: looks good")

	status, body := do(t, s, http.MethodGet, "/api/status", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var st DashboardState
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.State != "StepAwaitingUserInput" || st.Step == nil || st.Step.StepTitle != "Drain" {
		t.Errorf("state = %+v", st)
	}
	if st.Highlight != "wrench" || st.LastUser != "is this right" || st.LastAssistant != "OK: looks good" {
		t.Errorf("state = %+v", st)
	}

	_, body = do(t, s, http.MethodGet, "/api/conversation", "")
	var conv []ConversationEntry
	if err := json.Unmarshal(body, &conv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(conv) != 2 || conv[0].Role != sink.RoleUser {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestLogsAreBounded(t *testing.T) {
	s := newTestServer(nil)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		s.AddLog("info", m)
	}
	_, body := do(t, s, http.MethodGet, "/api/logs", "")
	var logs []LogEntry
	if err := json.Unmarshal(body, &logs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(logs) != 3 || logs[0].Message != "c" || logs[2].Message != "e" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestDetectionsEndpoint(t *testing.T) {
	s := newTestServer(nil)
	s.Detections(detection.Set{Detections: []detection.Detection{{ClassName: "jack", Confidence: 0.7}}})

	_, body := do(t, s, http.MethodGet, "/api/detections", "")
	var set detection.Set
	if err := json.Unmarshal(body, &set); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if set.Len() != 1 || set.Detections[0].ClassName != "jack" {
		t.Errorf("detections = %+v", set)
	}
	if s.State().DetectionCount != 1 {
		t.Errorf("DetectionCount = %d, want 1", s.State().DetectionCount)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(nil)
	if status, _ := do(t, s, http.MethodGet, "/ws/status", ""); status != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", status)
	}
}
