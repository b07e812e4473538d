package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testStep = procedure.StepContext{
	ProcedureTitle: "Wheel change",
	StepTitle:      "Loosen lug nuts",
	StepBody:       "Turn each nut counter-clockwise half a turn.",
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply    string
		want     Verdict
		wantRest string
	}{
		{"OK: looks good", VerdictOK, "looks good"},
		{"  ok:fine", VerdictOK, "fine"},
		{"WAIT: one nut is still tight", VerdictWait, "one nut is still tight"},
		{"wait:", VerdictWait, ""},
		{"Sure, go ahead.", VerdictUnknown, "Sure, go ahead."},
		{"", VerdictUnknown, ""},
	}

	for _, tc := range tests {
		t.Run(tc.reply, func(t *testing.T) {
			got, rest := ParseVerdict(tc.reply)
			if got != tc.want || rest != tc.wantRest {
				t.Errorf("ParseVerdict(%q) = %v, %q; want %v, %q", tc.reply, got, rest, tc.want, tc.wantRest)
			}
		})
	}
}

func TestAssistantRequiresBackend(t *testing.T) {
	if _, err := NewAssistant(nil); !errors.Is(err, ErrNoBackend) {
		t.Errorf("NewAssistant(nil) error = %v, want ErrNoBackend", err)
	}
}

func TestAssistantPrompts(t *testing.T) {
	backend := NewMockBackend("OK: carry on")
	a, err := NewAssistant(backend, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Run("general without step", func(t *testing.T) {
		if _, err := a.AskGeneral(ctx, "what is torque?", nil); err != nil {
			t.Fatal(err)
		}
		p := backend.LastPrompt()
		if strings.Contains(p.System, "Current step") {
			t.Errorf("system prompt mentions a step: %q", p.System)
		}
		if p.User != "what is torque?" {
			t.Errorf("user = %q", p.User)
		}
	})

	t.Run("general with step", func(t *testing.T) {
		step := testStep
		if _, err := a.AskGeneral(ctx, "how tight?", &step); err != nil {
			t.Fatal(err)
		}
		if p := backend.LastPrompt(); !strings.Contains(p.System, "Loosen lug nuts") {
			t.Errorf("system prompt missing step title: %q", p.System)
		}
	})

	t.Run("confirm", func(t *testing.T) {
		reply, err := a.ConfirmStep(ctx, testStep, "done")
		if err != nil {
			t.Fatal(err)
		}
		if reply != "OK: carry on" {
			t.Errorf("reply = %q", reply)
		}
		p := backend.LastPrompt()
		if !strings.Contains(p.System, `"OK:"`) || !strings.Contains(p.System, "Wheel change") {
			t.Errorf("confirm prompt = %q", p.System)
		}
	})
}

func TestAssistantCheckImageRateLimit(t *testing.T) {
	backend := NewMockBackend("I see a wrench")
	a, _ := NewAssistant(backend, WithImageInterval(time.Hour), WithLogger(quietLogger()))
	ctx := context.Background()
	dets := []detection.Detection{{ClassName: "wrench", Confidence: 0.91}}

	first, err := a.CheckImage(ctx, []byte{0xff, 0xd8}, "what is this?", nil, dets)
	if err != nil {
		t.Fatal(err)
	}
	if first != "I see a wrench" {
		t.Errorf("first = %q", first)
	}
	if p := backend.LastPrompt(); len(p.Image) == 0 || !strings.Contains(p.System, "wrench (91%)") {
		t.Errorf("image prompt = %+v", p)
	}

	second, err := a.CheckImage(ctx, []byte{0xff, 0xd8}, "and now?", nil, dets)
	if err != nil {
		t.Fatal(err)
	}
	if second != ImageCheckDisabled {
		t.Errorf("second = %q, want disabled message", second)
	}
	if n := backend.CallCount("Complete"); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestAssistantCheckImageNoLimit(t *testing.T) {
	backend := NewMockBackend("fine")
	a, _ := NewAssistant(backend, WithImageInterval(0), WithLogger(quietLogger()))
	for i := 0; i < 3; i++ {
		if got, _ := a.CheckImage(context.Background(), []byte{1}, "q", nil, nil); got != "fine" {
			t.Fatalf("call %d = %q", i, got)
		}
	}
}

func TestAssistantCheckImageEmpty(t *testing.T) {
	backend := NewMockBackend("x")
	a, _ := NewAssistant(backend, WithLogger(quietLogger()))
	if _, err := a.CheckImage(context.Background(), nil, "q", nil, nil); !errors.Is(err, ErrNoImage) {
		t.Errorf("error = %v, want ErrNoImage", err)
	}
	if backend.CallCount("") != 0 {
		t.Error("backend should not be called")
	}
}

func TestAssistantEmptyReply(t *testing.T) {
	a, _ := NewAssistant(NewMockBackend("   "), WithLogger(quietLogger()))
	if _, err := a.AskGeneral(context.Background(), "hi", nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestDescribeDetections(t *testing.T) {
	if got := DescribeDetections(nil); got != "none" {
		t.Errorf("DescribeDetections(nil) = %q", got)
	}
	dets := []detection.Detection{
		{ClassName: "wrench", Confidence: 0.5, HasWorld: true, World: detection.Point3{Z: 0.8}},
		{ClassName: "tire", Confidence: 0.78},
	}
	if got, want := DescribeDetections(dets), "wrench (50%, close), tire (78%)"; got != want {
		t.Errorf("DescribeDetections = %q, want %q", got, want)
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"WAIT: not yet"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	o, err := NewOpenAI(WithBaseURL(server.URL+"/"), WithAPIKey("test-key"), WithModel("text-model"), WithVisionModel("vision-model"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("text", func(t *testing.T) {
		got, err := o.Complete(context.Background(), Prompt{System: "sys", User: "hello"})
		if err != nil {
			t.Fatal(err)
		}
		if got != "WAIT: not yet" {
			t.Errorf("Complete = %q", got)
		}
		if gotBody["model"] != "text-model" {
			t.Errorf("model = %v", gotBody["model"])
		}
		msgs := gotBody["messages"].([]interface{})
		if len(msgs) != 2 {
			t.Fatalf("messages = %d, want 2", len(msgs))
		}
	})

	t.Run("image", func(t *testing.T) {
		if _, err := o.Complete(context.Background(), Prompt{User: "look", Image: []byte{0xff, 0xd8}}); err != nil {
			t.Fatal(err)
		}
		if gotBody["model"] != "vision-model" {
			t.Errorf("model = %v", gotBody["model"])
		}
		msgs := gotBody["messages"].([]interface{})
		if len(msgs) != 1 {
			t.Fatalf("messages = %d, want 1", len(msgs))
		}
		content := msgs[0].(map[string]interface{})["content"].([]interface{})
		img := content[1].(map[string]interface{})["image_url"].(map[string]interface{})
		if url := img["url"].(string); !strings.HasPrefix(url, "data:image/jpeg;base64,") {
			t.Errorf("image url = %q", url)
		}
	})
}

func TestOpenAIAPIError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	o, _ := NewOpenAI(WithBaseURL(server.URL), WithRetry(2, time.Millisecond), WithLogger(quietLogger()))
	_, err := o.Complete(context.Background(), Prompt{User: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if apiErr.Code != "invalid_api_key" || apiErr.Message != "bad key" {
		t.Errorf("parsed = %q / %q", apiErr.Code, apiErr.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (401 is not retried)", calls.Load())
	}
}

func TestChain(t *testing.T) {
	failing := &MockBackend{
		NameValue:    "broken",
		CompleteFunc: func(ctx context.Context, p Prompt) (string, error) { return "", errors.New("down") },
	}
	working := NewMockBackend("from fallback")

	t.Run("fallback", func(t *testing.T) {
		c, err := NewChain(quietLogger(), failing, working)
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Complete(context.Background(), Prompt{User: "x"})
		if err != nil || got != "from fallback" {
			t.Errorf("Complete = %q, %v", got, err)
		}
		if c.Name() != "chain(broken,mock)" {
			t.Errorf("Name = %q", c.Name())
		}
	})

	t.Run("all fail", func(t *testing.T) {
		c, _ := NewChain(quietLogger(), failing, failing)
		if _, err := c.Complete(context.Background(), Prompt{}); !errors.Is(err, ErrAllBackendsFailed) {
			t.Errorf("error = %v, want ErrAllBackendsFailed", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := NewChain(nil); !errors.Is(err, ErrNoBackend) {
			t.Errorf("error = %v, want ErrNoBackend", err)
		}
	})
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{502, true},
	}
	for _, tc := range tests {
		e := &APIError{StatusCode: tc.status}
		if got := e.IsRetryable(); got != tc.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
