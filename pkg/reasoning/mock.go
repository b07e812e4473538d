package reasoning

import (
	"context"
	"sync"
	"time"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

type callLog struct {
	mu    sync.Mutex
	calls []MockCall
}

func (l *callLog) record(method, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded calls.
func (l *callLog) Calls() []MockCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MockCall, len(l.calls))
	copy(out, l.calls)
	return out
}

// CallCount returns the number of calls to method, or all calls if method is "".
func (l *callLog) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if method == "" {
		return len(l.calls)
	}
	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (l *callLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// Mock implements Client for testing.
type Mock struct {
	AskGeneralFunc  func(ctx context.Context, userText string, step *procedure.StepContext) (string, error)
	ConfirmStepFunc func(ctx context.Context, step procedure.StepContext, userText string) (string, error)
	CheckImageFunc  func(ctx context.Context, image []byte, userText string, step *procedure.StepContext, dets []detection.Detection) (string, error)

	callLog
}

var _ Client = (*Mock)(nil)

// NewMock creates a mock client with canned replies.
func NewMock() *Mock {
	return &Mock{
		AskGeneralFunc: func(ctx context.Context, userText string, step *procedure.StepContext) (string, error) {
			return "Mock answer", nil
		},
		ConfirmStepFunc: func(ctx context.Context, step procedure.StepContext, userText string) (string, error) {
			return "OK: Mock confirmation", nil
		},
		CheckImageFunc: func(ctx context.Context, image []byte, userText string, step *procedure.StepContext, dets []detection.Detection) (string, error) {
			return "Mock image answer", nil
		},
	}
}

// AskGeneral calls AskGeneralFunc and records the call.
func (m *Mock) AskGeneral(ctx context.Context, userText string, step *procedure.StepContext) (string, error) {
	m.record("AskGeneral", userText)
	if m.AskGeneralFunc != nil {
		return m.AskGeneralFunc(ctx, userText, step)
	}
	return "", ErrNoBackend
}

// ConfirmStep calls ConfirmStepFunc and records the call.
func (m *Mock) ConfirmStep(ctx context.Context, step procedure.StepContext, userText string) (string, error) {
	m.record("ConfirmStep", userText)
	if m.ConfirmStepFunc != nil {
		return m.ConfirmStepFunc(ctx, step, userText)
	}
	return "", ErrNoBackend
}

// CheckImage calls CheckImageFunc and records the call.
func (m *Mock) CheckImage(ctx context.Context, image []byte, userText string, step *procedure.StepContext, dets []detection.Detection) (string, error) {
	m.record("CheckImage", userText)
	if m.CheckImageFunc != nil {
		return m.CheckImageFunc(ctx, image, userText, step, dets)
	}
	return "", ErrNoBackend
}

// MockBackend implements Backend for testing.
type MockBackend struct {
	NameValue    string
	CompleteFunc func(ctx context.Context, p Prompt) (string, error)

	callLog

	promptsMu sync.Mutex
	prompts   []Prompt
}

var _ Backend = (*MockBackend)(nil)

// NewMockBackend creates a backend that always answers reply.
func NewMockBackend(reply string) *MockBackend {
	return &MockBackend{
		NameValue: "mock",
		CompleteFunc: func(ctx context.Context, p Prompt) (string, error) {
			return reply, nil
		},
	}
}

// Name returns NameValue.
func (m *MockBackend) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// Complete calls CompleteFunc and records the prompt.
func (m *MockBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	m.record("Complete", p.User)
	m.promptsMu.Lock()
	m.prompts = append(m.prompts, p)
	m.promptsMu.Unlock()
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, p)
	}
	return "", ErrEmptyResponse
}

// LastPrompt returns the most recent prompt.
func (m *MockBackend) LastPrompt() Prompt {
	m.promptsMu.Lock()
	defer m.promptsMu.Unlock()
	if len(m.prompts) == 0 {
		return Prompt{}
	}
	return m.prompts[len(m.prompts)-1]
}
