package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dvegas03/MechAI/internal/config"
	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/orchestrator"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/reasoning"
	"github.com/dvegas03/MechAI/pkg/sink"
)

type recordingSink struct {
	mu          sync.Mutex
	states      []string
	transcripts []string
	completed   int
}

func (r *recordingSink) StateChanged(old, new string) {
	r.mu.Lock()
	r.states = append(r.states, new)
	r.mu.Unlock()
}

func (r *recordingSink) StepChanged(*procedure.StepContext) {}

func (r *recordingSink) Transcript(role, text string) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, role+": "+text)
	r.mu.Unlock()
}

func (r *recordingSink) Partial(string)           {}
func (r *recordingSink) Detections(detection.Set) {}
func (r *recordingSink) Highlight(string)         {}

func (r *recordingSink) Completed() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
}

func (r *recordingSink) done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed > 0
}

func (r *recordingSink) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...), append([]string(nil), r.transcripts...)
}

var _ sink.Sink = (*recordingSink)(nil)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestBindForwardsConversation(t *testing.T) {
	script := &procedure.Script{Title: "Empty"}
	script.ApplyDefaults()

	cfg := orchestrator.DefaultConfig()
	cfg.SpeechCharDuration = time.Microsecond
	cfg.MinSpeechDuration = time.Millisecond
	cfg.Logger = quietLogger()
	o, err := orchestrator.New(cfg, orchestrator.Deps{Reasoner: reasoning.NewMock(), Script: script})
	if err != nil {
		t.Fatal(err)
	}

	rec := &recordingSink{}
	Bind(o, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.Start()
	deadline := time.Now().Add(2 * time.Second)
	for o.State() != orchestrator.WaitingForFirstInput || o.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want WaitingForFirstInput", o.State())
		}
		time.Sleep(time.Millisecond)
	}
	o.HandleUtterance("ready when you are")
	for !rec.done() {
		if time.Now().After(deadline) {
			t.Fatal("procedure never completed")
		}
		time.Sleep(time.Millisecond)
	}

	states, transcripts := rec.snapshot()
	if len(states) == 0 || states[0] != orchestrator.Greeting.String() {
		t.Errorf("states = %v", states)
	}
	if len(transcripts) < 2 || transcripts[0] != sink.RoleAssistant+": "+script.Greeting {
		t.Errorf("transcripts = %v", transcripts)
	}
	want := sink.RoleUser + ": ready when you are"
	found := false
	for _, tr := range transcripts {
		if tr == want {
			found = true
		}
	}
	if !found {
		t.Errorf("transcripts %v missing %q", transcripts, want)
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brake.yaml")
	yaml := "title: Brake pads\nsteps:\n  - step_title: Lift the car\n    step_body: Use the jack.\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		file      string
		wantTitle string
		wantSteps int
	}{
		{"from file", path, "Brake pads", 1},
		{"built-in", "", procedure.Default().Title, procedure.Default().Len()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ProcedureFile = tt.file
			a, err := New(cfg, quietLogger())
			if err != nil {
				t.Fatal(err)
			}
			s, err := a.loadScript(context.Background())
			if err != nil {
				t.Fatalf("loadScript() error = %v", err)
			}
			if s.Title != tt.wantTitle || s.Len() != tt.wantSteps {
				t.Errorf("script = %q with %d steps, want %q with %d", s.Title, s.Len(), tt.wantTitle, tt.wantSteps)
			}
		})
	}
}

func TestLoadScriptMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.ProcedureFile = filepath.Join(t.TempDir(), "missing.yaml")
	a, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.loadScript(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunBeforeInit(t *testing.T) {
	a, err := New(config.Default(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run before Init should fail")
	}
}
