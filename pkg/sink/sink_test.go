package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) StateChanged(old, new string)            { r.add("state:" + old + ">" + new) }
func (r *recorder) StepChanged(step *procedure.StepContext) { r.add("step") }
func (r *recorder) Transcript(role, text string)            { r.add("transcript:" + role) }
func (r *recorder) Partial(text string)                     { r.add("partial") }
func (r *recorder) Detections(set detection.Set)            { r.add("detections") }
func (r *recorder) Highlight(class string)                  { r.add("highlight:" + class) }
func (r *recorder) Completed()                              { r.add("completed") }

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := Fanout{a, b}

	f.StateChanged("Greeting", "WaitingForFirstInput")
	f.Transcript(RoleUser, "hello")
	f.Highlight("wrench")
	f.Completed()

	want := []string{"state:Greeting>WaitingForFirstInput", "transcript:user", "highlight:wrench", "completed"}
	for _, r := range []*recorder{a, b} {
		if len(r.events) != len(want) {
			t.Fatalf("events = %v, want %v", r.events, want)
		}
		for i := range want {
			if r.events[i] != want[i] {
				t.Errorf("event %d = %q, want %q", i, r.events[i], want[i])
			}
		}
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	l.StepChanged(&procedure.StepContext{ProcedureTitle: "Oil change", StepTitle: "Drain"})
	l.Transcript(RoleAssistant, "Open the drain plug.")
	l.Partial("open the")

	out := buf.String()
	for _, want := range []string{"title=Drain", "role=assistant", "component=sink.log"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "open the") {
		t.Error("partial logged above debug level")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out")
}

func TestRedisPublishes(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRedis(pub, RedisConfig{}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.StateChanged("Completed", "IdleQnA")
	r.StepChanged(&procedure.StepContext{StepTitle: "Drain"})
	waitFor(t, func() bool { return pub.count() == 2 })

	if pub.channels[0] != DefaultChannel {
		t.Errorf("channel = %q, want %q", pub.channels[0], DefaultChannel)
	}

	var ev struct {
		ID   string            `json:"id"`
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(pub.payloads[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventState || ev.Data["new"] != "IdleQnA" || ev.ID == "" {
		t.Errorf("event = %+v", ev)
	}
	if r.Sent() != 2 {
		t.Errorf("Sent() = %d, want 2", r.Sent())
	}
}

func TestRedisDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRedis(pub, RedisConfig{QueueSize: 2}, slog.New(slog.DiscardHandler))

	// Not running, so nothing drains the queue.
	for i := 0; i < 5; i++ {
		r.Partial("x")
	}
	if r.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", r.Dropped())
	}
}

func TestRedisPublishErrorContinues(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	r := NewRedis(pub, RedisConfig{}, slog.New(slog.DiscardHandler))

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	r.Completed()
	r.Completed()
	time.Sleep(20 * time.Millisecond)
	r.Close()
	r.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	if r.Sent() != 0 {
		t.Errorf("Sent() = %d, want 0", r.Sent())
	}
}
