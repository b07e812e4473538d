package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"missing key", []Option{WithVoice("v")}, ErrNoAPIKey},
		{"missing voice", []Option{WithAPIKey("k")}, ErrNoVoiceID},
		{"ok", []Option{WithAPIKey("k"), WithVoice("v")}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Apply(tc.opts...)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	audio := make([]byte, 48000) // 1s of PCM16 at 24kHz
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "pcm_24000" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("api key header = %q", r.Header.Get("xi-api-key"))
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hello" {
			t.Errorf("text = %v", body["text"])
		}
		w.Write(audio)
	}))
	defer server.Close()

	e, err := NewElevenLabs(WithAPIKey("key"), WithVoice("voice-1"), WithBaseURL(server.URL), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(res.Audio) != len(audio) {
		t.Errorf("audio bytes = %d", len(res.Audio))
	}
	if res.Duration != time.Second {
		t.Errorf("duration = %v, want 1s", res.Duration)
	}
}

func TestElevenLabsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":{"message":"invalid key"}}`))
	}))
	defer server.Close()

	e, _ := NewElevenLabs(WithAPIKey("bad"), WithVoice("v"), WithBaseURL(server.URL), WithLogger(quietLogger()))
	_, err := e.Synthesize(context.Background(), "hi")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsUnauthorized() || apiErr.Message != "invalid key" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

// recorder collects speaker callbacks.
type recorder struct {
	mu     sync.Mutex
	events []string
	done   chan string
}

func newRecorder(s *Speaker) *recorder {
	r := &recorder{done: make(chan string, 8)}
	s.OnStarted(func(id string) { r.add("started") })
	s.OnFinished(func(id string) { r.add("finished"); r.done <- "finished" })
	s.OnCancelled(func(id string) { r.add("cancelled"); r.done <- "cancelled" })
	return r
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case e := <-r.done:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance to resolve")
		return ""
	}
}

func TestSpeakerFinishes(t *testing.T) {
	provider := NewMock(time.Millisecond)
	s, err := NewSpeaker(provider, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder(s)

	id, err := s.Speak(context.Background(), "  short  ")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected utterance id")
	}
	if got := rec.wait(t); got != "finished" {
		t.Errorf("outcome = %s, want finished", got)
	}
	if s.Busy() {
		t.Error("speaker still busy after finish")
	}
	if calls := provider.Calls(); len(calls) != 1 || calls[0].Text != "short" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSpeakerBusyAndCancel(t *testing.T) {
	s, _ := NewSpeaker(NewMock(time.Second), nil, quietLogger())
	rec := newRecorder(s)

	if _, err := s.Speak(context.Background(), "a long sentence"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Speak(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Speak error = %v, want ErrBusy", err)
	}

	if !s.Cancel() {
		t.Error("Cancel() = false, want true")
	}
	if got := rec.wait(t); got != "cancelled" {
		t.Errorf("outcome = %s, want cancelled", got)
	}
	if s.Cancel() {
		t.Error("Cancel() with nothing in flight = true")
	}
}

func TestSpeakerSynthesisErrorFinishes(t *testing.T) {
	s, _ := NewSpeaker(WithError(errors.New("quota")), nil, quietLogger())
	rec := newRecorder(s)

	if _, err := s.Speak(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if got := rec.wait(t); got != "finished" {
		t.Errorf("outcome = %s, want finished", got)
	}
}

func TestSpeakerRejects(t *testing.T) {
	if _, err := NewSpeaker(nil, nil, nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("NewSpeaker(nil) error = %v", err)
	}

	s, _ := NewSpeaker(NewMock(time.Millisecond), nil, quietLogger())
	if _, err := s.Speak(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("blank Speak error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Speak(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("Speak after Close error = %v", err)
	}
}

func TestDurationPlayerFallsBackToChars(t *testing.T) {
	p := &DurationPlayer{CharDuration: time.Millisecond}
	start := time.Now()
	if err := p.Play(context.Background(), &AudioResult{CharCount: 20}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("played for %v, want at least 20ms", elapsed)
	}
}

func TestDurationPlayerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &DurationPlayer{}
	if err := p.Play(ctx, &AudioResult{Duration: time.Hour}); !errors.Is(err, context.Canceled) {
		t.Errorf("Play() error = %v, want context.Canceled", err)
	}
}

func tone(seconds float64, amp float64, rate int) []byte {
	n := int(seconds * float64(rate))
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amp * 32767 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestLevels(t *testing.T) {
	const rate = 16000

	silent := Levels(make([]byte, rate*2), rate)
	if len(silent) != 100 {
		t.Fatalf("hops = %d, want 100 for 1s", len(silent))
	}
	for i, l := range silent {
		if l != 0 {
			t.Fatalf("silence level[%d] = %v", i, l)
		}
	}

	loud := Levels(tone(1, 0.5, rate), rate)
	last := loud[len(loud)-1]
	if last < 0.5 || last > 1 {
		t.Errorf("loud tone settled at %v, want in [0.5, 1]", last)
	}
	if loud[0] != 0 {
		t.Errorf("first hop = %v, want 0 before attack", loud[0])
	}
}

func TestDurationPlayerLevels(t *testing.T) {
	var mu sync.Mutex
	var levels []float64
	p := &DurationPlayer{OnLevel: func(l float64) {
		mu.Lock()
		levels = append(levels, l)
		mu.Unlock()
	}}

	audio := tone(0.1, 0.5, 24000)
	res := &AudioResult{
		Audio:    audio,
		Format:   AudioFormat{Encoding: EncodingPCM24, SampleRate: 24000},
		Duration: PCMDuration(len(audio), 24000),
	}
	if err := p.Play(context.Background(), res); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(levels) == 0 {
		t.Fatal("no levels reported")
	}
	if levels[len(levels)-1] != 0 {
		t.Errorf("final level = %v, want reset to 0", levels[len(levels)-1])
	}
}

func TestEncoding(t *testing.T) {
	if !EncodingPCM16.IsPCM() || EncodingMP3.IsPCM() {
		t.Error("IsPCM mismatch")
	}
	if got := SampleRateFromEncoding(EncodingPCM44); got != 44100 {
		t.Errorf("rate = %d", got)
	}
	if got := PCMDuration(32000, 16000); got != time.Second {
		t.Errorf("PCMDuration = %v", got)
	}
	if !strings.HasPrefix(ModelTurboV2_5, "eleven_") {
		t.Error("unexpected model id")
	}
}
