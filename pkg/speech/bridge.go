// Package speech connects a streaming speech-to-text engine to the rest of
// the system.
//
// The Bridge receives finalized utterances, partial transcripts and
// voice-activity changes. In forward mode it only relays them; the
// conversation orchestrator decides what to do. In standalone mode it runs
// its own question/answer turn against a reasoning.Client with the same
// one-turn-at-a-time rule the orchestrator uses.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dvegas03/MechAI/pkg/reasoning"
)

// Mode selects how finalized utterances are handled.
type Mode int

const (
	// ModeForward relays utterances to subscribers.
	ModeForward Mode = iota

	// ModeStandalone answers utterances itself.
	ModeStandalone
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeStandalone {
		return "standalone"
	}
	return "forward"
}

// ErrMissingReasoner is returned when standalone mode has no reasoning client.
var ErrMissingReasoner = errors.New("speech: standalone mode requires a reasoning client")

var errReasoningPanic = errors.New("speech: reasoning panicked")

// Gate reports whether the assistant is mid-turn.
type Gate interface {
	Busy() bool
}

// Speaker is the speech output used in standalone mode.
type Speaker interface {
	Speak(ctx context.Context, text string) (string, error)
	OnFinished(fn func(id string))
	OnCancelled(fn func(id string))
}

// Config configures a Bridge.
type Config struct {
	Mode Mode

	// MinUtteranceChars drops shorter finalized utterances in standalone mode.
	MinUtteranceChars int

	// Fallback is spoken when a standalone turn fails or returns nothing.
	Fallback string

	// Timeout bounds one standalone reasoning call.
	Timeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns forward-mode defaults.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeForward,
		MinUtteranceChars: 2,
		Fallback:          "Sorry, I couldn't work that out. Could you say it again?",
		Timeout:           30 * time.Second,
		Logger:            slog.Default(),
	}
}

// Bridge mediates between the speech engine and its consumers.
type Bridge struct {
	config   Config
	gate     Gate
	reasoner reasoning.Client
	speaker  Speaker
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	speaking   atomic.Bool
	processing atomic.Bool

	// speechMu orders Speak against its completion callback.
	speechMu  sync.Mutex
	pendingID string

	mu          sync.RWMutex
	onUtterance []func(text string)
	onPartial   []func(text string)
	onVoice     []func(active bool)
	onReply     []func(user, reply string)
}

// NewBridge creates a forward-mode bridge. gate may be nil.
func NewBridge(cfg Config, gate Gate) *Bridge {
	cfg.Mode = ModeForward
	return newBridge(cfg, gate)
}

// NewStandalone creates a bridge that answers utterances itself. speaker may
// be nil, in which case replies are only delivered through OnReply.
func NewStandalone(cfg Config, reasoner reasoning.Client, speaker Speaker) (*Bridge, error) {
	if reasoner == nil {
		return nil, ErrMissingReasoner
	}
	cfg.Mode = ModeStandalone
	b := newBridge(cfg, nil)
	b.reasoner = reasoner
	b.speaker = speaker

	if speaker != nil {
		done := func(id string) {
			b.speechMu.Lock()
			defer b.speechMu.Unlock()
			if b.pendingID == id {
				b.pendingID = ""
				b.speaking.Store(false)
			}
		}
		speaker.OnFinished(done)
		speaker.OnCancelled(done)
	}
	return b, nil
}

func newBridge(cfg Config, gate Gate) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		config: cfg,
		gate:   gate,
		logger: cfg.Logger.With("component", "speech.bridge", "mode", cfg.Mode.String()),
		ctx:    ctx,
		cancel: cancel,
	}
	return b
}

// OnUtterance subscribes to finalized utterances (forward mode).
func (b *Bridge) OnUtterance(fn func(text string)) {
	b.mu.Lock()
	b.onUtterance = append(b.onUtterance, fn)
	b.mu.Unlock()
}

// OnPartial subscribes to partial transcripts.
func (b *Bridge) OnPartial(fn func(text string)) {
	b.mu.Lock()
	b.onPartial = append(b.onPartial, fn)
	b.mu.Unlock()
}

// OnVoiceActivity subscribes to voice-activity changes.
func (b *Bridge) OnVoiceActivity(fn func(active bool)) {
	b.mu.Lock()
	b.onVoice = append(b.onVoice, fn)
	b.mu.Unlock()
}

// OnReply subscribes to standalone question/answer pairs.
func (b *Bridge) OnReply(fn func(user, reply string)) {
	b.mu.Lock()
	b.onReply = append(b.onReply, fn)
	b.mu.Unlock()
}

// Mode returns the bridge mode.
func (b *Bridge) Mode() Mode { return b.config.Mode }

// Busy reports whether the assistant is speaking or processing, either by
// the bridge's own flags or by the gate.
func (b *Bridge) Busy() bool {
	if b.speaking.Load() || b.processing.Load() {
		return true
	}
	return b.gate != nil && b.gate.Busy()
}

// HandleFinal handles a finalized utterance.
func (b *Bridge) HandleFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if b.config.Mode == ModeForward {
		b.mu.RLock()
		subs := b.onUtterance
		b.mu.RUnlock()
		for _, fn := range subs {
			fn(text)
		}
		return
	}

	if utf8.RuneCountInString(text) < b.config.MinUtteranceChars {
		b.logger.Debug("utterance too short", "text", text)
		return
	}
	if b.Busy() {
		b.logger.Debug("utterance dropped while busy", "text", text)
		return
	}
	if !b.processing.CompareAndSwap(false, true) {
		return
	}
	go b.turn(text)
}

// HandlePartial handles a partial transcript. Suppressed while busy.
func (b *Bridge) HandlePartial(text string) {
	if b.Busy() {
		return
	}
	b.mu.RLock()
	subs := b.onPartial
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(text)
	}
}

// HandleVoiceActivity handles a voice-activity change. Suppressed while busy.
func (b *Bridge) HandleVoiceActivity(active bool) {
	if b.Busy() {
		return
	}
	b.mu.RLock()
	subs := b.onVoice
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(active)
	}
}

// Close cancels any standalone turn in progress.
func (b *Bridge) Close() {
	b.cancel()
	b.speaking.Store(false)
	b.processing.Store(false)
}

func (b *Bridge) turn(text string) {
	reply := b.ask(text)

	b.mu.RLock()
	subs := b.onReply
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(text, reply)
	}

	if b.speaker == nil {
		b.processing.Store(false)
		return
	}

	// Hand over from processing to speaking without a gap.
	b.speaking.Store(true)
	b.processing.Store(false)

	b.speechMu.Lock()
	defer b.speechMu.Unlock()
	id, err := b.speaker.Speak(b.ctx, reply)
	if err != nil {
		b.logger.Warn("speak failed", "error", err)
		b.speaking.Store(false)
		return
	}
	b.pendingID = id
}

// ask returns the reply to text, or the fallback when the call fails,
// panics or outlives the timeout. A client that ignores ctx is abandoned.
func (b *Bridge) ask(text string) string {
	type result struct {
		reply string
		err   error
	}
	ctx, cancel := context.WithTimeout(b.ctx, b.config.Timeout)
	defer cancel()

	resc := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("reasoning panicked", "panic", r)
				resc <- result{err: errReasoningPanic}
			}
		}()
		reply, err := b.reasoner.AskGeneral(ctx, text, nil)
		resc <- result{reply: reply, err: err}
	}()

	var res result
	select {
	case res = <-resc:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil || strings.TrimSpace(res.reply) == "" {
		if res.err != nil {
			b.logger.Warn("reasoning failed", "error", res.err)
		}
		return b.config.Fallback
	}
	return res.reply
}
