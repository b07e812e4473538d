package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Speaker plays one utterance at a time. Speak returns immediately with an
// utterance id; the outcome is delivered through OnFinished or OnCancelled on
// the speaker's goroutine. Synthesis failures are logged and reported as
// finished so callers always see the utterance end.
type Speaker struct {
	provider Provider
	player   Player
	logger   *slog.Logger

	mu      sync.Mutex
	current *utterance
	closed  bool
	wg      sync.WaitGroup

	cbMu        sync.RWMutex
	onStarted   []func(id string)
	onFinished  []func(id string)
	onCancelled []func(id string)
	onText      []func(id, text string)
}

type utterance struct {
	id        string
	cancel    context.CancelFunc
	cancelled bool
}

// NewSpeaker creates a speaker. A nil player defaults to DurationPlayer.
func NewSpeaker(provider Provider, player Player, logger *slog.Logger) (*Speaker, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if player == nil {
		player = &DurationPlayer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		provider: provider,
		player:   player,
		logger:   logger.With("component", "tts.speaker"),
	}, nil
}

// OnStarted registers a callback fired when an utterance begins.
func (s *Speaker) OnStarted(fn func(id string)) {
	s.cbMu.Lock()
	s.onStarted = append(s.onStarted, fn)
	s.cbMu.Unlock()
}

// OnFinished registers a callback fired when an utterance plays to the end.
func (s *Speaker) OnFinished(fn func(id string)) {
	s.cbMu.Lock()
	s.onFinished = append(s.onFinished, fn)
	s.cbMu.Unlock()
}

// OnCancelled registers a callback fired when an utterance is cut short.
func (s *Speaker) OnCancelled(fn func(id string)) {
	s.cbMu.Lock()
	s.onCancelled = append(s.onCancelled, fn)
	s.cbMu.Unlock()
}

// OnText registers a callback fired with the text of each started utterance.
func (s *Speaker) OnText(fn func(id, text string)) {
	s.cbMu.Lock()
	s.onText = append(s.onText, fn)
	s.cbMu.Unlock()
}

// Speak starts speaking text. It returns ErrBusy if an utterance is in flight.
// Cancelling ctx cancels the utterance.
func (s *Speaker) Speak(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if s.current != nil {
		s.mu.Unlock()
		return "", ErrBusy
	}
	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{id: uuid.NewString(), cancel: cancel}
	s.current = u
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(uctx, u, text)
	return u.id, nil
}

// Cancel stops the current utterance, if any. It reports whether one was
// in flight.
func (s *Speaker) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.current.cancelled = true
	s.current.cancel()
	return true
}

// Busy reports whether an utterance is in flight.
func (s *Speaker) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close cancels any utterance, waits for it to resolve and closes the provider.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Cancel()
	s.wg.Wait()
	return s.provider.Close()
}

func (s *Speaker) run(ctx context.Context, u *utterance, text string) {
	defer s.wg.Done()

	s.emit(&s.onStarted, u.id)
	s.cbMu.RLock()
	for _, fn := range s.onText {
		fn(u.id, text)
	}
	s.cbMu.RUnlock()

	err := s.speak(ctx, text)

	s.mu.Lock()
	cancelled := u.cancelled || (err != nil && errors.Is(err, context.Canceled))
	s.current = nil
	s.mu.Unlock()
	u.cancel()

	if cancelled {
		s.logger.Debug("utterance cancelled", "id", u.id)
		s.emit(&s.onCancelled, u.id)
		return
	}
	if err != nil {
		s.logger.Warn("utterance failed", "id", u.id, "error", err)
	}
	s.emit(&s.onFinished, u.id)
}

func (s *Speaker) speak(ctx context.Context, text string) error {
	res, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, res)
}

func (s *Speaker) emit(fns *[]func(string), id string) {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	for _, fn := range *fns {
		fn(id)
	}
}
