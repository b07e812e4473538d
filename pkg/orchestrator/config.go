package orchestrator

import (
	"log/slog"
	"time"
)

// Config holds orchestrator tuning.
type Config struct {
	// AutoStartDelay starts the conversation this long after Run. Zero
	// waits for Start.
	AutoStartDelay time.Duration

	// MinUtteranceChars drops shorter utterances.
	MinUtteranceChars int

	// SpeechCharDuration and MinSpeechDuration pace speech when no Speaker
	// is wired: max(MinSpeechDuration, chars*SpeechCharDuration).
	SpeechCharDuration time.Duration
	MinSpeechDuration  time.Duration

	// ReasoningTimeout bounds one reasoning call.
	ReasoningTimeout time.Duration

	// ReadinessFallback is spoken when the readiness check fails.
	ReadinessFallback string

	VisionKeywords  []string
	ConfirmKeywords []string

	// QueueSize is the event inbox capacity.
	QueueSize int

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MinUtteranceChars:  2,
		SpeechCharDuration: 60 * time.Millisecond,
		MinSpeechDuration:  500 * time.Millisecond,
		ReasoningTimeout:   30 * time.Second,
		ReadinessFallback:  "Okay, let's get started.",
		VisionKeywords:     DefaultVisionKeywords(),
		ConfirmKeywords:    DefaultConfirmKeywords(),
		QueueSize:          64,
		Logger:             slog.Default(),
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinUtteranceChars <= 0 {
		c.MinUtteranceChars = d.MinUtteranceChars
	}
	if c.SpeechCharDuration <= 0 {
		c.SpeechCharDuration = d.SpeechCharDuration
	}
	if c.ReasoningTimeout <= 0 {
		c.ReasoningTimeout = d.ReasoningTimeout
	}
	if c.ReadinessFallback == "" {
		c.ReadinessFallback = d.ReadinessFallback
	}
	if c.VisionKeywords == nil {
		c.VisionKeywords = d.VisionKeywords
	}
	if c.ConfirmKeywords == nil {
		c.ConfirmKeywords = d.ConfirmKeywords
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}
