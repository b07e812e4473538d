package reasoning

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

// Assistant implements Client over a Backend.
type Assistant struct {
	backend Backend
	config  *Config
	images  *rate.Limiter
	logger  *slog.Logger
}

var _ Client = (*Assistant)(nil)

// NewAssistant creates an assistant. Only ImageInterval and Logger are read
// from the options; the rest configure backends.
func NewAssistant(backend Backend, opts ...Option) (*Assistant, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Assistant{
		backend: backend,
		config:  cfg,
		images:  newImageLimiter(cfg.ImageInterval),
		logger:  cfg.Logger.With("component", "reasoning.assistant"),
	}, nil
}

func newImageLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// AskGeneral answers a free-form question.
func (a *Assistant) AskGeneral(ctx context.Context, userText string, step *procedure.StepContext) (string, error) {
	return a.complete(ctx, "general", Prompt{
		System: generalPrompt(step),
		User:   userText,
	})
}

// ConfirmStep asks whether the user may move on from step.
func (a *Assistant) ConfirmStep(ctx context.Context, step procedure.StepContext, userText string) (string, error) {
	return a.complete(ctx, "confirm", Prompt{
		System: confirmPrompt(step),
		User:   userText,
	})
}

// CheckImage answers a question about a camera frame. Inside the image
// interval it returns ImageCheckDisabled without calling the backend.
func (a *Assistant) CheckImage(ctx context.Context, image []byte, userText string, step *procedure.StepContext, dets []detection.Detection) (string, error) {
	if len(image) == 0 {
		return "", ErrNoImage
	}
	if !a.images.Allow() {
		a.logger.Info("image check rate limited", "interval", a.config.ImageInterval)
		return ImageCheckDisabled, nil
	}
	return a.complete(ctx, "image", Prompt{
		System: imagePrompt(step, dets),
		User:   userText,
		Image:  image,
	})
}

func (a *Assistant) complete(ctx context.Context, mode string, p Prompt) (string, error) {
	start := time.Now()
	text, err := a.backend.Complete(ctx, p)
	if err != nil {
		a.logger.Warn("reasoning failed", "mode", mode, "backend", a.backend.Name(), "error", err)
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", WrapError(a.backend.Name(), ErrEmptyResponse)
	}

	a.logger.Debug("reasoning complete", "mode", mode, "latency_ms", time.Since(start).Milliseconds())
	return text, nil
}
