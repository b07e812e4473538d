package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain tries multiple backends in order until one succeeds.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
}

// NewChain creates a backend chain. At least one backend is required.
func NewChain(logger *slog.Logger, backends ...Backend) (*Chain, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackend
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		backends: backends,
		logger:   logger.With("component", "reasoning.chain"),
	}, nil
}

// Name lists the chained backends.
func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Complete returns the first successful completion.
func (c *Chain) Complete(ctx context.Context, p Prompt) (string, error) {
	var errs []error

	for i, b := range c.backends {
		text, err := b.Complete(ctx, p)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback backend succeeded", "backend", b.Name())
			}
			return text, nil
		}

		errs = append(errs, err)
		c.logger.Warn("backend failed, trying next", "backend", b.Name(), "error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(errs...))
}
