package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const backendGemini = "gemini"

// geminiScopes are requested when authenticating with application default
// credentials instead of an API key.
var geminiScopes = []string{
	"https://www.googleapis.com/auth/generative-language",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Gemini is a Backend for Google's Gemini models.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini backend. With an API key it authenticates with
// the key; without one it falls back to application default credentials.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Model = "gemini-2.0-flash"
	cfg.VisionModel = "gemini-2.0-flash"
	cfg.Apply(opts...)

	if cfg.Model == "" {
		return nil, WrapError(backendGemini, ErrNoModel)
	}

	var auth option.ClientOption
	if cfg.APIKey != "" {
		auth = option.WithAPIKey(cfg.APIKey)
	} else {
		creds, err := google.FindDefaultCredentials(ctx, geminiScopes...)
		if err != nil {
			return nil, WrapError(backendGemini, fmt.Errorf("%w: %v", ErrNoAPIKey, err))
		}
		auth = option.WithCredentials(creds)
	}

	client, err := genai.NewClient(ctx, auth)
	if err != nil {
		return nil, WrapError(backendGemini, fmt.Errorf("create client: %w", err))
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "reasoning.gemini"),
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return backendGemini }

// Complete generates a single response.
func (g *Gemini) Complete(ctx context.Context, p Prompt) (string, error) {
	name := g.config.Model
	if len(p.Image) > 0 && g.config.VisionModel != "" {
		name = g.config.VisionModel
	}

	model := g.client.GenerativeModel(name)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}
	if g.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(g.config.MaxTokens))
	}
	if g.config.Temperature > 0 {
		model.SetTemperature(float32(g.config.Temperature))
	}

	parts := []genai.Part{genai.Text(p.User)}
	if len(p.Image) > 0 {
		parts = append(parts, genai.ImageData("jpeg", p.Image))
	}

	res, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", WrapError(backendGemini, err)
	}
	return geminiText(res)
}

// Close closes the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func geminiText(res *genai.GenerateContentResponse) (string, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", WrapError(backendGemini, ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", WrapError(backendGemini, ErrEmptyResponse)
	}
	return sb.String(), nil
}
