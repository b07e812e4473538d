package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvegas03/MechAI/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs.
const (
	// ModelTurboV2_5 is the low-latency English model used for step prompts.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs synthesizes assistant speech through the ElevenLabs REST API.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	retry   httpc.Retry
	logger  *slog.Logger
	baseURL string
}

var _ Provider = (*ElevenLabs)(nil)

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

type errorBody struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
}

// NewElevenLabs creates the provider. An API key and voice are required.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = elevenLabsBaseURL
	}
	logger := cfg.Logger.With("component", "tts.elevenlabs")

	return &ElevenLabs{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		retry:   httpc.Retry{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay, Logger: logger},
		logger:  logger,
		baseURL: base,
	}, nil
}

// Synthesize renders text to a single audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	vs := e.config.VoiceSettings
	payload, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       vs.Stability,
			SimilarityBoost: vs.SimilarityBoost,
			Style:           vs.Style,
			SpeakerBoost:    vs.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?%s", e.baseURL, url.PathEscape(e.config.VoiceID),
		url.Values{"output_format": {string(e.config.OutputFormat)}}.Encode())
	req, err := e.newRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	accept := "audio/mpeg"
	if e.config.OutputFormat.IsPCM() {
		accept = "audio/pcm"
	}
	req.Header.Set("Accept", accept)

	start := time.Now()
	resp, err := e.retry.Do(ctx, e.client, req, payload)
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}
	latency := time.Since(start)

	format := AudioFormat{
		Encoding:   e.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
	res := &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency.Milliseconds(),
	}
	if format.Encoding.IsPCM() {
		res.Duration = PCMDuration(len(audio), format.SampleRate)
	}

	e.logger.Debug("synthesized", "chars", len(text), "bytes", len(audio), "latency", latency, "audio", res.Duration)
	return res, nil
}

// Health verifies the key against the account endpoint.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := e.newRequest(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *ElevenLabs) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("xi-api-key", e.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// apiError reads an error response. ElevenLabs nests the message under
// detail; other bodies are kept verbatim.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	msg := string(raw)
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Detail.Message != "" {
		msg = body.Detail.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, Provider: providerElevenLabs}
}
