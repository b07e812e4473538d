package reasoning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dvegas03/MechAI/internal/httpc"
)

const backendOpenAI = "openai"

// OpenAI is a Backend for any OpenAI-compatible chat completions API
// (OpenAI, Ollama, vLLM, Groq, ...).
type OpenAI struct {
	baseURL string
	config  *Config
	http    *http.Client
	retry   httpc.Retry
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Model == "" {
		return nil, WrapError(backendOpenAI, ErrNoModel)
	}

	logger := cfg.Logger.With("component", "reasoning.openai")
	return &OpenAI{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		retry:   httpc.Retry{MaxRetries: cfg.MaxRetries, Delay: cfg.RetryDelay, Logger: logger},
		logger:  logger,
	}, nil
}

// Name returns "openai".
func (o *OpenAI) Name() string { return backendOpenAI }

// Complete sends p as a system + user message pair. Prompts with an image go
// to the vision model with the JPEG inlined as a data URL.
func (o *OpenAI) Complete(ctx context.Context, p Prompt) (string, error) {
	model := o.config.Model
	var userContent interface{} = p.User

	if len(p.Image) > 0 {
		if o.config.VisionModel != "" {
			model = o.config.VisionModel
		}
		userContent = []map[string]interface{}{
			{"type": "text", "text": p.User},
			{
				"type": "image_url",
				"image_url": map[string]string{
					"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.Image),
				},
			},
		}
	}

	messages := make([]map[string]interface{}, 0, 2)
	if p.System != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": p.System})
	}
	messages = append(messages, map[string]interface{}{"role": "user", "content": userContent})

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if o.config.MaxTokens > 0 {
		payload["max_tokens"] = o.config.MaxTokens
	}
	if o.config.Temperature > 0 {
		payload["temperature"] = o.config.Temperature
	}

	resp, err := o.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", o.parseError(resp)
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", WrapError(backendOpenAI, fmt.Errorf("decode response: %w", err))
	}
	if len(result.Choices) == 0 {
		return "", WrapError(backendOpenAI, fmt.Errorf("no choices returned"))
	}

	o.logger.Debug("completion",
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"image", len(p.Image) > 0,
	)
	return result.Choices[0].Message.Content, nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.http.CloseIdleConnections()
	return nil
}

func (o *OpenAI) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(backendOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(backendOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	resp, err := o.retry.Do(ctx, o.http, req, body)
	if err != nil {
		return nil, WrapError(backendOpenAI, err)
	}
	return resp, nil
}

func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Backend:    backendOpenAI,
	}
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
