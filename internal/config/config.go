// Package config loads process configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables win over it. Command-line flags in cmd/mechai
// override the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Reasoning providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	// ProviderChain tries OpenAI first and falls back to Gemini.
	ProviderChain = "chain"
)

// Config is the process configuration.
type Config struct {
	LogLevel string
	LogFile  string
	LogJSON  bool

	HTTPAddr  string
	StaticDir string

	// Reasoning.
	Provider          string
	OpenAIKey         string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIVisionModel string
	GeminiKey         string
	GeminiModel       string
	ImageInterval     time.Duration

	// Speech synthesis. Without a key speech is paced by a timer.
	ElevenLabsKey string
	VoiceID       string
	TTSModel      string

	// Streaming speech-to-text. Disabled without a URL.
	STTURL string
	STTKey string

	// Camera and detector.
	CameraEnabled       bool
	CameraDevice        string
	CameraWidth         int
	CameraHeight        int
	ModelPath           string
	ClassesPath         string
	ConfidenceThreshold float64
	DetectInterval      time.Duration

	// Procedure source: a file, else the database, else the built-in script.
	ProcedureFile        string
	DatabaseDriver       string
	DatabaseURL          string
	InstructionsTable    string
	RequiresConfirmation bool

	// Redis event publishing. Disabled without an address.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	AutoStartDelay time.Duration
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:            "info",
		HTTPAddr:            ":8080",
		Provider:            ProviderOpenAI,
		OpenAIBaseURL:       "https://api.openai.com/v1",
		OpenAIModel:         "gpt-4o-mini",
		OpenAIVisionModel:   "gpt-4o",
		GeminiModel:         "gemini-1.5-flash",
		ImageInterval:       30 * time.Second,
		TTSModel:            "eleven_turbo_v2_5",
		CameraEnabled:       true,
		CameraDevice:        "0",
		CameraWidth:         640,
		CameraHeight:        480,
		ModelPath:           "models/yolov5s.onnx",
		ConfidenceThreshold: 0.45,
		DetectInterval:      250 * time.Millisecond,
		DatabaseDriver:      "mysql",
		InstructionsTable:   "instructions",
		RedisChannel:        "mechai:events",
	}
}

// Load reads .env (if present) and the environment over Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from lookup over Default.
func FromEnv(lookup func(string) string) (Config, error) {
	c := Default()
	p := parser{lookup: lookup}

	p.str(&c.LogLevel, "LOG_LEVEL")
	p.str(&c.LogFile, "LOG_FILE")
	p.boolean(&c.LogJSON, "LOG_JSON")

	p.str(&c.HTTPAddr, "HTTP_ADDRESS")
	p.str(&c.StaticDir, "STATIC_DIR")

	p.str(&c.Provider, "REASONING_PROVIDER")
	p.str(&c.OpenAIKey, "OPENAI_API_KEY")
	p.str(&c.OpenAIBaseURL, "OPENAI_BASE_URL")
	p.str(&c.OpenAIModel, "OPENAI_MODEL")
	p.str(&c.OpenAIVisionModel, "OPENAI_VISION_MODEL")
	p.str(&c.GeminiKey, "GEMINI_API_KEY")
	p.str(&c.GeminiModel, "GEMINI_MODEL")
	p.duration(&c.ImageInterval, "IMAGE_CHECK_INTERVAL")

	p.str(&c.ElevenLabsKey, "ELEVENLABS_API_KEY")
	p.str(&c.VoiceID, "ELEVENLABS_VOICE_ID")
	p.str(&c.TTSModel, "ELEVENLABS_MODEL_ID")

	p.str(&c.STTURL, "STT_URL")
	p.str(&c.STTKey, "STT_API_KEY")

	p.boolean(&c.CameraEnabled, "CAMERA_ENABLED")
	p.str(&c.CameraDevice, "CAMERA_DEVICE")
	p.integer(&c.CameraWidth, "CAMERA_WIDTH")
	p.integer(&c.CameraHeight, "CAMERA_HEIGHT")
	p.str(&c.ModelPath, "DETECTOR_MODEL")
	p.str(&c.ClassesPath, "DETECTOR_CLASSES")
	p.float(&c.ConfidenceThreshold, "DETECTOR_CONFIDENCE")
	p.duration(&c.DetectInterval, "DETECTOR_INTERVAL")

	p.str(&c.ProcedureFile, "PROCEDURE_FILE")
	p.str(&c.DatabaseDriver, "DATABASE_DRIVER")
	p.str(&c.DatabaseURL, "DATABASE_URL")
	p.str(&c.InstructionsTable, "INSTRUCTIONS_TABLE")
	p.boolean(&c.RequiresConfirmation, "STEPS_REQUIRE_CONFIRMATION")

	p.str(&c.RedisAddr, "REDIS_ADDRESS")
	p.str(&c.RedisPassword, "REDIS_PASSWORD")
	p.integer(&c.RedisDB, "REDIS_DB")
	p.str(&c.RedisChannel, "REDIS_CHANNEL")

	p.duration(&c.AutoStartDelay, "AUTO_START_DELAY")

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderChain:
	default:
		return fmt.Errorf("config: unknown REASONING_PROVIDER %q", c.Provider)
	}
	switch c.DatabaseDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: DATABASE_DRIVER must be mysql or postgres, got %q", c.DatabaseDriver)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: DETECTOR_CONFIDENCE must be within [0, 1], got %v", c.ConfidenceThreshold)
	}
	return nil
}

type parser struct {
	lookup func(string) string
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v := strings.TrimSpace(p.lookup(key))
	return v, v != ""
}

func (p *parser) str(dst *string, key string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(dst *int, key string) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *parser) float(dst *float64, key string) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (p *parser) boolean(dst *bool, key string) {
	if v, ok := p.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = b
	}
}

// duration accepts Go durations ("2s") or plain seconds ("2").
func (p *parser) duration(dst *time.Duration, key string) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: invalid duration %q", key, v))
		return
	}
	*dst = time.Duration(secs * float64(time.Second))
}
