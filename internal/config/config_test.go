package config

import (
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	d := Default()
	if c.HTTPAddr != d.HTTPAddr || c.Provider != ProviderOpenAI || c.ImageInterval != 30*time.Second {
		t.Errorf("defaults not applied: %+v", c)
	}
	if !c.CameraEnabled {
		t.Error("CameraEnabled = false, want true")
	}
	if c.DatabaseDriver != "mysql" {
		t.Errorf("DatabaseDriver = %q, want mysql", c.DatabaseDriver)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"HTTP_ADDRESS":         ":9090",
		"REASONING_PROVIDER":   "chain",
		"IMAGE_CHECK_INTERVAL": "45",
		"AUTO_START_DELAY":     "1500ms",
		"CAMERA_ENABLED":       "false",
		"CAMERA_WIDTH":         "1280",
		"DETECTOR_CONFIDENCE":  "0.6",
		"REDIS_DB":             "2",
		"OPENAI_API_KEY":       "  sk-test  ",
		"DATABASE_DRIVER":      "postgres",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", c.HTTPAddr, ":9090"},
		{"Provider", c.Provider, ProviderChain},
		{"ImageInterval", c.ImageInterval, 45 * time.Second},
		{"AutoStartDelay", c.AutoStartDelay, 1500 * time.Millisecond},
		{"CameraEnabled", c.CameraEnabled, false},
		{"CameraWidth", c.CameraWidth, 1280},
		{"ConfidenceThreshold", c.ConfidenceThreshold, 0.6},
		{"RedisDB", c.RedisDB, 2},
		{"OpenAIKey", c.OpenAIKey, "sk-test"},
		{"DatabaseDriver", c.DatabaseDriver, "postgres"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"CAMERA_WIDTH": "wide"}, "CAMERA_WIDTH"},
		{"bad bool", map[string]string{"CAMERA_ENABLED": "maybe"}, "CAMERA_ENABLED"},
		{"bad duration", map[string]string{"AUTO_START_DELAY": "soon"}, "AUTO_START_DELAY"},
		{"bad provider", map[string]string{"REASONING_PROVIDER": "oracle"}, "REASONING_PROVIDER"},
		{"bad driver", map[string]string{"DATABASE_DRIVER": "sqlite"}, "DATABASE_DRIVER"},
		{"confidence range", map[string]string{"DETECTOR_CONFIDENCE": "1.5"}, "DETECTOR_CONFIDENCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("FromEnv() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
