// Package tts turns assistant text into speech.
//
// A Provider synthesizes a complete audio buffer. A Speaker owns the single
// utterance in flight: it synthesizes, hands the audio to a Player and reports
// start, finish and cancellation through callbacks.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	speaker, _ := tts.NewSpeaker(provider, nil, logger)
//	speaker.OnFinished(func(id string) { ... })
//
//	id, _ := speaker.Speak(ctx, "Loosen each lug nut half a turn.")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes text to audio.
type Provider interface {
	// Synthesize converts text to audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio  []byte
	Format AudioFormat

	// Duration is the playback duration, estimated from the byte count for PCM.
	Duration time.Duration

	CharCount int
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding is an ElevenLabs output format name.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
	EncodingMP3   Encoding = "mp3_44100_128"
)

// IsPCM reports whether enc is raw 16-bit PCM.
func (enc Encoding) IsPCM() bool {
	switch enc {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// SampleRateFromEncoding extracts the sample rate from an encoding.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}

// PCMDuration returns the playback time of n bytes of mono PCM16.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}
