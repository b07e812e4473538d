package tts

import (
	"encoding/binary"
	"math"
)

// Level meter tuning. Levels are produced once per hop over a trailing frame.
const (
	LevelFrameMS = 20
	LevelHopMS   = 10

	// Gate thresholds in dBFS with hysteresis.
	levelOnDB  = -35.0
	levelOffDB = -45.0

	levelAttackMS  = 40
	levelReleaseMS = 250

	// Loudness mapping range.
	levelDBLow  = -46.0
	levelDBHigh = -18.0

	envFollowGain = 0.65
)

// Meter turns PCM16 audio into a 0..1 speaking level per hop, smoothed with
// an attack/release envelope so the dashboard meter does not flicker.
type Meter struct {
	sampleRate int
	frameSize  int
	hopSize    int

	attackHops  int
	releaseHops int

	samples []float64

	gateOn bool
	above  int
	below  int
	env    float64
}

// NewMeter creates a meter for mono PCM16 at sampleRate.
func NewMeter(sampleRate int) *Meter {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Meter{
		sampleRate:  sampleRate,
		frameSize:   sampleRate * LevelFrameMS / 1000,
		hopSize:     sampleRate * LevelHopMS / 1000,
		attackHops:  max(1, levelAttackMS/LevelHopMS),
		releaseHops: max(1, levelReleaseMS/LevelHopMS),
	}
}

// Reset clears all state.
func (m *Meter) Reset() {
	m.samples = m.samples[:0]
	m.gateOn = false
	m.above, m.below = 0, 0
	m.env = 0
}

// Feed consumes little-endian PCM16 bytes and returns one level per full hop.
func (m *Meter) Feed(pcm []byte) []float64 {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		m.samples = append(m.samples, float64(s)/32768.0)
	}

	var levels []float64
	for len(m.samples) >= m.hopSize {
		levels = append(levels, m.hop())
	}
	return levels
}

func (m *Meter) hop() float64 {
	frame := m.samples
	if len(frame) > m.frameSize {
		frame = frame[:m.frameSize]
	}
	db := rmsDBFS(frame)
	m.samples = m.samples[m.hopSize:]

	switch {
	case db >= levelOnDB:
		m.above++
		m.below = 0
		if !m.gateOn && m.above >= m.attackHops {
			m.gateOn = true
		}
	case db <= levelOffDB:
		m.below++
		m.above = 0
		if m.gateOn && m.below >= m.releaseHops {
			m.gateOn = false
		}
	}

	target := 0.0
	if m.gateOn {
		target = loudness(db)
	}
	m.env += envFollowGain * (target - m.env)
	m.env = clamp(m.env, 0, 1)
	return m.env
}

// Levels runs a fresh meter over a whole buffer.
func Levels(pcm []byte, sampleRate int) []float64 {
	return NewMeter(sampleRate).Feed(pcm)
}

func rmsDBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return -100.0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(len(samples)) + 1e-12)
	return 20.0 * math.Log10(rms+1e-12)
}

func loudness(db float64) float64 {
	return clamp((db-levelDBLow)/(levelDBHigh-levelDBLow), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
