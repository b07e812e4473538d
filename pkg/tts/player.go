package tts

import (
	"context"
	"time"
)

// Player plays a synthesized buffer and returns when playback ends or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, res *AudioResult) error
}

// DurationPlayer paces playback by the audio duration without producing sound.
// Browser clients fetch and play the audio themselves; the server only needs
// to know when the utterance is over. For PCM audio it also reports a
// speaking level every LevelHopMS.
type DurationPlayer struct {
	// OnLevel receives speaking levels during playback. Optional.
	OnLevel func(level float64)

	// CharDuration is used when the result has no duration.
	CharDuration time.Duration
}

// Play waits for the playback duration.
func (p *DurationPlayer) Play(ctx context.Context, res *AudioResult) error {
	d := p.duration(res)

	if p.OnLevel != nil && res.Format.Encoding.IsPCM() && len(res.Audio) > 0 {
		return p.playLevels(ctx, res, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *DurationPlayer) playLevels(ctx context.Context, res *AudioResult, d time.Duration) error {
	levels := Levels(res.Audio, res.Format.SampleRate)
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	ticker := time.NewTicker(LevelHopMS * time.Millisecond)
	defer ticker.Stop()
	defer p.OnLevel(0)

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
			if i < len(levels) {
				p.OnLevel(levels[i])
				i++
			}
		}
	}
}

func (p *DurationPlayer) duration(res *AudioResult) time.Duration {
	if res.Duration > 0 {
		return res.Duration
	}
	per := p.CharDuration
	if per <= 0 {
		per = 60 * time.Millisecond
	}
	return time.Duration(res.CharCount) * per
}
