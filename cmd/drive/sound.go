package main

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
	"github.com/rs/zerolog"
)

const sampleRate = beep.SampleRate(44100)

// soundPlayer plays short cues. A player whose speaker failed to start is
// silent.
type soundPlayer struct {
	enabled bool
}

func newSoundPlayer(mute bool, logger zerolog.Logger) *soundPlayer {
	if mute {
		return &soundPlayer{}
	}
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		// The game runs fine without sound
		logger.Warn().Err(err).Msg("audio initialization failed")
		return &soundPlayer{}
	}
	return &soundPlayer{enabled: true}
}

func (s *soundPlayer) crash() {
	if s.enabled {
		speaker.Play(crashTone(sampleRate))
	}
}

func (s *soundPlayer) finish() {
	if s.enabled {
		speaker.Play(finishTone(sampleRate))
	}
}

func (s *soundPlayer) close() {
	if s.enabled {
		speaker.Close()
	}
}

func tone(sr beep.SampleRate, freq float64, d time.Duration, volume float64) beep.Streamer {
	sine, err := generators.SineTone(sr, freq)
	if err != nil {
		return beep.Silence(sr.N(d))
	}
	return &effects.Volume{
		Streamer: beep.Take(sr.N(d), sine),
		Base:     2,
		Volume:   volume,
	}
}

// crashTone is a short low thud.
func crashTone(sr beep.SampleRate) beep.Streamer {
	return tone(sr, 110, 120*time.Millisecond, -1)
}

// finishTone is a rising two-note chime.
func finishTone(sr beep.SampleRate) beep.Streamer {
	return beep.Seq(
		tone(sr, 660, 120*time.Millisecond, -1.5),
		beep.Silence(sr.N(30*time.Millisecond)),
		tone(sr, 880, 200*time.Millisecond, -1.5),
	)
}
