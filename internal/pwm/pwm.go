// Package pwm holds the contract shared by both software PWM engines:
// frequency bands, the duty-cycle range, and the validation/clamping split.
//
// Creation-time parameters are validated strictly and rejected outright
// when out of band. In-place updates on a running channel clamp instead:
// live updates prioritize availability over strictness.
package pwm

import (
	"errors"
	"time"
)

const (
	// MinFrequencyHz is the slowest supported waveform for either engine.
	MinFrequencyHz = 0.1

	// MaxThreadFrequencyHz bounds the thread-per-channel engine. Above
	// ~10 kHz the half-cycle holds drop under the busy-wait tail and the
	// waveform degrades into jitter.
	MaxThreadFrequencyHz = 10_000

	// MaxEventFrequencyHz bounds the multiplexed engine. One goroutine
	// serving every channel has a coarser jitter floor than a dedicated
	// one, so the band is narrower.
	MaxEventFrequencyHz = 2_000
)

var (
	// ErrInvalidParameter indicates a frequency or duty cycle outside the
	// engine's accepted band at creation time.
	ErrInvalidParameter = errors.New("frequency or duty cycle outside engine band")

	// ErrNotActive indicates an update or query on a pin with no running
	// PWM channel.
	ErrNotActive = errors.New("no active PWM channel on pin")
)

// ValidFrequency reports whether hz is acceptable at creation time for an
// engine bounded by maxHz.
func ValidFrequency(hz, maxHz float64) bool {
	return hz >= MinFrequencyHz && hz <= maxHz
}

// ValidDuty reports whether a duty percentage is acceptable at creation
// time.
func ValidDuty(p float64) bool {
	return p >= 0 && p <= 100
}

// ClampFrequency forces an in-place frequency update into the engine band.
func ClampFrequency(hz, maxHz float64) float64 {
	if hz < MinFrequencyHz {
		return MinFrequencyHz
	}
	if hz > maxHz {
		return maxHz
	}
	return hz
}

// ClampDuty forces an in-place duty update into [0,100].
func ClampDuty(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Split returns the HIGH and LOW hold durations for one full cycle of the
// given frequency and duty percentage.
func Split(freqHz, duty float64) (high, low time.Duration) {
	period := time.Duration(float64(time.Second) / freqHz)
	high = time.Duration(float64(period) * duty / 100)
	low = period - high
	return high, low
}
