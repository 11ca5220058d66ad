// Package softpwm emulates PWM by bit-banging an output line, one
// dedicated goroutine per active channel. Half-cycle holds use the hybrid
// sleep-plus-spin delay in internal/timing: sub-millisecond edge accuracy
// in exchange for a short busy-wait every half-cycle, with CPU cost rising
// with frequency.
package softpwm

import (
	"fmt"
	"sync"

	"pinio/internal/lineio"
	"pinio/internal/pinreg"
	"pinio/internal/pwm"
	"pinio/internal/timing"
)

// Engine runs one timing goroutine per active pin.
type Engine struct {
	svc lineio.Service
	reg *pinreg.Registry

	mu       sync.Mutex
	channels map[int]*channel
}

func New(svc lineio.Service, reg *pinreg.Registry) *Engine {
	return &Engine{svc: svc, reg: reg, channels: make(map[int]*channel)}
}

// Start begins a waveform on pin. Frequency and duty are validated
// strictly; out-of-band values are rejected with no side effect. Starting
// an already-running pin reconfigures it in place, taking effect at the
// next half-cycle boundary, rather than erroring.
func (e *Engine) Start(pin int, freqHz, duty float64) error {
	if err := e.reg.CheckPin(pin); err != nil {
		return fmt.Errorf("softpwm: start: %w", err)
	}
	if !pwm.ValidFrequency(freqHz, pwm.MaxThreadFrequencyHz) || !pwm.ValidDuty(duty) {
		return fmt.Errorf("softpwm: start pin %d: frequency=%g duty=%g: %w",
			pin, freqHz, duty, pwm.ErrInvalidParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ch := e.channels[pin]; ch != nil {
		ch.set(freqHz, duty)
		return nil
	}
	if err := e.reg.Claim(pin, pinreg.KindPWM); err != nil {
		return fmt.Errorf("softpwm: start: %w", err)
	}
	out, err := e.svc.OpenOutput(pin, false)
	if err != nil {
		e.reg.Release(pin)
		return fmt.Errorf("softpwm: start pin %d: %w", pin, err)
	}
	ch := &channel{
		pin:    pin,
		out:    out,
		freqHz: freqHz,
		duty:   duty,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.channels[pin] = ch
	go ch.run()
	return nil
}

// Stop halts the waveform on pin, joins its goroutine, drives the line to
// its idle LOW level, and releases the handle. Once Stop returns no
// further writes occur. Stopping an inactive pin is a no-op.
func (e *Engine) Stop(pin int) error {
	e.mu.Lock()
	ch := e.channels[pin]
	delete(e.channels, pin)
	e.mu.Unlock()
	if ch == nil {
		return nil
	}
	close(ch.stop)
	<-ch.done
	_ = ch.out.Close()
	e.reg.Release(pin)
	return nil
}

// SetDutyCycle updates the duty of a running channel, clamping into
// [0,100]. The new value takes effect at the next half-cycle boundary.
func (e *Engine) SetDutyCycle(pin int, duty float64) error {
	ch := e.channel(pin)
	if ch == nil {
		return fmt.Errorf("softpwm: set duty pin %d: %w", pin, pwm.ErrNotActive)
	}
	ch.setDuty(pwm.ClampDuty(duty))
	return nil
}

// SetFrequency updates the frequency of a running channel, clamping into
// the engine band.
func (e *Engine) SetFrequency(pin int, freqHz float64) error {
	ch := e.channel(pin)
	if ch == nil {
		return fmt.Errorf("softpwm: set frequency pin %d: %w", pin, pwm.ErrNotActive)
	}
	ch.setFreq(pwm.ClampFrequency(freqHz, pwm.MaxThreadFrequencyHz))
	return nil
}

// IsActive reports whether pin has a running channel.
func (e *Engine) IsActive(pin int) bool { return e.channel(pin) != nil }

// Frequency returns the configured frequency of pin's channel.
func (e *Engine) Frequency(pin int) (float64, bool) {
	ch := e.channel(pin)
	if ch == nil {
		return 0, false
	}
	f, _ := ch.params()
	return f, true
}

// DutyCycle returns the configured duty of pin's channel.
func (e *Engine) DutyCycle(pin int) (float64, bool) {
	ch := e.channel(pin)
	if ch == nil {
		return 0, false
	}
	_, d := ch.params()
	return d, true
}

// ActiveCount returns the number of running channels.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Close stops every running channel.
func (e *Engine) Close() {
	e.mu.Lock()
	pins := make([]int, 0, len(e.channels))
	for pin := range e.channels {
		pins = append(pins, pin)
	}
	e.mu.Unlock()
	for _, pin := range pins {
		_ = e.Stop(pin)
	}
}

func (e *Engine) channel(pin int) *channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[pin]
}

type channel struct {
	pin int
	out lineio.Output

	mu     sync.Mutex
	freqHz float64
	duty   float64

	kick chan struct{} // parameter change, wakes a parked channel
	stop chan struct{}
	done chan struct{}
}

func (ch *channel) params() (freqHz, duty float64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.freqHz, ch.duty
}

func (ch *channel) set(freqHz, duty float64) {
	ch.mu.Lock()
	ch.freqHz = freqHz
	ch.duty = duty
	ch.mu.Unlock()
	ch.wake()
}

func (ch *channel) setDuty(duty float64) {
	ch.mu.Lock()
	ch.duty = duty
	ch.mu.Unlock()
	ch.wake()
}

func (ch *channel) setFreq(freqHz float64) {
	ch.mu.Lock()
	ch.freqHz = freqHz
	ch.mu.Unlock()
	ch.wake()
}

func (ch *channel) wake() {
	select {
	case ch.kick <- struct{}{}:
	default:
	}
}

// run owns the line until stop. Parameters are re-read every cycle, so
// updates land at half-cycle boundaries and never mid-pulse.
func (ch *channel) run() {
	defer close(ch.done)
	defer ch.out.SetLevel(false) // idle level on the way out

	for {
		freqHz, duty := ch.params()
		switch {
		case duty <= 0:
			// Constant LOW: nothing to toggle, park until stop or a
			// parameter change.
			_ = ch.out.SetLevel(false)
			if !ch.park() {
				return
			}
		case duty >= 100:
			_ = ch.out.SetLevel(true)
			if !ch.park() {
				return
			}
		default:
			high, low := pwm.Split(freqHz, duty)
			_ = ch.out.SetLevel(true)
			if !timing.Wait(high, ch.stop) {
				return
			}
			_ = ch.out.SetLevel(false)
			if !timing.Wait(low, ch.stop) {
				return
			}
		}
	}
}

func (ch *channel) park() bool {
	select {
	case <-ch.stop:
		return false
	case <-ch.kick:
		return true
	}
}
