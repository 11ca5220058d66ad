// Package pinio provides Arduino-style line control for single-board
// computers on top of the Linux GPIO character device: edge-triggered
// interrupts and software or hardware PWM, with one consumer per pin
// enforced across all of them.
package pinio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pinio/internal/eventpwm"
	"pinio/internal/hwpwm"
	"pinio/internal/interrupts"
	"pinio/internal/lineio"
	"pinio/internal/pinreg"
	"pinio/internal/softpwm"
)

// Edge selects which transitions an interrupt reports, Arduino-style.
type Edge int

const (
	Rising Edge = iota + 1
	Falling
	Change
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Change:
		return "change"
	default:
		return "invalid"
	}
}

func (e Edge) lineEdge() (lineio.Edge, error) {
	switch e {
	case Rising:
		return lineio.EdgeRising, nil
	case Falling:
		return lineio.EdgeFalling, nil
	case Change:
		return lineio.EdgeBoth, nil
	default:
		return lineio.EdgeNone, fmt.Errorf("pinio: invalid edge mode %d", int(e))
	}
}

// Event is one edge reported to an interrupt handler.
type Event struct {
	Pin    int
	Rising bool
	// Timestamp is suitable for measuring intervals between events, not
	// as wall-clock time.
	Timestamp time.Duration
}

// Handler receives edge events on the shared dispatcher goroutine. It must
// be fast and must not block; a panic is recovered and logged.
type Handler func(Event)

// Seams for tests and alternate backends.
var (
	openServiceFn = func(cfg Config) lineio.Service {
		return lineio.NewChardev(cfg.Chip, cfg.Consumer)
	}
	openHWFn = func(pin int) (hwDriver, error) {
		return hwpwm.Open(pin)
	}
	hwSupportedFn = hwpwm.Supported
)

type hwDriver interface {
	SetFrequency(hz float64) error
	SetDutyPercent(p float64) error
	Close() error
}

type hwChannel struct {
	drv    hwDriver
	freqHz float64
	duty   float64
}

// Controller is the public surface over the registry, the dispatcher and
// the PWM engines. Construct with New; Close releases everything.
type Controller struct {
	cfg   Config
	svc   lineio.Service
	reg   *pinreg.Registry
	ints  *interrupts.Dispatcher
	soft  *softpwm.Engine
	multi *eventpwm.Engine

	mu sync.Mutex
	hw map[int]*hwChannel

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds a Controller and starts its background goroutines: one for
// the interrupt dispatcher and one shared by all event-engine channels.
func New(cfg Config) *Controller {
	cfg.applyDefaults()
	svc := openServiceFn(cfg)
	reg := pinreg.New(cfg.MaxPin)
	c := &Controller{
		cfg:   cfg,
		svc:   svc,
		reg:   reg,
		ints:  interrupts.New(svc, reg),
		soft:  softpwm.New(svc, reg),
		multi: eventpwm.New(svc, reg),
		hw:    make(map[int]*hwChannel),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.ints.Start(ctx)
	c.multi.Start(ctx)
	return c
}

// AttachInterrupt registers handler for edge events on pin. It fails with
// ErrInvalidPin, ErrAlreadyRegistered/ErrAlreadyActive, or
// ErrLineUnavailable; on failure the pin's prior state is untouched.
func (c *Controller) AttachInterrupt(pin int, mode Edge, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("pinio: attach interrupt pin %d: nil handler", pin)
	}
	edge, err := mode.lineEdge()
	if err != nil {
		return err
	}
	return c.ints.Attach(pin, edge, func(ev lineio.Event) {
		handler(Event{Pin: ev.Pin, Rising: ev.Rising, Timestamp: ev.Timestamp})
	})
}

// DetachInterrupt removes the registration on pin. Detaching an
// unregistered pin is a no-op. Once it returns, the handler will not be
// invoked again.
func (c *Controller) DetachInterrupt(pin int) error {
	return c.ints.Detach(pin)
}

// IsAttached reports whether pin has an interrupt registration.
func (c *Controller) IsAttached(pin int) bool { return c.ints.IsAttached(pin) }

// AttachedCount returns the number of interrupt registrations.
func (c *Controller) AttachedCount() int { return c.ints.Count() }

// DroppedEvents returns how many edges were discarded because handlers
// could not keep up.
func (c *Controller) DroppedEvents() int64 { return c.ints.DroppedEvents() }

// StartPWM begins a software waveform on pin using the configured engine.
// Out-of-band parameters are rejected with ErrInvalidParameter; starting a
// running pin reconfigures it in place.
func (c *Controller) StartPWM(pin int, freqHz, duty float64) error {
	if c.cfg.PWM.Engine == EngineEvent {
		return c.multi.Begin(pin, freqHz, duty)
	}
	return c.soft.Start(pin, freqHz, duty)
}

// StopPWM halts any PWM on pin, hardware or software, leaving the line at
// its idle LOW level. Stopping an inactive pin is a no-op. Once StopPWM
// returns, no further writes occur on the line.
func (c *Controller) StopPWM(pin int) error {
	if hw := c.takeHW(pin); hw != nil {
		err := hw.drv.Close()
		c.reg.Release(pin)
		return err
	}
	if err := c.multi.End(pin); err != nil {
		return err
	}
	return c.soft.Stop(pin)
}

// SetDutyCycle updates the duty on pin's channel, clamping into [0,100].
func (c *Controller) SetDutyCycle(pin int, duty float64) error {
	c.mu.Lock()
	if hw := c.hw[pin]; hw != nil {
		defer c.mu.Unlock()
		d := clampPercent(duty)
		if err := hw.drv.SetDutyPercent(d); err != nil {
			return err
		}
		hw.duty = d
		return nil
	}
	c.mu.Unlock()
	if c.multi.IsActive(pin) {
		return c.multi.SetDutyCycle(pin, duty)
	}
	if c.soft.IsActive(pin) {
		return c.soft.SetDutyCycle(pin, duty)
	}
	return fmt.Errorf("pinio: set duty pin %d: %w", pin, ErrNotActive)
}

// SetFrequency updates the frequency on pin's channel, clamping into the
// engine band.
func (c *Controller) SetFrequency(pin int, freqHz float64) error {
	c.mu.Lock()
	if hw := c.hw[pin]; hw != nil {
		defer c.mu.Unlock()
		if err := hw.drv.SetFrequency(freqHz); err != nil {
			return err
		}
		hw.freqHz = freqHz
		if err := hw.drv.SetDutyPercent(hw.duty); err != nil {
			return err
		}
		return nil
	}
	c.mu.Unlock()
	if c.multi.IsActive(pin) {
		return c.multi.SetFrequency(pin, freqHz)
	}
	if c.soft.IsActive(pin) {
		return c.soft.SetFrequency(pin, freqHz)
	}
	return fmt.Errorf("pinio: set frequency pin %d: %w", pin, ErrNotActive)
}

// IsPWMActive reports whether pin has any running PWM channel.
func (c *Controller) IsPWMActive(pin int) bool {
	c.mu.Lock()
	hw := c.hw[pin] != nil
	c.mu.Unlock()
	return hw || c.soft.IsActive(pin) || c.multi.IsActive(pin)
}

// PWMFrequency returns the configured frequency of pin's channel.
func (c *Controller) PWMFrequency(pin int) (float64, bool) {
	c.mu.Lock()
	if hw := c.hw[pin]; hw != nil {
		defer c.mu.Unlock()
		return hw.freqHz, true
	}
	c.mu.Unlock()
	if f, ok := c.multi.Frequency(pin); ok {
		return f, true
	}
	return c.soft.Frequency(pin)
}

// PWMDutyCycle returns the configured duty of pin's channel.
func (c *Controller) PWMDutyCycle(pin int) (float64, bool) {
	c.mu.Lock()
	if hw := c.hw[pin]; hw != nil {
		defer c.mu.Unlock()
		return hw.duty, true
	}
	c.mu.Unlock()
	if d, ok := c.multi.DutyCycle(pin); ok {
		return d, true
	}
	return c.soft.DutyCycle(pin)
}

// ActivePWMCount returns the number of running PWM channels across all
// backends.
func (c *Controller) ActivePWMCount() int {
	c.mu.Lock()
	hw := len(c.hw)
	c.mu.Unlock()
	return hw + c.soft.ActiveCount() + c.multi.ActiveCount()
}

// AnalogWrite emulates Arduino analogWrite: value 0..255 is clamped and
// mapped to a duty cycle at Config.PWM.AnalogWriteHz. A kernel PWM channel
// is used transparently when the pin has one and hardware PWM is enabled;
// otherwise the configured software engine takes over. Repeated calls
// update the duty in place.
func (c *Controller) AnalogWrite(pin, value int) error {
	if err := c.reg.CheckPin(pin); err != nil {
		return fmt.Errorf("pinio: analog write: %w", err)
	}
	if value < 0 {
		value = 0
	} else if value > 255 {
		value = 255
	}
	duty := float64(value) * 100 / 255

	// A pin already driven by a software channel stays on it.
	if c.soft.IsActive(pin) || c.multi.IsActive(pin) {
		return c.StartPWM(pin, c.cfg.PWM.AnalogWriteHz, duty)
	}
	if c.cfg.PWM.Hardware && hwSupportedFn(pin) {
		handled, err := c.analogWriteHW(pin, duty)
		if handled {
			return err
		}
		log.Printf("pinio: hardware pwm unavailable pin=%d, falling back to software: %v", pin, err)
	}
	return c.StartPWM(pin, c.cfg.PWM.AnalogWriteHz, duty)
}

// analogWriteHW drives pin through its kernel PWM channel. handled is
// false when the channel could not be opened and the software fallback
// should take over.
func (c *Controller) analogWriteHW(pin int, duty float64) (handled bool, err error) {
	c.mu.Lock()
	if hw := c.hw[pin]; hw != nil {
		defer c.mu.Unlock()
		if err := hw.drv.SetDutyPercent(duty); err != nil {
			return true, err
		}
		hw.duty = duty
		return true, nil
	}
	c.mu.Unlock()

	if err := c.reg.Claim(pin, pinreg.KindPWM); err != nil {
		return true, fmt.Errorf("pinio: analog write: %w", err)
	}
	drv, err := openHWFn(pin)
	if err != nil {
		c.reg.Release(pin)
		return false, err
	}
	err = drv.SetFrequency(c.cfg.PWM.AnalogWriteHz)
	if err == nil {
		err = drv.SetDutyPercent(duty)
	}
	if err == nil {
		c.mu.Lock()
		c.hw[pin] = &hwChannel{drv: drv, freqHz: c.cfg.PWM.AnalogWriteHz, duty: duty}
		c.mu.Unlock()
		return true, nil
	}
	_ = drv.Close()
	c.reg.Release(pin)
	return false, err
}

func (c *Controller) takeHW(pin int) *hwChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	hw := c.hw[pin]
	delete(c.hw, pin)
	return hw
}

// Close detaches every interrupt, stops every PWM channel, and releases
// the line service. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.ints.Close()
		c.soft.Close()
		c.multi.Close()
		c.mu.Lock()
		hw := c.hw
		c.hw = make(map[int]*hwChannel)
		c.mu.Unlock()
		for pin, h := range hw {
			_ = h.drv.Close()
			c.reg.Release(pin)
		}
		c.cancel()
		_ = c.svc.Close()
	})
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
