// Package eventpwm provides the same PWM contract as softpwm but
// multiplexes every channel onto one scheduling goroutine. Toggles are
// ordered by a deadline min-heap; the goroutine sleeps until the earliest
// deadline, toggles that line, and re-inserts the channel with its next
// deadline. Jitter is coarser than the thread-per-channel engine (timed
// sleep, no busy-wait tail), but cost stays flat as channels are added.
package eventpwm

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"pinio/internal/lineio"
	"pinio/internal/pinreg"
	"pinio/internal/pwm"
)

type channel struct {
	pin int
	out lineio.Output

	freqHz float64
	duty   float64
	level  bool

	// seq is the current schedule generation; bumping it orphans any
	// queued entry for this channel.
	seq uint64

	// parked is set while the duty sits at a rail (0 or 100): the level
	// is held and nothing is scheduled until a parameter change.
	parked bool
}

// Engine multiplexes all channels on one goroutine. Construct with New,
// then Start; Close ends every channel.
type Engine struct {
	svc lineio.Service
	reg *pinreg.Registry

	mu       sync.Mutex
	channels map[int]*channel
	sched    schedule

	// toggleMu serializes line writes from the scheduler. End takes it
	// after removing the channel, so by the time End returns any in-flight
	// toggle has finished and no new write can land on that line.
	toggleMu sync.Mutex

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(svc lineio.Service, reg *pinreg.Registry) *Engine {
	return &Engine{
		svc:      svc,
		reg:      reg,
		channels: make(map[int]*channel),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduling goroutine. It runs until Close is called
// or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()
}

// Begin starts a waveform on pin. Frequency and duty are validated
// strictly against the engine band; out-of-band values are rejected with
// no side effect. Beginning an already-running pin reconfigures it in
// place, matching the thread engine's contract.
func (e *Engine) Begin(pin int, freqHz, duty float64) error {
	if err := e.reg.CheckPin(pin); err != nil {
		return fmt.Errorf("eventpwm: begin: %w", err)
	}
	if !pwm.ValidFrequency(freqHz, pwm.MaxEventFrequencyHz) || !pwm.ValidDuty(duty) {
		return fmt.Errorf("eventpwm: begin pin %d: frequency=%g duty=%g: %w",
			pin, freqHz, duty, pwm.ErrInvalidParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ch := e.channels[pin]; ch != nil {
		ch.freqHz = freqHz
		ch.duty = duty
		e.rescheduleLocked(ch)
		return nil
	}
	if err := e.reg.Claim(pin, pinreg.KindPWM); err != nil {
		return fmt.Errorf("eventpwm: begin: %w", err)
	}
	out, err := e.svc.OpenOutput(pin, false)
	if err != nil {
		e.reg.Release(pin)
		return fmt.Errorf("eventpwm: begin pin %d: %w", pin, err)
	}
	ch := &channel{pin: pin, out: out, freqHz: freqHz, duty: duty, seq: 1}
	e.channels[pin] = ch
	heap.Push(&e.sched, &entry{pin: pin, at: time.Now(), seq: ch.seq})
	e.kick()
	return nil
}

// End removes the channel on pin, drives the line to its idle LOW level,
// and releases the handle. Once End returns no further writes occur.
// Ending an inactive pin is a no-op.
func (e *Engine) End(pin int) error {
	e.mu.Lock()
	ch := e.channels[pin]
	delete(e.channels, pin)
	if ch != nil {
		ch.seq++ // orphan any queued entry
	}
	e.mu.Unlock()
	if ch == nil {
		return nil
	}
	e.kick()
	// Wait out an in-flight toggle; fire re-checks the channel map under
	// toggleMu, so no write can start after this.
	e.toggleMu.Lock()
	e.toggleMu.Unlock() //nolint:staticcheck // empty section is the barrier
	_ = ch.out.SetLevel(false)
	_ = ch.out.Close()
	e.reg.Release(pin)
	return nil
}

// SetDutyCycle updates the duty of a running channel, clamping into
// [0,100]. A channel mid-pulse keeps its queued deadline; the new duty is
// picked up when that deadline fires, never retroactively.
func (e *Engine) SetDutyCycle(pin int, duty float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[pin]
	if ch == nil {
		return fmt.Errorf("eventpwm: set duty pin %d: %w", pin, pwm.ErrNotActive)
	}
	ch.duty = pwm.ClampDuty(duty)
	if ch.parked {
		e.rescheduleLocked(ch)
	}
	return nil
}

// SetFrequency updates the frequency of a running channel, clamping into
// the engine band.
func (e *Engine) SetFrequency(pin int, freqHz float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[pin]
	if ch == nil {
		return fmt.Errorf("eventpwm: set frequency pin %d: %w", pin, pwm.ErrNotActive)
	}
	ch.freqHz = pwm.ClampFrequency(freqHz, pwm.MaxEventFrequencyHz)
	if ch.parked {
		e.rescheduleLocked(ch)
	}
	return nil
}

// IsActive reports whether pin has a running channel.
func (e *Engine) IsActive(pin int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channels[pin] != nil
}

// Frequency returns the configured frequency of pin's channel.
func (e *Engine) Frequency(pin int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[pin]
	if ch == nil {
		return 0, false
	}
	return ch.freqHz, true
}

// DutyCycle returns the configured duty of pin's channel.
func (e *Engine) DutyCycle(pin int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[pin]
	if ch == nil {
		return 0, false
	}
	return ch.duty, true
}

// ActiveCount returns the number of running channels.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Close stops the scheduling goroutine and ends every channel. Safe to
// call more than once.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()

	e.mu.Lock()
	pins := make([]int, 0, len(e.channels))
	for pin := range e.channels {
		pins = append(pins, pin)
	}
	e.mu.Unlock()
	for _, pin := range pins {
		_ = e.End(pin)
	}
}

// rescheduleLocked replaces any queued entry for ch with an immediate one.
// Used when a parked channel gains toggling parameters or a running
// channel is reconfigured wholesale.
func (e *Engine) rescheduleLocked(ch *channel) {
	ch.seq++
	ch.parked = false
	heap.Push(&e.sched, &entry{pin: ch.pin, at: time.Now(), seq: ch.seq})
	e.kick()
}

func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer stopTimer(timer)

	for {
		e.mu.Lock()
		var next *entry
		if len(e.sched) > 0 {
			next = e.sched[0]
		}
		e.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-e.wake:
			}
			continue
		}

		if wait := time.Until(next.at); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				stopTimer(timer)
				return
			case <-e.stopCh:
				stopTimer(timer)
				return
			case <-e.wake:
				// Deadlines changed; recompute the earliest.
				stopTimer(timer)
				continue
			case <-timer.C:
			}
		}
		e.fire()
	}
}

// fire pops the earliest deadline and performs its toggle. The registry
// lock is never held across the line write; toggleMu covers the write so
// End can act as a barrier.
func (e *Engine) fire() {
	e.toggleMu.Lock()
	defer e.toggleMu.Unlock()

	e.mu.Lock()
	if len(e.sched) == 0 {
		e.mu.Unlock()
		return
	}
	en := heap.Pop(&e.sched).(*entry)
	ch := e.channels[en.pin]
	if ch == nil || ch.seq != en.seq {
		// Stale: the channel ended or was rescheduled since this entry
		// was queued.
		e.mu.Unlock()
		return
	}
	if ch.duty <= 0 || ch.duty >= 100 {
		// Rail: hold the level, schedule nothing until parameters change.
		ch.parked = true
		ch.level = ch.duty >= 100
		out, level := ch.out, ch.level
		e.mu.Unlock()
		_ = out.SetLevel(level)
		return
	}
	ch.parked = false
	ch.level = !ch.level
	high, low := pwm.Split(ch.freqHz, ch.duty)
	hold := low
	if ch.level {
		hold = high
	}
	// Schedule from the nominal deadline to avoid drift, unless we are
	// already behind by more than the hold.
	at := en.at.Add(hold)
	if now := time.Now(); at.Before(now) {
		at = now.Add(hold)
	}
	heap.Push(&e.sched, &entry{pin: ch.pin, at: at, seq: ch.seq})
	out, level := ch.out, ch.level
	e.mu.Unlock()

	_ = out.SetLevel(level)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
