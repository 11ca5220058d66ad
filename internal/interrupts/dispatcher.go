// Package interrupts delivers edge-triggered notifications for a
// dynamically changing set of input lines from exactly one dispatcher
// goroutine, regardless of how many pins are registered.
package interrupts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"pinio/internal/lineio"
	"pinio/internal/pinreg"
)

// Handler receives edge events on the dispatcher goroutine. Handlers for
// all pins share that one goroutine and run serially: they must be fast
// and must not block, or they delay delivery for every other pin. A panic
// in a handler is recovered and logged; it never stops delivery to other
// pins. Handlers must not call back into the Dispatcher.
type Handler func(lineio.Event)

// eventBuffer is the capacity of the funnel between the backend watchers
// and the dispatcher goroutine. When a slow handler lets it fill, further
// edges are dropped (and counted) rather than blocking the kernel-side
// watcher.
const eventBuffer = 64

type registration struct {
	pin     int
	handler Handler
	line    lineio.Input
}

// Dispatcher monitors registered input lines and invokes their handlers.
// Construct with New, then Start; Close drains remaining registrations.
type Dispatcher struct {
	svc lineio.Service
	reg *pinreg.Registry

	mu   sync.Mutex
	regs map[int]*registration

	// deliverMu serializes handler invocation. Detach takes it after
	// removing the registration, so by the time Detach returns any
	// in-flight call for that pin has finished and no new one can start.
	deliverMu sync.Mutex

	events   chan lineio.Event
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	dropped  atomic.Int64
}

func New(svc lineio.Service, reg *pinreg.Registry) *Dispatcher {
	return &Dispatcher{
		svc:    svc,
		reg:    reg,
		regs:   make(map[int]*registration),
		events: make(chan lineio.Event, eventBuffer),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine. The goroutine runs until Close
// is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.wake:
			// The monitored set changed; nothing to rebuild beyond
			// re-entering the wait with current state.
		case ev := <-d.events:
			d.dispatch(ev)
		}
	}
}

func (d *Dispatcher) dispatch(ev lineio.Event) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	r := d.regs[ev.Pin]
	d.mu.Unlock()
	if r == nil {
		// Raced with a detach; the event is stale.
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("interrupts: handler panic pin=%d: %v", ev.Pin, p)
		}
	}()
	r.handler(ev)
}

// deliver is handed to the backend for each opened input. It runs on a
// backend-owned goroutine and must not block.
func (d *Dispatcher) deliver(ev lineio.Event) {
	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Attach registers handler for edge events on pin. It fails if the pin is
// out of range, already has a consumer, or the line cannot be opened; in
// every failure case the pin's prior state is untouched.
func (d *Dispatcher) Attach(pin int, edge lineio.Edge, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("interrupts: attach pin %d: nil handler", pin)
	}
	if edge == lineio.EdgeNone {
		return fmt.Errorf("interrupts: attach pin %d: edge mode required", pin)
	}
	if err := d.reg.Claim(pin, pinreg.KindInterrupt); err != nil {
		return fmt.Errorf("interrupts: attach: %w", err)
	}
	line, err := d.svc.OpenInput(pin, edge, d.deliver)
	if err != nil {
		d.reg.Release(pin)
		return fmt.Errorf("interrupts: attach pin %d: %w", pin, err)
	}
	// Wake before mutating so a blocked wait re-reads the set immediately
	// instead of on the next unrelated event.
	d.kick()
	d.mu.Lock()
	d.regs[pin] = &registration{pin: pin, handler: handler, line: line}
	d.mu.Unlock()
	return nil
}

// Detach removes the registration on pin and releases its line. Detaching
// an unregistered pin is a no-op, not an error. Once Detach returns, the
// handler will not be invoked again.
func (d *Dispatcher) Detach(pin int) error {
	d.kick()
	d.mu.Lock()
	r := d.regs[pin]
	delete(d.regs, pin)
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	// Wait out an in-flight handler call for this pin. dispatch re-checks
	// the registration map under deliverMu, so nothing starts after this.
	d.deliverMu.Lock()
	d.deliverMu.Unlock() //nolint:staticcheck // empty section is the barrier
	_ = r.line.Close()
	d.reg.Release(pin)
	return nil
}

// IsAttached reports whether pin has an active registration.
func (d *Dispatcher) IsAttached(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[pin] != nil
}

// Count returns the number of active registrations.
func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regs)
}

// DroppedEvents returns how many edges were discarded because the funnel
// was full.
func (d *Dispatcher) DroppedEvents() int64 { return d.dropped.Load() }

func (d *Dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher goroutine and drains every remaining
// registration. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()

	d.mu.Lock()
	regs := make([]*registration, 0, len(d.regs))
	for _, r := range d.regs {
		regs = append(regs, r)
	}
	d.regs = make(map[int]*registration)
	d.mu.Unlock()
	for _, r := range regs {
		_ = r.line.Close()
		d.reg.Release(r.pin)
	}
}
