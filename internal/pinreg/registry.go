// Package pinreg tracks which consumer owns each GPIO pin. A pin has at
// most one active consumer at a time: an interrupt registration or a PWM
// channel, never both. Claim and Release are the single choke point the
// dispatcher and both PWM engines go through, so exclusivity is enforced
// atomically with respect to concurrent attach/detach and start/stop.
package pinreg

import (
	"errors"
	"fmt"
	"sync"
)

// Kind identifies the consumer holding a pin.
type Kind int

const (
	KindNone Kind = iota
	KindInterrupt
	KindPWM
)

var (
	// ErrInvalidPin indicates a pin number outside the supported range.
	// It is checked before any hardware access.
	ErrInvalidPin = errors.New("pin outside supported range")

	// ErrAlreadyRegistered indicates the pin already has an interrupt
	// registration. Callers must detach first; a second attach never
	// silently replaces the first.
	ErrAlreadyRegistered = errors.New("pin already has an interrupt registration")

	// ErrAlreadyActive indicates the pin already has an active PWM channel.
	ErrAlreadyActive = errors.New("pin already has an active PWM channel")
)

// Registry is the shared pin-ownership map. The zero value is not usable;
// construct with New.
type Registry struct {
	maxPin int

	mu     sync.Mutex
	owners map[int]Kind
}

// New returns a Registry accepting pins 0..maxPin inclusive.
func New(maxPin int) *Registry {
	return &Registry{maxPin: maxPin, owners: make(map[int]Kind)}
}

// MaxPin returns the highest supported pin number.
func (r *Registry) MaxPin() int { return r.maxPin }

// CheckPin validates the pin number against the supported range.
func (r *Registry) CheckPin(pin int) error {
	if pin < 0 || pin > r.maxPin {
		return fmt.Errorf("pin %d: %w", pin, ErrInvalidPin)
	}
	return nil
}

// Claim records kind as the owner of pin. It fails if the pin is out of
// range or already owned; the error names the kind of the existing owner.
func (r *Registry) Claim(pin int, kind Kind) error {
	if err := r.CheckPin(pin); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.owners[pin]; ok {
		if existing == KindInterrupt {
			return fmt.Errorf("pin %d: %w", pin, ErrAlreadyRegistered)
		}
		return fmt.Errorf("pin %d: %w", pin, ErrAlreadyActive)
	}
	r.owners[pin] = kind
	return nil
}

// Release removes the owner of pin. Releasing an unowned pin is a no-op.
func (r *Registry) Release(pin int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, pin)
}

// Owner returns the current owner kind of pin, KindNone if unowned.
func (r *Registry) Owner(pin int) Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[pin]
}

// Count returns how many pins are currently owned by kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.owners {
		if k == kind {
			n++
		}
	}
	return n
}
