// Package lineio is the line access service: it owns all contact with the
// GPIO hardware and mints single-owner handles for individual lines, keyed
// by BCM pin number. The timing engines never touch the character device
// directly; they only hold handles obtained here.
package lineio

import (
	"errors"
	"time"
)

// Edge selects which transitions an input line reports.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Event is one hardware-reported transition on an input line.
type Event struct {
	Pin    int
	Rising bool

	// Timestamp is suitable for measuring intervals between events on the
	// same line, not as an absolute wall-clock time.
	Timestamp time.Duration
}

// Output is an open output line. A handle has exactly one owner; Close
// releases the line for other consumers.
type Output interface {
	SetLevel(high bool) error
	Close() error
}

// Input is an open input line with edge detection enabled.
type Input interface {
	Level() (bool, error)
	Close() error
}

// Service mints line handles by pin number. The production implementation
// is the gpiocdev-backed Chardev; tests use Sim.
//
// OpenInput delivers edge events by calling deliver from a backend-owned
// goroutine, one event at a time per line. deliver must not block.
type Service interface {
	OpenOutput(pin int, initialHigh bool) (Output, error)
	OpenInput(pin int, edge Edge, deliver func(Event)) (Input, error)
	Close() error
}

// ErrUnavailable indicates the underlying line could not be opened: the
// line does not exist on any chip, is held by another consumer, or the
// process lacks permission.
var ErrUnavailable = errors.New("line unavailable")
