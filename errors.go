package pinio

import (
	"pinio/internal/lineio"
	"pinio/internal/pinreg"
	"pinio/internal/pwm"
)

// Errors reported by the controller. All are sentinel values usable with
// errors.Is; returned errors wrap them with call context.
var (
	// ErrInvalidPin indicates a pin number outside the supported range.
	// It is reported before any hardware access.
	ErrInvalidPin = pinreg.ErrInvalidPin

	// ErrAlreadyRegistered indicates AttachInterrupt on a pin that already
	// has a registration. Detach first; attach never silently replaces.
	ErrAlreadyRegistered = pinreg.ErrAlreadyRegistered

	// ErrAlreadyActive indicates an exclusivity violation with an active
	// PWM channel on the pin.
	ErrAlreadyActive = pinreg.ErrAlreadyActive

	// ErrLineUnavailable indicates the underlying GPIO line could not be
	// opened (missing, busy, or permission denied).
	ErrLineUnavailable = lineio.ErrUnavailable

	// ErrInvalidParameter indicates a frequency or duty cycle outside the
	// engine's accepted band at creation time.
	ErrInvalidParameter = pwm.ErrInvalidParameter

	// ErrNotActive indicates a PWM update on a pin with no running channel.
	ErrNotActive = pwm.ErrNotActive
)
