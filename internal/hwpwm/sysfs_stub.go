//go:build !linux

package hwpwm

import "fmt"

// Stub for non-Linux platforms: no kernel PWM exists, so nothing is
// supported and the software engines always take over.

type Output struct{}

func Supported(pin int) bool { return false }

func Open(pin int) (*Output, error) {
	return nil, fmt.Errorf("hwpwm: kernel pwm unsupported on this platform")
}

func (d *Output) SetFrequency(hz float64) error  { return fmt.Errorf("hwpwm: unsupported") }
func (d *Output) SetDutyPercent(p float64) error { return fmt.Errorf("hwpwm: unsupported") }
func (d *Output) Close() error                   { return nil }
