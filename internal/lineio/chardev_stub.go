//go:build !linux

package lineio

import "fmt"

// Stub for non-Linux platforms: the GPIO character device does not exist,
// so every open fails. Sim remains available everywhere.
type Chardev struct{}

func NewChardev(chip, consumer string) *Chardev { return &Chardev{} }

func (c *Chardev) OpenOutput(pin int, initialHigh bool) (Output, error) {
	return nil, fmt.Errorf("lineio: gpio character device unsupported on this platform: %w", ErrUnavailable)
}

func (c *Chardev) OpenInput(pin int, edge Edge, deliver func(Event)) (Input, error) {
	return nil, fmt.Errorf("lineio: gpio character device unsupported on this platform: %w", ErrUnavailable)
}

func (c *Chardev) Close() error { return nil }
