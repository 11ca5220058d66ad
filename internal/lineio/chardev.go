//go:build linux

package lineio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// Chardev drives lines through the Linux GPIO character device using
// go-gpiocdev. Pins are BCM numbers resolved through the "GPIO%d" line
// names Raspberry Pi kernels expose, so the right chip is found even on
// Pi 5 variants that move the header GPIOs between gpiochips.
type Chardev struct {
	chip     string // explicit chip name or path; "" means discover
	consumer string
}

// NewChardev returns a character-device backed Service. chip may be empty,
// in which case every /dev/gpiochip* is tried in a preferred order.
// consumer is the label attached to requested lines.
func NewChardev(chip, consumer string) *Chardev {
	if consumer == "" {
		consumer = "pinio"
	}
	return &Chardev{chip: chip, consumer: consumer}
}

func (c *Chardev) candidates() []string {
	if c.chip != "" {
		if strings.HasPrefix(c.chip, "/dev/") {
			return []string{c.chip}
		}
		return []string{filepath.Join("/dev", c.chip)}
	}
	// Try likely chips first; header GPIOs are usually on gpiochip0, but
	// some Pi 5 kernels expose them on gpiochip4.
	cands := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			cands = append(cands, filepath.Join("/dev", name))
		}
	}
	return cands
}

func (c *Chardev) request(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	lineName := fmt.Sprintf("GPIO%d", pin)
	opts = append([]gpiocdev.LineReqOption{gpiocdev.WithConsumer(c.consumer)}, opts...)
	for _, chipPath := range c.candidates() {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("lineio: line %q not found (or busy): %w", lineName, ErrUnavailable)
}

func (c *Chardev) OpenOutput(pin int, initialHigh bool) (Output, error) {
	v := 0
	if initialHigh {
		v = 1
	}
	chip, line, err := c.request(pin, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, err
	}
	return &chardevLine{chip: chip, line: line}, nil
}

func (c *Chardev) OpenInput(pin int, edge Edge, deliver func(Event)) (Input, error) {
	var edgeOpt gpiocdev.LineReqOption
	switch edge {
	case EdgeRising:
		edgeOpt = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edgeOpt = gpiocdev.WithFallingEdge
	case EdgeBoth:
		edgeOpt = gpiocdev.WithBothEdges
	default:
		return nil, fmt.Errorf("lineio: open input pin %d: edge mode required", pin)
	}
	eh := func(evt gpiocdev.LineEvent) {
		deliver(Event{
			Pin:       pin,
			Rising:    evt.Type == gpiocdev.LineEventRisingEdge,
			Timestamp: evt.Timestamp,
		})
	}
	chip, line, err := c.request(pin, gpiocdev.AsInput, edgeOpt, gpiocdev.WithEventHandler(eh))
	if err != nil {
		return nil, err
	}
	return &chardevLine{chip: chip, line: line}, nil
}

// Close is a no-op: handles own their chip references and release them
// individually.
func (c *Chardev) Close() error { return nil }

type chardevLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (l *chardevLine) SetLevel(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return l.line.SetValue(v)
}

func (l *chardevLine) Level() (bool, error) {
	v, err := l.line.Value()
	return v != 0, err
}

func (l *chardevLine) Close() error {
	err := l.line.Close()
	_ = l.chip.Close()
	return err
}
