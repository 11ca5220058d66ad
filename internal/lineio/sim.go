package lineio

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory Service for tests and for development away from
// hardware. It enforces the kernel's one-consumer-per-line rule, records
// opens and writes, and lets callers inject edge events on input lines.
type Sim struct {
	mu     sync.Mutex
	levels map[int]bool
	open   map[int]bool
	inputs map[int]*simInput
	watch  map[int]chan bool
	writes map[int]int
	fail   map[int]bool
	opens  int
	start  time.Time
}

func NewSim() *Sim {
	return &Sim{
		levels: make(map[int]bool),
		open:   make(map[int]bool),
		inputs: make(map[int]*simInput),
		watch:  make(map[int]chan bool),
		writes: make(map[int]int),
		fail:   make(map[int]bool),
		start:  time.Now(),
	}
}

func (s *Sim) OpenOutput(pin int, initialHigh bool) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if err := s.claimLocked(pin); err != nil {
		return nil, err
	}
	s.levels[pin] = initialHigh
	return &simOutput{s: s, pin: pin}, nil
}

func (s *Sim) OpenInput(pin int, edge Edge, deliver func(Event)) (Input, error) {
	if edge == EdgeNone {
		return nil, fmt.Errorf("lineio: open input pin %d: edge mode required", pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if err := s.claimLocked(pin); err != nil {
		return nil, err
	}
	in := &simInput{s: s, pin: pin, edge: edge, deliver: deliver}
	s.inputs[pin] = in
	return in, nil
}

func (s *Sim) claimLocked(pin int) error {
	if s.fail[pin] {
		return fmt.Errorf("lineio: pin %d: %w", pin, ErrUnavailable)
	}
	if s.open[pin] {
		return fmt.Errorf("lineio: pin %d busy: %w", pin, ErrUnavailable)
	}
	s.open[pin] = true
	return nil
}

func (s *Sim) Close() error { return nil }

// FailPin makes subsequent opens of pin fail with ErrUnavailable,
// simulating a busy or permission-restricted line.
func (s *Sim) FailPin(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[pin] = true
}

// Trigger injects an edge on pin and reports whether an open input with a
// matching edge mode received it.
func (s *Sim) Trigger(pin int, rising bool) bool {
	s.mu.Lock()
	s.levels[pin] = rising
	in := s.inputs[pin]
	var deliver func(Event)
	if in != nil && in.wants(rising) {
		deliver = in.deliver
	}
	ts := time.Since(s.start)
	s.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(Event{Pin: pin, Rising: rising, Timestamp: ts})
	return true
}

// OpenCalls returns the total number of open attempts, including failed
// ones. Tests use it to prove validation happens before any hardware call.
func (s *Sim) OpenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// IsOpen reports whether pin currently has an owner.
func (s *Sim) IsOpen(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[pin]
}

// Level returns the last driven or injected level on pin.
func (s *Sim) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// WriteCount returns how many times pin has been written.
func (s *Sim) WriteCount(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[pin]
}

// Watch returns a channel receiving every level written to pin. The
// channel is buffered; once full, further writes are still recorded in
// WriteCount but not queued.
func (s *Sim) Watch(pin int) <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchLocked(pin)
}

func (s *Sim) watchLocked(pin int) chan bool {
	ch := s.watch[pin]
	if ch == nil {
		ch = make(chan bool, 64)
		s.watch[pin] = ch
	}
	return ch
}

type simOutput struct {
	s      *Sim
	pin    int
	mu     sync.Mutex
	closed bool
}

func (o *simOutput) SetLevel(high bool) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return fmt.Errorf("lineio: pin %d: write on closed line", o.pin)
	}
	o.s.mu.Lock()
	o.s.levels[o.pin] = high
	o.s.writes[o.pin]++
	ch := o.s.watchLocked(o.pin)
	o.s.mu.Unlock()
	select {
	case ch <- high:
	default:
	}
	return nil
}

func (o *simOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	o.s.mu.Lock()
	delete(o.s.open, o.pin)
	o.s.mu.Unlock()
	return nil
}

type simInput struct {
	s       *Sim
	pin     int
	edge    Edge
	deliver func(Event)
	closed  bool
}

func (in *simInput) wants(rising bool) bool {
	switch in.edge {
	case EdgeRising:
		return rising
	case EdgeFalling:
		return !rising
	case EdgeBoth:
		return true
	default:
		return false
	}
}

func (in *simInput) Level() (bool, error) {
	in.s.mu.Lock()
	defer in.s.mu.Unlock()
	if in.closed {
		return false, fmt.Errorf("lineio: pin %d: read on closed line", in.pin)
	}
	return in.s.levels[in.pin], nil
}

func (in *simInput) Close() error {
	in.s.mu.Lock()
	defer in.s.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	delete(in.s.open, in.pin)
	if in.s.inputs[in.pin] == in {
		delete(in.s.inputs, in.pin)
	}
	return nil
}
