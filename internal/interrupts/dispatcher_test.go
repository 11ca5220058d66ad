package interrupts

import (
	"context"
	"errors"
	"testing"
	"time"

	"pinio/internal/lineio"
	"pinio/internal/pinreg"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *lineio.Sim, *pinreg.Registry) {
	t.Helper()
	sim := lineio.NewSim()
	reg := pinreg.New(27)
	d := New(sim, reg)
	d.Start(context.Background())
	t.Cleanup(d.Close)
	return d, sim, reg
}

func waitEvent(t *testing.T, ch <-chan lineio.Event) lineio.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
		return lineio.Event{}
	}
}

func TestAttachInvalidPinTouchesNoLine(t *testing.T) {
	d, sim, _ := newTestDispatcher(t)
	for _, pin := range []int{-1, 28} {
		err := d.Attach(pin, lineio.EdgeRising, func(lineio.Event) {})
		if !errors.Is(err, pinreg.ErrInvalidPin) {
			t.Errorf("Attach(%d) err=%v want ErrInvalidPin", pin, err)
		}
	}
	if got := sim.OpenCalls(); got != 0 {
		t.Fatalf("OpenCalls=%d want 0", got)
	}
}

func TestAttachRejectsSecondRegistration(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if err := d.Attach(17, lineio.EdgeRising, func(lineio.Event) {}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	err := d.Attach(17, lineio.EdgeFalling, func(lineio.Event) {})
	if !errors.Is(err, pinreg.ErrAlreadyRegistered) {
		t.Fatalf("second attach err=%v want ErrAlreadyRegistered", err)
	}
	if !d.IsAttached(17) || d.Count() != 1 {
		t.Fatalf("IsAttached=%v Count=%d, original registration disturbed", d.IsAttached(17), d.Count())
	}
}

func TestAttachLineUnavailableReleasesPin(t *testing.T) {
	d, sim, reg := newTestDispatcher(t)
	sim.FailPin(17)
	err := d.Attach(17, lineio.EdgeRising, func(lineio.Event) {})
	if !errors.Is(err, lineio.ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
	if d.IsAttached(17) {
		t.Fatal("failed attach left a registration")
	}
	if got := reg.Owner(17); got != pinreg.KindNone {
		t.Fatalf("Owner=%v want KindNone", got)
	}
}

func TestAttachRejectsNilHandlerAndNoEdge(t *testing.T) {
	d, sim, _ := newTestDispatcher(t)
	if err := d.Attach(17, lineio.EdgeRising, nil); err == nil {
		t.Fatal("nil handler accepted")
	}
	if err := d.Attach(17, lineio.EdgeNone, func(lineio.Event) {}); err == nil {
		t.Fatal("EdgeNone accepted")
	}
	if got := sim.OpenCalls(); got != 0 {
		t.Fatalf("OpenCalls=%d want 0", got)
	}
}

func TestEdgeDelivery(t *testing.T) {
	d, sim, _ := newTestDispatcher(t)
	got := make(chan lineio.Event, 16)
	if err := d.Attach(17, lineio.EdgeRising, func(ev lineio.Event) { got <- ev }); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !sim.Trigger(17, true) {
			t.Fatalf("trigger %d not accepted", i)
		}
		ev := waitEvent(t, got)
		if ev.Pin != 17 || !ev.Rising {
			t.Fatalf("event=%+v want rising on 17", ev)
		}
	}
	// The line was requested rising-only; falling edges never reach it.
	if sim.Trigger(17, false) {
		t.Fatal("falling edge delivered to rising-only registration")
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	d, sim, reg := newTestDispatcher(t)
	got := make(chan lineio.Event, 16)
	if err := d.Attach(17, lineio.EdgeBoth, func(ev lineio.Event) { got <- ev }); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	sim.Trigger(17, true)
	waitEvent(t, got)

	if err := d.Detach(17); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if d.IsAttached(17) {
		t.Fatal("still attached after Detach")
	}
	if got := reg.Owner(17); got != pinreg.KindNone {
		t.Fatalf("Owner=%v want KindNone", got)
	}
	if sim.Trigger(17, true) {
		t.Fatal("line still open after Detach")
	}
	select {
	case ev := <-got:
		t.Fatalf("event %+v delivered after Detach returned", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// Detaching again, or a never-attached pin, is a no-op.
	if err := d.Detach(17); err != nil {
		t.Fatalf("second Detach: %v", err)
	}
	if err := d.Detach(5); err != nil {
		t.Fatalf("Detach of unattached pin: %v", err)
	}
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	d, sim, _ := newTestDispatcher(t)
	if err := d.Attach(1, lineio.EdgeRising, func(lineio.Event) { panic("boom") }); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	got := make(chan lineio.Event, 16)
	if err := d.Attach(2, lineio.EdgeRising, func(ev lineio.Event) { got <- ev }); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	sim.Trigger(1, true)
	sim.Trigger(2, true)
	ev := waitEvent(t, got)
	if ev.Pin != 2 {
		t.Fatalf("event=%+v want pin 2", ev)
	}
}

func TestCloseDrainsRegistrations(t *testing.T) {
	sim := lineio.NewSim()
	reg := pinreg.New(27)
	d := New(sim, reg)
	d.Start(context.Background())

	for _, pin := range []int{3, 4} {
		if err := d.Attach(pin, lineio.EdgeBoth, func(lineio.Event) {}); err != nil {
			t.Fatalf("Attach(%d): %v", pin, err)
		}
	}
	d.Close()
	d.Close() // idempotent

	for _, pin := range []int{3, 4} {
		if sim.IsOpen(pin) {
			t.Errorf("pin %d still open after Close", pin)
		}
		if got := reg.Owner(pin); got != pinreg.KindNone {
			t.Errorf("Owner(%d)=%v want KindNone", pin, got)
		}
	}
	if got := d.Count(); got != 0 {
		t.Fatalf("Count=%d want 0", got)
	}
}

func TestAttachDetachChurn(t *testing.T) {
	d, sim, _ := newTestDispatcher(t)
	got := make(chan lineio.Event, 64)
	for i := 0; i < 50; i++ {
		if err := d.Attach(9, lineio.EdgeBoth, func(ev lineio.Event) { got <- ev }); err != nil {
			t.Fatalf("Attach round %d: %v", i, err)
		}
		sim.Trigger(9, i%2 == 0)
		if err := d.Detach(9); err != nil {
			t.Fatalf("Detach round %d: %v", i, err)
		}
	}
	if d.Count() != 0 {
		t.Fatalf("Count=%d want 0", d.Count())
	}
}
