package eventpwm

import (
	"context"
	"errors"
	"testing"
	"time"

	"pinio/internal/lineio"
	"pinio/internal/pinreg"
	"pinio/internal/pwm"
)

func newTestEngine(t *testing.T) (*Engine, *lineio.Sim, *pinreg.Registry) {
	t.Helper()
	sim := lineio.NewSim()
	reg := pinreg.New(27)
	e := New(sim, reg)
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e, sim, reg
}

func waitLevel(t *testing.T, w <-chan bool, want bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case lvl := <-w:
			if lvl == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for level %v", want)
		}
	}
}

func TestBeginValidatesStrictly(t *testing.T) {
	e, sim, _ := newTestEngine(t)

	for _, pin := range []int{-1, 28} {
		if err := e.Begin(pin, 100, 50); !errors.Is(err, pinreg.ErrInvalidPin) {
			t.Errorf("Begin(%d) err=%v want ErrInvalidPin", pin, err)
		}
	}
	cases := []struct{ freq, duty float64 }{
		{0, 50}, {0.05, 50}, {5000, 50}, {100, -1}, {100, 101},
	}
	for _, tc := range cases {
		err := e.Begin(17, tc.freq, tc.duty)
		if !errors.Is(err, pwm.ErrInvalidParameter) {
			t.Errorf("Begin(freq=%g duty=%g) err=%v want ErrInvalidParameter", tc.freq, tc.duty, err)
		}
	}
	if e.IsActive(17) {
		t.Fatal("rejected Begin left an active channel")
	}
	if got := sim.OpenCalls(); got != 0 {
		t.Fatalf("OpenCalls=%d want 0, rejected begins must not touch the line", got)
	}
}

func TestBeginTogglesAndEndIdlesLow(t *testing.T) {
	e, sim, reg := newTestEngine(t)
	w := sim.Watch(17)

	if err := e.Begin(17, 250, 50); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !e.IsActive(17) {
		t.Fatal("IsActive=false after Begin")
	}
	if f, ok := e.Frequency(17); !ok || f != 250 {
		t.Fatalf("Frequency=%g,%v want 250,true", f, ok)
	}
	if d, ok := e.DutyCycle(17); !ok || d != 50 {
		t.Fatalf("DutyCycle=%g,%v want 50,true", d, ok)
	}

	waitLevel(t, w, true)
	waitLevel(t, w, false)
	waitLevel(t, w, true)

	if err := e.End(17); err != nil {
		t.Fatalf("End: %v", err)
	}
	if e.IsActive(17) {
		t.Fatal("IsActive=true after End")
	}
	if sim.Level(17) {
		t.Fatal("line HIGH after End, want idle LOW")
	}
	if sim.IsOpen(17) {
		t.Fatal("line still open after End")
	}
	if got := reg.Owner(17); got != pinreg.KindNone {
		t.Fatalf("Owner=%v want KindNone", got)
	}

	n := sim.WriteCount(17)
	time.Sleep(20 * time.Millisecond)
	if got := sim.WriteCount(17); got != n {
		t.Fatalf("WriteCount moved from %d to %d after End returned", n, got)
	}

	if err := e.End(17); err != nil {
		t.Fatalf("second End: %v", err)
	}
}

func TestMultipleChannelsShareScheduler(t *testing.T) {
	e, sim, _ := newTestEngine(t)
	w1 := sim.Watch(1)
	w2 := sim.Watch(2)

	if err := e.Begin(1, 200, 50); err != nil {
		t.Fatalf("Begin(1): %v", err)
	}
	if err := e.Begin(2, 100, 50); err != nil {
		t.Fatalf("Begin(2): %v", err)
	}
	if got := e.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount=%d want 2", got)
	}

	// Both lines must keep toggling from the single goroutine.
	for i := 0; i < 2; i++ {
		waitLevel(t, w1, true)
		waitLevel(t, w1, false)
		waitLevel(t, w2, true)
		waitLevel(t, w2, false)
	}

	if err := e.End(1); err != nil {
		t.Fatalf("End(1): %v", err)
	}
	// The survivor keeps running.
	waitLevel(t, w2, true)
	waitLevel(t, w2, false)
}

func TestDutyRailsParkTheChannel(t *testing.T) {
	e, sim, _ := newTestEngine(t)

	w0 := sim.Watch(5)
	if err := e.Begin(5, 100, 0); err != nil {
		t.Fatalf("Begin duty=0: %v", err)
	}
	waitLevel(t, w0, false)
	if !e.IsActive(5) {
		t.Fatal("duty=0 channel must stay active while parked")
	}

	w100 := sim.Watch(6)
	if err := e.Begin(6, 100, 100); err != nil {
		t.Fatalf("Begin duty=100: %v", err)
	}
	waitLevel(t, w100, true)

	n0, n100 := sim.WriteCount(5), sim.WriteCount(6)
	time.Sleep(50 * time.Millisecond)
	if got := sim.WriteCount(5); got != n0 {
		t.Errorf("duty=0 pin toggled: writes %d -> %d", n0, got)
	}
	if got := sim.WriteCount(6); got != n100 {
		t.Errorf("duty=100 pin toggled: writes %d -> %d", n100, got)
	}
	if sim.Level(5) || !sim.Level(6) {
		t.Fatalf("levels=%v,%v want false,true", sim.Level(5), sim.Level(6))
	}
}

func TestParkedChannelResumesOnDutyChange(t *testing.T) {
	e, sim, _ := newTestEngine(t)
	w := sim.Watch(7)
	if err := e.Begin(7, 200, 100); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	waitLevel(t, w, true)

	if err := e.SetDutyCycle(7, 50); err != nil {
		t.Fatalf("SetDutyCycle: %v", err)
	}
	waitLevel(t, w, false)
	waitLevel(t, w, true)
}

func TestBeginReconfiguresInPlace(t *testing.T) {
	e, sim, _ := newTestEngine(t)
	if err := e.Begin(17, 200, 50); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.Begin(17, 100, 25); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if f, _ := e.Frequency(17); f != 100 {
		t.Fatalf("Frequency=%g want 100", f)
	}
	if d, _ := e.DutyCycle(17); d != 25 {
		t.Fatalf("DutyCycle=%g want 25", d)
	}
	if got := sim.OpenCalls(); got != 1 {
		t.Fatalf("OpenCalls=%d want 1, restart must reuse the handle", got)
	}
}

func TestUpdatesClampRunningChannel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.Begin(17, 200, 50); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := e.SetDutyCycle(17, -5); err != nil {
		t.Fatalf("SetDutyCycle: %v", err)
	}
	if d, _ := e.DutyCycle(17); d != 0 {
		t.Fatalf("DutyCycle=%g want clamp to 0", d)
	}
	if err := e.SetFrequency(17, 9000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if f, _ := e.Frequency(17); f != pwm.MaxEventFrequencyHz {
		t.Fatalf("Frequency=%g want clamp to %g", f, float64(pwm.MaxEventFrequencyHz))
	}

	if err := e.SetDutyCycle(9, 50); !errors.Is(err, pwm.ErrNotActive) {
		t.Fatalf("SetDutyCycle inactive err=%v want ErrNotActive", err)
	}
	if err := e.SetFrequency(9, 100); !errors.Is(err, pwm.ErrNotActive) {
		t.Fatalf("SetFrequency inactive err=%v want ErrNotActive", err)
	}
}

func TestBeginLineUnavailable(t *testing.T) {
	e, sim, reg := newTestEngine(t)
	sim.FailPin(17)
	if err := e.Begin(17, 100, 50); !errors.Is(err, lineio.ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
	if e.IsActive(17) {
		t.Fatal("failed begin left an active channel")
	}
	if got := reg.Owner(17); got != pinreg.KindNone {
		t.Fatalf("Owner=%v want KindNone", got)
	}
}

func TestCloseEndsAllChannels(t *testing.T) {
	sim := lineio.NewSim()
	reg := pinreg.New(27)
	e := New(sim, reg)
	e.Start(context.Background())

	for _, pin := range []int{1, 2, 3} {
		if err := e.Begin(pin, 100, 50); err != nil {
			t.Fatalf("Begin(%d): %v", pin, err)
		}
	}
	e.Close()
	e.Close() // idempotent

	if got := e.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount=%d want 0 after Close", got)
	}
	for _, pin := range []int{1, 2, 3} {
		if sim.IsOpen(pin) || sim.Level(pin) {
			t.Errorf("pin %d open=%v level=%v after Close", pin, sim.IsOpen(pin), sim.Level(pin))
		}
		if got := reg.Owner(pin); got != pinreg.KindNone {
			t.Errorf("Owner(%d)=%v want KindNone", pin, got)
		}
	}
}
