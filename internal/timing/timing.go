// Package timing provides the hybrid sleep-plus-spin delay used for
// bit-banged waveform holds.
package timing

import "time"

// SpinThreshold is the tail of each delay burned in a busy loop instead of
// sleeping. Sleeping alone overshoots by scheduler quanta (typically up to
// a millisecond); spinning the final stretch trades CPU for sub-millisecond
// edge accuracy.
const SpinThreshold = 500 * time.Microsecond

// Wait blocks for d. The coarse part sleeps and aborts promptly when
// cancel is closed; the spin tail is short enough that cancellation there
// is only checked between iterations. Returns false if cancelled.
func Wait(d time.Duration, cancel <-chan struct{}) bool {
	deadline := time.Now().Add(d)
	if coarse := d - SpinThreshold; coarse > 0 {
		t := time.NewTimer(coarse)
		select {
		case <-cancel:
			t.Stop()
			return false
		case <-t.C:
		}
	}
	for time.Now().Before(deadline) {
		select {
		case <-cancel:
			return false
		default:
		}
	}
	return true
}
