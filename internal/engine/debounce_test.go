package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceArmRidesExistingWindow(t *testing.T) {
	var fires atomic.Int32
	d := newDebounce(40*time.Millisecond, func() { fires.Add(1) })

	d.Arm()
	time.Sleep(15 * time.Millisecond)
	d.Arm() // second arm rides the first window, never restarts it

	waitFor(t, time.Second, func() bool { return fires.Load() == 1 }, "debounce fire")
	time.Sleep(80 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestDebounceResetRestartsWindow(t *testing.T) {
	var fires atomic.Int32
	d := newDebounce(50*time.Millisecond, func() { fires.Add(1) })

	d.Reset()
	time.Sleep(30 * time.Millisecond)
	d.Reset()
	time.Sleep(30 * time.Millisecond)

	// The original window has long passed, but each reset pushed it out.
	if got := fires.Load(); got != 0 {
		t.Fatalf("fired %d times before the restarted window elapsed", got)
	}
	waitFor(t, time.Second, func() bool { return fires.Load() == 1 }, "debounce fire")
}

func TestDebounceCancelSuppressesFire(t *testing.T) {
	var fires atomic.Int32
	d := newDebounce(20*time.Millisecond, func() { fires.Add(1) })

	d.Arm()
	d.Cancel()
	time.Sleep(60 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Fatalf("fired %d times after cancel", got)
	}
}

func TestDebounceCallbackMayRearm(t *testing.T) {
	var fires atomic.Int32
	var d *debounce
	d = newDebounce(10*time.Millisecond, func() {
		if fires.Add(1) == 1 {
			d.Arm()
		}
	})

	d.Arm()
	waitFor(t, time.Second, func() bool { return fires.Load() == 2 }, "re-armed fire")
}
