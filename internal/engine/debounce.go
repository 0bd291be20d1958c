package engine

import (
	"sync"
	"time"
)

// debounce is an owned, cancellable timer handle. It is scoped to a session
// and explicitly cancelled on conversation change and shutdown, never left
// to garbage collection.
type debounce struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	timer    *time.Timer
}

func newDebounce(interval time.Duration, fn func()) *debounce {
	return &debounce{interval: interval, fn: fn}
}

// Arm starts the timer if it is not already running. Used by the read
// receipt batcher: the first pending id arms the window, later ids ride it.
func (d *debounce) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Reset restarts the timer. Used by draft persistence: every keystroke
// pushes the persist out by the full interval.
func (d *debounce) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// Cancel stops the timer without running the callback.
func (d *debounce) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// fire clears the armed state before invoking the callback, so the callback
// may re-arm.
func (d *debounce) fire() {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}
