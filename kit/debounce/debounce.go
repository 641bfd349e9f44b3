// Package debounce coalesces bursts of values into batches.
package debounce

import (
	"sync"
	"time"
)

// Debouncer collects values passed to Add and hands them to the callback
// once no new value has arrived for the configured duration. Callbacks
// never overlap: values that arrive while a callback is running are held
// and delivered in a follow-up batch.
type Debouncer[T any] struct {
	duration time.Duration
	callback func([]T)

	mu       sync.Mutex
	timer    *time.Timer
	items    []T
	pending  []T
	inFlight bool
	stopped  bool
}

func New[T any](d time.Duration, cb func([]T)) *Debouncer[T] {
	return &Debouncer[T]{duration: d, callback: cb}
}

func (d *Debouncer[T]) Add(item T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.items = append(d.items, item)
	d.resetTimer()
}

// must hold d.mu
func (d *Debouncer[T]) resetTimer() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.flush)
}

func (d *Debouncer[T]) flush() {
	d.mu.Lock()
	if d.stopped || len(d.items) == 0 {
		d.mu.Unlock()
		return
	}

	batch := d.items
	d.items = nil

	if d.inFlight {
		d.pending = append(d.pending, batch...)
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.mu.Unlock()

	d.callback(batch)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight = false
	if len(d.pending) > 0 && !d.stopped {
		d.items = append(d.pending, d.items...)
		d.pending = nil
		d.resetTimer()
	}
}

// Stop cancels any pending batch. Add is a no-op afterwards.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.items = nil
	d.pending = nil
}
