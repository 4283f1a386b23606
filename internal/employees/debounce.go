package employees

import (
	"sync"
	"time"
)

// SearchDebounce is the quiet period before a search query is sent.
const SearchDebounce = 400 * time.Millisecond

// Debouncer delays a value until no newer value has arrived for the wait
// period, then hands only the latest one to fn.
type Debouncer[T any] struct {
	wait time.Duration
	fn   func(T)

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebouncer[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, fn: fn}
}

// Push replaces any pending value with v and restarts the wait.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fn(v) })
}

// Flush drops any pending value and runs fn with v immediately.
func (d *Debouncer[T]) Flush(v T) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.fn(v)
}

// Stop drops any pending value.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
