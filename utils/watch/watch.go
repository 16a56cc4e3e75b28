// Package watch provides a single-writer, multi-reader value cell.
//
// A Cell holds the latest published value. Readers take non-blocking
// snapshots with Get, or subscribe a Receiver and block on Changed
// until a value newer than the last one they observed is published.
// Publishing never blocks and always wakes every waiting receiver,
// even when the new value equals the old one.
package watch

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Receiver.Changed once the cell is closed.
var ErrClosed = errors.New("watch: cell is closed")

// Cell is the writer half plus the shared state. The zero value is not
// usable; construct with NewCell.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	closed  bool
	notify  chan struct{} // closed and replaced on every Set
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value:  initial,
		notify: make(chan struct{}),
	}
}

// Get returns the most recently published value. It never blocks and
// never returns an intermediate value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set publishes v and wakes all receivers blocked in Changed.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.value = v
	c.version++
	close(c.notify)
	c.notify = make(chan struct{})
}

// Close marks the cell closed and wakes all receivers. Close is
// idempotent. The last published value remains readable via Get.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
	c.notify = make(chan struct{})
}

// Subscribe returns a Receiver whose Changed call blocks until a value
// published after this call.
func (c *Cell[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Receiver[T]{cell: c, seen: c.version}
}

// Receiver observes a Cell. Each receiver tracks the version it last
// observed independently; receivers must not be shared between
// goroutines.
type Receiver[T any] struct {
	cell *Cell[T]
	seen uint64
}

// Get returns the latest value and marks it observed.
func (r *Receiver[T]) Get() T {
	r.cell.mu.Lock()
	defer r.cell.mu.Unlock()
	r.seen = r.cell.version
	return r.cell.value
}

// Changed blocks until a value newer than the last observed one is
// published, the cell is closed (ErrClosed), or ctx is done.
func (r *Receiver[T]) Changed(ctx context.Context) error {
	for {
		r.cell.mu.Lock()
		if r.cell.version > r.seen {
			r.seen = r.cell.version
			r.cell.mu.Unlock()
			return nil
		}
		if r.cell.closed {
			r.cell.mu.Unlock()
			return ErrClosed
		}
		notify := r.cell.notify
		r.cell.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Clone returns a receiver positioned at the same observed version.
func (r *Receiver[T]) Clone() *Receiver[T] {
	return &Receiver[T]{cell: r.cell, seen: r.seen}
}
