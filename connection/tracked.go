package connection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/asajjanshetty/libsql/metrics"
)

// TrackedConnection decorates a connection with usage bookkeeping: an
// in-flight execution count, the time of last use, and the process-wide
// open-connections gauge. Every connection handed out by a database
// role is wrapped in one.
type TrackedConnection struct {
	inner    Connection
	inFlight atomic.Int64
	lastUsed atomic.Int64 // unix nanos
	closed   atomic.Bool
}

func NewTrackedConnection(inner Connection) *TrackedConnection {
	c := &TrackedConnection{inner: inner}
	c.lastUsed.Store(time.Now().UnixNano())
	metrics.OpenConnections.Inc()
	return c
}

func (c *TrackedConnection) Execute(ctx context.Context, batch Batch) ([]Result, error) {
	c.inFlight.Add(1)
	defer func() {
		c.inFlight.Add(-1)
		c.lastUsed.Store(time.Now().UnixNano())
	}()
	return c.inner.Execute(ctx, batch)
}

// InFlight reports the number of executions currently in progress.
func (c *TrackedConnection) InFlight() int64 {
	return c.inFlight.Load()
}

// IdleSince reports when the connection last finished an execution.
func (c *TrackedConnection) IdleSince() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

func (c *TrackedConnection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		metrics.OpenConnections.Dec()
	}
	return c.inner.Close()
}

// MakeTracked wraps a factory so every connection it creates is
// tracked.
func MakeTracked(inner MakeConnection) MakeConnection {
	return MakeConnectionFunc(func(ctx context.Context) (Connection, error) {
		conn, err := inner.Create(ctx)
		if err != nil {
			return nil, err
		}
		return NewTrackedConnection(conn), nil
	})
}
