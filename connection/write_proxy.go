package connection

import (
	"context"
	"time"

	"github.com/asajjanshetty/libsql/metrics"
)

// RpcStream is the remote-call contract a write proxy forwards writes
// through: execute a write batch against the primary and await its
// typed result. Transport errors surface as-is; this layer never
// retries (reconnect policy belongs to the layer above).
type RpcStream interface {
	Execute(ctx context.Context, batch Batch) ([]Result, error)
	Close() error
}

// WriteProxyConnection splits the read and write paths of a replica
// connection. Reads execute locally against replayed state; writes are
// forwarded to the primary and block until its response arrives. There
// is no fire-and-forget write.
type WriteProxyConnection struct {
	local  Connection
	remote RpcStream
}

func NewWriteProxyConnection(local Connection, remote RpcStream) *WriteProxyConnection {
	return &WriteProxyConnection{local: local, remote: remote}
}

func (c *WriteProxyConnection) Execute(ctx context.Context, batch Batch) ([]Result, error) {
	if batch.IsReadOnly() {
		return c.local.Execute(ctx, batch)
	}

	start := time.Now()
	results, err := c.remote.Execute(ctx, batch)
	metrics.ProxiedWrites.Inc()
	metrics.ProxiedWriteDuration.Observe(time.Since(start).Seconds())
	return results, err
}

func (c *WriteProxyConnection) Close() error {
	if err := c.local.Close(); err != nil {
		c.remote.Close()
		return err
	}
	return c.remote.Close()
}

// NewMakeWriteProxy returns a factory producing write-proxy
// connections: local reads through localMaker's connections, writes
// through streams produced by dial.
func NewMakeWriteProxy(localMaker MakeConnection, dial func(ctx context.Context) (RpcStream, error)) MakeConnection {
	return MakeConnectionFunc(func(ctx context.Context) (Connection, error) {
		local, err := localMaker.Create(ctx)
		if err != nil {
			return nil, err
		}
		remote, err := dial(ctx)
		if err != nil {
			local.Close()
			return nil, err
		}
		return NewWriteProxyConnection(local, remote), nil
	})
}
