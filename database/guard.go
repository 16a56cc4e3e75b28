package database

import (
	"context"

	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
)

// ErrBlocked rejects a batch the namespace's current config forbids.
var ErrBlocked = errors.New("database: access blocked by namespace configuration")

// GuardedMaker wraps maker so every produced connection enforces the
// namespace's block flags. The config is re-read per batch, so a config
// change applies to connections that already exist.
func GuardedMaker(maker connection.MakeConnection, handle namespace.MetaStoreHandle) connection.MakeConnection {
	return connection.MakeConnectionFunc(func(ctx context.Context) (connection.Connection, error) {
		inner, err := maker.Create(ctx)
		if err != nil {
			return nil, err
		}
		return &guardedConnection{inner: inner, handle: handle}, nil
	})
}

type guardedConnection struct {
	inner  connection.Connection
	handle namespace.MetaStoreHandle
}

func (c *guardedConnection) Execute(ctx context.Context, batch connection.Batch) ([]connection.Result, error) {
	config := c.handle.Get()
	blocked := config.BlockWrites
	if batch.IsReadOnly() {
		blocked = config.BlockReads
	}
	if blocked {
		if config.BlockReason != "" {
			return nil, errors.Wrap(ErrBlocked, config.BlockReason)
		}
		return nil, ErrBlocked
	}
	return c.inner.Execute(ctx, batch)
}

func (c *guardedConnection) Close() error {
	return c.inner.Close()
}
