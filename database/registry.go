package database

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
	"github.com/asajjanshetty/libsql/utils/log"
)

// OpenFunc builds a namespace's database the first time it is needed.
// The role (primary or replica) is the node's, so one OpenFunc serves
// every namespace on a node.
type OpenFunc func(ctx context.Context, ns namespace.Name) (Database, error)

// Registry lazily opens and caches one database per namespace. It is
// the node-level multiplexer the rpc servers resolve namespaces
// through.
type Registry struct {
	open OpenFunc

	mu      sync.Mutex
	entries map[namespace.Name]*registryEntry
	closed  bool
}

type registryEntry struct {
	once sync.Once
	db   Database
	err  error
}

func NewRegistry(open OpenFunc) *Registry {
	return &Registry{open: open, entries: map[namespace.Name]*registryEntry{}}
}

// Database returns ns's database, opening it on first use. Concurrent
// callers for the same namespace share one open; a failed open is not
// cached, so the next caller retries.
func (r *Registry) Database(ctx context.Context, ns namespace.Name) (Database, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New("database registry is shut down")
	}
	e, ok := r.entries[ns]
	if !ok {
		e = &registryEntry{}
		r.entries[ns] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.db, e.err = r.open(ctx, ns)
	})
	if e.err != nil {
		err := e.err
		r.mu.Lock()
		if r.entries[ns] == e {
			delete(r.entries, ns)
		}
		r.mu.Unlock()
		return nil, err
	}
	return e.db, nil
}

// ConnectionMaker resolves ns's connection factory for the rpc layer.
func (r *Registry) ConnectionMaker(ctx context.Context, ns namespace.Name) (connection.MakeConnection, error) {
	db, err := r.Database(ctx, ns)
	if err != nil {
		return nil, err
	}
	return db.ConnectionMaker(), nil
}

// ReplicationLogger resolves ns's replication log for the rpc layer.
// Only primaries carry one.
func (r *Registry) ReplicationLogger(ctx context.Context, ns namespace.Name) (*replication.Logger, error) {
	db, err := r.Database(ctx, ns)
	if err != nil {
		return nil, err
	}
	primary, ok := db.(*PrimaryDatabase)
	if !ok {
		return nil, errors.Errorf("namespace %s is not served by a primary", ns)
	}
	return primary.Logger, nil
}

// Shutdown closes every open database. Idempotent; databases opened
// during the call are shut down too because new opens are refused
// first.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.once.Do(func() { e.err = errors.New("database registry is shut down") })
		if e.err == nil {
			e.db.Shutdown()
		}
	}
	log.Info("database registry shut down (%d namespaces)", len(entries))
}
