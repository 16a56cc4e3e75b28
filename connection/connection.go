// Package connection defines the connection contract every database
// role produces, plus the concrete connection types: a local
// engine-backed connection and the replica-side write proxy.
package connection

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Statement is one SQL statement with its bound arguments. Parsing is
// the engine's business; this layer only needs to know whether a
// statement can run against replicated local state.
type Statement struct {
	SQL  string        `msgpack:"sql"`
	Args []interface{} `msgpack:"args"`
}

// IsReadOnly reports whether the statement only reads. It classifies by
// the leading keyword; anything unrecognized counts as a write.
func (s Statement) IsReadOnly() bool {
	sql := strings.TrimLeftFunc(s.SQL, unicode.IsSpace)
	for _, kw := range []string{"SELECT", "EXPLAIN", "PRAGMA"} {
		if len(sql) >= len(kw) && strings.EqualFold(sql[:len(kw)], kw) {
			return true
		}
	}
	return false
}

// Batch is an ordered group of statements executed as one transaction.
type Batch []Statement

// IsReadOnly reports whether every statement in the batch only reads.
func (b Batch) IsReadOnly() bool {
	for _, s := range b {
		if !s.IsReadOnly() {
			return false
		}
	}
	return len(b) > 0
}

// Result is the typed outcome of one statement.
type Result struct {
	RowsAffected int64 `msgpack:"rows_affected"`
	LastInsertID int64 `msgpack:"last_insert_id"`
}

// StatementError is an application-level rejection from the engine
// (constraint violation, type error, ...). It crosses the write-proxy
// boundary unchanged so a forwarded write fails exactly as it would
// have locally.
type StatementError struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement failed (code %d): %s", e.Code, e.Message)
}

// Connection executes statement batches against a namespace's
// database.
type Connection interface {
	Execute(ctx context.Context, batch Batch) ([]Result, error)
	Close() error
}

// MakeConnection is a shareable factory bound to one fixed connection
// type. Database roles hand it to the rest of the server, which stays
// role-agnostic.
type MakeConnection interface {
	Create(ctx context.Context) (Connection, error)
}

// MakeConnectionFunc adapts a function to the MakeConnection contract.
type MakeConnectionFunc func(ctx context.Context) (Connection, error)

func (f MakeConnectionFunc) Create(ctx context.Context) (Connection, error) {
	return f(ctx)
}

// Engine is the narrow contract to the SQL engine this layer consumes.
// The engine owns parsing, planning and the page cache; it reports
// statement failures as *StatementError.
type Engine interface {
	Execute(ctx context.Context, batch Batch) ([]Result, error)
	Close() error
}

// LocalConnection executes batches directly against a local engine.
// Primary connections are local connections whose engine commits
// through a replication-capturing WAL.
type LocalConnection struct {
	eng Engine
}

func NewLocalConnection(eng Engine) *LocalConnection {
	return &LocalConnection{eng: eng}
}

func (c *LocalConnection) Execute(ctx context.Context, batch Batch) ([]Result, error) {
	return c.eng.Execute(ctx, batch)
}

func (c *LocalConnection) Close() error {
	// The engine is shared by every connection of the namespace; its
	// lifetime belongs to the database role object.
	return nil
}

// NewMakeLocal returns a factory producing local connections over eng.
func NewMakeLocal(eng Engine) MakeConnection {
	return MakeConnectionFunc(func(ctx context.Context) (Connection, error) {
		return NewLocalConnection(eng), nil
	})
}
