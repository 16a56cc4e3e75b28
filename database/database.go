// Package database defines the role contract a namespace's database
// fulfills. Exactly two roles exist: a primary, which owns the
// replication log, and a replica, which proxies writes. The contract is
// deliberately minimal so the namespace layer never special-cases role;
// role-specific behavior lives in the connection types.
package database

import (
	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/replication"
)

// Database is what the namespace layer holds for an open namespace.
type Database interface {
	// ConnectionMaker returns the shareable factory producing this
	// database's tracked connections.
	ConnectionMaker() connection.MakeConnection

	// Shutdown tears the database down. It must be safe to call even if
	// no connection was ever created, must not block on in-flight
	// connections, and is idempotent.
	Shutdown()
}

// PrimaryDatabase accepts writes and appends committed frames to its
// replication logger.
type PrimaryDatabase struct {
	Logger *replication.Logger
	maker  connection.MakeConnection
}

func NewPrimaryDatabase(logger *replication.Logger, maker connection.MakeConnection) *PrimaryDatabase {
	return &PrimaryDatabase{
		Logger: logger,
		maker:  connection.MakeTracked(maker),
	}
}

func (d *PrimaryDatabase) ConnectionMaker() connection.MakeConnection {
	return d.maker
}

// Shutdown sets the logger's closed signal so in-flight replication
// stream followers observe closure and terminate cleanly.
func (d *PrimaryDatabase) Shutdown() {
	d.Logger.Close()
}

// ReplicaDatabase owns no durable log; its connections proxy writes to
// the primary.
type ReplicaDatabase struct {
	maker connection.MakeConnection
}

func NewReplicaDatabase(maker connection.MakeConnection) *ReplicaDatabase {
	return &ReplicaDatabase{maker: connection.MakeTracked(maker)}
}

func (d *ReplicaDatabase) ConnectionMaker() connection.MakeConnection {
	return d.maker
}

// Shutdown is a no-op: the proxy connection layer handles its own
// stream teardown.
func (d *ReplicaDatabase) Shutdown() {}
