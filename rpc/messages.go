package rpc

import (
	"context"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
)

// ExecuteRequest forwards one write batch to the primary.
type ExecuteRequest struct {
	Namespace string           `msgpack:"namespace"`
	Batch     connection.Batch `msgpack:"batch"`
}

// ExecuteResponse carries the typed outcome back to the replica.
// Exactly one of Results and Error is set: statement-level failures
// ride inside the response so they cross the proxy boundary unchanged,
// while transport failures stay gRPC errors.
type ExecuteResponse struct {
	Results []connection.Result        `msgpack:"results"`
	Error   *connection.StatementError `msgpack:"error,omitempty"`
}

// FramesRequest opens a replication stream for one namespace, starting
// at frame number NextFrameNo (1 for a fresh replica).
type FramesRequest struct {
	Namespace   string `msgpack:"namespace"`
	NextFrameNo uint64 `msgpack:"next_frame_no"`
}

// NamespaceResolver hands the rpc servers the per-namespace objects
// they serve. The node's database registry implements it.
type NamespaceResolver interface {
	// ConnectionMaker returns the namespace's connection factory.
	ConnectionMaker(ctx context.Context, ns namespace.Name) (connection.MakeConnection, error)
	// ReplicationLogger returns the namespace's replication log. Only
	// primaries can serve it.
	ReplicationLogger(ctx context.Context, ns namespace.Name) (*replication.Logger, error)
}
