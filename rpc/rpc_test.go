package rpc

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
)

type stubConnection struct {
	results []connection.Result
	err     error
	got     connection.Batch
}

func (c *stubConnection) Execute(_ context.Context, batch connection.Batch) ([]connection.Result, error) {
	c.got = batch
	return c.results, c.err
}

func (c *stubConnection) Close() error { return nil }

type stubResolver struct {
	conn   *stubConnection
	logger *replication.Logger
	err    error
}

func (r *stubResolver) ConnectionMaker(context.Context, namespace.Name) (connection.MakeConnection, error) {
	if r.err != nil {
		return nil, r.err
	}
	return connection.MakeConnectionFunc(func(context.Context) (connection.Connection, error) {
		return r.conn, nil
	}), nil
}

func (r *stubResolver) ReplicationLogger(context.Context, namespace.Name) (*replication.Logger, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.logger, nil
}

func startServer(t *testing.T, resolver NamespaceResolver) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterProxyServer(srv, NewProxyServer(resolver))
	RegisterReplicationServer(srv, NewReplicationServer(resolver))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestProxy_ExecuteRoundTrip(t *testing.T) {
	conn := &stubConnection{results: []connection.Result{{RowsAffected: 3, LastInsertID: 7}}}
	addr := startServer(t, &stubResolver{conn: conn})

	client, err := DialProxy(context.Background(), addr, "foo")
	require.NoError(t, err)
	defer client.Close()

	batch := connection.Batch{{SQL: "INSERT INTO t VALUES (?)", Args: []interface{}{int64(1)}}}
	results, err := client.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(3), results[0].RowsAffected)
	assert.Equal(t, int64(7), results[0].LastInsertID)

	// The batch arrived at the primary intact.
	require.Len(t, conn.got, 1)
	assert.Equal(t, batch[0].SQL, conn.got[0].SQL)
}

func TestProxy_StatementErrorCrossesUnchanged(t *testing.T) {
	conn := &stubConnection{err: &connection.StatementError{Code: 19, Message: "UNIQUE constraint failed"}}
	addr := startServer(t, &stubResolver{conn: conn})

	client, err := DialProxy(context.Background(), addr, "foo")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Execute(context.Background(), connection.Batch{{SQL: "INSERT INTO t VALUES (1)"}})
	var stmtErr *connection.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, 19, stmtErr.Code)
	assert.Equal(t, "UNIQUE constraint failed", stmtErr.Message)
}

func TestProxy_InvalidNamespace(t *testing.T) {
	addr := startServer(t, &stubResolver{conn: &stubConnection{}})

	client, err := DialProxy(context.Background(), addr, "no/such/name")
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Execute(context.Background(), connection.Batch{{SQL: "INSERT INTO t VALUES (1)"}})
	assert.Equal(t, codes.InvalidArgument, status.Code(errors.Cause(err)))
}

func appendFrames(t *testing.T, l *replication.Logger, firstPgno uint32, n int) {
	t.Helper()
	pages := make([]replication.Page, n)
	for i := range pages {
		pages[i] = replication.Page{
			Pgno: firstPgno + uint32(i),
			Data: bytes.Repeat([]byte{byte(firstPgno) + byte(i)}, 4096),
		}
	}
	require.NoError(t, l.Append(pages, firstPgno+uint32(n)-1))
}

func TestReplication_StreamsCommittedFrames(t *testing.T) {
	// --- given a primary log with one committed transaction ---
	logger, err := replication.NewLogger(t.TempDir())
	require.NoError(t, err)
	addr := startServer(t, &stubResolver{logger: logger})

	client, err := DialReplication(context.Background(), addr, "foo")
	require.NoError(t, err)
	defer client.Shutdown()

	appendFrames(t, logger, 1, 2)
	require.NoError(t, client.Connect(context.Background(), 1))

	// --- then the follower receives it ---
	batch, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), batch.StartFrameNo())
	assert.Equal(t, uint64(2), batch.EndFrameNo())
	assert.True(t, batch.Frames[len(batch.Frames)-1].IsCommit())

	// --- and frames committed while the stream is open arrive too ---
	appendFrames(t, logger, 3, 1)
	batch, err = client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), batch.StartFrameNo())

	// --- and closing the log ends the stream cleanly ---
	logger.Close()
	_, err = client.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReplication_ResumesFromRequestedFrame(t *testing.T) {
	logger, err := replication.NewLogger(t.TempDir())
	require.NoError(t, err)
	appendFrames(t, logger, 1, 2)
	appendFrames(t, logger, 3, 2)
	addr := startServer(t, &stubResolver{logger: logger})

	client, err := DialReplication(context.Background(), addr, "foo")
	require.NoError(t, err)
	defer client.Shutdown()

	// A replica that already holds frames 1..2 asks for 3.
	require.NoError(t, client.Connect(context.Background(), 3))
	batch, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), batch.StartFrameNo())
	assert.Equal(t, uint64(4), batch.EndFrameNo())

	logger.Close()
	_, err = client.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReplication_ReconnectAfterStreamClose(t *testing.T) {
	logger, err := replication.NewLogger(t.TempDir())
	require.NoError(t, err)
	appendFrames(t, logger, 1, 1)
	addr := startServer(t, &stubResolver{logger: logger})

	client, err := DialReplication(context.Background(), addr, "foo")
	require.NoError(t, err)
	defer client.Shutdown()

	require.NoError(t, client.Connect(context.Background(), 1))
	_, err = client.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// The same client can follow again, as the retry loop does.
	require.NoError(t, client.Connect(context.Background(), 2))
	appendFrames(t, logger, 2, 1)
	batch, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), batch.StartFrameNo())
}
