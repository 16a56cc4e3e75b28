package connection

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatement_IsReadOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql      string
		readOnly bool
	}{
		{"SELECT * FROM t", true},
		{"  select 1", true},
		{"EXPLAIN QUERY PLAN SELECT 1", true},
		{"PRAGMA page_count", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET v = 1", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id INTEGER)", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false}, // unrecognized prefix counts as a write
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.readOnly, Statement{SQL: tt.sql}.IsReadOnly(), tt.sql)
	}
}

func TestBatch_IsReadOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, Batch{{SQL: "SELECT 1"}, {SQL: "PRAGMA page_count"}}.IsReadOnly())
	assert.False(t, Batch{{SQL: "SELECT 1"}, {SQL: "INSERT INTO t VALUES (1)"}}.IsReadOnly())
	// An empty batch has nothing provably read-only about it.
	assert.False(t, Batch{}.IsReadOnly())
}

// recordingStream counts remote calls; it stands in for the gRPC proxy
// client.
type recordingStream struct {
	calls   int
	results []Result
	err     error
	closed  bool
}

func (s *recordingStream) Execute(_ context.Context, batch Batch) ([]Result, error) {
	s.calls++
	return s.results, s.err
}

func (s *recordingStream) Close() error {
	s.closed = true
	return nil
}

type recordingConnection struct {
	calls  int
	closed bool
}

func (c *recordingConnection) Execute(context.Context, Batch) ([]Result, error) {
	c.calls++
	return []Result{{RowsAffected: 1}}, nil
}

func (c *recordingConnection) Close() error {
	c.closed = true
	return nil
}

func TestWriteProxyConnection_SplitsReadAndWritePaths(t *testing.T) {
	t.Parallel()

	local := &recordingConnection{}
	remote := &recordingStream{results: []Result{{LastInsertID: 42}}}
	conn := NewWriteProxyConnection(local, remote)
	ctx := context.Background()

	// --- reads stay local ---
	_, err := conn.Execute(ctx, Batch{{SQL: "SELECT 1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 0, remote.calls)

	// --- writes are forwarded and block for the typed result ---
	results, err := conn.Execute(ctx, Batch{{SQL: "INSERT INTO t VALUES (1)"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(42), results[0].LastInsertID)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, remote.calls)

	// --- a mixed batch counts as a write ---
	_, err = conn.Execute(ctx, Batch{{SQL: "SELECT 1"}, {SQL: "DELETE FROM t"}})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.calls)
}

func TestWriteProxyConnection_RemoteErrorsSurfaceWithoutRetry(t *testing.T) {
	t.Parallel()

	remote := &recordingStream{err: errors.New("connection reset")}
	conn := NewWriteProxyConnection(&recordingConnection{}, remote)

	_, err := conn.Execute(context.Background(), Batch{{SQL: "INSERT INTO t VALUES (1)"}})
	require.Error(t, err)
	assert.Equal(t, 1, remote.calls)
}

func TestWriteProxyConnection_CloseClosesBothHalves(t *testing.T) {
	t.Parallel()

	local := &recordingConnection{}
	remote := &recordingStream{}
	conn := NewWriteProxyConnection(local, remote)

	require.NoError(t, conn.Close())
	assert.True(t, local.closed)
	assert.True(t, remote.closed)
}

func TestTrackedConnection_Bookkeeping(t *testing.T) {
	t.Parallel()

	inner := &recordingConnection{}
	conn := NewTrackedConnection(inner)

	before := conn.IdleSince()
	_, err := conn.Execute(context.Background(), Batch{{SQL: "SELECT 1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), conn.InFlight())
	assert.False(t, conn.IdleSince().Before(before))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // double close only decrements the gauge once
	assert.True(t, inner.closed)
}

func TestMakeTracked(t *testing.T) {
	t.Parallel()

	maker := MakeTracked(MakeConnectionFunc(func(context.Context) (Connection, error) {
		return &recordingConnection{}, nil
	}))
	conn, err := maker.Create(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, ok := conn.(*TrackedConnection)
	assert.True(t, ok)
}

func TestNewMakeWriteProxy_ClosesLocalOnDialFailure(t *testing.T) {
	t.Parallel()

	local := &recordingConnection{}
	maker := NewMakeWriteProxy(
		MakeConnectionFunc(func(context.Context) (Connection, error) { return local, nil }),
		func(context.Context) (RpcStream, error) { return nil, errors.New("refused") },
	)

	_, err := maker.Create(context.Background())
	require.Error(t, err)
	assert.True(t, local.closed)
}
