package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asajjanshetty/libsql/connection"
)

func newTestEngine(t *testing.T) *SqliteEngine {
	t.Helper()
	e, err := NewSqliteEngine(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSqliteEngine_ExecuteBatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results, err := e.Execute(ctx, connection.Batch{
		{SQL: "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"},
		{SQL: "INSERT INTO t (v) VALUES (?)", Args: []interface{}{"a"}},
		{SQL: "INSERT INTO t (v) VALUES (?)", Args: []interface{}{"b"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[1].RowsAffected)
	assert.Equal(t, int64(2), results[2].LastInsertID)
}

func TestSqliteEngine_BatchIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, connection.Batch{
		{SQL: "CREATE TABLE t (id INTEGER PRIMARY KEY)"},
	})
	require.NoError(t, err)

	// The second insert violates the primary key, so the first one
	// must roll back with it.
	_, err = e.Execute(ctx, connection.Batch{
		{SQL: "INSERT INTO t (id) VALUES (1)"},
		{SQL: "INSERT INTO t (id) VALUES (1)"},
	})
	var stmtErr *connection.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.NotZero(t, stmtErr.Code)

	results, err := e.Execute(ctx, connection.Batch{
		{SQL: "DELETE FROM t"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), results[0].RowsAffected)
}

func TestSqliteEngine_SyntaxErrorIsTyped(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Execute(context.Background(), connection.Batch{{SQL: "NOT SQL AT ALL"}})
	var stmtErr *connection.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Contains(t, stmtErr.Message, "syntax error")
}
