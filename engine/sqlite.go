// Package engine provides the SQL engine behind local connections. The
// rest of the server consumes it through the connection.Engine
// contract only; parsing, planning and the page cache are its business.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/connection"
)

const busyTimeoutMillis = 5000

// SqliteEngine executes statement batches against one sqlite database
// file in WAL mode. The single pooled connection serializes write
// transactions, which the replication log's commit ordering relies on.
type SqliteEngine struct {
	db *sql.DB
}

// NewSqliteEngine opens (creating if needed) the database at dbPath.
func NewSqliteEngine(dbPath string) (*SqliteEngine, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		dbPath, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", dbPath)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database %s", dbPath)
	}
	return &SqliteEngine{db: db}, nil
}

// Execute runs batch as a single transaction: all statements commit or
// none do. Engine-level rejections surface as *StatementError so they
// survive the write-proxy boundary unchanged.
func (e *SqliteEngine) Execute(ctx context.Context, batch connection.Batch) ([]connection.Result, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	results := make([]connection.Result, 0, len(batch))
	for _, stmt := range batch {
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			tx.Rollback()
			return nil, statementError(err)
		}
		var r connection.Result
		// Both are best-effort in sqlite; a failure to report them is
		// not a statement failure.
		r.RowsAffected, _ = res.RowsAffected()
		r.LastInsertID, _ = res.LastInsertId()
		results = append(results, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, statementError(err)
	}
	return results, nil
}

func (e *SqliteEngine) Close() error {
	return errors.Wrap(e.db.Close(), "failed to close database")
}

func statementError(err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return &connection.StatementError{Code: int(sqErr.Code), Message: sqErr.Error()}
	}
	return errors.Wrap(err, "failed to execute statement")
}
