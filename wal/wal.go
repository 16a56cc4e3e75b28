// Package wal abstracts the write-ahead log that sits between the SQL
// engine and physical storage. The engine never touches log files
// directly; it drives a Wal handle obtained from a Manager. Alternate
// Manager implementations intercept transaction boundaries and frame
// insertion without the engine noticing, which is how replication
// capture and replica replay are plugged in.
package wal

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// CheckpointMode selects how much of the log a checkpoint folds back
// into the main database file.
type CheckpointMode int

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointRestart
	CheckpointTruncate
)

// BusyHandler is consulted when a checkpoint cannot make progress.
// Returning false aborts the checkpoint with a BUSY-coded error.
type BusyHandler interface {
	Busy() bool
}

// UndoHandler receives each distinct page rolled back by Undo so the
// engine can invalidate its cache.
type UndoHandler interface {
	UndoPage(pgno uint32) error
}

// Page is one dirty page queued for insertion into the log.
type Page struct {
	Pgno uint32
	Data []byte
}

// PageHeaders is an ordered batch of dirty pages. Order is significant:
// frame numbers are assigned in iteration order.
type PageHeaders struct {
	pages []Page
}

func NewPageHeaders(pages []Page) *PageHeaders {
	return &PageHeaders{pages: pages}
}

func (h *PageHeaders) Len() int      { return len(h.pages) }
func (h *PageHeaders) At(i int) Page { return h.pages[i] }
func (h *PageHeaders) Pages() []Page { return h.pages }

// Wal is a log handle bound to one database file. A handle is owned
// exclusively by a single connection for the duration of a transaction;
// implementations are not required to be safe for concurrent use.
type Wal interface {
	// Limit caps the log size in bytes. Values <= 0 remove the cap.
	Limit(size int64)

	// BeginReadTxn starts a read transaction and reports whether the
	// log changed since this handle's last read transaction.
	BeginReadTxn() (changed bool, err error)
	EndReadTxn()

	BeginWriteTxn() error
	EndWriteTxn() error

	// Undo rolls the write transaction back, invoking handler once per
	// distinct rolled-back page. A nil handler is allowed.
	Undo(handler UndoHandler) error

	// Savepoint records the current log state into rollbackData, which
	// must have SavepointDataLen elements. Slot 0 carries the total
	// frame count, including uncommitted frames; the remaining slots
	// are implementation-defined.
	Savepoint(rollbackData []uint32)
	// SavepointUndo rolls the log back to a state recorded by Savepoint.
	SavepointUndo(rollbackData []uint32) error

	// FindFrame resolves a page number to its newest frame visible to
	// the current read transaction. Zero means the page is not in the
	// log and must be read from the main database file.
	FindFrame(pgno uint32) (uint32, error)
	// ReadFrame copies the payload of frame frameNo into p.
	ReadFrame(frameNo uint32, p []byte) error
	// DBSize reports the database size in pages as of the current
	// read transaction.
	DBSize() uint32

	// InsertFrames appends a batch of pages to the log. The single
	// mutation point through which every committed page change passes.
	// isCommit marks the batch as the final one of its transaction and
	// sizeAfter carries the database size in pages after the commit
	// (zero for non-commit batches).
	InsertFrames(pageSize int, pages *PageHeaders, sizeAfter uint32, isCommit bool, syncFlags int) error

	// Checkpoint folds log contents back into the main database file.
	// It reports the total number of frames in the log and how many of
	// them are backfilled after the call.
	Checkpoint(mode CheckpointMode, busy BusyHandler, scratch []byte) (backfilled, total uint32, err error)

	ExclusiveMode(op int) error
	UsesHeapMemory() bool

	// Callback reports the number of frames committed by the most
	// recent commit, for the engine's commit-hook bookkeeping.
	Callback() int

	// LastFrameIndex reports the index of the last committed frame.
	LastFrameIndex() uint32
}

// SavepointDataLen is the number of uint32 slots Savepoint fills.
const SavepointDataLen = 4

// Manager creates Wal handles bound to a database file. It decides up
// front whether its handles require shared memory.
type Manager interface {
	UseSharedMemory() bool

	// Open creates a handle for the database at dbPath. file is the
	// open main database file; checkpoints write through it.
	Open(vfs Vfs, file File, dbPath string, noShmMode bool, maxLogSize int64) (Wal, error)

	// Close releases a handle previously returned by Open, attempting a
	// final checkpoint using scratch as the page copy buffer.
	Close(w Wal, scratch []byte) error

	LogExists(vfs Vfs, dbPath string) (bool, error)
	DestroyLog(vfs Vfs, dbPath string) error
}

// Error is a typed WAL failure. Code round-trips the engine-level
// error code unchanged so the calling SQL engine's retry and
// busy-handling logic keeps working.
type Error struct {
	Code sqlite3.ErrNo
	msg  string
}

func NewError(code sqlite3.ErrNo, format string, args ...interface{}) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Code.Error()
	}
	return fmt.Sprintf("%s: %s", e.Code.Error(), e.msg)
}

// ErrCode extracts the engine error code from err, or ErrInternal when
// err carries no code.
func ErrCode(err error) sqlite3.ErrNo {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return sqlite3.ErrInternal
}
