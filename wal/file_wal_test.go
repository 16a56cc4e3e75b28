package wal_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asajjanshetty/libsql/wal"
)

const pageSize = wal.DefaultPageSize

func page(pgno uint32, fill byte) wal.Page {
	data := bytes.Repeat([]byte{fill}, pageSize)
	return wal.Page{Pgno: pgno, Data: data}
}

func openWal(t *testing.T, m wal.Manager, dir, name string) (wal.Wal, string) {
	t.Helper()
	dbPath := filepath.Join(dir, name)
	f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_RDWR, 0o600)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	w, err := m.Open(wal.OsVfs{}, f, dbPath, false, 0)
	require.NoError(t, err)
	return w, dbPath
}

func commit(t *testing.T, w wal.Wal, sizeAfter uint32, pages ...wal.Page) {
	t.Helper()
	_, err := w.BeginReadTxn()
	require.NoError(t, err)
	require.NoError(t, w.BeginWriteTxn())
	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders(pages), sizeAfter, true, 1))
	require.NoError(t, w.EndWriteTxn())
	w.EndReadTxn()
}

func TestFileWal_CommitAndRead(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, _ := openWal(t, m, t.TempDir(), "test.db")

	commit(t, w, 2, page(1, 0xAA), page(2, 0xBB))

	changed, err := w.BeginReadTxn()
	require.NoError(t, err)
	assert.False(t, changed) // this handle committed the change itself
	defer w.EndReadTxn()

	assert.Equal(t, uint32(2), w.DBSize())
	assert.Equal(t, uint32(2), w.LastFrameIndex())
	assert.Equal(t, 2, w.Callback())

	frameNo, err := w.FindFrame(2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), frameNo)

	buf := make([]byte, pageSize)
	require.NoError(t, w.ReadFrame(frameNo, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, pageSize), buf)

	frameNo, err = w.FindFrame(99)
	require.NoError(t, err)
	assert.Zero(t, frameNo, "page not in log resolves to frame 0")
}

func TestFileWal_InsertOutsideWriteTxn(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, _ := openWal(t, m, t.TempDir(), "test.db")

	err := w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(1, 1)}), 1, true, 0)
	require.Error(t, err)
	assert.Equal(t, sqlite3.ErrMisuse, wal.ErrCode(err))
}

func TestFileWal_UndoRollsBackUncommitted(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, _ := openWal(t, m, t.TempDir(), "test.db")

	commit(t, w, 1, page(1, 0x01))

	_, err := w.BeginReadTxn()
	require.NoError(t, err)
	require.NoError(t, w.BeginWriteTxn())
	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(2, 0x02), page(3, 0x03)}), 0, false, 0))

	undone := map[uint32]bool{}
	require.NoError(t, w.Undo(undoFunc(func(pgno uint32) error {
		undone[pgno] = true
		return nil
	})))
	require.NoError(t, w.EndWriteTxn())
	w.EndReadTxn()

	assert.Equal(t, map[uint32]bool{2: true, 3: true}, undone)
	assert.Equal(t, uint32(1), w.LastFrameIndex())
	assert.Equal(t, uint32(1), w.DBSize())
}

func TestFileWal_SavepointRollback(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, _ := openWal(t, m, t.TempDir(), "test.db")

	_, err := w.BeginReadTxn()
	require.NoError(t, err)
	require.NoError(t, w.BeginWriteTxn())

	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(1, 0x01)}), 0, false, 0))

	data := make([]uint32, wal.SavepointDataLen)
	w.Savepoint(data)

	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(2, 0x02)}), 0, false, 0))
	require.NoError(t, w.SavepointUndo(data))

	// Page 2 was rolled back, page 1 is still in flight.
	frameNo, err := w.FindFrame(2)
	require.NoError(t, err)
	assert.Zero(t, frameNo)
	frameNo, err = w.FindFrame(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), frameNo)

	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(2, 0x04)}), 2, true, 1))
	require.NoError(t, w.EndWriteTxn())
	w.EndReadTxn()

	assert.Equal(t, uint32(2), w.LastFrameIndex())
}

func TestFileWal_CheckpointBackfillsDatabase(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, dbPath := openWal(t, m, t.TempDir(), "test.db")

	commit(t, w, 2, page(1, 0x11), page(2, 0x22))
	commit(t, w, 2, page(2, 0x33))

	scratch := make([]byte, pageSize)
	backfilled, total, err := w.Checkpoint(wal.CheckpointFull, nil, scratch)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), backfilled)
	assert.Equal(t, uint32(3), total)

	data, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	require.Len(t, data, 2*pageSize)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, pageSize), data[:pageSize])
	assert.Equal(t, bytes.Repeat([]byte{0x33}, pageSize), data[pageSize:], "newest frame wins the backfill")
}

func TestFileWal_CheckpointBusyOnUncommittedFrames(t *testing.T) {
	t.Parallel()

	m := wal.NewFileWalManager()
	w, _ := openWal(t, m, t.TempDir(), "test.db")

	_, err := w.BeginReadTxn()
	require.NoError(t, err)
	require.NoError(t, w.BeginWriteTxn())
	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(1, 0x01)}), 0, false, 0))
	require.NoError(t, w.EndWriteTxn())
	w.EndReadTxn()

	// EndWriteTxn dropped the frames, so this checkpoint has nothing
	// pending and succeeds; re-open the situation with a live txn.
	_, err = w.BeginReadTxn()
	require.NoError(t, err)
	require.NoError(t, w.BeginWriteTxn())
	require.NoError(t, w.InsertFrames(pageSize, wal.NewPageHeaders([]wal.Page{page(1, 0x01)}), 0, false, 0))

	_, _, err = w.Checkpoint(wal.CheckpointFull, nil, make([]byte, pageSize))
	require.Error(t, err)
	assert.Equal(t, sqlite3.ErrMisuse, wal.ErrCode(err))
}

func TestFileWal_RecoverDiscardsTornTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := wal.NewFileWalManager()
	w, dbPath := openWal(t, m, dir, "test.db")

	commit(t, w, 1, page(1, 0x01))

	// Append garbage past the commit to simulate a torn write.
	logFile, err := os.OpenFile(dbPath+"-wal", os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = logFile.Write(bytes.Repeat([]byte{0xFF}, 100))
	require.NoError(t, err)
	require.NoError(t, logFile.Close())

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f.Close()
	reopened, err := m.Open(wal.OsVfs{}, f, dbPath, false, 0)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), reopened.LastFrameIndex())
	assert.Equal(t, uint32(1), reopened.DBSize())
}

func TestFileWal_BeginReadTxnReportsChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := wal.NewFileWalManager()
	w, dbPath := openWal(t, m, dir, "test.db")
	commit(t, w, 1, page(1, 0x01))

	// A second handle sees the log for the first time: changed.
	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f.Close()
	other, err := m.Open(wal.OsVfs{}, f, dbPath, false, 0)
	require.NoError(t, err)

	changed, err := other.BeginReadTxn()
	require.NoError(t, err)
	assert.False(t, changed, "recovery already observed the committed frames")
	other.EndReadTxn()
}

type undoFunc func(pgno uint32) error

func (f undoFunc) UndoPage(pgno uint32) error { return f(pgno) }
