package wal

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"

	"github.com/mattn/go-sqlite3"
)

/*
	Log file layout:

	- 32-byte header: magic, format version, page size, checkpoint
	  sequence number, salt.
	- zero or more frames, each a 24-byte frame header (page number,
	  size-after-commit, md5 of the payload's first half folded with the
	  page number) followed by one page of payload.

	A frame with a non-zero size-after value is a commit frame; it makes
	itself and every frame since the previous commit durable. Frames
	past the last commit frame are discarded when the file is opened.
*/

const (
	fileHeaderSize  = 32
	frameHeaderSize = 24

	logMagic   = 0x77a1f09d
	logVersion = 1

	// DefaultPageSize matches the engine's default page size.
	DefaultPageSize = 4096
)

// FileWalManager creates file-backed Wal handles, one "-wal" sidecar
// file per database. This is the stock implementation the pass-through
// wrapper and the intercepting managers ultimately delegate to.
type FileWalManager struct {
	PageSize int
}

func NewFileWalManager() *FileWalManager {
	return &FileWalManager{PageSize: DefaultPageSize}
}

func (m *FileWalManager) UseSharedMemory() bool { return false }

func (m *FileWalManager) Open(vfs Vfs, file File, dbPath string, noShmMode bool, maxLogSize int64) (Wal, error) {
	pageSize := m.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	f, err := vfs.OpenFile(logPath(dbPath), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, NewError(sqlite3.ErrCantOpen, "open log for %s: %v", dbPath, err)
	}

	w := &FileWal{
		vfs:        vfs,
		dbFile:     file,
		f:          f,
		path:       logPath(dbPath),
		pageSize:   pageSize,
		maxLogSize: maxLogSize,
	}
	if err := w.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (m *FileWalManager) Close(w Wal, scratch []byte) error {
	fw, ok := w.(*FileWal)
	if !ok {
		return NewError(sqlite3.ErrMisuse, "handle was not opened by this manager")
	}
	// Fold the log into the database on the way out so a clean shutdown
	// leaves nothing to recover.
	if len(scratch) >= fw.pageSize {
		if _, _, err := fw.Checkpoint(CheckpointTruncate, nil, scratch); err != nil {
			// BUSY here means uncommitted frames; the log stays behind
			// for recovery.
			if ErrCode(err) != sqlite3.ErrBusy {
				fw.f.Close()
				return err
			}
		}
	}
	if err := fw.f.Sync(); err != nil {
		fw.f.Close()
		return NewError(sqlite3.ErrIoErr, "sync log: %v", err)
	}
	return fw.f.Close()
}

func (m *FileWalManager) LogExists(vfs Vfs, dbPath string) (bool, error) {
	_, err := vfs.Stat(logPath(dbPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, NewError(sqlite3.ErrIoErr, "stat log for %s: %v", dbPath, err)
}

func (m *FileWalManager) DestroyLog(vfs Vfs, dbPath string) error {
	if err := vfs.Remove(logPath(dbPath)); err != nil && !os.IsNotExist(err) {
		return NewError(sqlite3.ErrIoErr, "remove log for %s: %v", dbPath, err)
	}
	return nil
}

func logPath(dbPath string) string { return dbPath + "-wal" }

// FileWal is a file-backed Wal handle. It is single-connection: the
// owning connection serializes all calls.
type FileWal struct {
	vfs      Vfs
	dbFile   File
	f        File
	path     string
	pageSize int

	salt       uint64
	ckptSeq    uint32
	maxLogSize int64

	// frames[i] is the page number of frame i+1 (frame numbers are
	// 1-based). Entries past mxFrame belong to the open write
	// transaction and are not yet durable.
	frames   []uint32
	mxFrame  uint32 // last committed frame
	backfill uint32 // frames already folded into the db file
	dbSize   uint32 // db size in pages as of mxFrame

	readMark   uint32 // committed frame snapshot of the open read txn
	inReadTxn  bool
	lastSeen   uint32 // mxFrame observed by the previous read txn
	inWriteTxn bool

	exclusive   bool
	lastCommits int // frames committed by the most recent commit
}

func (w *FileWal) Limit(size int64) {
	w.maxLogSize = size
}

func (w *FileWal) BeginReadTxn() (bool, error) {
	if w.inReadTxn {
		return false, NewError(sqlite3.ErrMisuse, "read transaction already open")
	}
	w.inReadTxn = true
	w.readMark = w.mxFrame
	changed := w.mxFrame != w.lastSeen
	w.lastSeen = w.mxFrame
	return changed, nil
}

func (w *FileWal) EndReadTxn() {
	w.inReadTxn = false
}

func (w *FileWal) BeginWriteTxn() error {
	if !w.inReadTxn {
		return NewError(sqlite3.ErrMisuse, "write transaction requires a read transaction")
	}
	if w.inWriteTxn {
		return NewError(sqlite3.ErrMisuse, "write transaction already open")
	}
	// A writer whose snapshot is stale would overwrite newer commits.
	if w.readMark != w.mxFrame {
		return NewError(sqlite3.ErrBusy, "snapshot is stale")
	}
	w.inWriteTxn = true
	return nil
}

func (w *FileWal) EndWriteTxn() error {
	if !w.inWriteTxn {
		return nil
	}
	w.inWriteTxn = false
	// Anything past the last commit frame did not commit.
	w.frames = w.frames[:w.mxFrame]
	return nil
}

func (w *FileWal) Undo(handler UndoHandler) error {
	if !w.inWriteTxn {
		return nil
	}
	seen := make(map[uint32]struct{})
	for i := len(w.frames); i > int(w.mxFrame); i-- {
		pgno := w.frames[i-1]
		if _, ok := seen[pgno]; ok {
			continue
		}
		seen[pgno] = struct{}{}
		if handler != nil {
			if err := handler.UndoPage(pgno); err != nil {
				return err
			}
		}
	}
	w.frames = w.frames[:w.mxFrame]
	return nil
}

func (w *FileWal) Savepoint(rollbackData []uint32) {
	if len(rollbackData) < SavepointDataLen {
		return
	}
	rollbackData[0] = uint32(len(w.frames))
	rollbackData[1] = w.mxFrame
	rollbackData[2] = w.dbSize
	rollbackData[3] = w.ckptSeq
}

func (w *FileWal) SavepointUndo(rollbackData []uint32) error {
	if len(rollbackData) < SavepointDataLen {
		return NewError(sqlite3.ErrMisuse, "savepoint data too short")
	}
	if rollbackData[3] != w.ckptSeq {
		// The log was reset since the savepoint; nothing to roll back to.
		rollbackData[0] = 0
		rollbackData[1] = 0
		return nil
	}
	n := rollbackData[0]
	if int(n) > len(w.frames) {
		return NewError(sqlite3.ErrCorrupt, "savepoint beyond end of log")
	}
	w.frames = w.frames[:n]
	return nil
}

func (w *FileWal) FindFrame(pgno uint32) (uint32, error) {
	if !w.inReadTxn {
		return 0, NewError(sqlite3.ErrMisuse, "no read transaction")
	}
	// The open write transaction's own frames are visible to it.
	limit := w.readMark
	if w.inWriteTxn {
		limit = uint32(len(w.frames))
	}
	for i := limit; i > 0; i-- {
		if w.frames[i-1] == pgno {
			return i, nil
		}
	}
	return 0, nil
}

func (w *FileWal) ReadFrame(frameNo uint32, p []byte) error {
	if frameNo == 0 || int(frameNo) > len(w.frames) {
		return NewError(sqlite3.ErrCorrupt, "frame %d out of range", frameNo)
	}
	n := len(p)
	if n > w.pageSize {
		n = w.pageSize
	}
	if _, err := w.f.ReadAt(p[:n], w.frameOffset(frameNo)+frameHeaderSize); err != nil {
		return NewError(sqlite3.ErrIoErr, "read frame %d: %v", frameNo, err)
	}
	return nil
}

func (w *FileWal) DBSize() uint32 {
	return w.dbSize
}

func (w *FileWal) InsertFrames(pageSize int, pages *PageHeaders, sizeAfter uint32, isCommit bool, syncFlags int) error {
	if !w.inWriteTxn {
		return NewError(sqlite3.ErrMisuse, "no write transaction")
	}
	if pageSize != w.pageSize {
		return NewError(sqlite3.ErrMisuse, "page size %d does not match log page size %d", pageSize, w.pageSize)
	}
	if isCommit && sizeAfter == 0 {
		return NewError(sqlite3.ErrMisuse, "commit batch requires a size-after value")
	}

	for i := 0; i < pages.Len(); i++ {
		pg := pages.At(i)
		if len(pg.Data) != w.pageSize {
			return NewError(sqlite3.ErrMisuse, "page %d payload is %d bytes", pg.Pgno, len(pg.Data))
		}
		commitSize := uint32(0)
		if isCommit && i == pages.Len()-1 {
			commitSize = sizeAfter
		}
		frameNo := uint32(len(w.frames) + 1)
		if err := w.writeFrame(frameNo, pg, commitSize); err != nil {
			return err
		}
		w.frames = append(w.frames, pg.Pgno)
	}

	if isCommit {
		if syncFlags != 0 {
			if err := w.f.Sync(); err != nil {
				return NewError(sqlite3.ErrIoErr, "sync log: %v", err)
			}
		}
		w.lastCommits = len(w.frames) - int(w.mxFrame)
		w.mxFrame = uint32(len(w.frames))
		w.readMark = w.mxFrame
		w.lastSeen = w.mxFrame
		w.dbSize = sizeAfter
	}
	return nil
}

func (w *FileWal) Checkpoint(mode CheckpointMode, busy BusyHandler, scratch []byte) (uint32, uint32, error) {
	if w.inWriteTxn {
		return w.backfill, w.mxFrame, NewError(sqlite3.ErrMisuse, "checkpoint inside a write transaction")
	}
	if len(scratch) < w.pageSize {
		return w.backfill, w.mxFrame, NewError(sqlite3.ErrMisuse, "scratch buffer smaller than a page")
	}

	// Uncommitted frames block everything past PASSIVE until the busy
	// handler lets us wait them out.
	for uint32(len(w.frames)) != w.mxFrame && mode >= CheckpointFull {
		if busy == nil || !busy.Busy() {
			return w.backfill, w.mxFrame, NewError(sqlite3.ErrBusy, "log has uncommitted frames")
		}
	}

	// Copy the newest committed frame of each page into the database.
	latest := make(map[uint32]uint32) // pgno -> frame
	for i := w.backfill; i < w.mxFrame; i++ {
		latest[w.frames[i]] = i + 1
	}
	for pgno, frameNo := range latest {
		if err := w.ReadFrame(frameNo, scratch[:w.pageSize]); err != nil {
			return w.backfill, w.mxFrame, err
		}
		off := int64(pgno-1) * int64(w.pageSize)
		if _, err := w.dbFile.WriteAt(scratch[:w.pageSize], off); err != nil {
			return w.backfill, w.mxFrame, NewError(sqlite3.ErrIoErr, "backfill page %d: %v", pgno, err)
		}
	}
	if w.dbSize > 0 {
		if err := w.dbFile.Truncate(int64(w.dbSize) * int64(w.pageSize)); err != nil {
			return w.backfill, w.mxFrame, NewError(sqlite3.ErrIoErr, "truncate database: %v", err)
		}
	}
	if err := w.dbFile.Sync(); err != nil {
		return w.backfill, w.mxFrame, NewError(sqlite3.ErrIoErr, "sync database: %v", err)
	}
	w.backfill = w.mxFrame

	total := w.mxFrame
	if mode >= CheckpointRestart {
		if err := w.reset(); err != nil {
			return w.backfill, total, err
		}
		if mode == CheckpointTruncate {
			if err := w.f.Truncate(fileHeaderSize); err != nil {
				return 0, 0, NewError(sqlite3.ErrIoErr, "truncate log: %v", err)
			}
			total = 0
		}
		return 0, total, nil
	}
	return w.backfill, total, nil
}

func (w *FileWal) ExclusiveMode(op int) error {
	switch op {
	case 0:
		w.exclusive = false
	case 1:
		w.exclusive = true
	default:
		return NewError(sqlite3.ErrMisuse, "unknown exclusive mode op %d", op)
	}
	return nil
}

func (w *FileWal) UsesHeapMemory() bool { return true }

func (w *FileWal) Callback() int { return w.lastCommits }

func (w *FileWal) LastFrameIndex() uint32 { return w.mxFrame }

// reset starts a new log generation after a RESTART/TRUNCATE
// checkpoint.
func (w *FileWal) reset() error {
	w.frames = w.frames[:0]
	w.mxFrame = 0
	w.backfill = 0
	w.readMark = 0
	w.lastSeen = 0
	w.ckptSeq++
	w.salt = w.salt*6364136223846793005 + 1442695040888963407
	return w.writeHeader()
}

func (w *FileWal) frameOffset(frameNo uint32) int64 {
	return fileHeaderSize + int64(frameNo-1)*int64(frameHeaderSize+w.pageSize)
}

func (w *FileWal) writeHeader() error {
	var hdr [fileHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:], logMagic)
	binary.BigEndian.PutUint32(hdr[4:], logVersion)
	binary.BigEndian.PutUint32(hdr[8:], uint32(w.pageSize))
	binary.BigEndian.PutUint32(hdr[12:], w.ckptSeq)
	binary.BigEndian.PutUint64(hdr[16:], w.salt)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return NewError(sqlite3.ErrIoErr, "write log header: %v", err)
	}
	if err := w.f.Sync(); err != nil {
		return NewError(sqlite3.ErrIoErr, "sync log header: %v", err)
	}
	return nil
}

func (w *FileWal) writeFrame(frameNo uint32, pg Page, sizeAfter uint32) error {
	buf := make([]byte, frameHeaderSize+w.pageSize)
	binary.BigEndian.PutUint32(buf[0:], pg.Pgno)
	binary.BigEndian.PutUint32(buf[4:], sizeAfter)
	sum := frameChecksum(pg.Pgno, sizeAfter, pg.Data)
	copy(buf[8:24], sum[:])
	copy(buf[frameHeaderSize:], pg.Data)
	if _, err := w.f.WriteAt(buf, w.frameOffset(frameNo)); err != nil {
		return NewError(sqlite3.ErrIoErr, "write frame %d: %v", frameNo, err)
	}
	return nil
}

func frameChecksum(pgno, sizeAfter uint32, data []byte) [16]byte {
	h := md5.New()
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:], pgno)
	binary.BigEndian.PutUint32(hdr[4:], sizeAfter)
	h.Write(hdr[:])
	h.Write(data)
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// recover rebuilds the in-memory frame index from the log file,
// discarding any torn tail past the last valid commit frame.
func (w *FileWal) recover() error {
	fi, err := w.f.Stat()
	if err != nil {
		return NewError(sqlite3.ErrIoErr, "stat log: %v", err)
	}
	if fi.Size() < fileHeaderSize {
		w.salt = uint64(os.Getpid())<<32 | uint64(fi.Size())
		return w.writeHeader()
	}

	var hdr [fileHeaderSize]byte
	if _, err := w.f.ReadAt(hdr[:], 0); err != nil {
		return NewError(sqlite3.ErrIoErr, "read log header: %v", err)
	}
	if binary.BigEndian.Uint32(hdr[0:]) != logMagic {
		return NewError(sqlite3.ErrCorrupt, "bad log magic")
	}
	if v := binary.BigEndian.Uint32(hdr[4:]); v != logVersion {
		return NewError(sqlite3.ErrCorrupt, "unsupported log version %d", v)
	}
	w.pageSize = int(binary.BigEndian.Uint32(hdr[8:]))
	if w.pageSize <= 0 {
		return NewError(sqlite3.ErrCorrupt, "bad page size in log header")
	}
	w.ckptSeq = binary.BigEndian.Uint32(hdr[12:])
	w.salt = binary.BigEndian.Uint64(hdr[16:])

	frameSize := int64(frameHeaderSize + w.pageSize)
	n := (fi.Size() - fileHeaderSize) / frameSize

	buf := make([]byte, frameSize)
	for i := int64(0); i < n; i++ {
		if _, err := w.f.ReadAt(buf, fileHeaderSize+i*frameSize); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return NewError(sqlite3.ErrIoErr, "read frame %d: %v", i+1, err)
		}
		pgno := binary.BigEndian.Uint32(buf[0:])
		sizeAfter := binary.BigEndian.Uint32(buf[4:])
		sum := frameChecksum(pgno, sizeAfter, buf[frameHeaderSize:])
		if !bytes.Equal(sum[:], buf[8:24]) {
			break
		}
		w.frames = append(w.frames, pgno)
		if sizeAfter != 0 {
			w.mxFrame = uint32(len(w.frames))
			w.dbSize = sizeAfter
		}
	}

	// Drop the torn or uncommitted tail.
	w.frames = w.frames[:w.mxFrame]
	if err := w.f.Truncate(fileHeaderSize + int64(w.mxFrame)*frameSize); err != nil {
		return NewError(sqlite3.ErrIoErr, "truncate torn log tail: %v", err)
	}
	w.lastSeen = w.mxFrame
	return nil
}
