package replication

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/asajjanshetty/libsql/metrics"
	"github.com/asajjanshetty/libsql/utils/log"
	"github.com/asajjanshetty/libsql/utils/watch"
)

const logFileName = "replication.log"

// recordMagic identifies a commit record in the log file.
const recordMagic = 0x7c

// Logger is a primary's durable replication log. Committed frame
// batches are appended in transaction commit order; followers read the
// log through FramesSince and block on Commits until new frames land.
//
// The closed signal is a multi-reader broadcast flag: shutdown sets it
// once and every in-flight follower observes closure and terminates
// cleanly instead of erroring.
type Logger struct {
	mu          sync.Mutex
	f           *os.File
	frames      []Frame // full committed log, frame i has FrameNo i+1
	nextFrameNo uint64

	commits *watch.Cell[uint64] // last committed frame number
	closed  *watch.Cell[bool]
}

// NewLogger opens (or recovers) the replication log stored under dir.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create replication log directory")
	}
	path := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open replication log %s", path)
	}

	l := &Logger{
		f:           f,
		nextFrameNo: 1,
		commits:     watch.NewCell(uint64(0)),
		closed:      watch.NewCell(false),
	}
	if err := l.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// Append adds one committed transaction's frames to the log, assigning
// contiguous frame numbers. pages carries raw page payloads in frame
// order; sizeAfter is the database size in pages after the commit. The
// batch is durable and visible to followers when Append returns.
//
// The engine serializes write transactions, so appends arrive here in
// commit order; the lock preserves that order through to the file.
func (l *Logger) Append(pages []Page, sizeAfter uint32) error {
	if len(pages) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Get() {
		return ErrLoggerClosed
	}

	batch := FrameBatch{Frames: make([]Frame, len(pages))}
	for i, pg := range pages {
		hdr := FrameHeader{
			FrameNo: l.nextFrameNo + uint64(i),
			Pgno:    pg.Pgno,
		}
		if i == len(pages)-1 {
			hdr.SizeAfter = sizeAfter
		}
		batch.Frames[i] = Frame{Header: hdr, Page: CompressPage(pg.Data)}
	}

	if err := l.writeRecord(&batch); err != nil {
		return err
	}

	l.frames = append(l.frames, batch.Frames...)
	l.nextFrameNo += uint64(len(pages))
	l.commits.Set(l.nextFrameNo - 1)
	metrics.FramesAppended.Add(float64(len(pages)))
	return nil
}

// Page is a raw page-change captured from the WAL layer.
type Page struct {
	Pgno uint32
	Data []byte
}

// ErrLoggerClosed is returned by Append once Close has been called.
var ErrLoggerClosed = errors.New("replication: logger is closed")

// FramesSince returns up to max committed frames starting at frame
// number next. An empty slice means the caller is caught up.
func (l *Logger) FramesSince(next uint64, max int) []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	if next == 0 {
		next = 1
	}
	if next > uint64(len(l.frames)) {
		return nil
	}
	frames := l.frames[next-1:]
	if max > 0 && len(frames) > max {
		frames = frames[:max]
	}
	out := make([]Frame, len(frames))
	copy(out, frames)
	return out
}

// CommittedFrameNo reports the frame number of the last committed
// frame, zero when the log is empty.
func (l *Logger) CommittedFrameNo() uint64 {
	return l.commits.Get()
}

// Commits exposes the commit watch cell for followers that need to
// block until new frames are committed.
func (l *Logger) Commits() *watch.Cell[uint64] {
	return l.commits
}

// ClosedSignal exposes the closed flag. Followers subscribe to it and
// terminate when it flips to true.
func (l *Logger) ClosedSignal() *watch.Cell[bool] {
	return l.closed
}

// Close sets the closed signal and releases the log file. Idempotent:
// calling it again is a no-op and the signal remains observably set.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Get() {
		return
	}
	l.closed.Set(true)
	// Wake blocked followers so they notice the signal.
	l.commits.Set(l.nextFrameNo - 1)

	if err := l.f.Sync(); err != nil {
		log.Error("failed to sync replication log on close: %v", err)
	}
	if err := l.f.Close(); err != nil {
		log.Error("failed to close replication log: %v", err)
	}
}

/*
	Commit record layout, one record per committed transaction:

	[1]  record magic
	[4]  big-endian payload length
	[n]  msgpack-encoded FrameBatch (pages s2-compressed)
	[16] md5 over length and payload
*/

func (l *Logger) writeRecord(batch *FrameBatch) error {
	payload, err := msgpack.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame batch")
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	hash := md5.New()
	hash.Write(lenBuf[:])
	hash.Write(payload)

	buf := make([]byte, 0, 1+4+len(payload)+md5.Size)
	buf = append(buf, recordMagic)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	buf = append(buf, hash.Sum(nil)...)

	if _, err := l.f.Write(buf); err != nil {
		return errors.Wrap(err, "failed to append frame batch to replication log")
	}
	if err := l.f.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync replication log")
	}
	return nil
}

// recover replays the log file, rebuilding the in-memory frame index
// and truncating a torn tail after the last valid record.
func (l *Logger) recover() error {
	offset := int64(0)
	var head [5]byte
	for {
		if _, err := l.f.ReadAt(head[:], offset); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return errors.Wrap(err, "failed to read replication log record header")
		}
		if head[0] != recordMagic {
			break
		}
		n := binary.BigEndian.Uint32(head[1:])
		payload := make([]byte, n)
		if _, err := l.f.ReadAt(payload, offset+5); err != nil {
			break // torn record
		}
		sum := make([]byte, md5.Size)
		if _, err := l.f.ReadAt(sum, offset+5+int64(n)); err != nil {
			break
		}
		hash := md5.New()
		hash.Write(head[1:])
		hash.Write(payload)
		if !bytes.Equal(hash.Sum(nil), sum) {
			break
		}

		var batch FrameBatch
		if err := msgpack.Unmarshal(payload, &batch); err != nil {
			return errors.Wrap(err, "failed to decode replication log record")
		}
		if batch.StartFrameNo() != l.nextFrameNo {
			return errors.Errorf("replication log gap: record starts at frame %d, want %d",
				batch.StartFrameNo(), l.nextFrameNo)
		}
		l.frames = append(l.frames, batch.Frames...)
		l.nextFrameNo = batch.EndFrameNo() + 1

		offset += 5 + int64(n) + md5.Size
	}

	if err := l.f.Truncate(offset); err != nil {
		return errors.Wrap(err, "failed to truncate torn replication log tail")
	}
	if _, err := l.f.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek replication log")
	}
	if l.nextFrameNo > 1 {
		l.commits.Set(l.nextFrameNo - 1)
	}
	return nil
}
