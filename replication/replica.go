package replication

import (
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/wal"
)

// ReplicaWalManager produces read-serving WAL handles for a replica.
// Connections read locally applied frames through them; direct local
// writes are refused so that every write goes through the write proxy.
// Shipped frames enter the log through an Injector instead, which holds
// the one writable handle.
type ReplicaWalManager struct {
	*wal.WrappedWalManager
}

func NewReplicaWalManager(inner wal.Manager) *ReplicaWalManager {
	return &ReplicaWalManager{WrappedWalManager: wal.NewWrappedWalManager(inner)}
}

func (m *ReplicaWalManager) Open(vfs wal.Vfs, file wal.File, dbPath string, noShmMode bool, maxLogSize int64) (wal.Wal, error) {
	w, err := m.Inner.Open(vfs, file, dbPath, noShmMode, maxLogSize)
	if err != nil {
		return nil, err
	}
	return &ReplicaWal{WrappedWal: wal.WrappedWal{Inner: w}}, nil
}

func (m *ReplicaWalManager) Close(w wal.Wal, scratch []byte) error {
	if rw, ok := w.(*ReplicaWal); ok {
		w = rw.Inner
	}
	return m.Inner.Close(w, scratch)
}

// ReplicaWal serves reads from locally applied frames and refuses
// local writes with a READONLY-coded error the engine already knows
// how to surface.
type ReplicaWal struct {
	wal.WrappedWal
}

func (w *ReplicaWal) BeginWriteTxn() error {
	return wal.NewError(sqlite3.ErrReadonly, "replica databases do not accept local writes")
}

func (w *ReplicaWal) InsertFrames(int, *wal.PageHeaders, uint32, bool, int) error {
	return wal.NewError(sqlite3.ErrReadonly, "replica databases do not accept local writes")
}

// Injector applies frame batches shipped from a primary to the local
// WAL, preserving the primary's frame numbering. It owns its WAL handle
// exclusively; one injector exists per replica database.
type Injector struct {
	w           wal.Wal
	pageSize    int
	nextFrameNo uint64
}

// NewInjector wraps an inner (writable) WAL handle. nextFrameNo is the
// first frame the local log is missing, 1 on a fresh replica.
func NewInjector(w wal.Wal, pageSize int, nextFrameNo uint64) *Injector {
	if nextFrameNo == 0 {
		nextFrameNo = 1
	}
	return &Injector{w: w, pageSize: pageSize, nextFrameNo: nextFrameNo}
}

// NextFrameNo reports the next frame number the injector expects.
func (in *Injector) NextFrameNo() uint64 { return in.nextFrameNo }

// ErrFrameGap is returned when a shipped batch does not start at the
// frame the local log expects; the caller must restart the stream from
// NextFrameNo.
var ErrFrameGap = errors.New("replication: frame batch out of sequence")

// Apply injects one batch as a single local transaction. The batch must
// end in a commit frame; partially applied batches are rolled back.
func (in *Injector) Apply(batch *FrameBatch) error {
	if len(batch.Frames) == 0 {
		return nil
	}
	if batch.StartFrameNo() != in.nextFrameNo {
		return errors.Wrapf(ErrFrameGap, "batch starts at frame %d, want %d",
			batch.StartFrameNo(), in.nextFrameNo)
	}
	last := batch.Frames[len(batch.Frames)-1]
	if !last.IsCommit() {
		return errors.New("replication: frame batch does not end in a commit frame")
	}

	pages := make([]wal.Page, len(batch.Frames))
	for i := range batch.Frames {
		data, err := DecompressPage(batch.Frames[i].Page, in.pageSize)
		if err != nil {
			return err
		}
		pages[i] = wal.Page{Pgno: batch.Frames[i].Header.Pgno, Data: data}
	}

	if _, err := in.w.BeginReadTxn(); err != nil {
		return errors.Wrap(err, "failed to begin injection read transaction")
	}
	defer in.w.EndReadTxn()

	if err := in.w.BeginWriteTxn(); err != nil {
		return errors.Wrap(err, "failed to begin injection write transaction")
	}
	if err := in.w.InsertFrames(in.pageSize, wal.NewPageHeaders(pages), last.Header.SizeAfter, true, 1); err != nil {
		if undoErr := in.w.Undo(nil); undoErr != nil {
			return errors.Wrapf(err, "failed to roll back partial injection: %v", undoErr)
		}
		in.w.EndWriteTxn()
		return errors.Wrap(err, "failed to inject frame batch")
	}
	if err := in.w.EndWriteTxn(); err != nil {
		return errors.Wrap(err, "failed to end injection write transaction")
	}

	in.nextFrameNo = batch.EndFrameNo() + 1
	return nil
}
