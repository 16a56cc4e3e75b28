package replication

import (
	"github.com/asajjanshetty/libsql/wal"
)

// WalManager intercepts a primary's WAL at the frame-insertion point
// and mirrors every committed frame into the replication log. All other
// behavior delegates to the inner manager unchanged.
type WalManager struct {
	*wal.WrappedWalManager
	logger *Logger
}

func NewWalManager(inner wal.Manager, logger *Logger) *WalManager {
	return &WalManager{
		WrappedWalManager: wal.NewWrappedWalManager(inner),
		logger:            logger,
	}
}

func (m *WalManager) Open(vfs wal.Vfs, file wal.File, dbPath string, noShmMode bool, maxLogSize int64) (wal.Wal, error) {
	w, err := m.Inner.Open(vfs, file, dbPath, noShmMode, maxLogSize)
	if err != nil {
		return nil, err
	}
	return &Wal{
		WrappedWal: wal.WrappedWal{Inner: w},
		logger:     m.logger,
	}, nil
}

func (m *WalManager) Close(w wal.Wal, scratch []byte) error {
	rw, ok := w.(*Wal)
	if ok {
		w = rw.Inner
	}
	return m.Inner.Close(w, scratch)
}

// Wal is the capture handle. Frames are buffered per transaction and
// handed to the logger only once the underlying insert of the commit
// batch succeeds, so the log never contains a frame the engine did not
// durably commit, and log order equals commit order.
type Wal struct {
	wal.WrappedWal
	logger  *Logger
	pending []Page
	txStart uint32 // inner frame count when the write transaction began
}

func (w *Wal) BeginWriteTxn() error {
	if err := w.Inner.BeginWriteTxn(); err != nil {
		return err
	}
	w.txStart = w.Inner.LastFrameIndex()
	w.pending = w.pending[:0]
	return nil
}

func (w *Wal) InsertFrames(pageSize int, pages *wal.PageHeaders, sizeAfter uint32, isCommit bool, syncFlags int) error {
	if err := w.Inner.InsertFrames(pageSize, pages, sizeAfter, isCommit, syncFlags); err != nil {
		return err
	}

	for _, pg := range pages.Pages() {
		data := make([]byte, len(pg.Data))
		copy(data, pg.Data)
		w.pending = append(w.pending, Page{Pgno: pg.Pgno, Data: data})
	}

	if isCommit {
		err := w.logger.Append(w.pending, sizeAfter)
		w.pending = nil
		return err
	}
	return nil
}

func (w *Wal) Undo(handler wal.UndoHandler) error {
	w.pending = nil
	return w.Inner.Undo(handler)
}

func (w *Wal) SavepointUndo(rollbackData []uint32) error {
	if err := w.Inner.SavepointUndo(rollbackData); err != nil {
		return err
	}
	// Slot 0 carries the total frame count at the savepoint; frames
	// captured past it were just rolled back.
	if len(rollbackData) > 0 && rollbackData[0] >= w.txStart {
		keep := rollbackData[0] - w.txStart
		if int(keep) < len(w.pending) {
			w.pending = w.pending[:keep]
		}
	}
	return nil
}

func (w *Wal) EndWriteTxn() error {
	w.pending = nil
	return w.Inner.EndWriteTxn()
}
