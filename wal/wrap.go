package wal

// WrappedWalManager delegates every call to an inner Manager. Wrapping
// a manager with it must not change behavior in any observable way;
// intercepting managers embed the wrapped types and override only the
// calls they care about.
type WrappedWalManager struct {
	Inner Manager
}

func NewWrappedWalManager(inner Manager) *WrappedWalManager {
	return &WrappedWalManager{Inner: inner}
}

func (m *WrappedWalManager) UseSharedMemory() bool {
	return m.Inner.UseSharedMemory()
}

func (m *WrappedWalManager) Open(vfs Vfs, file File, dbPath string, noShmMode bool, maxLogSize int64) (Wal, error) {
	w, err := m.Inner.Open(vfs, file, dbPath, noShmMode, maxLogSize)
	if err != nil {
		return nil, err
	}
	return &WrappedWal{Inner: w}, nil
}

func (m *WrappedWalManager) Close(w Wal, scratch []byte) error {
	if ww, ok := w.(*WrappedWal); ok {
		w = ww.Inner
	}
	return m.Inner.Close(w, scratch)
}

func (m *WrappedWalManager) LogExists(vfs Vfs, dbPath string) (bool, error) {
	return m.Inner.LogExists(vfs, dbPath)
}

func (m *WrappedWalManager) DestroyLog(vfs Vfs, dbPath string) error {
	return m.Inner.DestroyLog(vfs, dbPath)
}

// WrappedWal forwards every Wal call to Inner. Protocol translation
// only; no business logic lives here.
type WrappedWal struct {
	Inner Wal
}

func (w *WrappedWal) Limit(size int64) {
	w.Inner.Limit(size)
}

func (w *WrappedWal) BeginReadTxn() (bool, error) {
	return w.Inner.BeginReadTxn()
}

func (w *WrappedWal) EndReadTxn() {
	w.Inner.EndReadTxn()
}

func (w *WrappedWal) BeginWriteTxn() error {
	return w.Inner.BeginWriteTxn()
}

func (w *WrappedWal) EndWriteTxn() error {
	return w.Inner.EndWriteTxn()
}

func (w *WrappedWal) Undo(handler UndoHandler) error {
	return w.Inner.Undo(handler)
}

func (w *WrappedWal) Savepoint(rollbackData []uint32) {
	w.Inner.Savepoint(rollbackData)
}

func (w *WrappedWal) SavepointUndo(rollbackData []uint32) error {
	return w.Inner.SavepointUndo(rollbackData)
}

func (w *WrappedWal) FindFrame(pgno uint32) (uint32, error) {
	return w.Inner.FindFrame(pgno)
}

func (w *WrappedWal) ReadFrame(frameNo uint32, p []byte) error {
	return w.Inner.ReadFrame(frameNo, p)
}

func (w *WrappedWal) DBSize() uint32 {
	return w.Inner.DBSize()
}

func (w *WrappedWal) InsertFrames(pageSize int, pages *PageHeaders, sizeAfter uint32, isCommit bool, syncFlags int) error {
	return w.Inner.InsertFrames(pageSize, pages, sizeAfter, isCommit, syncFlags)
}

func (w *WrappedWal) Checkpoint(mode CheckpointMode, busy BusyHandler, scratch []byte) (uint32, uint32, error) {
	return w.Inner.Checkpoint(mode, busy, scratch)
}

func (w *WrappedWal) ExclusiveMode(op int) error {
	return w.Inner.ExclusiveMode(op)
}

func (w *WrappedWal) UsesHeapMemory() bool {
	return w.Inner.UsesHeapMemory()
}

func (w *WrappedWal) Callback() int {
	return w.Inner.Callback()
}

func (w *WrappedWal) LastFrameIndex() uint32 {
	return w.Inner.LastFrameIndex()
}
