package namespace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/metrics"
	"github.com/asajjanshetty/libsql/utils/log"
	"github.com/asajjanshetty/libsql/utils/watch"
)

// DefaultChangeChannelSize bounds the shared config-change channel.
const DefaultChangeChannelSize = 256

// ErrMetaStoreClosed is returned by Store once the metadata store has
// shut down.
var ErrMetaStoreClosed = errors.New("namespace: meta store is closed")

// ChangeMsg is one config update traveling through the shared change
// channel to the single serializing consumer.
type ChangeMsg struct {
	Namespace Name
	Config    *DatabaseConfig

	// ack reports the outcome of the update back to the waiting writer.
	// Buffered; the apply loop never blocks on it, so an abandoned
	// writer does not stop the update from landing.
	ack chan error
}

// changeSender is the write side of the change channel, shared by every
// external handle. Its lock orders writers against close: a writer
// holds the read side across its send, so once close owns the write
// side every in-flight update is already in the channel and the drain
// pass acks all of them.
type changeSender struct {
	mu     sync.RWMutex
	closed bool
	ch     chan ChangeMsg
	done   chan struct{}
}

func (s *changeSender) send(ctx context.Context, msg ChangeMsg) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrMetaStoreClosed
	}
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close marks the sender closed. It returns false when already closed.
func (s *changeSender) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

// MetaStore owns every namespace's current config. Reads go through
// per-namespace watch cells and never block; writes are serialized by a
// single consumer that durably persists each change before publishing
// it. T is the database implementation type of the reserved bootstrap
// namespace.
type MetaStore[T any] struct {
	sender *changeSender
	wg     sync.WaitGroup
	store  ConfigStore

	mu    sync.Mutex
	cells map[Name]*watch.Cell[*DatabaseConfig]

	bootstrap T
}

// NewMetaStore builds the store and its bootstrap namespace.
// makeBootstrap receives the reserved internal namespace name and a
// synchronous handle for it.
func NewMetaStore[T any](store ConfigStore, channelSize int,
	makeBootstrap func(Name, MetaStoreHandle) (T, error),
) (*MetaStore[T], error) {
	if channelSize <= 0 {
		channelSize = DefaultChangeChannelSize
	}

	bootstrap, err := makeBootstrap(InternalName, NewInternalHandle())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the internal namespace")
	}

	m := &MetaStore[T]{
		sender: &changeSender{
			ch:   make(chan ChangeMsg, channelSize),
			done: make(chan struct{}),
		},
		store:     store,
		cells:     map[Name]*watch.Cell[*DatabaseConfig]{},
		bootstrap: bootstrap,
	}
	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Bootstrap returns the internal namespace's database instance.
func (m *MetaStore[T]) Bootstrap() T {
	return m.bootstrap
}

// Handle returns the external handle for ns. Handles for the same
// namespace all subscribe to the same cell, whenever they were created,
// so every reader and writer of a namespace agrees on its current
// value. The first handle for a namespace loads its persisted config;
// a malformed on-disk config surfaces here and the namespace fails to
// come up.
func (m *MetaStore[T]) Handle(ns Name) (MetaStoreHandle, error) {
	m.mu.Lock()
	cell, ok := m.cells[ns]
	m.mu.Unlock()

	if !ok {
		config, err := m.store.Load(ns)
		if err != nil {
			return MetaStoreHandle{}, err
		}
		fresh := watch.NewCell(config)

		m.mu.Lock()
		if existing, ok := m.cells[ns]; ok {
			// Lost the race; the earlier cell wins.
			cell = existing
		} else {
			m.cells[ns] = fresh
			cell = fresh
		}
		m.mu.Unlock()
	}

	return MetaStoreHandle{
		namespace: ns,
		external:  &externalState{sender: m.sender, cell: cell},
	}, nil
}

// Close stops the apply loop. Updates already in the channel are still
// applied (at-least-once semantics); writers arriving after that point
// get ErrMetaStoreClosed.
func (m *MetaStore[T]) Close() {
	if !m.sender.close() {
		return
	}
	m.wg.Wait()
}

func (m *MetaStore[T]) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.sender.ch:
			m.apply(msg)
		case <-m.sender.done:
			// Drain: in-flight updates land even if their writers are
			// no longer watching.
			for {
				select {
				case msg := <-m.sender.ch:
					m.apply(msg)
				default:
					m.closeCells()
					return
				}
			}
		}
	}
}

func (m *MetaStore[T]) apply(msg ChangeMsg) {
	err := m.store.Store(msg.Namespace, msg.Config)
	if err != nil {
		log.Error("failed to persist config for namespace %s: %v", msg.Namespace, err)
	} else {
		m.cell(msg.Namespace).Set(msg.Config)
		metrics.ConfigUpdates.Inc()
	}

	if msg.ack != nil {
		msg.ack <- err
	}
}

func (m *MetaStore[T]) cell(ns Name) *watch.Cell[*DatabaseConfig] {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.cells[ns]
	if !ok {
		cell = watch.NewCell(DefaultDatabaseConfig())
		m.cells[ns] = cell
	}
	return cell
}

func (m *MetaStore[T]) closeCells() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cell := range m.cells {
		cell.Close()
	}
}

// MetaStoreHandle is a namespace's capability for reading and updating
// its config. Handles are cheap to copy. Exactly one of the two
// variants backs a handle: Internal (synchronous, bootstrap namespace
// only) or External (channel plus watch cell).
type MetaStoreHandle struct {
	namespace Name
	internal  *internalState
	external  *externalState
}

type internalState struct {
	mu     sync.Mutex
	config *DatabaseConfig
}

type externalState struct {
	sender *changeSender
	cell   *watch.Cell[*DatabaseConfig]
}

// NewInternalHandle backs the reserved bootstrap namespace: get and
// store are synchronous and immediate, no cross-task coordination.
func NewInternalHandle() MetaStoreHandle {
	return MetaStoreHandle{
		namespace: InternalName,
		internal:  &internalState{config: DefaultDatabaseConfig()},
	}
}

// LoadInternalHandle builds an internal handle from a database
// directory's persisted config. A missing file yields the default
// config; a file that exists but does not decode is a typed error and
// the namespace fails to come up.
func LoadInternalHandle(dbPath string) (MetaStoreHandle, error) {
	data, err := os.ReadFile(filepath.Join(dbPath, configFileName))
	if os.IsNotExist(err) {
		return NewInternalHandle(), nil
	}
	if err != nil {
		return MetaStoreHandle{}, errors.Wrap(err, "failed to read config")
	}

	var config DatabaseConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return MetaStoreHandle{}, errors.Wrapf(ErrMalformedConfig, "%s: %v", dbPath, err)
	}
	return MetaStoreHandle{
		namespace: InternalName,
		internal:  &internalState{config: &config},
	}, nil
}

// Namespace returns the namespace this handle is scoped to.
func (h MetaStoreHandle) Namespace() Name { return h.namespace }

// Get returns the config as of the last observed change. It never
// blocks: internal handles clone the shared reference under a
// short-lived lock, external handles snapshot the watch cell.
func (h MetaStoreHandle) Get() *DatabaseConfig {
	if h.internal != nil {
		h.internal.mu.Lock()
		defer h.internal.mu.Unlock()
		return h.internal.config
	}
	return h.external.cell.Get()
}

// Store replaces the namespace's config with newConfig. On an external
// handle it enqueues the change on the shared channel and blocks until
// the serializing consumer has durably persisted and published it, so
// the caller observes its own write. Concurrent writers to the same
// namespace are serialized by the channel; the final config is one
// writer's value, never a merge.
func (h MetaStoreHandle) Store(ctx context.Context, newConfig *DatabaseConfig) error {
	if h.internal != nil {
		h.internal.mu.Lock()
		h.internal.config = newConfig
		h.internal.mu.Unlock()
		return nil
	}

	msg := ChangeMsg{
		Namespace: h.namespace,
		Config:    newConfig,
		ack:       make(chan error, 1),
	}
	if err := h.external.sender.send(ctx, msg); err != nil {
		return err
	}

	select {
	case err := <-msg.ack:
		if err != nil {
			return errors.Wrapf(err, "failed to store config for namespace %s", h.namespace)
		}
		return nil
	case <-ctx.Done():
		// The update still lands; this caller just never observes it.
		return ctx.Err()
	}
}
