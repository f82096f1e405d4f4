// Package monitor owns the captured entries, the view filter and the
// selection, and keeps the entries synchronized with session storage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"apimon/internal/buffer"
	"apimon/internal/types"
)

// ErrAlreadyLoaded is returned by a second call to Load.
var ErrAlreadyLoaded = errors.New("monitor: session already loaded")

// Store persists the full entry list under a single key.
type Store interface {
	Load(ctx context.Context) ([]types.Entry, error)
	Save(ctx context.Context, entries []types.Entry) error
}

// Event kinds delivered to subscribers.
const (
	EventEntry = "entry"
	EventClear = "clear"
)

// Event notifies live viewers about a change.
type Event struct {
	Kind  string       `json:"kind"`
	Entry *types.Entry `json:"entry,omitempty"`
}

type visibleKey struct {
	version uint64
	filter  buffer.Filter
}

// Monitor is safe for concurrent use.
type Monitor struct {
	store Store
	log   *zap.Logger

	mu      sync.Mutex
	state   State
	loading bool
	loaded  bool
	// dirty and cleared record mutations that happened before the initial
	// load completed.
	dirty   bool
	cleared bool

	visKey   visibleKey
	visible  []types.Entry
	visValid bool

	pending    []types.Entry
	hasPending bool
	kick       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	closed     bool

	subs map[chan Event]struct{}
}

// Options configures a Monitor.
type Options struct {
	MaxItems int
	Log      *zap.Logger
}

// New returns a monitor backed by store. Nothing is written to store until
// Load has completed.
func New(store Store, opts Options) *Monitor {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		store:      store,
		log:        log,
		state:      NewState(opts.MaxItems),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		subs:       make(map[chan Event]struct{}),
	}
	go m.writer()
	return m
}

// Load initializes the entries from the store. Entries inserted before Load
// completes are kept ahead of the loaded ones. A load failure leaves the
// loaded set empty but still enables persistence.
func (m *Monitor) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.loading || m.loaded {
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	m.loading = true
	m.mu.Unlock()

	items, err := m.store.Load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
	m.loaded = true
	if err != nil {
		items = nil
		err = fmt.Errorf("load session: %w", err)
	}

	if !m.cleared {
		merged := m.state.Items.Items()
		for _, e := range items {
			merged = append(merged, sanitize(e))
		}
		Reduce(&m.state, SetItems{Items: merged})
	}
	if m.dirty {
		m.schedulePersistLocked()
	}
	m.dirty, m.cleared = false, false

	m.log.Info("session loaded", zap.Int("entries", m.state.Items.Len()))
	return err
}

// Insert adds a captured entry as the newest one.
func (m *Monitor) Insert(e types.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	Reduce(&m.state, AddItem{Item: e})
	m.afterMutationLocked()
	m.notifyLocked(Event{Kind: EventEntry, Entry: &e})
}

// Clear removes every entry and the selection.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	Reduce(&m.state, Clear{})
	if !m.loaded {
		m.cleared = true
	}
	m.afterMutationLocked()
	m.notifyLocked(Event{Kind: EventClear})
}

// SetFilter replaces the active filter.
func (m *Monitor) SetFilter(f buffer.Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	Reduce(&m.state, SetFilter{Filter: f})
}

func (m *Monitor) Filter() buffer.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Filter
}

// Select marks id as the selected entry and reports whether it exists.
func (m *Monitor) Select(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	Reduce(&m.state, SetSelected{ID: id})
	_, ok := m.state.Items.Find(id)
	return ok
}

// Selected returns the selected entry, if it is still buffered.
func (m *Monitor) Selected() (types.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.SelectedID == "" {
		return types.Entry{}, false
	}
	return m.state.Items.Find(m.state.SelectedID)
}

// Get returns the buffered entry with the given id.
func (m *Monitor) Get(id string) (types.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Items.Find(id)
}

// Entries returns every buffered entry, newest first.
func (m *Monitor) Entries() []types.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Items.Items()
}

// Visible returns the entries passing the active filter. The result is
// shared between callers until the entries or the filter change and must
// not be modified.
func (m *Monitor) Visible() []types.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := visibleKey{version: m.state.Items.Version(), filter: m.state.Filter}
	if m.visValid && m.visKey == key {
		return m.visible
	}
	m.visible = buffer.Apply(m.state.Items.Items(), m.state.Filter)
	m.visKey = key
	m.visValid = true
	return m.visible
}

// Subscribe returns a channel of change events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
		})
	}
}

// Close writes the latest pending snapshot, stops the writer and ends all
// subscriptions.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	m.mu.Unlock()

	<-m.writerDone
	return nil
}

func (m *Monitor) afterMutationLocked() {
	if !m.loaded {
		m.dirty = true
		return
	}
	m.schedulePersistLocked()
}

func (m *Monitor) schedulePersistLocked() {
	if m.closed {
		return
	}
	m.pending = m.state.Items.Items()
	m.hasPending = true
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Monitor) notifyLocked(ev Event) {
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Monitor) writer() {
	defer close(m.writerDone)
	for {
		select {
		case <-m.kick:
			m.flush()
		case <-m.done:
			m.flush()
			return
		}
	}
}

func (m *Monitor) flush() {
	m.mu.Lock()
	if !m.hasPending {
		m.mu.Unlock()
		return
	}
	snapshot := m.pending
	m.pending, m.hasPending = nil, false
	m.mu.Unlock()

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		m.log.Warn("persist session", zap.Int("entries", len(snapshot)), zap.Error(err))
	}
}

// sanitize restores invariants on entries read back from storage.
func sanitize(e types.Entry) types.Entry {
	if e.RequestHeaders == nil {
		e.RequestHeaders = []types.Header{}
	}
	if e.ResponseHeaders == nil {
		e.ResponseHeaders = []types.Header{}
	}
	if e.ResponseUnreadable {
		e.ResponseBody = ""
	}
	return e
}
