package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"apimon/internal/buffer"
	"apimon/internal/types"
)

type fakeStore struct {
	mu       sync.Mutex
	loadGate chan struct{}
	initial  []types.Entry
	loadErr  error
	loaded   bool
	saves    [][]types.Entry
	// savedBeforeLoad is set when Save runs before Load has returned.
	savedBeforeLoad bool
}

func (s *fakeStore) Load(ctx context.Context) ([]types.Entry, error) {
	if s.loadGate != nil {
		<-s.loadGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	return s.initial, s.loadErr
}

func (s *fakeStore) Save(ctx context.Context, entries []types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.savedBeforeLoad = true
	}
	s.saves = append(s.saves, entries)
	return nil
}

func (s *fakeStore) lastSave() ([]types.Entry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil, 0
	}
	return s.saves[len(s.saves)-1], len(s.saves)
}

func ids(entries []types.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestLoadThenInsertPersists(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{initial: []types.Entry{{ID: "old"}}}
	m := New(store, Options{})
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, []string{"old"}, ids(m.Entries()))

	m.Insert(types.Entry{ID: "new"})
	require.NoError(t, m.Close())

	saved, _ := store.lastSave()
	assert.Equal(t, []string{"new", "old"}, ids(saved))
}

func TestLoadOnlyOnce(t *testing.T) {
	m := New(&fakeStore{}, Options{})
	defer m.Close()

	require.NoError(t, m.Load(context.Background()))
	assert.ErrorIs(t, m.Load(context.Background()), ErrAlreadyLoaded)
}

func TestNoPersistBeforeLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeStore{
		loadGate: make(chan struct{}),
		initial:  []types.Entry{{ID: "persisted"}},
	}
	m := New(store, Options{})

	loadDone := make(chan error)
	go func() { loadDone <- m.Load(context.Background()) }()

	m.Insert(types.Entry{ID: "early-1"})
	m.Insert(types.Entry{ID: "early-2"})
	time.Sleep(20 * time.Millisecond)
	_, n := store.lastSave()
	assert.Zero(t, n, "nothing may be written before load completes")

	close(store.loadGate)
	require.NoError(t, <-loadDone)
	require.NoError(t, m.Close())

	assert.False(t, store.savedBeforeLoad)
	saved, _ := store.lastSave()
	assert.Equal(t, []string{"early-2", "early-1", "persisted"}, ids(saved))
}

func TestLoadWithoutEarlyInsertDoesNotPersist(t *testing.T) {
	store := &fakeStore{initial: []types.Entry{{ID: "persisted"}}}
	m := New(store, Options{})
	require.NoError(t, m.Load(context.Background()))
	require.NoError(t, m.Close())

	_, n := store.lastSave()
	assert.Zero(t, n)
}

func TestClearBeforeLoadDropsPersisted(t *testing.T) {
	store := &fakeStore{
		loadGate: make(chan struct{}),
		initial:  []types.Entry{{ID: "persisted"}},
	}
	m := New(store, Options{})

	loadDone := make(chan error)
	go func() { loadDone <- m.Load(context.Background()) }()
	m.Clear()
	close(store.loadGate)
	require.NoError(t, <-loadDone)
	require.NoError(t, m.Close())

	assert.Empty(t, m.Entries())
	saved, n := store.lastSave()
	assert.Equal(t, 1, n)
	assert.Empty(t, saved)
}

func TestLoadFailureStillEnablesPersistence(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("corrupt")}
	m := New(store, Options{})

	err := m.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")

	m.Insert(types.Entry{ID: "a"})
	require.NoError(t, m.Close())
	saved, _ := store.lastSave()
	assert.Equal(t, []string{"a"}, ids(saved))
}

func TestLoadRestoresHeaderInvariants(t *testing.T) {
	store := &fakeStore{initial: []types.Entry{{ID: "a", ResponseUnreadable: true, ResponseBody: "x"}}}
	m := New(store, Options{})
	defer m.Close()
	require.NoError(t, m.Load(context.Background()))

	e, ok := m.Get("a")
	require.True(t, ok)
	assert.NotNil(t, e.RequestHeaders)
	assert.NotNil(t, e.ResponseHeaders)
	assert.Empty(t, e.ResponseBody)
}

func TestBufferCapHonored(t *testing.T) {
	m := New(&fakeStore{}, Options{MaxItems: 5})
	defer m.Close()
	require.NoError(t, m.Load(context.Background()))

	for i := 0; i < 12; i++ {
		m.Insert(types.Entry{ID: fmt.Sprint(i)})
	}
	assert.Equal(t, []string{"11", "10", "9", "8", "7"}, ids(m.Entries()))
}

func TestClearResetsSelection(t *testing.T) {
	store := &fakeStore{}
	m := New(store, Options{})
	require.NoError(t, m.Load(context.Background()))

	m.Insert(types.Entry{ID: "a"})
	assert.True(t, m.Select("a"))
	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "a", sel.ID)

	m.Clear()
	_, ok = m.Selected()
	assert.False(t, ok)
	assert.False(t, m.Select("a"))

	require.NoError(t, m.Close())
	saved, n := store.lastSave()
	assert.GreaterOrEqual(t, n, 1)
	assert.Empty(t, saved)
}

func TestVisibleMemoized(t *testing.T) {
	m := New(&fakeStore{}, Options{})
	defer m.Close()
	require.NoError(t, m.Load(context.Background()))

	m.Insert(types.Entry{ID: "ok", Status: 200, URL: "/api/x"})
	m.Insert(types.Entry{ID: "err", Status: 500, URL: "/other"})

	m.SetFilter(buffer.Filter{OnlyErrors: true})
	first := m.Visible()
	second := m.Visible()
	require.Equal(t, []string{"err"}, ids(first))
	assert.Same(t, &first[0], &second[0])

	m.SetFilter(buffer.Filter{OnlyAPI: true})
	assert.Equal(t, []string{"ok"}, ids(m.Visible()))
	assert.Equal(t, buffer.Filter{OnlyAPI: true}, m.Filter())

	m.Insert(types.Entry{ID: "api2", Status: 200, URL: "/api/y"})
	assert.Equal(t, []string{"api2", "ok"}, ids(m.Visible()))
}

func TestSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := New(&fakeStore{}, Options{})
	require.NoError(t, m.Load(context.Background()))

	events, cancel := m.Subscribe()
	m.Insert(types.Entry{ID: "a"})
	m.Clear()

	ev := <-events
	assert.Equal(t, EventEntry, ev.Kind)
	require.NotNil(t, ev.Entry)
	assert.Equal(t, "a", ev.Entry.ID)
	assert.Equal(t, EventClear, (<-events).Kind)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)

	late, _ := m.Subscribe()
	require.NoError(t, m.Close())
	_, open = <-late
	assert.False(t, open)
}
