package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for registry tests.
type memStore struct {
	mu      sync.Mutex
	current map[string]string
	owned   map[string]map[string]struct{}
	failing bool
}

func newMemStore() *memStore {
	return &memStore{
		current: make(map[string]string),
		owned:   make(map[string]map[string]struct{}),
	}
}

func (m *memStore) CurrentSession(owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", errors.New("store down")
	}
	return m.current[owner], nil
}

func (m *memStore) SetCurrentSession(owner, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	m.current[owner] = sessionID
	return nil
}

func (m *memStore) ClearCurrentSession(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	delete(m.current, owner)
	return nil
}

func (m *memStore) AddOwnedSession(owner, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	if m.owned[owner] == nil {
		m.owned[owner] = make(map[string]struct{})
	}
	m.owned[owner][sessionID] = struct{}{}
	return nil
}

func (m *memStore) OwnedSessions(owner string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("store down")
	}
	var out []string
	for id := range m.owned[owner] {
		out = append(out, id)
	}
	return out, nil
}

func (m *memStore) RemoveOwnedSession(owner, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	delete(m.owned[owner], sessionID)
	return nil
}

type recordingCanceller struct {
	mu     sync.Mutex
	owners []string
}

func (c *recordingCanceller) CancelAll(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = append(c.owners, owner)
}

func TestRegistryCurrentSessionLifecycle(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)

	_, ok := reg.CurrentSession("alice")
	assert.False(t, ok, "fresh owner must have no current session")

	reg.SetCurrentSession("alice", "sess-1")

	id, ok := reg.CurrentSession("alice")
	require.True(t, ok)
	assert.Equal(t, "sess-1", id)
	assert.True(t, reg.Owns("alice", "sess-1"))

	// Empty identifiers are ignored
	reg.SetCurrentSession("alice", "")
	id, _ = reg.CurrentSession("alice")
	assert.Equal(t, "sess-1", id)
}

func TestRegistryOwnershipIsolation(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)

	reg.SetCurrentSession("alice", "sess-a")
	reg.SetCurrentSession("bob", "sess-b")

	assert.True(t, reg.Owns("alice", "sess-a"))
	assert.False(t, reg.Owns("alice", "sess-b"))
	assert.False(t, reg.Owns("bob", "sess-a"))

	id, ok := reg.CurrentSession("bob")
	require.True(t, ok)
	assert.Equal(t, "sess-b", id)
}

func TestRegistryNewConversationKeepsHistory(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)

	reg.SetCurrentSession("alice", "sess-1")
	reg.NewConversation("alice")

	_, ok := reg.CurrentSession("alice")
	assert.False(t, ok, "current pointer must be cleared")
	assert.True(t, reg.Owns("alice", "sess-1"), "history must survive a new conversation")

	reg.SetCurrentSession("alice", "sess-2")
	owned := reg.OwnedSessions("alice")
	assert.Len(t, owned, 2)
}

func TestRegistryDeleteSession(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)

	reg.SetCurrentSession("alice", "sess-1")
	reg.SetCurrentSession("alice", "sess-2")

	// Deleting a non-current session leaves the pointer alone
	reg.DeleteSession("alice", "sess-1")
	assert.False(t, reg.Owns("alice", "sess-1"))
	id, ok := reg.CurrentSession("alice")
	require.True(t, ok)
	assert.Equal(t, "sess-2", id)

	// Deleting the current session clears the pointer
	reg.DeleteSession("alice", "sess-2")
	assert.False(t, reg.Owns("alice", "sess-2"))
	_, ok = reg.CurrentSession("alice")
	assert.False(t, ok)
}

func TestRegistryDeleteCurrentAfterRestart(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st, nil)
	reg.SetCurrentSession("alice", "sess-1")

	// A fresh registry over the same store has not read the pointer yet;
	// deleting the current session must still clear it.
	reg2 := NewRegistry(st, nil)
	reg2.DeleteSession("alice", "sess-1")

	_, ok := reg2.CurrentSession("alice")
	assert.False(t, ok, "deleted session must not remain current")
	assert.False(t, reg2.Owns("alice", "sess-1"))

	// The clear reached storage, not just the cache
	reg3 := NewRegistry(st, nil)
	_, ok = reg3.CurrentSession("alice")
	assert.False(t, ok, "persisted pointer must be cleared too")
}

func TestRegistryPersistenceSurvivesCacheDrop(t *testing.T) {
	st := newMemStore()
	reg := NewRegistry(st, nil)

	reg.SetCurrentSession("alice", "sess-1")
	reg.OnOwnerDisconnect("alice")

	// A second registry over the same store sees the persisted state,
	// modelling a daemon restart.
	reg2 := NewRegistry(st, nil)
	id, ok := reg2.CurrentSession("alice")
	require.True(t, ok)
	assert.Equal(t, "sess-1", id)
	assert.True(t, reg2.Owns("alice", "sess-1"))
}

func TestRegistryDisconnectCancelsProcesses(t *testing.T) {
	canceller := &recordingCanceller{}
	reg := NewRegistry(newMemStore(), canceller)

	reg.SetCurrentSession("alice", "sess-1")
	reg.OnOwnerDisconnect("alice")

	assert.Equal(t, []string{"alice"}, canceller.owners)
}

func TestRegistryStoreFailureDegrades(t *testing.T) {
	st := newMemStore()
	st.failing = true
	reg := NewRegistry(st, nil)

	// Nothing panics and nothing is reported to the caller
	reg.SetCurrentSession("alice", "sess-1")
	reg.NewConversation("alice")
	reg.DeleteSession("alice", "sess-1")
	_, ok := reg.CurrentSession("alice")
	_ = ok
}

func TestRegistryOwnedSessionsReturnsCopy(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)
	reg.SetCurrentSession("alice", "sess-1")

	owned := reg.OwnedSessions("alice")
	delete(owned, "sess-1")

	assert.True(t, reg.Owns("alice", "sess-1"), "caller mutation must not leak into the registry")
}
