// Package session tracks which Claude conversation identifiers belong to
// which owner, and reads conversation history out of the CLI's own log
// storage. Relay never generates session identifiers itself and never writes
// to the CLI's logs; it only records ownership.
package session

import (
	"sync"

	"github.com/beamline/relay/internal/logging"
)

// Store is the durable persistence port for the registry. Implementations
// must tolerate the "no persisted state yet" hole for brand-new owners.
type Store interface {
	CurrentSession(owner string) (string, error)
	SetCurrentSession(owner, sessionID string) error
	ClearCurrentSession(owner string) error
	AddOwnedSession(owner, sessionID string) error
	OwnedSessions(owner string) ([]string, error)
	RemoveOwnedSession(owner, sessionID string) error
}

// Canceller terminates an owner's in-flight processes on disconnect.
type Canceller interface {
	CancelAll(owner string)
}

// ownerState is the in-memory cache for one owner. Its mutex serializes that
// owner's persisted writes; different owners never contend.
type ownerState struct {
	mu sync.Mutex

	current       string
	currentLoaded bool

	owned       map[string]struct{}
	ownedLoaded bool
}

// Registry maps owners to their current conversation and to every
// conversation identifier they have ever produced. The persisted copy is
// authoritative; the cache is reloaded lazily after a disconnect. Persistence
// failures degrade to absent/no-op with a log record, never an error on the
// invocation path.
type Registry struct {
	store     Store
	canceller Canceller

	mu     sync.Mutex
	owners map[string]*ownerState
}

// NewRegistry creates a registry over the given durable store. canceller may
// be nil when process cancellation on disconnect is not wanted (tests).
func NewRegistry(store Store, canceller Canceller) *Registry {
	return &Registry{
		store:     store,
		canceller: canceller,
		owners:    make(map[string]*ownerState),
	}
}

func (r *Registry) owner(owner string) *ownerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.owners[owner]
	if !ok {
		st = &ownerState{owned: make(map[string]struct{})}
		r.owners[owner] = st
	}
	return st
}

// CurrentSession returns the owner's current conversation identifier, or
// false when the owner has no active conversation.
func (r *Registry) CurrentSession(owner string) (string, bool) {
	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	r.loadCurrentLocked(owner, st)
	if !st.currentLoaded || st.current == "" {
		return "", false
	}
	return st.current, true
}

// SetCurrentSession makes sessionID the owner's current conversation and
// records it in the owner's historical set.
func (r *Registry) SetCurrentSession(owner, sessionID string) {
	if sessionID == "" {
		return
	}

	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	r.loadOwnedLocked(owner, st)
	st.current = sessionID
	st.currentLoaded = true
	st.owned[sessionID] = struct{}{}

	if err := r.store.AddOwnedSession(owner, sessionID); err != nil {
		logging.Error("failed to persist owned session", "owner", owner, "error", err)
	}
	if err := r.store.SetCurrentSession(owner, sessionID); err != nil {
		logging.Error("failed to persist current session", "owner", owner, "error", err)
	}
}

// Resume makes an existing identifier the current conversation again.
func (r *Registry) Resume(owner, sessionID string) {
	r.SetCurrentSession(owner, sessionID)
}

// NewConversation clears the current conversation pointer only. The
// historical set is untouched; a fresh identifier arrives with the first
// message of the next conversation.
func (r *Registry) NewConversation(owner string) {
	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.current = ""
	st.currentLoaded = true

	if err := r.store.ClearCurrentSession(owner); err != nil {
		logging.Error("failed to clear current session", "owner", owner, "error", err)
	}
}

// OwnedSessions returns the owner's historical identifier set.
func (r *Registry) OwnedSessions(owner string) map[string]struct{} {
	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	r.loadOwnedLocked(owner, st)

	out := make(map[string]struct{}, len(st.owned))
	for id := range st.owned {
		out[id] = struct{}{}
	}
	return out
}

// Owns reports whether sessionID belongs to owner. Reads of conversation
// content must pass this check first.
func (r *Registry) Owns(owner, sessionID string) bool {
	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	r.loadOwnedLocked(owner, st)
	_, ok := st.owned[sessionID]
	return ok
}

// DeleteSession removes an identifier from the owner's historical set. This
// is a visibility operation only: nothing is deleted from the external log
// store. If the identifier was current, the pointer is cleared too.
func (r *Registry) DeleteSession(owner, sessionID string) {
	if sessionID == "" {
		return
	}

	st := r.owner(owner)
	st.mu.Lock()
	defer st.mu.Unlock()

	r.loadOwnedLocked(owner, st)
	delete(st.owned, sessionID)

	if err := r.store.RemoveOwnedSession(owner, sessionID); err != nil {
		logging.Error("failed to remove owned session", "owner", owner, "error", err)
	}

	// The pointer must be loaded before the comparison, or a delete issued
	// before the first read of a restarted daemon leaves it dangling.
	r.loadCurrentLocked(owner, st)
	if st.currentLoaded && st.current == sessionID {
		st.current = ""
		if err := r.store.ClearCurrentSession(owner); err != nil {
			logging.Error("failed to clear current session", "owner", owner, "error", err)
		}
	}

	logging.Info("deleted conversation", "session_id", sessionID, "owner", owner)
}

// OnOwnerDisconnect drops the owner's in-memory caches and cancels their
// in-flight processes. The persisted copy remains authoritative and is
// reloaded lazily on next access.
func (r *Registry) OnOwnerDisconnect(owner string) {
	logging.Info("cleaning up sessions", "owner", owner)

	if r.canceller != nil {
		r.canceller.CancelAll(owner)
	}

	r.mu.Lock()
	delete(r.owners, owner)
	r.mu.Unlock()
}

// loadCurrentLocked populates the current pointer from storage on first
// access. Caller holds st.mu.
func (r *Registry) loadCurrentLocked(owner string, st *ownerState) {
	if st.currentLoaded {
		return
	}

	id, err := r.store.CurrentSession(owner)
	if err != nil {
		logging.Debug("failed to read current session", "owner", owner, "error", err)
		return
	}
	st.current = id
	st.currentLoaded = true
}

// loadOwnedLocked populates the historical set from storage on first access.
// Caller holds st.mu.
func (r *Registry) loadOwnedLocked(owner string, st *ownerState) {
	if st.ownedLoaded {
		return
	}

	ids, err := r.store.OwnedSessions(owner)
	if err != nil {
		logging.Debug("failed to load owned sessions", "owner", owner, "error", err)
		return
	}
	for _, id := range ids {
		st.owned[id] = struct{}{}
	}
	st.ownedLoaded = true
}
