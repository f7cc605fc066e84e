package daemon

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/beamline/relay/internal/claude"
)

// Admission rejections, phrased for the person who typed the prompt.
var (
	ErrTurnInFlight = errors.New("please wait for the current response to finish")
	ErrTooSoon      = errors.New("please wait a moment before sending another message")
	ErrAtCapacity   = errors.New("the assistant is at capacity, try again shortly")
)

// Gate applies admission policy to incoming turns: one live process per owner
// (configurable), a minimum gap between an owner's submissions, and a global
// in-flight cap shared by all owners.
type Gate struct {
	tracker     *claude.Tracker
	perOwner    int
	minInterval time.Duration
	sem         *semaphore.Weighted

	mu         sync.Mutex
	lastSubmit map[string]time.Time
}

// NewGate builds a gate over the shared process tracker.
func NewGate(tracker *claude.Tracker, maxConcurrent int64, perOwner int, minInterval time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if perOwner <= 0 {
		perOwner = 1
	}
	return &Gate{
		tracker:     tracker,
		perOwner:    perOwner,
		minInterval: minInterval,
		sem:         semaphore.NewWeighted(maxConcurrent),
		lastSubmit:  make(map[string]time.Time),
	}
}

// Admit decides whether an owner may start a turn right now. A nil return
// reserves one global slot; the caller must Release it when the turn ends.
func (g *Gate) Admit(owner string) error {
	if g.tracker.ActiveCount(owner) >= g.perOwner {
		return ErrTurnInFlight
	}

	g.mu.Lock()
	last, seen := g.lastSubmit[owner]
	g.mu.Unlock()
	if seen && g.minInterval > 0 && time.Since(last) < g.minInterval {
		return ErrTooSoon
	}

	if !g.sem.TryAcquire(1) {
		return ErrAtCapacity
	}

	// The interval clock starts only for admitted turns; a capacity
	// rejection must not convert the owner's retry into ErrTooSoon.
	g.mu.Lock()
	g.lastSubmit[owner] = time.Now()
	g.mu.Unlock()
	return nil
}

// Release returns a global slot reserved by a successful Admit.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Forget drops an owner's rate-limit state after a disconnect.
func (g *Gate) Forget(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastSubmit, owner)
}
