package claude

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/beamline/relay/internal/logging"
)

// trackedProcess pairs a live process handle with its spawn time.
type trackedProcess struct {
	proc    *os.Process
	started time.Time
}

// Tracker registers in-flight Claude processes per owner so they can be
// cancelled on disconnect and counted for admission. All methods are safe to
// call concurrently.
type Tracker struct {
	mu     sync.Mutex
	active map[string][]trackedProcess
}

// NewTracker creates an empty process tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string][]trackedProcess),
	}
}

// Register adds a process to the owner's live set. Multiple registrations per
// owner are legal and independent.
func (t *Tracker) Register(owner string, proc *os.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[owner] = append(t.active[owner], trackedProcess{
		proc:    proc,
		started: time.Now(),
	})
	logging.Debug("registered claude process", "pid", proc.Pid, "owner", owner)
}

// Unregister removes exactly that process from the owner's live set.
// Idempotent: a second call for the same handle, or a call racing a
// CancelAll that already removed it, is a no-op.
func (t *Tracker) Unregister(owner string, proc *os.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()

	procs := t.active[owner]
	for i, tp := range procs {
		if tp.proc == proc {
			t.active[owner] = append(procs[:i], procs[i+1:]...)
			break
		}
	}
	if len(t.active[owner]) == 0 {
		delete(t.active, owner)
	}
}

// CancelAll atomically removes the owner's entire live set and forcibly
// terminates every entry still alive. This is the disconnect path: it never
// waits for graceful shutdown, and kill failures are logged and swallowed.
func (t *Tracker) CancelAll(owner string) {
	t.mu.Lock()
	procs := t.active[owner]
	delete(t.active, owner)
	t.mu.Unlock()

	if len(procs) == 0 {
		return
	}

	logging.Info("cancelling active claude processes", "count", len(procs), "owner", owner)

	for _, tp := range procs {
		if !processExists(tp.proc.Pid) {
			continue
		}
		if err := tp.proc.Kill(); err != nil {
			logging.Warn("failed to kill claude process", "pid", tp.proc.Pid, "error", err)
			continue
		}
		logging.Info("killed claude process",
			"pid", tp.proc.Pid,
			"running_for", time.Since(tp.started))
	}
}

// ActiveCount returns the number of live processes for an owner, pruning
// entries whose process has already exited so a crashed process never
// permanently inflates the count.
func (t *Tracker) ActiveCount(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	procs := t.active[owner]
	kept := procs[:0]
	for _, tp := range procs {
		if processExists(tp.proc.Pid) {
			kept = append(kept, tp)
		}
	}
	if len(kept) == 0 {
		delete(t.active, owner)
		return 0
	}
	t.active[owner] = kept
	return len(kept)
}

// TotalActiveCount returns the number of tracked processes across all owners.
func (t *Tracker) TotalActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, procs := range t.active {
		total += len(procs)
	}
	return total
}

// processExists checks if a process with the given PID is running.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
