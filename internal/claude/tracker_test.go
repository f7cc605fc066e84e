package claude

import (
	"os/exec"
	"testing"
	"time"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	return cmd
}

func TestTrackerRegisterAndCount(t *testing.T) {
	tracker := NewTracker()

	if got := tracker.ActiveCount("alice"); got != 0 {
		t.Fatalf("ActiveCount = %d, want 0", got)
	}

	a := startSleeper(t)
	b := startSleeper(t)
	tracker.Register("alice", a.Process)
	tracker.Register("alice", b.Process)

	if got := tracker.ActiveCount("alice"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := tracker.TotalActiveCount(); got != 2 {
		t.Errorf("TotalActiveCount = %d, want 2", got)
	}
}

func TestTrackerUnregister(t *testing.T) {
	tracker := NewTracker()

	cmd := startSleeper(t)
	tracker.Register("alice", cmd.Process)
	tracker.Unregister("alice", cmd.Process)

	if got := tracker.ActiveCount("alice"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}

	// Unregistering twice is a no-op
	tracker.Unregister("alice", cmd.Process)
	tracker.Unregister("bob", cmd.Process)
}

func TestTrackerCancelAll(t *testing.T) {
	tracker := NewTracker()

	a := startSleeper(t)
	b := startSleeper(t)
	other := startSleeper(t)
	tracker.Register("alice", a.Process)
	tracker.Register("alice", b.Process)
	tracker.Register("bob", other.Process)

	tracker.CancelAll("alice")

	if got := tracker.ActiveCount("alice"); got != 0 {
		t.Errorf("ActiveCount(alice) = %d, want 0", got)
	}
	if got := tracker.ActiveCount("bob"); got != 1 {
		t.Errorf("ActiveCount(bob) = %d, want 1; cancellation leaked across owners", got)
	}

	// Both of alice's processes must actually be dead. Wait reaps them so
	// the liveness probe below cannot see zombies as alive.
	a.Wait()
	b.Wait()
	if processExists(a.Process.Pid) || processExists(b.Process.Pid) {
		t.Error("cancelled processes still alive")
	}
}

func TestTrackerCancelAllUnknownOwner(t *testing.T) {
	tracker := NewTracker()
	tracker.CancelAll("nobody")
}

func TestTrackerPrunesDeadProcesses(t *testing.T) {
	tracker := NewTracker()

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start true: %v", err)
	}
	tracker.Register("alice", cmd.Process)
	cmd.Wait()

	// The exited process was never unregistered; the count must not include it.
	deadline := time.After(2 * time.Second)
	for tracker.ActiveCount("alice") != 0 {
		select {
		case <-deadline:
			t.Fatal("dead process still counted as active")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
