package claude

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beamline/relay/internal/logging"
)

// Options configures how turns are executed.
type Options struct {
	// Command is the path to the claude binary.
	Command string
	// Model selects the model alias passed to the CLI.
	Model string
	// MaxTurns bounds the agentic loop within one invocation.
	MaxTurns int
	// AllowedTools is the capability allow-list granted to the agent.
	AllowedTools []string
	// ExitTimeout bounds the wait for process exit after its output closes.
	ExitTimeout time.Duration
}

// Request describes one conversational turn.
type Request struct {
	Prompt string
	// Owner is the principal the turn runs on behalf of; the partition key
	// for tracking and session ownership.
	Owner string
	// WorkDir is the owner's designated workspace, used as the subprocess
	// working directory.
	WorkDir string
	// SessionID resumes an existing conversation when non-empty.
	SessionID string
	Privileged bool
}

// Callbacks deliver results to the caller. They are invoked from the
// invocation's goroutine; caller-side state they touch must tolerate that.
// Chunk callbacks arrive in output order; exactly one of OnComplete or
// OnError follows the last chunk.
type Callbacks struct {
	OnChunk    func(text string)
	OnComplete func(finalText string)
	OnError    func(err error)
}

// TimeoutError reports a subprocess that closed its output but never exited
// within budget. The process has been forcibly terminated.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("claude process timed out after %s", e.After)
}

// ExitError reports a subprocess that exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("claude process exited with code %d", e.Code)
}

// Runner executes conversational turns against the Claude CLI.
type Runner struct {
	opts    Options
	tracker *Tracker
}

// NewRunner creates a runner that records spawned processes in tracker.
func NewRunner(opts Options, tracker *Tracker) *Runner {
	if opts.Command == "" {
		opts.Command = FindCommand()
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = 120 * time.Second
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 100
	}
	return &Runner{opts: opts, tracker: tracker}
}

// Invocation is the handle for one in-flight turn. SessionID, FinalText and
// Err are valid once Done is closed.
type Invocation struct {
	done chan struct{}

	mu        sync.Mutex
	sessionID string
	finalText string
	err       error
}

// Done closes when the invocation reaches a terminal state.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// SessionID returns the session identifier captured from the init event, or
// empty if none was seen.
func (inv *Invocation) SessionID() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.sessionID
}

// FinalText returns the accumulated response text.
func (inv *Invocation) FinalText() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.finalText
}

// Err returns the terminal error, nil on success.
func (inv *Invocation) Err() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.err
}

func (inv *Invocation) setSessionID(id string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.sessionID == "" {
		inv.sessionID = id
	}
}

// Run executes one turn on a background goroutine and returns immediately.
// The callbacks are the only channel through which streaming results reach
// the caller.
func (r *Runner) Run(ctx context.Context, req Request, cb Callbacks) *Invocation {
	inv := &Invocation{done: make(chan struct{})}
	go r.run(ctx, req, cb, inv)
	return inv
}

func (r *Runner) run(ctx context.Context, req Request, cb Callbacks, inv *Invocation) {
	defer close(inv.done)

	fail := func(err error) {
		inv.mu.Lock()
		inv.err = err
		inv.mu.Unlock()
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}

	cmd := exec.CommandContext(ctx, r.opts.Command, r.buildArgs(req)...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(),
		"RELAY_OWNER_ID="+req.Owner,
		"RELAY_OWNER_PRIVILEGED="+strconv.FormatBool(req.Privileged),
		"CLAUDE_PROJECT_DIR="+req.WorkDir,
		"TERM=dumb", // non-interactive terminal
		"CI=true",   // signal non-interactive environment
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(fmt.Errorf("failed to open stdout pipe: %w", err))
		return
	}
	// Merge stderr into the same stream; diagnostics become skipped lines.
	cmd.Stderr = cmd.Stdout

	// No interactive input is ever sent: -p carries the whole prompt.
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("failed to start claude: %w", err))
		return
	}

	// Register before reading any output so a concurrent CancelAll is
	// guaranteed to observe the live handle.
	r.tracker.Register(req.Owner, cmd.Process)
	defer r.tracker.Unregister(req.Owner, cmd.Process)

	logging.Debug("claude process started",
		"pid", cmd.Process.Pid,
		"owner", req.Owner,
		"workdir", req.WorkDir,
		"resume", req.SessionID != "")

	var response strings.Builder

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		event := Decode(scanner.Text())
		if event == nil {
			continue
		}

		// First init event wins; later ones never overwrite.
		if event.IsInit() && event.SessionID != "" {
			inv.setSessionID(event.SessionID)
		}

		if event.IsTextDelta() {
			if cb.OnChunk != nil {
				cb.OnChunk(event.Text)
			}
			response.WriteString(event.Text)
		}

		if event.IsResult() {
			// The result is authoritative: it replaces the accumulated
			// deltas wholesale, even when empty.
			response.Reset()
			response.WriteString(event.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn("error reading claude output", "pid", cmd.Process.Pid, "error", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-waitErr:
	case <-time.After(r.opts.ExitTimeout):
		cmd.Process.Kill()
		<-waitErr // reap
		fail(&TimeoutError{After: r.opts.ExitTimeout})
		return
	}

	if code := cmd.ProcessState.ExitCode(); code != 0 {
		fail(&ExitError{Code: code})
		return
	}

	final := response.String()
	inv.mu.Lock()
	inv.finalText = final
	inv.mu.Unlock()

	if cb.OnComplete != nil {
		cb.OnComplete(final)
	}
}

func (r *Runner) buildArgs(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose", // required for stream-json with -p
		"--max-turns", strconv.Itoa(r.opts.MaxTurns),
		"--model", r.opts.Model,
		"--allowedTools", strings.Join(r.opts.AllowedTools, ","),
	}

	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}

	return args
}
