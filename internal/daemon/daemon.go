// Package daemon wires the relay components together and exposes them over
// the control socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/beamline/relay/internal/claude"
	"github.com/beamline/relay/internal/config"
	"github.com/beamline/relay/internal/control"
	"github.com/beamline/relay/internal/logging"
	"github.com/beamline/relay/internal/session"
	"github.com/beamline/relay/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

// Daemon is the long-running relay service.
type Daemon struct {
	cfg      *config.Config
	store    *store.Store
	tracker  *claude.Tracker
	registry *session.Registry
	reader   *session.Reader
	runner   *claude.Runner
	gate     *Gate
	server   *control.Server

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New assembles a daemon from configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Daemon.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	tracker := claude.NewTracker()
	registry := session.NewRegistry(st, tracker)
	reader := session.NewReader(cfg.Claude.ProjectsDir, cfg.Chat.PreviewLength)
	runner := claude.NewRunner(claude.Options{
		Command:      cfg.Claude.Command,
		Model:        cfg.Claude.Model,
		MaxTurns:     cfg.Claude.MaxTurns,
		AllowedTools: cfg.Claude.AllowedTools,
		ExitTimeout:  cfg.Claude.ExitTimeout,
	}, tracker)
	gate := NewGate(tracker, cfg.Limits.MaxConcurrent, cfg.Limits.PerOwnerActive, cfg.Limits.MinInterval)

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		cfg:       cfg,
		store:     st,
		tracker:   tracker,
		registry:  registry,
		reader:    reader,
		runner:    runner,
		gate:      gate,
		server:    control.NewServer(cfg.Daemon.Socket),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	d.registerHandlers()
	d.server.OnDisconnect(d.handleDisconnect)

	return d, nil
}

// Start begins serving the control socket.
func (d *Daemon) Start() error {
	if err := d.server.Start(); err != nil {
		return err
	}
	logging.Info("control socket ready",
		"socket", d.cfg.Daemon.Socket,
		"auth", d.cfg.Daemon.AuthSecret != "")
	return nil
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("received signal", "signal", sig.String())
	case <-d.ctx.Done():
	}

	d.Stop()
	return nil
}

// Stop shuts the daemon down: clients are notified, in-flight subprocesses
// are killed through their context, and the store is closed.
func (d *Daemon) Stop() {
	logging.Info("relayd stopping")
	d.server.Broadcast(control.Event{Type: control.EventStopping})

	d.cancel()
	d.server.Stop()

	if err := d.store.Close(); err != nil {
		logging.Warn("failed to close store", "error", err)
	}
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(control.MethodChatSend, d.handleChatSend)
	d.server.Handle(control.MethodChatNew, d.handleChatNew)
	d.server.Handle(control.MethodChatHistory, d.handleChatHistory)
	d.server.Handle(control.MethodSessionsList, d.handleSessionsList)
	d.server.Handle(control.MethodResume, d.handleResume)
	d.server.Handle(control.MethodDelete, d.handleDelete)
	d.server.Handle(control.MethodStatus, d.handleStatus)
}

func (d *Daemon) handleDisconnect(conn *control.ClientConn) {
	for _, owner := range conn.Owners() {
		logging.Info("client disconnected", "owner", owner, "client", conn.ID)
		if active := d.tracker.ActiveCount(owner); active > 0 {
			d.auditTurn(owner, "cancel", map[string]any{"active": active})
		}
		d.registry.OnOwnerDisconnect(owner)
		d.gate.Forget(owner)
	}
}

// identity is the resolved caller of one request.
type identity struct {
	Owner      string
	Privileged bool
}

// resolveIdentity authenticates a request. With an auth secret configured the
// token is mandatory; without one the caller names itself, which is
// acceptable only because the socket is restricted to the local user.
func (d *Daemon) resolveIdentity(conn *control.ClientConn, req *control.Request) (identity, error) {
	if secret := d.cfg.Daemon.AuthSecret; secret != "" {
		if req.Token == "" {
			return identity{}, errors.New("authentication required")
		}
		claims, err := control.VerifyOwnerToken([]byte(secret), req.Token)
		if err != nil {
			logging.Warn("rejected token", "client", conn.ID, "error", err)
			return identity{}, errors.New("authentication failed")
		}
		conn.BindOwner(claims.Owner)
		return identity{Owner: claims.Owner, Privileged: claims.Privileged}, nil
	}

	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return identity{}, errors.New("owner is required")
	}
	if strings.ContainsAny(owner, "/\\") || strings.Contains(owner, "..") {
		return identity{}, errors.New("invalid owner")
	}
	conn.BindOwner(owner)
	return identity{Owner: owner}, nil
}

// ensureWorkspace creates and returns the owner's working directory. Every
// subprocess for the owner runs rooted here.
func (d *Daemon) ensureWorkspace(owner string) (string, error) {
	dir := filepath.Join(d.cfg.Daemon.DataDir, "owners", owner, "workspace")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}
