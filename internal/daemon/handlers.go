package daemon

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/beamline/relay/internal/claude"
	"github.com/beamline/relay/internal/control"
	"github.com/beamline/relay/internal/logging"
)

func (d *Daemon) handleChatSend(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}

	var params control.ChatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.New("malformed params")
	}
	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is empty")
	}

	if err := d.gate.Admit(id.Owner); err != nil {
		return nil, err
	}

	workDir, err := d.ensureWorkspace(id.Owner)
	if err != nil {
		d.gate.Release()
		return nil, err
	}

	prior, _ := d.registry.CurrentSession(id.Owner)

	d.auditTurn(id.Owner, "submit", map[string]any{
		"resume":       prior != "",
		"prompt_chars": len(prompt),
		"privileged":   id.Privileged,
	})

	inv := d.runner.Run(d.ctx, claude.Request{
		Prompt:     prompt,
		Owner:      id.Owner,
		WorkDir:    workDir,
		SessionID:  prior,
		Privileged: id.Privileged,
	}, claude.Callbacks{
		OnChunk: func(text string) {
			conn.Push(control.Event{
				Type:    control.EventChatChunk,
				Payload: control.ChatChunk{Text: text},
			})
		},
	})

	go d.finishTurn(conn, id.Owner, prior, inv)

	return control.ChatAck{Accepted: true}, nil
}

// finishTurn waits out one invocation and delivers its terminal event. The
// done channel closes only after the last chunk callback, so completion is
// always ordered after every chunk the client saw.
func (d *Daemon) finishTurn(conn *control.ClientConn, owner, prior string, inv *claude.Invocation) {
	<-inv.Done()
	d.gate.Release()

	if err := inv.Err(); err != nil {
		logging.Error("turn failed", "owner", owner, "error", err)
		d.auditTurn(owner, "error", map[string]any{"error": err.Error()})
		conn.Push(control.Event{
			Type:    control.EventChatError,
			Payload: control.ChatError{Message: userFacing(err)},
		})
		return
	}

	sessionID := inv.SessionID()
	if sessionID != "" {
		d.registry.SetCurrentSession(owner, sessionID)
	}

	d.auditTurn(owner, "complete", map[string]any{
		"session_id":     sessionID,
		"response_chars": len(inv.FinalText()),
	})

	conn.Push(control.Event{
		Type:    control.EventChatComplete,
		Payload: control.ChatComplete{Text: inv.FinalText(), SessionID: sessionID},
	})

	// A conversation that did not exist before this turn changes the owner's
	// history listing; push the refreshed list.
	if prior == "" && sessionID != "" {
		conn.Push(control.Event{
			Type:    control.EventSessionsUpdated,
			Payload: d.sessionList(owner),
		})
	}
}

func (d *Daemon) handleChatNew(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}

	d.registry.NewConversation(id.Owner)
	logging.Info("started new conversation", "owner", id.Owner)
	return nil, nil
}

func (d *Daemon) handleChatHistory(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}

	var params control.SessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.SessionID == "" {
		return nil, errors.New("session_id is required")
	}

	result := control.HistoryResult{
		SessionID: params.SessionID,
		Messages:  []control.MessageInfo{},
	}

	// Reading someone else's conversation yields nothing, not an error that
	// would confirm the identifier exists.
	if !d.registry.Owns(id.Owner, params.SessionID) {
		logging.Warn("denied history access",
			"owner", id.Owner, "session_id", params.SessionID)
		return result, nil
	}

	for _, m := range d.reader.Messages(params.SessionID) {
		result.Messages = append(result.Messages, control.MessageInfo{
			Role:    m.Role,
			Content: m.Content,
			Seq:     m.Seq,
		})
	}
	return result, nil
}

func (d *Daemon) handleSessionsList(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}
	return d.sessionList(id.Owner), nil
}

func (d *Daemon) handleResume(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}

	var params control.SessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.SessionID == "" {
		return nil, errors.New("session_id is required")
	}

	if !d.registry.Owns(id.Owner, params.SessionID) {
		return nil, errors.New("unknown conversation")
	}

	d.registry.Resume(id.Owner, params.SessionID)
	logging.Info("resumed conversation", "owner", id.Owner, "session_id", params.SessionID)
	return nil, nil
}

func (d *Daemon) handleDelete(conn *control.ClientConn, req *control.Request) (any, error) {
	id, err := d.resolveIdentity(conn, req)
	if err != nil {
		return nil, err
	}

	var params control.SessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.SessionID == "" {
		return nil, errors.New("session_id is required")
	}

	if !d.registry.Owns(id.Owner, params.SessionID) {
		return nil, errors.New("unknown conversation")
	}

	d.registry.DeleteSession(id.Owner, params.SessionID)
	d.auditTurn(id.Owner, "delete", map[string]any{"session_id": params.SessionID})
	return d.sessionList(id.Owner), nil
}

func (d *Daemon) handleStatus(conn *control.ClientConn, req *control.Request) (any, error) {
	if _, err := d.resolveIdentity(conn, req); err != nil {
		return nil, err
	}

	return control.StatusResult{
		Version:        Version,
		Uptime:         time.Since(d.startedAt).Round(time.Second).String(),
		StartedAt:      d.startedAt,
		ActiveTurns:    d.tracker.TotalActiveCount(),
		ConnectedPeers: d.server.ClientCount(),
		AuthEnabled:    d.cfg.Daemon.AuthSecret != "",
	}, nil
}

// sessionList builds the owner's current conversation listing.
func (d *Daemon) sessionList(owner string) control.SessionList {
	list := control.SessionList{Sessions: []control.SessionInfo{}}
	for _, s := range d.reader.Summaries(d.registry.OwnedSessions(owner)) {
		list.Sessions = append(list.Sessions, control.SessionInfo{
			SessionID: s.SessionID,
			Preview:   s.Preview,
			Timestamp: s.Timestamp,
		})
	}
	return list
}

// auditTurn appends one row to the durable turn log. Audit failures are
// logged and swallowed; they never affect the turn itself.
func (d *Daemon) auditTurn(owner, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	if err := d.store.LogTurnEvent(owner, eventType, string(data)); err != nil {
		logging.Warn("failed to record turn event",
			"owner", owner, "type", eventType, "error", err)
	}
}

// userFacing maps an invocation failure to a message fit for the chat stream.
func userFacing(err error) string {
	var timeout *claude.TimeoutError
	if errors.As(err, &timeout) {
		return "the assistant took too long to respond, please try again"
	}
	return "the assistant ran into a problem, please try again"
}
