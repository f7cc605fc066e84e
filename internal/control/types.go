package control

import "time"

// Method names accepted by the daemon.
const (
	MethodChatSend     = "chat.send"
	MethodChatNew      = "chat.new"
	MethodChatHistory  = "chat.history"
	MethodSessionsList = "sessions.list"
	MethodResume       = "sessions.resume"
	MethodDelete       = "sessions.delete"
	MethodStatus       = "daemon.status"
)

// Event types pushed by the daemon.
const (
	EventChatChunk       = "chat.chunk"
	EventChatComplete    = "chat.complete"
	EventChatError       = "chat.error"
	EventSessionsUpdated = "sessions.updated"
	EventStopping        = "daemon.stopping"
)

// ChatSendParams carries one prompt submission.
type ChatSendParams struct {
	Prompt string `json:"prompt"`
}

// ChatAck acknowledges an accepted prompt. Output follows as pushed events.
type ChatAck struct {
	Accepted bool `json:"accepted"`
}

// ChatChunk is one streamed fragment of assistant output.
type ChatChunk struct {
	Text string `json:"text"`
}

// ChatComplete carries the final assistant response for a turn.
type ChatComplete struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatError reports a failed turn in user-facing terms.
type ChatError struct {
	Message string `json:"message"`
}

// SessionParams names one conversation.
type SessionParams struct {
	SessionID string `json:"session_id"`
}

// SessionInfo summarizes one conversation for listing.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionList is the result of sessions.list and the payload of
// sessions.updated pushes.
type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
}

// MessageInfo is one reconstructed conversation message.
type MessageInfo struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}

// HistoryResult is the result of chat.history.
type HistoryResult struct {
	SessionID string        `json:"session_id"`
	Messages  []MessageInfo `json:"messages"`
}

// StatusResult is the result of daemon.status.
type StatusResult struct {
	Version        string    `json:"version"`
	Uptime         string    `json:"uptime"`
	StartedAt      time.Time `json:"started_at"`
	ActiveTurns    int       `json:"active_turns"`
	ConnectedPeers int       `json:"connected_peers"`
	AuthEnabled    bool      `json:"auth_enabled"`
}
