// Package claude wraps the Claude Code CLI: spawning it per conversational
// turn, decoding its stream-json output, and tracking live processes per
// owner for cancellation.
package claude

import (
	"encoding/json"
	"strings"
)

// Event types emitted on the CLI's stream-json output.
const (
	EventTypeSystem    = "system"
	EventTypeAssistant = "assistant"
	EventTypeDelta     = "content_block_delta"
	EventTypeResult    = "result"
)

// Event is one decoded record from the CLI's line-oriented output.
type Event struct {
	Type      string
	Subtype   string
	SessionID string
	// Text is the canonical text extracted for the event's type. Always
	// non-nil; empty when the event carries no text.
	Text string
	// Raw is the full decoded line for downstream consumers.
	Raw json.RawMessage
}

// rawEvent mirrors the envelope fields common to all stream-json records.
type rawEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   *messageWrapper `json:"message"`
	Delta     *deltaWrapper   `json:"delta"`
	Result    *string         `json:"result"`
}

type messageWrapper struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type deltaWrapper struct {
	Text string `json:"text"`
}

// Decode parses one line of stream-json output. Blank or malformed lines
// decode to nil; they are never an error. Unrecognized event types still
// decode, with empty text.
func Decode(line string) *Event {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	var raw rawEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil
	}

	event := &Event{
		Type:      raw.Type,
		Subtype:   raw.Subtype,
		SessionID: raw.SessionID,
		Raw:       json.RawMessage(line),
	}

	switch raw.Type {
	case EventTypeAssistant:
		// Full assistant message: concatenate the text blocks of the
		// content array, in order, with no separator.
		if raw.Message != nil {
			var b strings.Builder
			for _, block := range raw.Message.Content {
				if block.Type == "text" {
					b.WriteString(block.Text)
				}
			}
			event.Text = b.String()
		}
	case EventTypeDelta:
		// Smallest streaming increment.
		if raw.Delta != nil {
			event.Text = raw.Delta.Text
		}
	case EventTypeResult:
		if raw.Result != nil {
			event.Text = *raw.Result
		}
	}

	return event
}

// IsTextDelta reports whether this event carries streamable reply text.
func (e *Event) IsTextDelta() bool {
	return (e.Type == EventTypeAssistant || e.Type == EventTypeDelta) && e.Text != ""
}

// IsResult reports whether this is the final result record. Its text is
// authoritative and supersedes previously streamed deltas.
func (e *Event) IsResult() bool {
	return e.Type == EventTypeResult
}

// IsInit reports whether this is the system init record, the only place a
// session identifier is introduced into the stream.
func (e *Event) IsInit() bool {
	return e.Type == EventTypeSystem && e.Subtype == "init"
}
