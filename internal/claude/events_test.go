package claude

import "testing"

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"\t",
		"not json",
		"{truncated",
		`[1, 2, 3]`,
		`"just a string"`,
	}

	for _, line := range cases {
		if event := Decode(line); event != nil {
			t.Errorf("Decode(%q) = %+v, want nil", line, event)
		}
	}
}

func TestDecodeInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc-123"}`

	event := Decode(line)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if !event.IsInit() {
		t.Error("expected init event")
	}
	if event.SessionID != "abc-123" {
		t.Errorf("session id = %q, want abc-123", event.SessionID)
	}
	if event.IsTextDelta() || event.IsResult() {
		t.Error("init event misclassified")
	}
}

func TestDecodeAssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Hello"},` +
		`{"type":"tool_use","id":"t1"},` +
		`{"type":"text","text":" world"}]}}`

	event := Decode(line)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if !event.IsTextDelta() {
		t.Error("expected text delta")
	}
	if event.Text != "Hello world" {
		t.Errorf("text = %q, want %q", event.Text, "Hello world")
	}
}

func TestDecodeAssistantToolOnly(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1"}]}}`

	event := Decode(line)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if event.IsTextDelta() {
		t.Error("assistant event with no text must not be a text delta")
	}
}

func TestDecodeDelta(t *testing.T) {
	line := `{"type":"content_block_delta","delta":{"text":"chunk"}}`

	event := Decode(line)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if !event.IsTextDelta() {
		t.Error("expected text delta")
	}
	if event.Text != "chunk" {
		t.Errorf("text = %q, want chunk", event.Text)
	}
}

func TestDecodeResult(t *testing.T) {
	line := `{"type":"result","result":"final answer"}`

	event := Decode(line)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if !event.IsResult() {
		t.Error("expected result event")
	}
	if event.Text != "final answer" {
		t.Errorf("text = %q, want %q", event.Text, "final answer")
	}
}

func TestDecodeEmptyResult(t *testing.T) {
	event := Decode(`{"type":"result"}`)
	if event == nil {
		t.Fatal("Decode returned nil")
	}
	if !event.IsResult() {
		t.Error("expected result event")
	}
	if event.Text != "" {
		t.Errorf("text = %q, want empty", event.Text)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	event := Decode(`{"type":"tool_progress","session_id":"abc"}`)
	if event == nil {
		t.Fatal("unknown types still decode")
	}
	if event.IsTextDelta() || event.IsResult() || event.IsInit() {
		t.Error("unknown type matched a predicate")
	}
}
