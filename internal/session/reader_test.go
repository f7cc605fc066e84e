package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSessionLog(t *testing.T, root, project, sessionID string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func ownedSet(ids ...string) map[string]struct{} {
	owned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		owned[id] = struct{}{}
	}
	return owned
}

func TestSummariesFiltersToOwned(t *testing.T) {
	root := t.TempDir()
	writeSessionLog(t, root, "proj-a", "mine",
		`{"type":"user","message":{"content":"my first question"}}`)
	writeSessionLog(t, root, "proj-a", "theirs",
		`{"type":"user","message":{"content":"someone else"}}`)

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("mine"))

	require.Len(t, summaries, 1)
	assert.Equal(t, "mine", summaries[0].SessionID)
	assert.Equal(t, "my first question", summaries[0].Preview)
}

func TestSummariesSkipSubagentsAndEmpty(t *testing.T) {
	root := t.TempDir()
	writeSessionLog(t, root, "subagents", "hidden",
		`{"type":"user","message":{"content":"internal"}}`)
	// A session whose log holds no user record produces no summary
	writeSessionLog(t, root, "proj-a", "toolonly",
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("hidden", "toolonly", "vanished"))

	assert.Empty(t, summaries)
}

func TestSummariesSortedNewestFirst(t *testing.T) {
	root := t.TempDir()
	oldPath := writeSessionLog(t, root, "proj-a", "old",
		`{"type":"user","message":{"content":"old question"}}`)
	writeSessionLog(t, root, "proj-b", "new",
		`{"type":"user","message":{"content":"new question"}}`)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("old", "new"))

	require.Len(t, summaries, 2)
	assert.Equal(t, "new", summaries[0].SessionID)
	assert.Equal(t, "old", summaries[1].SessionID)
}

func TestSummariesMissingRoot(t *testing.T) {
	reader := NewReader(filepath.Join(t.TempDir(), "nope"), 50)
	assert.Empty(t, reader.Summaries(ownedSet("x")))
}

func TestMessagesInFileOrder(t *testing.T) {
	root := t.TempDir()
	writeSessionLog(t, root, "proj-a", "sess",
		`{"type":"user","message":{"content":"question"}}`,
		`{"type":"system","subtype":"init","session_id":"sess"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"answer"},{"type":"tool_use","id":"t"}]}}`,
		`not json at all`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t2"}]}}`,
		`{"type":"user","message":{"content":"followup"}}`)

	reader := NewReader(root, 50)
	messages := reader.Messages("sess")

	require.Len(t, messages, 3)
	assert.Equal(t, Message{Role: RoleUser, Content: "question", Seq: 0}, messages[0])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "answer", Seq: 1}, messages[1])
	assert.Equal(t, Message{Role: RoleUser, Content: "followup", Seq: 2}, messages[2])
	assert.True(t, messages[0].IsUser())
	assert.False(t, messages[1].IsUser())
}

func TestMessagesUnknownSession(t *testing.T) {
	reader := NewReader(t.TempDir(), 50)
	assert.Empty(t, reader.Messages("ghost"))
}

func TestPreviewTruncation(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("a", 200)
	writeSessionLog(t, root, "proj-a", "long",
		`{"type":"user","message":{"content":"`+long+`"}}`)

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("long"))

	require.Len(t, summaries, 1)
	assert.Len(t, summaries[0].Preview, 50)
	assert.True(t, strings.HasSuffix(summaries[0].Preview, "..."))
}

func TestPreviewTruncationMultibyte(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("é", 200)
	writeSessionLog(t, root, "proj-a", "accents",
		`{"type":"user","message":{"content":"`+long+`"}}`)

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("accents"))

	require.Len(t, summaries, 1)
	preview := summaries[0].Preview
	assert.True(t, utf8.ValidString(preview), "preview must not split a rune")
	assert.Equal(t, 50, utf8.RuneCountInString(preview))
	assert.Equal(t, strings.Repeat("é", 47)+"...", preview)
}

func TestPreviewCollapsesNewlines(t *testing.T) {
	root := t.TempDir()
	writeSessionLog(t, root, "proj-a", "multi",
		`{"type":"user","message":{"content":"line one\nline two"}}`)

	reader := NewReader(root, 50)
	summaries := reader.Summaries(ownedSet("multi"))

	require.Len(t, summaries, 1)
	assert.Equal(t, "line one line two", summaries[0].Preview)
}
