package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/beamline/relay/internal/logging"
)

// Roles attributed to conversation records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Summary describes one conversation for history browsing.
type Summary struct {
	SessionID string    `json:"session_id"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a single chat message reconstructed from the external log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}

// IsUser reports whether the message was sent by the requester.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// Reader reconstructs conversation history from the Claude CLI's own session
// storage: one append-only JSONL file per session, grouped under opaque
// project directories. The store is externally owned and may change at any
// time, so nothing here is cached and every failure degrades to an empty or
// partial result.
type Reader struct {
	projectsDir   string // override; empty probes the CLI's storage locations
	previewLength int
}

// NewReader creates a log reader. projectsDir overrides the storage root
// (used in tests); previewLength bounds summary previews.
func NewReader(projectsDir string, previewLength int) *Reader {
	if previewLength <= 0 {
		previewLength = 50
	}
	return &Reader{
		projectsDir:   projectsDir,
		previewLength: previewLength,
	}
}

// projectsRoot returns the conversation log root. The CLI moved its storage
// at some point, so the new location is checked before the old one.
func (r *Reader) projectsRoot() string {
	if r.projectsDir != "" {
		return r.projectsDir
	}

	home, _ := os.UserHomeDir()
	newPath := filepath.Join(home, ".config", "claude", "projects")
	oldPath := filepath.Join(home, ".claude", "projects")

	if _, err := os.Stat(newPath); err == nil {
		return newPath
	}
	return oldPath
}

// Summaries returns one summary per owned session whose log file exists and
// contains at least one user record, sorted newest first. Sessions deleted
// externally or never flushed are skipped silently.
func (r *Reader) Summaries(owned map[string]struct{}) []Summary {
	summaries := []Summary{}
	if len(owned) == 0 {
		return summaries
	}

	root := r.projectsRoot()
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		logging.Debug("claude projects dir not readable", "path", root, "error", err)
		return summaries
	}

	for _, dir := range projectDirs {
		if !dir.IsDir() || dir.Name() == "subagents" {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			logging.Debug("failed to list sessions", "dir", dir.Name(), "error", err)
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".jsonl")
			if _, ok := owned[sessionID]; !ok {
				continue
			}

			path := filepath.Join(root, dir.Name(), name)
			if summary, ok := r.summarize(sessionID, path); ok {
				summaries = append(summaries, summary)
			}
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})
	return summaries
}

// Messages returns every user and assistant message of a session in file
// order. The caller is responsible for checking ownership first.
func (r *Reader) Messages(sessionID string) []Message {
	messages := []Message{}

	path := r.findSessionFile(sessionID)
	if path == "" {
		logging.Debug("session file not found", "session_id", sessionID)
		return messages
	}

	f, err := os.Open(path)
	if err != nil {
		logging.Debug("failed to open session file", "path", path, "error", err)
		return messages
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		record := decodeLogRecord(scanner.Text())
		if record == nil {
			continue
		}
		if record.Type != RoleUser && record.Type != RoleAssistant {
			continue
		}

		content := record.content()
		if content == "" {
			continue
		}

		messages = append(messages, Message{
			Role:    record.Type,
			Content: content,
			Seq:     len(messages),
		})
	}
	if err := scanner.Err(); err != nil {
		logging.Debug("error reading session file", "path", path, "error", err)
	}

	return messages
}

// summarize extracts {first user message preview, mtime} from one log file.
// Sessions with no user-visible content are omitted entirely.
func (r *Reader) summarize(sessionID, path string) (Summary, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, false
	}

	f, err := os.Open(path)
	if err != nil {
		logging.Debug("failed to open session file", "path", path, "error", err)
		return Summary{}, false
	}
	defer f.Close()

	preview := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		record := decodeLogRecord(scanner.Text())
		if record == nil || record.Type != RoleUser {
			continue
		}
		if content := record.content(); content != "" {
			preview = truncatePreview(content, r.previewLength)
			break
		}
	}

	if preview == "" {
		return Summary{}, false
	}

	return Summary{
		SessionID: sessionID,
		Preview:   preview,
		Timestamp: info.ModTime(),
	}, true
}

// findSessionFile locates the log file for a session across all project
// directories.
func (r *Reader) findSessionFile(sessionID string) string {
	root := r.projectsRoot()
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	for _, dir := range projectDirs {
		if !dir.IsDir() {
			continue
		}
		path := filepath.Join(root, dir.Name(), sessionID+".jsonl")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// logRecord is one line of a session log file.
type logRecord struct {
	Type    string `json:"type"`
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

func decodeLogRecord(line string) *logRecord {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	var record logRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return nil
	}
	return &record
}

// content extracts message text: a plain string for user records, a
// newline-joined concatenation of text-bearing blocks for assistant records.
func (record *logRecord) content() string {
	if record.Message == nil || len(record.Message.Content) == 0 {
		return ""
	}

	var str string
	if err := json.Unmarshal(record.Message.Content, &str); err == nil {
		return str
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(record.Message.Content, &blocks); err != nil {
		return ""
	}

	var b strings.Builder
	for _, block := range blocks {
		if block.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

// truncatePreview collapses newlines to spaces, trims, and truncates to
// maxLength characters with a trailing ellipsis marker. Truncation counts
// runes so a multi-byte character is never split.
func truncatePreview(text string, maxLength int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength < 4 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}
