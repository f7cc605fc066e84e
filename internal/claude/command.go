package claude

import (
	"os"
	"path/filepath"

	"github.com/beamline/relay/internal/logging"
)

// FindCommand locates the claude CLI executable. It probes common install
// locations first, since a daemon does not inherit an interactive shell's
// PATH, and falls back to resolving "claude" through PATH.
func FindCommand() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".local/bin/claude"),    // npm global install
		filepath.Join(home, ".claude/local/claude"), // claude-specific install
		"/usr/local/bin/claude",                     // system install
		"/opt/homebrew/bin/claude",                  // homebrew on Apple Silicon
	}

	for _, candidate := range candidates {
		if isExecutable(candidate) {
			logging.Info("found claude CLI", "path", candidate)
			return candidate
		}
	}

	logging.Warn("claude CLI not found in common locations, falling back to PATH")
	return "claude"
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}
