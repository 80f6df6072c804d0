package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "p2p-relay"

// DefaultDataDir is the per-user directory for relay state, falling back to
// a hidden directory under the working directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	return "." + appName
}

// Expand replaces a leading "~" with the user's home directory.
func Expand(dir string) string {
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~"))
}

// EnsureDir expands and cleans dir, then creates it with owner-only
// permissions. An existing regular file at that path is an error.
func EnsureDir(dir string) (string, error) {
	dir = filepath.Clean(Expand(dir))
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		return "", fmt.Errorf("data dir %s is not a directory", dir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
