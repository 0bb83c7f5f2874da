package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.hybridrag/logs, or HYBRIDRAG_LOG_DIR when set.
// Falls back to the temp directory if home is unavailable.
func DefaultLogDir() string {
	if dir := os.Getenv("HYBRIDRAG_LOG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag", "logs")
	}
	return filepath.Join(home, ".hybridrag", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "hybridrag.log")
}

// FindLogFile returns explicit if it exists, otherwise the default log
// file if it exists.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no log file found at %s\nRun a command first, e.g.: hybridrag --debug serve", path)
}
