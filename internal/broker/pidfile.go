// ABOUTME: PID file handling so supervisory scripts can detect a running broker.
// ABOUTME: Written at startup, removed at clean shutdown.

package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// writePIDFile writes the current process ID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid file directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// removePIDFile deletes the PID file, ignoring errors: a missing file at
// shutdown is not worth failing over.
func removePIDFile(path string) {
	_ = os.Remove(path)
}
