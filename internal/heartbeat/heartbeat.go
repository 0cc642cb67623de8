// Package heartbeat writes the liveness artifact external watchdogs use to
// tell a wedged process from a live one, per the engine's observable
// side-effects contract: the file is touched at the start of every tick,
// even one that later fails.
package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Write records now at path, creating parent directories as needed. A
// failure to write is non-fatal to the caller's tick; it is returned so the
// caller can log it.
func Write(path string, now time.Time) error {
	if path == "" {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create heartbeat directory %s: %w", dir, err)
		}
	}

	content := now.UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write heartbeat file %s: %w", path, err)
	}

	return nil
}
