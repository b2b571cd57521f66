package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Checkpoint tracks which index letters have completed a full pass, one
// letter per line in a plain text file. It is an enumeration shortcut
// only: resume correctness rests on the store's skip-check, so losing the
// file merely costs re-enumeration, never data.
type Checkpoint struct {
	path string
}

// NewCheckpoint creates a Checkpoint at path. An empty path disables
// checkpointing: Done reports false for everything and Mark is a no-op.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Load reads the set of completed letters. A missing file is an empty set.
func (c *Checkpoint) Load() (map[string]bool, error) {
	done := map[string]bool{}
	if c.path == "" {
		return done, nil
	}
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return done, nil
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if letter := strings.TrimSpace(scanner.Text()); letter != "" {
			done[letter] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return done, nil
}

// Mark appends letter to the checkpoint file.
func (c *Checkpoint) Mark(letter string) error {
	if c.path == "" {
		return nil
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close() //nolint:errcheck // append-only
	if _, err := fmt.Fprintln(f, letter); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
