package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrange/rangepool/internal/errors"
)

const assignmentFileName = "assignment.json"

// SaveAssignment persists the active assignment under dir so a later
// process can resume it. Atomic write: tmp then rename.
func SaveAssignment(dir string, a Assignment) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}
	path := filepath.Join(dir, assignmentFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write assignment file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize assignment file: %w", err)
	}
	return nil
}

// LoadAssignment reads the persisted assignment from dir. A missing file
// is a NotFoundError.
func LoadAssignment(dir string) (Assignment, error) {
	path := filepath.Join(dir, assignmentFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Assignment{}, errors.NewNotFoundError("assignment", path)
		}
		return Assignment{}, fmt.Errorf("failed to read assignment file: %w", err)
	}
	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return Assignment{}, fmt.Errorf("failed to parse assignment file %s: %w", path, err)
	}
	return a, nil
}

// ClearAssignment removes the persisted assignment. Missing files are not
// an error; clearing twice is fine.
func ClearAssignment(dir string) error {
	err := os.Remove(filepath.Join(dir, assignmentFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Adopt installs a previously persisted assignment as this coordinator's
// active one, letting a fresh process resume where the last one stopped.
// Terminal assignments are ignored.
func (c *Coordinator) Adopt(a Assignment) {
	if a.State.IsTerminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &a
}
