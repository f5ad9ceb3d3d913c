package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/finbrief/finbrief/pkg/models"
)

// backupSuffix names the previous-generation state file kept beside
// the main one.
const backupSuffix = ".backup"

// saveStateFile writes the state atomically: marshal to a temp file,
// keep the previous state as a backup, then rename into place.
func saveStateFile(path string, state *models.SchedulerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scheduler state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+backupSuffix, prev, 0o644); err != nil {
			return fmt.Errorf("write state backup: %w", err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadState reads a persisted snapshot without a manager, for status
// tooling inspecting another process's state.
func LoadState(path string) (*models.SchedulerState, error) {
	return loadStateFile(path)
}

// loadStateFile reads a previously saved state, falling back to the
// backup when the main file is missing or corrupt.
func loadStateFile(path string) (*models.SchedulerState, error) {
	if state, err := readStateFile(path); err == nil {
		return state, nil
	}

	state, err := readStateFile(path + backupSuffix)
	if err != nil {
		return nil, fmt.Errorf("no usable scheduler state at %s: %w", path, err)
	}
	return state, nil
}

func readStateFile(path string) (*models.SchedulerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state models.SchedulerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &state, nil
}
