package store

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"boltzflow/internal/apperrors"
	"boltzflow/internal/model"
)

const (
	stateFile  = "state.json"
	backupFile = "state.json.bak"
	tmpFile    = ".state.json.tmp"
)

// Load reads state.json from root, creating the directory and returning
// an empty state when no snapshot exists. An existing snapshot is copied
// to state.json.bak before the first parse; backup failure is logged but
// never fatal.
func Load(root string) (*model.State, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Internal("store.load", err)
	}

	path := filepath.Join(root, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.NewState(), nil
		}
		return nil, apperrors.Internal("store.load", err)
	}

	if err := copyFile(path, filepath.Join(root, backupFile)); err != nil {
		slog.Warn("Failed to create state backup", "error", err)
	}

	var state model.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.Internal("store.parse", err)
	}
	return &state, nil
}

// Persist serializes state to a temporary file in root and atomically
// renames it over state.json. A partially-written canonical file is never
// visible.
func Persist(root string, state *model.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apperrors.Internal("store.persist", err)
	}

	tmp := filepath.Join(root, tmpFile)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Internal("store.persist", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, stateFile)); err != nil {
		return apperrors.Internal("store.persist", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
