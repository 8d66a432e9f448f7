// Package fileutil provides file helpers for the persisted-state directory:
// atomic JSON artifact read/write plus cross-platform owner-only writes.
// On Unix, Secure* helpers are best-effort wrappers around os.* and do not
// protect against symlink traversal or TOCTOU races. On Windows, owner-only
// modes (perm & 0077 == 0) additionally set a DACL restricting access to the
// current user.
package fileutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ReadJSON loads the JSON artifact at path into v. A missing file is not an
// error: v is left untouched and (false, nil) is returned, so callers can
// fall back to defaults.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON marshals v and atomically replaces the artifact at path: the
// bytes land in a temp file in the same directory which is then renamed over
// the target, so readers never observe a half-written artifact.
func WriteJSON(path string, v any) error {
	return writeJSONPerm(path, v, 0644)
}

// WriteJSONPrivate is WriteJSON with owner-only permissions, for artifacts
// holding secrets (tokens, session material).
func WriteJSONPrivate(path string, v any) error {
	return writeJSONPerm(path, v, 0600)
}

func writeJSONPerm(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := SecureMkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	// Clean up the temp file on any failure path.
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
