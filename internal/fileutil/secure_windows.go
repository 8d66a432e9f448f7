//go:build windows

package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// isOwnerOnly returns true if the permission mode grants nothing to group or other.
func isOwnerOnly(perm os.FileMode) bool {
	return perm&0077 == 0
}

// restrictToCurrentUser sets a DACL on path that grants GENERIC_ALL only to
// the current user and blocks inherited ACEs. For directories, the DACL
// includes CONTAINER_INHERIT_ACE | OBJECT_INHERIT_ACE so that child files
// and subdirectories automatically inherit the restriction. Errors are
// returned to the caller; the file was already created with the requested
// Unix mode, so callers may treat DACL failures as non-fatal warnings.
func restrictToCurrentUser(path string) error {
	token := windows.GetCurrentProcessToken()

	user, err := token.GetTokenUser()
	if err != nil {
		return fmt.Errorf("fileutil: get current user SID for %s: %w", path, err)
	}

	trustee := windows.TrusteeValueFromSID(user.User.Sid)

	// For directories, enable inheritance so children get the same restriction.
	var inherit uint32 = windows.NO_INHERITANCE
	info, statErr := os.Stat(path)
	if statErr == nil && info.IsDir() {
		inherit = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}

	ea := []windows.EXPLICIT_ACCESS{
		{
			AccessPermissions: windows.GENERIC_ALL,
			AccessMode:        windows.SET_ACCESS,
			Inheritance:       inherit,
			Trustee: windows.TRUSTEE{
				TrusteeForm:  windows.TRUSTEE_IS_SID,
				TrusteeType:  windows.TRUSTEE_IS_USER,
				TrusteeValue: trustee,
			},
		},
	}

	acl, err := windows.ACLFromEntries(ea, nil)
	if err != nil {
		return fmt.Errorf("fileutil: build ACL for %s: %w", path, err)
	}

	secInfo := windows.DACL_SECURITY_INFORMATION | windows.PROTECTED_DACL_SECURITY_INFORMATION
	err = windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.SECURITY_INFORMATION(secInfo),
		nil, // owner SID (unchanged)
		nil, // group SID (unchanged)
		acl, // DACL
		nil, // SACL (unchanged)
	)
	if err != nil {
		return fmt.Errorf("fileutil: set DACL on %s: %w", path, err)
	}
	return nil
}

// SecureWriteFile writes data to the named file, creating it if necessary.
// For owner-only modes, a DACL restricting access to the current user is applied.
// DACL failures are logged as warnings but do not fail the write.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	if isOwnerOnly(perm) {
		if err := restrictToCurrentUser(path); err != nil {
			slog.Warn("fileutil: best-effort DACL failed", "path", path, "err", err)
		}
	}
	return nil
}

// SecureMkdirAll creates a directory path and all parents that do not yet exist.
// For owner-only modes, a DACL restricting access to the current user is applied
// to the leaf directory and every intermediate directory that was created.
func SecureMkdirAll(path string, perm os.FileMode) error {
	// Determine which directories already exist before creating.
	var toSecure []string
	if isOwnerOnly(perm) {
		p := filepath.Clean(path)
		for p != "" && p != "." && p != string(filepath.Separator) {
			if _, err := os.Stat(p); err == nil {
				break // already exists, stop climbing
			}
			toSecure = append(toSecure, p)
			parent := filepath.Dir(p)
			if parent == p {
				break
			}
			p = parent
		}
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	for _, dir := range toSecure {
		if err := restrictToCurrentUser(dir); err != nil {
			slog.Warn("fileutil: best-effort DACL failed", "path", dir, "err", err)
		}
	}
	return nil
}
