//go:build !windows

package fileutil

import "os"

// SecureWriteFile writes data to the named file, creating it if necessary.
// On Unix, this does not add symlink or race protections beyond os.WriteFile.
// On Windows, owner-only modes get a restrictive DACL.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// SecureMkdirAll creates a directory path and all parents that do not yet exist.
// On Unix, this does not add symlink or race protections beyond os.MkdirAll.
// On Windows, owner-only modes get a restrictive DACL.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
