// Package blob is the content-addressed backup store. One file per
// distinct digest; two saves with identical bytes share a single blob.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"savesentry/internal/digest"
)

// Ext is the filename extension of stored backup copies.
const Ext = ".bak"

// Store maps version digests to backup files under a single directory.
type Store struct {
	Dir string
}

// New creates the versions directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create versions dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the backup file path for a digest.
func (s *Store) Path(d string) string {
	return filepath.Join(s.Dir, digest.Shorten(d)+Ext)
}

// Exists reports whether a blob for the digest is physically present.
func (s *Store) Exists(d string) bool {
	_, err := os.Stat(s.Path(d))
	return err == nil
}

// Write stores b under the digest's path unless a blob already exists
// there. Write-once: concurrent duplicate stores are safe no-ops. The
// write goes through a temp file and rename so a crash never leaves a
// half-written blob under the final name.
func (s *Store) Write(d string, b []byte) error {
	path := s.Path(d)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat blob: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize blob: %w", err)
	}
	return nil
}

// Delete removes the digest's blob. Returns whether a file was actually
// removed; an already-absent blob is success, not an error.
func (s *Store) Delete(d string) (bool, error) {
	err := os.Remove(s.Path(d))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("delete blob: %w", err)
}

// SizeOf returns the blob's size in bytes, or 0 when absent.
func (s *Store) SizeOf(d string) int64 {
	info, err := os.Stat(s.Path(d))
	if err != nil {
		return 0
	}
	return info.Size()
}

// TotalSize sums the sizes of every file currently in the versions
// directory.
func (s *Store) TotalSize() int64 {
	var total int64
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
