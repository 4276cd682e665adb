// Package integrity validates candidate save files before they enter the
// version history. Save containers are zip archives; a file the game is
// still flushing parses as a zip often enough that the only reliable
// tell is a CRC mismatch between an entry's stored checksum and its
// actual content.
package integrity

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"io"
)

// Check reports whether b is a well-formed save container: a parseable
// zip archive whose every regular-file entry's content matches the CRC-32
// recorded in the central directory. Any parse error or panic is treated
// as "invalid", never fatal.
func Check(b []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return false
	}

	for _, f := range r.File {
		if !f.Mode().IsRegular() {
			continue
		}
		if !entryValid(f) {
			return false
		}
	}
	return true
}

func entryValid(f *zip.File) bool {
	rc, err := f.Open()
	if err != nil {
		return false
	}
	defer rc.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, rc); err != nil {
		return false
	}
	return h.Sum32() == f.CRC32
}
