package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"time"
)

// timeLayout is how ObservedAt is serialized in the time table.
const timeLayout = time.RFC3339Nano

// Load reads both persisted tables into the in-memory maps, creating
// empty table files when absent. Empty or partially written files are
// tolerated; a malformed row is skipped with a logged warning rather
// than aborting startup, so one torn write cannot hold the whole
// history hostage.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadTrack(); err != nil {
		return fmt.Errorf("load %s: %w", TrackFile, err)
	}
	if err := l.loadTime(); err != nil {
		return fmt.Errorf("load %s: %w", TimeFile, err)
	}
	l.flushed = l.dirty
	return nil
}

func (l *Ledger) loadTrack() error {
	f, err := os.OpenFile(l.trackPath, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // variable digest count per row
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Printf("ledger: skipping malformed track row: %v", err)
			continue
		}
		if len(row) < 3 {
			log.Printf("ledger: skipping short track row (%d fields)", len(row))
			continue
		}
		name, base, versions := row[0], row[1], row[2:]
		l.histories[name] = &History{
			Name:       name,
			BaseDigest: base,
			Versions:   append([]string(nil), versions...),
		}
	}
}

func (l *Ledger) loadTime() error {
	f, err := os.OpenFile(l.timePath, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Printf("ledger: skipping malformed time row: %v", err)
			continue
		}
		if len(row) != 3 {
			log.Printf("ledger: skipping time row with %d fields", len(row))
			continue
		}
		observed, err := time.Parse(timeLayout, row[1])
		if err != nil {
			log.Printf("ledger: skipping time row for %s: bad timestamp %q", row[0], row[1])
			continue
		}
		deleted, err := strconv.ParseBool(row[2])
		if err != nil {
			log.Printf("ledger: skipping time row for %s: bad deleted flag %q", row[0], row[2])
			continue
		}
		l.states[row[0]] = &VersionState{Digest: row[0], ObservedAt: observed, Deleted: deleted}
	}
}

// Flush rewrites both tables from the in-memory maps. A no-op when
// nothing changed since the last flush. Full rewrite rather than append
// so deletion flags and mark-deleted mutations land on disk. Each table
// is written to a temp file and renamed into place; on error the
// counters stay apart so the next scheduled tick retries.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dirty == l.flushed {
		return nil
	}
	goal := l.dirty

	if err := writeAtomic(l.trackPath, l.encodeTrack()); err != nil {
		return fmt.Errorf("flush %s: %w", TrackFile, err)
	}
	if err := writeAtomic(l.timePath, l.encodeTime()); err != nil {
		return fmt.Errorf("flush %s: %w", TimeFile, err)
	}
	l.flushed = goal
	return nil
}

func (l *Ledger) encodeTrack() []byte {
	names := make([]string, 0, len(l.histories))
	for name := range l.histories {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, name := range names {
		h := l.histories[name]
		row := make([]string, 0, 2+len(h.Versions))
		row = append(row, h.Name, h.BaseDigest)
		row = append(row, h.Versions...)
		w.Write(row)
	}
	w.Flush()
	return buf.Bytes()
}

func (l *Ledger) encodeTime() []byte {
	digests := make([]string, 0, len(l.states))
	for d := range l.states {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, d := range digests {
		st := l.states[d]
		w.Write([]string{
			st.Digest,
			st.ObservedAt.Format(timeLayout),
			strconv.FormatBool(st.Deleted),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
