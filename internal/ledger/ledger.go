// Package ledger owns the durable version history: which digests exist
// for each tracked save name, when each digest was first observed, and
// whether its backup blob still physically exists. All access goes
// through the Ledger's methods under one mutex, so live updates, delete
// marking, flushes, and retention passes never interleave their effects
// on the maps.
package ledger

import (
	"path/filepath"
	"sync"
	"time"
)

// History is the append-only version record of one tracked save name.
// Versions lists digests in discovery order and is never truncated:
// evicting a backup only flips the digest's deleted flag.
type History struct {
	Name       string
	BaseDigest string
	Versions   []string
}

// VersionState describes one distinct digest. Shared across names that
// produced byte-identical content.
type VersionState struct {
	Digest     string
	ObservedAt time.Time
	Deleted    bool
}

// Ledger is the in-memory model plus its persistence bookkeeping.
// A flush is skipped when dirty == flushed.
type Ledger struct {
	mu        sync.Mutex
	histories map[string]*History
	states    map[string]*VersionState

	dirty   uint64
	flushed uint64

	trackPath string
	timePath  string

	now func() time.Time
}

// TrackFile and TimeFile are the persisted table names under the config
// directory.
const (
	TrackFile = "track.csv"
	TimeFile  = "time.csv"
)

// New returns an empty Ledger persisting to dir. Call Load before use.
func New(dir string) *Ledger {
	return &Ledger{
		histories: make(map[string]*History),
		states:    make(map[string]*VersionState),
		trackPath: filepath.Join(dir, TrackFile),
		timePath:  filepath.Join(dir, TimeFile),
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Update records a sighting of name with the given content digest.
//
// First sighting of the name creates its history and reports created.
// A digest equal to the trailing entry of the existing history is a
// duplicate: nothing is mutated, so repeated notifications for an
// unchanged file cannot grow history or trigger storage. Anything else
// appends.
func (l *Ledger) Update(name, d string) (created, duplicate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[name]
	if !ok {
		l.histories[name] = &History{Name: name, BaseDigest: d, Versions: []string{d}}
		l.ensureState(d)
		l.dirty++
		return true, false
	}
	if h.Versions[len(h.Versions)-1] == d {
		return false, true
	}
	h.Versions = append(h.Versions, d)
	l.ensureState(d)
	l.dirty++
	return false, false
}

// ensureState creates a VersionState for d if absent. Caller holds mu.
// A digest already seen (same content from another name, or re-observed
// after intervening versions) keeps its original timestamp.
func (l *Ledger) ensureState(d string) {
	if _, ok := l.states[d]; !ok {
		l.states[d] = &VersionState{Digest: d, ObservedAt: l.now()}
	}
}

// MarkDeleted flags every digest in name's history as deleted. Used when
// the live save file disappears from the watched directory; the backup
// history is retained. Unknown names are ignored.
func (l *Ledger) MarkDeleted(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[name]
	if !ok {
		return
	}
	for _, d := range h.Versions {
		if st, ok := l.states[d]; ok {
			st.Deleted = true
		}
	}
	l.dirty++
}

// Tracked reports whether name has a history record.
func (l *Ledger) Tracked(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.histories[name]
	return ok
}

// Names returns all tracked save names, unordered.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.histories))
	for name := range l.histories {
		names = append(names, name)
	}
	return names
}

// HistoryOf returns a copy of name's history record.
func (l *Ledger) HistoryOf(name string) (History, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[name]
	if !ok {
		return History{}, false
	}
	cp := *h
	cp.Versions = append([]string(nil), h.Versions...)
	return cp, true
}

// StateOf returns a copy of the digest's version state.
func (l *Ledger) StateOf(d string) (VersionState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[d]
	if !ok {
		return VersionState{}, false
	}
	return *st, true
}

// Counts returns the number of tracked names and distinct digests.
func (l *Ledger) Counts() (names, digests int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.histories), len(l.states)
}

// Tx exposes the maps to a retention pass while the Ledger's mutex is
// held. Valid only inside the ExclusivePass callback.
type Tx struct {
	l *Ledger
}

// ExclusivePass runs fn with exclusive ownership of the ledger, then
// bumps the dirty counter so the next scheduled flush persists whatever
// deletion flags the pass set. Update, MarkDeleted and Flush block for
// the duration.
func (l *Ledger) ExclusivePass(fn func(tx *Tx)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&Tx{l: l})
	l.dirty++
}

// Names returns all tracked save names.
func (tx *Tx) Names() []string {
	names := make([]string, 0, len(tx.l.histories))
	for name := range tx.l.histories {
		names = append(names, name)
	}
	return names
}

// Versions returns name's digests in history order.
func (tx *Tx) Versions(name string) []string {
	h, ok := tx.l.histories[name]
	if !ok {
		return nil
	}
	return append([]string(nil), h.Versions...)
}

// State returns the digest's version state.
func (tx *Tx) State(d string) (VersionState, bool) {
	st, ok := tx.l.states[d]
	if !ok {
		return VersionState{}, false
	}
	return *st, true
}

// MarkVersionDeleted flips the deleted flag on a single digest.
func (tx *Tx) MarkVersionDeleted(d string) {
	if st, ok := tx.l.states[d]; ok {
		st.Deleted = true
	}
}
