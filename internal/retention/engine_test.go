package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"savesentry/internal/blob"
	"savesentry/internal/ledger"
)

var passNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dir    string
	ledger *ledger.Ledger
	blobs  *blob.Store
	engine *Engine
}

func newFixture(t *testing.T, sizeCap int64) *fixture {
	t.Helper()
	dir := t.TempDir()
	l := ledger.New(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := blob.New(filepath.Join(dir, "versions"))
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	e := New(l, b, nil, sizeCap)
	e.SetClock(func() time.Time { return passNow })
	return &fixture{dir: dir, ledger: l, blobs: b, engine: e}
}

// seed records a version observed at the given time and materializes a
// blob of the given size for it.
func (f *fixture) seed(t *testing.T, name, digest string, at time.Time, size int) {
	t.Helper()
	f.ledger.SetClock(func() time.Time { return at })
	if _, dup := f.ledger.Update(name, digest); dup {
		t.Fatalf("seed %s/%s: unexpected duplicate", name, digest)
	}
	if err := f.blobs.Write(digest, []byte(strings.Repeat("x", size))); err != nil {
		t.Fatalf("seed blob %s: %v", digest, err)
	}
}

func (f *fixture) deleted(t *testing.T, digest string) bool {
	t.Helper()
	st, ok := f.ledger.StateOf(digest)
	if !ok {
		t.Fatalf("state %s missing", digest)
	}
	return st.Deleted
}

func TestFreshVersionsUntouched(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	// Six versions within the last day: the day tier never sees them.
	for i := 0; i < 6; i++ {
		d := fmt.Sprintf("d%d", i)
		f.seed(t, "world.sav", d, passNow.Add(-time.Duration(6-i)*time.Hour), 4)
	}

	if evicted := f.engine.Run(); evicted != 0 {
		t.Fatalf("evicted %d fresh versions", evicted)
	}
}

func TestDayTierKeepsFirstMiddleLast(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	// Five versions on one calendar day, three days ago.
	day := time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.seed(t, "world.sav", fmt.Sprintf("d%d", i), day.Add(time.Duration(i)*30*time.Minute), 4)
	}

	if evicted := f.engine.Run(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}

	// Survivors: first (d0), middle index 5/2=2 (d2), last (d4).
	for i, wantDeleted := range []bool{false, true, false, true, false} {
		d := fmt.Sprintf("d%d", i)
		if got := f.deleted(t, d); got != wantDeleted {
			t.Errorf("%s deleted = %v, want %v", d, got, wantDeleted)
		}
		if f.blobs.Exists(d) == wantDeleted {
			t.Errorf("%s blob presence inconsistent with flag", d)
		}
	}

	// History itself never shrinks.
	h, _ := f.ledger.HistoryOf("world.sav")
	if len(h.Versions) != 5 {
		t.Errorf("history truncated to %d entries", len(h.Versions))
	}
}

func TestDayTierLeavesSmallDaysAlone(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	day := time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		f.seed(t, "world.sav", fmt.Sprintf("d%d", i), day.Add(time.Duration(i)*time.Hour), 4)
	}

	if evicted := f.engine.Run(); evicted != 0 {
		t.Errorf("evicted %d from a three-version day", evicted)
	}
}

func TestWeekTierKeepsNewestFour(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	// Six versions aged 10..20 days, one per spacing, across different days.
	for i := 0; i < 6; i++ {
		at := passNow.AddDate(0, 0, -(10 + 2*i)) // d0 newest, d5 oldest
		f.seed(t, "world.sav", fmt.Sprintf("d%d", i), at, 4)
	}

	if evicted := f.engine.Run(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	// Oldest two (ages 18 and 20 days) go; the newest four stay.
	for i := 0; i < 6; i++ {
		want := i >= 4
		if got := f.deleted(t, fmt.Sprintf("d%d", i)); got != want {
			t.Errorf("d%d deleted = %v, want %v", i, got, want)
		}
	}
}

func TestMonthlyCollapseKeepsNewestPerMonth(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	// Three versions in March, two in February — all well past 30 days.
	f.seed(t, "world.sav", "feb1", time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC), 4)
	f.seed(t, "world.sav", "feb2", time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC), 4)
	f.seed(t, "world.sav", "mar1", time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), 4)
	f.seed(t, "world.sav", "mar2", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), 4)
	f.seed(t, "world.sav", "mar3", time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC), 4)

	if evicted := f.engine.Run(); evicted != 3 {
		t.Fatalf("evicted = %d, want 3", evicted)
	}
	for d, want := range map[string]bool{
		"feb1": true, "feb2": false,
		"mar1": true, "mar2": true, "mar3": false,
	} {
		if got := f.deleted(t, d); got != want {
			t.Errorf("%s deleted = %v, want %v", d, got, want)
		}
	}
}

func TestTiersIndependentPerFile(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	day := time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC)
	// Two files with two versions each on the same day: neither exceeds
	// the per-day keep count, even though the day saw four versions total.
	f.seed(t, "a.sav", "a1", day, 4)
	f.seed(t, "a.sav", "a2", day.Add(time.Hour), 4)
	f.seed(t, "b.sav", "b1", day.Add(2*time.Hour), 4)
	f.seed(t, "b.sav", "b2", day.Add(3*time.Hour), 4)

	if evicted := f.engine.Run(); evicted != 0 {
		t.Errorf("evicted %d across independent files", evicted)
	}
}

func TestVersionWithoutTimestampSkipped(t *testing.T) {
	// A history referencing a digest whose time-table row was lost:
	// that version must be skipped, not evicted.
	dir := t.TempDir()
	track := "world.sav,d0,d0,d1,d2,d3,d4,dLost\n"
	day := time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC)
	var tt strings.Builder
	for i := 0; i < 5; i++ {
		at := day.Add(time.Duration(i) * 30 * time.Minute)
		fmt.Fprintf(&tt, "d%d,%s,false\n", i, at.Format(time.RFC3339Nano))
	}
	os.WriteFile(filepath.Join(dir, ledger.TrackFile), []byte(track), 0o644)
	os.WriteFile(filepath.Join(dir, ledger.TimeFile), []byte(tt.String()), 0o644)

	l := ledger.New(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := blob.New(filepath.Join(dir, "versions"))
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	for _, d := range []string{"d0", "d1", "d2", "d3", "d4", "dLost"} {
		b.Write(d, []byte("xxxx"))
	}

	e := New(l, b, nil, DefaultSizeCap)
	e.SetClock(func() time.Time { return passNow })

	// The five timestamped versions form one five-version day: two go.
	// dLost has no state and must be untouched.
	if evicted := e.Run(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if !b.Exists("dLost") {
		t.Error("stateless version was evicted")
	}

	// Re-running changes nothing: the pass is idempotent.
	if evicted := e.Run(); evicted != 0 {
		t.Errorf("second pass evicted %d, want 0", evicted)
	}
}

func TestSizeCapTwoPassEviction(t *testing.T) {
	f := newFixture(t, 10)
	// old.sav has a single version this month: a monthly archive.
	f.seed(t, "old.sav", "vOld", passNow.Add(-3*time.Hour), 8)
	// world.sav has two versions this month.
	f.seed(t, "world.sav", "v1", passNow.Add(-2*time.Hour), 6)
	f.seed(t, "world.sav", "v2", passNow.Add(-time.Hour), 6)
	// Total 20 bytes against a 10-byte cap.

	evicted := f.engine.Run()

	// Pass A: vOld spared (sole survivor of old.sav's month), v1 evicted
	// (total 14), v2 became sole survivor so spared. Pass B: vOld evicted
	// (total 6, under cap). v2 survives.
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if !f.deleted(t, "v1") {
		t.Error("v1 should be evicted in pass A")
	}
	if !f.deleted(t, "vOld") {
		t.Error("vOld should be evicted in pass B")
	}
	if f.deleted(t, "v2") {
		t.Error("v2 should survive")
	}
	if got := f.blobs.TotalSize(); got != 6 {
		t.Errorf("TotalSize after pass = %d, want 6", got)
	}
}

func TestSizeCapUnderCapDoesNothing(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, "world.sav", "v1", passNow.Add(-2*time.Hour), 6)
	f.seed(t, "world.sav", "v2", passNow.Add(-time.Hour), 6)

	if evicted := f.engine.Run(); evicted != 0 {
		t.Errorf("evicted %d while under cap", evicted)
	}
}

func TestSizeCapOldestFirst(t *testing.T) {
	f := newFixture(t, 10)
	// Three versions in the same file+month, none an archive once a
	// sibling survives. Eviction order must be oldest first.
	f.seed(t, "world.sav", "v1", passNow.Add(-3*time.Hour), 6)
	f.seed(t, "world.sav", "v2", passNow.Add(-2*time.Hour), 6)
	f.seed(t, "world.sav", "v3", passNow.Add(-time.Hour), 6)

	// Total 18, cap 10: evicting v1 brings it to 12, v2 to 6.
	if evicted := f.engine.Run(); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if !f.deleted(t, "v1") || !f.deleted(t, "v2") {
		t.Error("oldest two versions should be evicted")
	}
	if f.deleted(t, "v3") {
		t.Error("newest version should survive")
	}
}

func TestRunPersistsFlagsViaFlush(t *testing.T) {
	f := newFixture(t, 10)
	f.seed(t, "a.sav", "v1", passNow.Add(-2*time.Hour), 8)
	f.seed(t, "b.sav", "v2", passNow.Add(-time.Hour), 8)
	if err := f.ledger.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	f.engine.Run()

	// The pass left the ledger dirty; this flush must be real.
	if err := f.ledger.Flush(); err != nil {
		t.Fatalf("post-pass Flush: %v", err)
	}
	reloaded := ledger.New(f.dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st, ok := reloaded.StateOf("v1")
	if !ok || !st.Deleted {
		t.Error("eviction flag not persisted")
	}
}

func TestMissingBlobDoesNotAbortPass(t *testing.T) {
	f := newFixture(t, DefaultSizeCap)
	day := time.Date(2026, 6, 12, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.seed(t, "world.sav", fmt.Sprintf("d%d", i), day.Add(time.Duration(i)*30*time.Minute), 4)
	}
	// One doomed blob is already gone from disk.
	f.blobs.Delete("d1")

	if evicted := f.engine.Run(); evicted != 2 {
		t.Errorf("evicted = %d, want 2 despite missing blob", evicted)
	}
	if !f.deleted(t, "d1") {
		t.Error("d1 flag not set when its blob was absent")
	}
}
