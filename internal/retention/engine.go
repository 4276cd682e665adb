// Package retention thins the stored version history on a schedule.
// Four age tiers decide which backups per save file may be physically
// removed, then a global pass enforces the disk footprint cap. Logical
// history is never truncated: eviction flips the ledger's deleted flag
// and unlinks the blob, nothing more.
package retention

import (
	"log"
	"sort"
	"time"

	"savesentry/internal/blob"
	"savesentry/internal/journal"
	"savesentry/internal/ledger"
)

// DefaultSizeCap is the footprint ceiling for the versions directory.
const DefaultSizeCap = 10 << 30 // 10 GiB

// Tier boundaries and keep counts.
const (
	dayTierMax    = 24 * time.Hour      // younger than this: untouched
	weekTierMax   = 7 * 24 * time.Hour  // day-grouped keep-3 tier
	monthTierMax  = 30 * 24 * time.Hour // newest-4 tier
	weekTierKeep  = 3                   // per day: first, middle, last
	monthTierKeep = 4
)

// Engine runs the keep/evict policy against the ledger and blob store.
type Engine struct {
	ledger  *ledger.Ledger
	blobs   *blob.Store
	journal *journal.DB // optional, best-effort
	sizeCap int64

	now    func() time.Time
	stopCh chan struct{}
}

// New creates an Engine. jdb may be nil to disable journaling.
func New(l *ledger.Ledger, b *blob.Store, jdb *journal.DB, sizeCap int64) *Engine {
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCap
	}
	return &Engine{
		ledger:  l,
		blobs:   b,
		journal: jdb,
		sizeCap: sizeCap,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// StartTimer runs a retention pass now and then on every interval tick.
func (e *Engine) StartTimer(interval time.Duration) {
	if evicted := e.Run(); evicted > 0 {
		log.Printf("retention: evicted %d versions", evicted)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if evicted := e.Run(); evicted > 0 {
					log.Printf("retention: evicted %d versions", evicted)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the timer goroutine.
func (e *Engine) Stop() {
	close(e.stopCh)
}

// Run executes one full retention pass: per-file tier policy, then the
// global size-cap pass. The whole pass holds the ledger exclusively, so
// live updates and flushes cannot interleave with it, and the ledger is
// left dirty so the next flush persists the new deletion flags. Returns
// the number of versions evicted.
func (e *Engine) Run() int {
	evicted := 0
	e.ledger.ExclusivePass(func(tx *ledger.Tx) {
		now := e.now()
		for _, name := range tx.Names() {
			evicted += e.applyTiers(tx, name, now)
		}
		evicted += e.applySizeCap(tx)
	})
	return evicted
}

// version is one eviction candidate within a pass.
type version struct {
	name   string
	digest string
	at     time.Time
}

// candidates returns name's distinct digests with resolvable
// timestamps, oldest first. A digest that reappears later in the
// history (content revert) is considered once; one without a ledger
// timestamp is skipped entirely, never evicted.
func candidates(tx *ledger.Tx, name string) []version {
	seen := make(map[string]bool)
	var vs []version
	for _, d := range tx.Versions(name) {
		if seen[d] {
			continue
		}
		seen[d] = true
		st, ok := tx.State(d)
		if !ok {
			continue
		}
		vs = append(vs, version{name: name, digest: d, at: st.ObservedAt})
	}
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].at.Before(vs[j].at) })
	return vs
}

// applyTiers runs the four age tiers for one save name. Each tier only
// sees what younger tiers did not claim.
func (e *Engine) applyTiers(tx *ledger.Tx, name string, now time.Time) int {
	var week, month, old []version
	for _, v := range candidates(tx, name) {
		switch age := now.Sub(v.at); {
		case age < dayTierMax:
			// too young to touch
		case age < weekTierMax:
			week = append(week, v)
		case age < monthTierMax:
			month = append(month, v)
		default:
			old = append(old, v)
		}
	}

	evicted := 0
	evicted += e.thinByDay(tx, week)
	evicted += e.keepNewest(tx, month, monthTierKeep)
	evicted += e.thinByMonth(tx, old)
	return evicted
}

// thinByDay keeps at most three versions per calendar day: the first,
// the middle (index count/2), and the last by time. Days with three or
// fewer versions are untouched.
func (e *Engine) thinByDay(tx *ledger.Tx, vs []version) int {
	byDay := make(map[string][]version)
	var days []string
	for _, v := range vs {
		day := v.at.Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], v)
	}

	evicted := 0
	for _, day := range days {
		group := byDay[day]
		if len(group) <= weekTierKeep {
			continue
		}
		keep := map[int]bool{0: true, len(group) / 2: true, len(group) - 1: true}
		for i, v := range group {
			if keep[i] {
				continue
			}
			evicted += e.evict(tx, v, "day tier")
		}
	}
	return evicted
}

// keepNewest evicts everything but the newest n versions of the slice
// (already sorted oldest first).
func (e *Engine) keepNewest(tx *ledger.Tx, vs []version, n int) int {
	if len(vs) <= n {
		return 0
	}
	evicted := 0
	for _, v := range vs[:len(vs)-n] {
		evicted += e.evict(tx, v, "week tier")
	}
	return evicted
}

// thinByMonth keeps one version per calendar month: the newest.
func (e *Engine) thinByMonth(tx *ledger.Tx, vs []version) int {
	newest := make(map[string]version)
	for _, v := range vs {
		month := v.at.Format("2006-01")
		if cur, ok := newest[month]; !ok || v.at.After(cur.at) {
			newest[month] = v
		}
	}

	evicted := 0
	for _, v := range vs {
		if newest[v.at.Format("2006-01")].digest == v.digest {
			continue
		}
		evicted += e.evict(tx, v, "month tier")
	}
	return evicted
}

// evict marks the version deleted and unlinks its blob. Returns 1 when
// the version was newly marked, 0 when it was already gone. Blob
// deletion failures are logged and do not abort the pass; the flag is
// still set so logical state matches intent.
func (e *Engine) evict(tx *ledger.Tx, v version, reason string) int {
	st, ok := tx.State(v.digest)
	if !ok || st.Deleted {
		return 0
	}
	tx.MarkVersionDeleted(v.digest)
	if _, err := e.blobs.Delete(v.digest); err != nil {
		log.Printf("retention: delete blob %s: %v", v.digest, err)
	}
	if e.journal != nil {
		if err := e.journal.Record(journal.KindEvicted, v.name, v.digest, reason); err != nil {
			log.Printf("retention: journal: %v", err)
		}
	}
	return 1
}
