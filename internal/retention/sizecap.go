package retention

import (
	"log"
	"sort"

	"savesentry/internal/journal"
	"savesentry/internal/ledger"
)

// applySizeCap enforces the footprint ceiling after the tier policy has
// run. Two passes over all surviving versions, oldest first: pass A
// spares any version that is the sole survivor of its file+month (a
// monthly archive); pass B, reached only when the cap is still
// exceeded, takes those too. Freed bytes come off the running total
// before each re-check against the cap.
func (e *Engine) applySizeCap(tx *ledger.Tx) int {
	total := e.blobs.TotalSize()
	if total <= e.sizeCap {
		return 0
	}

	survivors := make(map[string]int)
	var all []version
	for _, name := range tx.Names() {
		for _, v := range candidates(tx, name) {
			st, _ := tx.State(v.digest)
			if st.Deleted {
				continue
			}
			all = append(all, v)
			survivors[archiveKey(v)]++
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	evicted := 0
	for _, spareArchives := range []bool{true, false} {
		for _, v := range all {
			if total <= e.sizeCap {
				return evicted
			}
			st, ok := tx.State(v.digest)
			if !ok || st.Deleted {
				continue
			}
			if spareArchives && survivors[archiveKey(v)] <= 1 {
				continue
			}
			freed := e.blobs.SizeOf(v.digest)
			tx.MarkVersionDeleted(v.digest)
			if _, err := e.blobs.Delete(v.digest); err != nil {
				log.Printf("retention: delete blob %s: %v", v.digest, err)
			}
			if e.journal != nil {
				if err := e.journal.Record(journal.KindEvicted, v.name, v.digest, "size cap"); err != nil {
					log.Printf("retention: journal: %v", err)
				}
			}
			total -= freed
			survivors[archiveKey(v)]--
			evicted++
		}
	}
	if total > e.sizeCap {
		log.Printf("retention: still %d bytes over cap after size pass", total-e.sizeCap)
	}
	return evicted
}

// archiveKey groups surviving versions by file and calendar month.
func archiveKey(v version) string {
	return v.name + "\x00" + v.at.Format("2006-01")
}
