package journal

import (
	"fmt"
	"time"
)

// Action kinds recorded by the daemon.
const (
	KindVersioned     = "versioned"      // new version stored
	KindDuplicate     = "duplicate"      // notification for unchanged content
	KindRejected      = "rejected"       // integrity check failed
	KindMarkedDeleted = "marked-deleted" // live save removed, history flagged
	KindEvicted       = "evicted"        // retention removed a blob
)

// Action is one recorded daemon decision.
type Action struct {
	ID        int64
	Kind      string
	Name      string
	Digest    string
	Detail    string
	CreatedAt int64
}

// Record stores one action. Name, digest and detail may be empty
// depending on the kind.
func (db *DB) Record(kind, name, digest, detail string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO actions (kind, name, digest, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, kind, name, digest, detail, now)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// Recent returns the latest n actions, newest first.
func (db *DB) Recent(n int) ([]Action, error) {
	rows, err := db.Query(`
		SELECT id, kind, COALESCE(name, ''), COALESCE(digest, ''), COALESCE(detail, ''), created_at
		FROM actions ORDER BY created_at DESC, id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Kind, &a.Name, &a.Digest, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// CountByKind returns a tally of recorded actions per kind.
func (db *DB) CountByKind() (map[string]int64, error) {
	rows, err := db.Query("SELECT kind, COUNT(*) FROM actions GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
