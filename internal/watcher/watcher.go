// Package watcher turns filesystem activity in the save directory into
// version history. Every matching create/change event and every file
// found by the startup scan runs through the same pipeline: read with
// lock-retry, integrity check, digest, ledger update, blob store.
package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"savesentry/internal/blob"
	"savesentry/internal/digest"
	"savesentry/internal/integrity"
	"savesentry/internal/journal"
	"savesentry/internal/ledger"
)

// Defaults for the read retry loop. The producing game may hold a write
// lock on the save for a while after the first change notification.
const (
	DefaultRetryAttempts = 10
	DefaultRetryDelay    = 500 * time.Millisecond
)

// Options tunes the watcher. Zero values take the defaults.
type Options struct {
	Extensions    []string // matching file extensions, with dot
	RetryAttempts int
	RetryDelay    time.Duration
}

// Watcher drives the versioning pipeline for one save directory tree.
type Watcher struct {
	dir     string
	exts    map[string]bool
	ledger  *ledger.Ledger
	blobs   *blob.Store
	journal *journal.DB // optional, best-effort

	retryAttempts int
	retryDelay    time.Duration

	fw     *fsnotify.Watcher
	stopCh chan struct{}
}

// New creates a Watcher over dir. jdb may be nil to disable journaling.
func New(dir string, l *ledger.Ledger, b *blob.Store, jdb *journal.DB, opts Options) *Watcher {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Watcher{
		dir:           dir,
		exts:          exts,
		ledger:        l,
		blobs:         b,
		journal:       jdb,
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		stopCh:        make(chan struct{}),
	}
}

// matches reports whether path participates in versioning.
func (w *Watcher) matches(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// Scan walks the save directory and feeds every matching file through
// the pipeline, so history exists before the first live notification.
// Walk errors on individual entries are logged and skipped.
func (w *Watcher) Scan() error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("watcher: scan %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !w.matches(path) {
			return nil
		}
		w.Process(path)
		return nil
	})
}

// Start subscribes to filesystem notifications for the directory tree
// and runs the event loop until Stop. Subdirectories created later are
// added to the watch as they appear.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fw = fw

	if err := w.watchTree(w.dir); err != nil {
		fw.Close()
		return err
	}

	go w.loop()
	return nil
}

// Stop ends the event loop and releases the notification subscription.
func (w *Watcher) Stop() {
	close(w.stopCh)
	if w.fw != nil {
		w.fw.Close()
	}
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("watcher: walk %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				log.Printf("watcher: %v", err)
			}
			return
		}
		if w.matches(ev.Name) {
			w.Process(ev.Name)
		}
	case ev.Op.Has(fsnotify.Write):
		if w.matches(ev.Name) {
			w.Process(ev.Name)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if w.matches(ev.Name) {
			w.markDeleted(filepath.Base(ev.Name))
		}
	}
}

// Process runs one candidate file through the full pipeline. Every
// failure abandons this single event; none is fatal to the daemon.
func (w *Watcher) Process(path string) {
	name := filepath.Base(path)

	b, err := w.readWithRetry(path)
	if err != nil {
		log.Printf("watcher: giving up on %s: %v", name, err)
		return
	}

	if !integrity.Check(b) {
		log.Printf("watcher: %s failed integrity check, ignoring", name)
		w.record(journal.KindRejected, name, "", "integrity check failed")
		return
	}

	d := digest.Sum(b)
	created, duplicate := w.ledger.Update(name, d)
	if duplicate {
		w.record(journal.KindDuplicate, name, d, "")
		return
	}

	if err := w.blobs.Write(d, b); err != nil {
		log.Printf("watcher: store %s: %v", name, err)
		return
	}

	if created {
		log.Printf("watcher: tracking %s (%s)", name, digest.Shorten(d))
	} else {
		log.Printf("watcher: new version of %s (%s)", name, digest.Shorten(d))
	}
	w.record(journal.KindVersioned, name, d, "")
}

// markDeleted flags a vanished save's whole history. Blobs stay.
func (w *Watcher) markDeleted(name string) {
	if !w.ledger.Tracked(name) {
		return
	}
	w.ledger.MarkDeleted(name)
	log.Printf("watcher: %s removed, history marked deleted", name)
	w.record(journal.KindMarkedDeleted, name, "", "")
}

// readWithRetry reads the whole file, retrying with a fixed delay while
// the producer may still hold it open for writing.
func (w *Watcher) readWithRetry(path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < w.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}
		b, err := os.ReadFile(path)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", w.retryAttempts, lastErr)
}

func (w *Watcher) record(kind, name, d, detail string) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Record(kind, name, d, detail); err != nil {
		log.Printf("watcher: journal: %v", err)
	}
}
