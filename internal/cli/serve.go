package cli

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"savesentry/internal/blob"
	"savesentry/internal/config"
	"savesentry/internal/journal"
	"savesentry/internal/ledger"
	"savesentry/internal/retention"
	"savesentry/internal/server"
	"savesentry/internal/watcher"
)

// debugMarker in place of a parent PID keeps the daemon running until
// interactively terminated.
const debugMarker = "debug"

// parentPollInterval is how often the parent process is probed.
const parentPollInterval = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve <config-root> <save-dir> <parent-pid|debug>",
	Short: "Run the save backup daemon",
	Long: "Watches <save-dir> for save file changes and keeps a version history " +
		"under <config-root>/" + config.AppDirName + ". Exits when the process " +
		"with <parent-pid> does, or on interrupt when given \"" + debugMarker + "\".",
	Args: cobra.ExactArgs(3),
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configRoot, saveDir, parentArg := args[0], args[1], args[2]

	parentPID := 0
	if parentArg != debugMarker {
		pid, err := strconv.Atoi(parentArg)
		if err != nil {
			return fmt.Errorf("parent pid %q: %w", parentArg, err)
		}
		parentPID = pid
	}

	if info, err := os.Stat(saveDir); err != nil || !info.IsDir() {
		return fmt.Errorf("save dir %s is not a directory", saveDir)
	}

	cfg, err := config.Load(configRoot)
	if err != nil {
		return err
	}

	appDir := config.AppDir(configRoot)
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("create app dir: %w", err)
	}

	led := ledger.New(appDir)
	if err := led.Load(); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	blobs, err := blob.New(config.VersionsDir(configRoot))
	if err != nil {
		return err
	}

	// The journal is best-effort: a broken database disables auditing,
	// never the daemon.
	jdb, err := journal.Open(config.JournalPath(configRoot))
	if err != nil {
		log.Printf("warning: journal disabled: %v", err)
		jdb = nil
	} else {
		defer jdb.Close()
	}

	w := watcher.New(saveDir, led, blobs, jdb, watcher.Options{
		Extensions:    cfg.Watch.Extensions,
		RetryAttempts: cfg.Watch.RetryAttempts,
		RetryDelay:    cfg.Watch.RetryDelay(),
	})

	log.Printf("savesentry watching %s", saveDir)
	log.Printf("  history: %s", appDir)

	// Initial scan before the retention pass, so versions present at
	// startup are subject to the same policy as live ones.
	if err := w.Scan(); err != nil {
		log.Printf("initial scan: %v", err)
	}

	eng := retention.New(led, blobs, jdb, cfg.Retention.SizeCapBytes)
	eng.StartTimer(cfg.Retention.Interval())
	defer eng.Stop()

	stopFlush := startFlushTimer(led, cfg.Flush.FlushInterval())
	defer stopFlush()

	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	if cfg.Server.Enabled {
		srv := server.New(led, blobs, jdb, cfg.Retention.SizeCapBytes, VersionString())
		go func() {
			addr := cfg.Server.ListenAddr()
			log.Printf("  status api: http://%s/api/health", addr)
			if err := http.ListenAndServe(addr, srv); err != nil {
				log.Printf("status api: %v", err)
			}
		}()
	}

	waitForExit(parentPID)

	// Final flush is unconditional on the way out: nothing mutated
	// since the last tick makes it a no-op, anything else must land.
	if err := led.Flush(); err != nil {
		log.Printf("final flush: %v", err)
	}
	log.Printf("savesentry exiting")
	return nil
}

// startFlushTimer persists dirty ledger state every interval. Flush
// errors are logged only; the counters stay apart so the next tick
// retries the same write.
func startFlushTimer(led *ledger.Ledger, interval time.Duration) (stop func()) {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := led.Flush(); err != nil {
					log.Printf("flush: %v", err)
				}
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}

// waitForExit blocks until the parent process is gone, or until an
// interrupt in debug mode (pid 0).
func waitForExit(parentPID int) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	if parentPID == 0 {
		<-done
		log.Printf("interrupted")
		return
	}

	ticker := time.NewTicker(parentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !processAlive(parentPID) {
				log.Printf("parent process %d exited", parentPID)
				return
			}
		case <-done:
			log.Printf("interrupted")
			return
		}
	}
}

// processAlive probes a pid with signal 0. EPERM still means alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
