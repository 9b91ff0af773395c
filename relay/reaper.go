package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/privmsg/relay/observability"
	"github.com/privmsg/relay/storage"
)

// Reaper periodically expires the durable records the server owns cleaning
// up: pending envelopes past expires_at, file metadata past expires_at, and
// sessions past expires_at or explicitly invalidated. It runs a ticker +
// stopCh select loop, closed exactly once via sync.Once.
type Reaper struct {
	store          *storage.Store
	observer       observability.RelayObserver
	logger         *slog.Logger
	interval       time.Duration
	onFilesExpired func(fileIDs []string) // Optional hook to delete blob bytes.

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReaper builds a Reaper that sweeps store every interval. onFilesExpired,
// if non-nil, is called with the ids of files whose metadata just expired so
// the caller can delete the matching blob bytes (which live outside this
// package's storage). It does not start the background loop until Start is
// called.
func NewReaper(store *storage.Store, observer observability.RelayObserver, logger *slog.Logger, interval time.Duration, onFilesExpired func(fileIDs []string)) *Reaper {
	if observer == nil {
		observer = observability.NoopRelayObserver
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reaper{
		store:          store,
		observer:       observer,
		logger:         logger,
		interval:       interval,
		onFilesExpired: onFilesExpired,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start runs the sweep loop in its own goroutine until Stop is called.
func (r *Reaper) Start() {
	go r.loop()
}

// Stop halts the sweep loop and waits for the in-flight sweep, if any, to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *Reaper) loop() {
	defer close(r.doneCh)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.sweepOnce()
		}
	}
}

// sweepOnce runs one pass over pending messages, files, and sessions. Each
// kind is swept independently so a failure in one does not block the others.
func (r *Reaper) sweepOnce() {
	now := time.Now().UTC()

	pendingCount, err := r.store.ReapExpiredPending(now)
	if err != nil {
		r.logger.Error("reap pending messages", "error", err)
	} else if pendingCount > 0 {
		r.observer.ReaperSweep(observability.ReapKindPendingMessages, pendingCount)
	}

	deletedFileIDs, err := r.store.ReapExpiredFiles(now)
	if err != nil {
		r.logger.Error("reap files", "error", err)
	} else if len(deletedFileIDs) > 0 {
		r.observer.ReaperSweep(observability.ReapKindFiles, len(deletedFileIDs))
		if r.onFilesExpired != nil {
			r.onFilesExpired(deletedFileIDs)
		}
	}

	sessionCount, err := r.store.ReapSessions(now)
	if err != nil {
		r.logger.Error("reap sessions", "error", err)
	} else if sessionCount > 0 {
		r.observer.ReaperSweep(observability.ReapKindSessions, sessionCount)
	}
}
