package worker

import (
	"context"
	"time"

	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Syncer runs one synchronization pass over all configured sources
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// SourceSyncWorker periodically pulls external sources into the document store
//
// Architecture assumptions:
// - Single server instance (no distributed locking)
// - A pass that is still running delays the next tick instead of overlapping it
type SourceSyncWorker struct {
	syncer   Syncer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSourceSyncWorker creates a worker that calls syncer every interval
func NewSourceSyncWorker(syncer Syncer, interval time.Duration) *SourceSyncWorker {
	return &SourceSyncWorker{
		syncer:   syncer,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the first pass and the periodic loop in a background goroutine
func (w *SourceSyncWorker) Start(ctx context.Context) {
	logging.From(ctx).Info("source sync worker starting", "interval", w.interval.String())
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the running pass to finish
func (w *SourceSyncWorker) Stop() {
	logging.Default().Info("source sync worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("source sync worker stopped")
}

func (w *SourceSyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.sync(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sync(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("source sync worker context cancelled")
			return
		}
	}
}

func (w *SourceSyncWorker) sync(ctx context.Context) {
	started := time.Now()
	if err := w.syncer.SyncAll(ctx); err != nil {
		logging.From(ctx).Error("source sync failed (will retry next interval)", "error", err.Error())
		return
	}
	logging.From(ctx).Info("source sync completed", "duration", time.Since(started).String())
}
