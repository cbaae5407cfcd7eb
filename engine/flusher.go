package engine

import (
	"context"
	"time"

	"github.com/waffledb/waffledb/hooks"
)

// flusherLoop is the single dedicated background worker that drains
// the ingest queue every e.flushInterval (config.WALConfig.FlushIntervalMs,
// defaulting to the spec's F = 100ms) and checkpoints the WAL.
func (e *Engine) flusherLoop() {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.drainAndFlush()
		case <-e.shutdown:
			return
		}
	}
}

// metadataSyncInterval is how often the background metadata-sync
// goroutine rewrites metadata.txt so a crash between flushes still
// leaves an on-disk record close to current.
const metadataSyncInterval = time.Second

// metadataSyncLoop periodically persists the current metric/chunk-count
// snapshot. A write error is logged and the loop keeps running; it
// returns nil once shutdown is signalled.
func (e *Engine) metadataSyncLoop() error {
	ticker := time.NewTicker(metadataSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.mu.RLock()
			metrics, counts := e.snapshotMetadataLocked()
			e.mu.RUnlock()
			if err := writeMetadata(e.dir, metrics, counts); err != nil {
				e.logger.Error("engine: periodic metadata sync failed", "error", err)
			}
		case <-e.shutdown:
			return nil
		}
	}
}

// drainAndFlush pops every currently queued sample, inserts each into
// its metric's active chunk (sealing as needed), then checkpoints the
// WAL. Safe to call from the flusher goroutine or, one final time,
// from Close after the flusher has stopped.
func (e *Engine) drainAndFlush() {
	batch := e.queue.DrainInto(nil)
	if len(batch) == 0 {
		return
	}
	for _, s := range batch {
		e.insertIntoActive(s)
	}

	ctx := context.Background()
	e.hooks.Trigger(ctx, hooks.NewPreCheckpointEvent())
	err := e.wal.Checkpoint()
	e.hooks.Trigger(ctx, hooks.NewPostCheckpointEvent(hooks.PostCheckpointPayload{Error: err}))
	if err != nil {
		e.logger.Error("engine: wal checkpoint failed", "error", err)
	}
}
