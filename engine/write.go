package engine

import (
	"context"
	"fmt"

	"github.com/waffledb/waffledb/chunk"
	"github.com/waffledb/waffledb/core"
	"github.com/waffledb/waffledb/hooks"
)

// Write durably appends one sample to the WAL, then admits it to the
// lock-free ingest queue. It returns only after the WAL append has
// completed; visibility to Query follows at the next flush cycle.
func (e *Engine) Write(s core.Sample) error {
	return e.WriteBatch([]core.Sample{s})
}

// WriteBatch durably appends every sample as one WAL record each, then
// admits them all to the ingest queue. Per-sample atomicity: either a
// given sample is fully in the WAL or it is not attempted at all.
func (e *Engine) WriteBatch(samples []core.Sample) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return core.ErrEngineClosed
	}

	ctx, span := e.tracer.Start(context.Background(), "Engine.WriteBatch")
	defer span.End()

	for i := range samples {
		if err := core.ValidateSample(samples[i]); err != nil {
			return err
		}
		if err := e.hooks.Trigger(ctx, hooks.NewPreWriteEvent(hooks.PreWritePayload{Sample: &samples[i]})); err != nil {
			return fmt.Errorf("engine: write rejected by pre-write hook: %w", err)
		}
	}

	if err := e.wal.AppendBatch(samples); err != nil {
		for i := range samples {
			e.hooks.Trigger(ctx, hooks.NewPostWriteEvent(hooks.PostWritePayload{Sample: samples[i], Error: err}))
		}
		return fmt.Errorf("engine: wal append: %w", err)
	}

	e.mu.Lock()
	for _, s := range samples {
		e.metricsSet[s.Metric] = struct{}{}
	}
	e.mu.Unlock()

	for i := range samples {
		e.queue.Push(samples[i])
		e.metrics.writesServed.Add(1)
		e.hooks.Trigger(ctx, hooks.NewPostWriteEvent(hooks.PostWritePayload{Sample: samples[i]}))
	}
	return nil
}

// insertIntoActive appends s to its metric's active chunk, sealing and
// replacing that chunk first if it has no room left. Callers must NOT
// hold e.mu; this method manages its own locking since it is called
// both from the flusher (outside any lock) and from WAL replay at open
// time (also outside any lock, single-threaded).
func (e *Engine) insertIntoActive(s core.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.active[s.Metric]
	if !ok {
		c = chunk.New(s.Metric, uint64(e.sealedCount[s.Metric]))
		e.active[s.Metric] = c
	}
	if !c.CanAppend() {
		e.sealChunkLocked(s.Metric, c)
		c = chunk.New(s.Metric, uint64(e.sealedCount[s.Metric]))
		e.active[s.Metric] = c
	}
	c.Append(s.Timestamp, s.Value, s.Tags)
}

// sealChunkLocked persists c, registers it with the adaptive index and
// bumps the metric's sealed count. Callers must hold e.mu.
func (e *Engine) sealChunkLocked(metric string, c *chunk.Chunk) {
	e.hooks.Trigger(context.Background(), hooks.NewPreSealEvent(hooks.PreSealPayload{Metric: metric, ChunkID: c.ID}))

	err := e.store.SaveChunk(c)
	if err == nil {
		e.index.AddChunk(c.ID, c.Metric, c.MinTS(), c.MaxTS(), c.TagPresence())
		e.sealedCount[metric]++
		e.metrics.chunksSealed.Add(1)
	} else {
		e.logger.Error("engine: failed to persist sealed chunk", "metric", metric, "id", c.ID, "error", err)
	}

	e.hooks.Trigger(context.Background(), hooks.NewPostSealEvent(hooks.PostSealPayload{
		Metric: metric, ChunkID: c.ID, Count: c.Count(), MinTS: c.MinTS(), MaxTS: c.MaxTS(), Error: err,
	}))
}
