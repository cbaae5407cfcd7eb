// Package engine ties the WAL, ingest queue, columnar chunks, chunk
// store and adaptive index into one embeddable time-series database.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/waffledb/waffledb/chunk"
	"github.com/waffledb/waffledb/config"
	"github.com/waffledb/waffledb/core"
	"github.com/waffledb/waffledb/compressors"
	"github.com/waffledb/waffledb/hooks"
	"github.com/waffledb/waffledb/index"
	"github.com/waffledb/waffledb/queue"
	"github.com/waffledb/waffledb/store"
	"github.com/waffledb/waffledb/sys"
	"github.com/waffledb/waffledb/wal"
)

// defaultFlushInterval is the spec's F = 100ms flusher period, used
// when config.WALConfig.FlushIntervalMs is unset.
const defaultFlushInterval = 100 * time.Millisecond

// Engine is a single embedded time-series database bound to one
// on-disk directory. It is safe for concurrent use by any number of
// writer and reader goroutines; exactly one flusher goroutine runs
// internally once Start has been called.
type Engine struct {
	dir    string
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer

	wal   *wal.WAL
	queue *queue.Queue
	store *store.Store
	index *index.AdaptiveIndex
	hooks hooks.HookManager

	mu          sync.RWMutex
	metricsSet  map[string]struct{}
	active      map[string]*chunk.Chunk
	sealedCount map[string]int

	flushInterval time.Duration

	releaseLock   func() error
	shutdownTrace func() error
	closeLogger   func() error
	shutdown      chan struct{}
	group         *errgroup.Group
	closed        bool

	metrics *engineMetrics
}

// open performs the shared construction/open-sequence logic used by
// both CreateEmpty and Load. mustExist controls whether a missing
// directory is an error (Load) or is created (CreateEmpty).
func open(dir string, cfg *config.Config, mustExist bool) (*Engine, error) {
	if cfg == nil {
		cfg = &config.Config{}
		defaultCfg, _ := config.Load(nil)
		cfg = defaultCfg
	}

	info, statErr := os.Stat(dir)
	if statErr != nil {
		if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("engine: stat %s: %w", dir, statErr)
		}
		if mustExist {
			return nil, core.ErrEngineNotFound
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("engine: create data dir: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("engine: %s is not a directory", dir)
	}

	release, err := sys.AcquireFileLock(filepath.Join(dir, ".waffledb"), 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAlreadyOpen, err)
	}

	logger, logCloser, err := config.NewLogger(cfg.Logging)
	if err != nil {
		release()
		return nil, fmt.Errorf("engine: build logger: %w", err)
	}
	logger = logger.With("component", "engine", "dir", dir)
	metrics := newEngineMetrics()

	flushInterval := defaultFlushInterval
	if cfg.Engine.WAL.FlushIntervalMs > 0 {
		flushInterval = time.Duration(cfg.Engine.WAL.FlushIntervalMs) * time.Millisecond
	}

	if cfg.Engine.Chunk.Capacity > 0 {
		chunk.Capacity = cfg.Engine.Chunk.Capacity
	}

	closeLogger := func() error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}

	w, err := wal.Open(wal.Options{
		Path:           filepath.Join(dir, "wal.log"),
		SyncMode:       wal.SyncMode(cfg.Engine.WAL.SyncMode),
		Logger:         logger,
		BytesWritten:   metrics.walBytesWritten,
		EntriesWritten: metrics.walEntriesWritten,
	})
	if err != nil {
		closeLogger()
		release()
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}

	compression, err := compressors.ForName(cfg.Engine.SSTable.Compression)
	if err != nil {
		w.Close()
		closeLogger()
		release()
		return nil, err
	}
	chunkStore := store.Open(dir, store.Options{Compression: compression, DecodedCacheCap: 256})
	tracer, shutdownTrace := newTracer(cfg.Tracing)

	e := &Engine{
		dir:           dir,
		cfg:           cfg,
		logger:        logger,
		tracer:        tracer,
		wal:           w,
		queue:         queue.New(),
		store:         chunkStore,
		index:         index.New(cfg.Engine.Index.RebuildEvery),
		hooks:         hooks.NewHookManager(logger),
		metricsSet:    make(map[string]struct{}),
		active:        make(map[string]*chunk.Chunk),
		sealedCount:   make(map[string]int),
		flushInterval: flushInterval,
		releaseLock:   release,
		shutdownTrace: shutdownTrace,
		closeLogger:   closeLogger,
		shutdown:      make(chan struct{}),
		metrics:       metrics,
	}

	if err := e.loadPersistedState(); err != nil {
		w.Close()
		closeLogger()
		release()
		return nil, err
	}

	if err := e.replayWAL(); err != nil {
		w.Close()
		closeLogger()
		release()
		return nil, err
	}
	if err := w.Clear(); err != nil {
		w.Close()
		closeLogger()
		release()
		return nil, fmt.Errorf("engine: clear wal after replay: %w", err)
	}

	return e, nil
}

// CreateEmpty opens a new, empty engine bound to dir, creating the
// directory if necessary.
func CreateEmpty(dir string, cfg *config.Config) (*Engine, error) {
	return open(dir, cfg, false)
}

// Load opens an engine bound to an existing dir, failing if absent.
func Load(dir string, cfg *config.Config) (*Engine, error) {
	return open(dir, cfg, true)
}

// loadPersistedState reads metadata.txt and loads every recorded
// sealed chunk from the chunk store, registering each with the
// adaptive index.
func (e *Engine) loadPersistedState() error {
	state, err := readMetadata(e.dir, e.logger)
	if err != nil {
		return fmt.Errorf("engine: load metadata: %w", err)
	}
	for _, m := range state.metrics {
		e.metricsSet[m] = struct{}{}
	}
	for metric, count := range state.chunkCounts {
		e.metricsSet[metric] = struct{}{}
		for id := uint64(0); id < uint64(count); id++ {
			c, err := e.store.LoadChunk(metric, id)
			if err != nil {
				e.logger.Warn("engine: skipping unreadable sealed chunk", "metric", metric, "id", id, "error", err)
				continue
			}
			e.index.AddChunk(c.ID, c.Metric, c.MinTS(), c.MaxTS(), c.TagPresence())
		}
		e.sealedCount[metric] = count
	}
	return nil
}

// replayWAL is always run at open time (per the resolved Design Notes
// open question): every recovered sample is fed through the normal
// write path, deduplicated against whatever was already loaded from
// sealed/active chunks so a sample already safely persisted before a
// crash is never double-counted.
func (e *Engine) replayWAL() error {
	samples, err := e.wal.Recover()
	if err != nil {
		return fmt.Errorf("engine: wal recover: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	seen := e.existingFingerprints()
	for _, s := range samples {
		fp := s.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		e.insertIntoActive(s)
	}
	return nil
}

// existingFingerprints collects the fingerprints of every sample
// already present in loaded sealed or active chunks.
func (e *Engine) existingFingerprints() map[string]struct{} {
	seen := make(map[string]struct{})
	e.mu.RLock()
	defer e.mu.RUnlock()
	for metric, count := range e.sealedCount {
		for id := uint64(0); id < uint64(count); id++ {
			c, err := e.store.LoadChunk(metric, id)
			if err != nil {
				continue
			}
			addChunkFingerprints(seen, c)
		}
	}
	for _, c := range e.active {
		addChunkFingerprints(seen, c)
	}
	return seen
}

func addChunkFingerprints(seen map[string]struct{}, c *chunk.Chunk) {
	ts := c.Timestamps()
	vs := c.Values()
	tags := c.Tags()
	for i := range ts {
		s := core.Sample{Metric: c.Metric, Timestamp: ts[i], Value: vs[i], Tags: tags[i]}
		seen[s.Fingerprint()] = struct{}{}
	}
}

// Start launches the background flusher goroutine and the metadata
// sync ticker goroutine under one errgroup.Group; Close waits for both
// and returns the first error either returns (both loops log their
// failures and return nil). A panic in either is not recovered.
// Must be called once before Write/WriteBatch are expected to become
// visible to Query.
func (e *Engine) Start() {
	e.hooks.Trigger(context.Background(), hooks.NewPreStartEngineEvent())
	e.group = new(errgroup.Group)
	e.group.Go(func() error {
		e.flusherLoop()
		return nil
	})
	e.group.Go(func() error {
		return e.metadataSyncLoop()
	})
	e.hooks.Trigger(context.Background(), hooks.NewPostStartEngineEvent())
}

// Close signals the flusher and metadata-sync goroutines to stop,
// drains the queue one last time, seals every non-empty active chunk,
// persists metadata, closes the WAL, shuts down the tracer, closes the
// log file and releases the directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hooks.Trigger(context.Background(), hooks.NewPreCloseEngineEvent())

	close(e.shutdown)
	var groupErr error
	if e.group != nil {
		groupErr = e.group.Wait()
	}

	e.drainAndFlush()

	e.mu.Lock()
	for metric, c := range e.active {
		if c.Count() > 0 {
			e.sealChunkLocked(metric, c)
			e.active[metric] = chunk.New(metric, uint64(e.sealedCount[metric]))
		}
	}
	metrics, counts := e.snapshotMetadataLocked()
	e.mu.Unlock()

	if err := writeMetadata(e.dir, metrics, counts); err != nil {
		e.logger.Error("engine: write metadata on close failed", "error", err)
	}

	var firstErr error
	if groupErr != nil {
		firstErr = groupErr
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.shutdownTrace(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.closeLogger(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.releaseLock(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.hooks.Trigger(context.Background(), hooks.NewPostCloseEngineEvent())
	e.hooks.Stop()
	return firstErr
}

// Destroy closes the engine and removes its entire directory tree.
func (e *Engine) Destroy() error {
	if err := e.Close(); err != nil {
		return err
	}
	// Give platforms that defer file-handle release a brief grace pause.
	time.Sleep(10 * time.Millisecond)
	return os.RemoveAll(e.dir)
}

func (e *Engine) snapshotMetadataLocked() ([]string, map[string]int) {
	metrics := make([]string, 0, len(e.metricsSet))
	for m := range e.metricsSet {
		metrics = append(metrics, m)
	}
	counts := make(map[string]int, len(e.sealedCount))
	for m, c := range e.sealedCount {
		counts[m] = c
	}
	return metrics, counts
}
