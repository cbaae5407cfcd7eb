package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/waffledb/waffledb/chunk"
	"github.com/waffledb/waffledb/core"
	"github.com/waffledb/waffledb/hooks"
)

// Query returns every sample for metric in [lo, hi] whose tags are a
// superset of tags (nil or empty tags match everything), sorted
// ascending by timestamp. Candidates are gathered from the active
// chunk plus every sealed chunk the adaptive index names as possibly
// overlapping the range.
func (e *Engine) Query(metric string, lo, hi int64, tags map[string]string) ([]core.Sample, error) {
	start := time.Now()
	ctx := context.Background()
	if err := e.hooks.Trigger(ctx, hooks.NewPreQueryEvent(hooks.PreQueryPayload{Metric: metric, Lo: lo, Hi: hi, Tags: tags})); err != nil {
		return nil, fmt.Errorf("engine: query rejected by pre-query hook: %w", err)
	}

	out, err := e.collectSamples(metric, lo, hi, tags)
	e.metrics.queriesServed.Add(1)

	e.hooks.Trigger(ctx, hooks.NewPostQueryEvent(hooks.PostQueryPayload{
		Metric: metric, ResultLen: len(out), Duration: time.Since(start), Error: err,
	}))
	return out, err
}

func (e *Engine) collectSamples(metric string, lo, hi int64, tags map[string]string) ([]core.Sample, error) {
	chunks, err := e.candidateChunks(metric, lo, hi, tags)
	if err != nil {
		return nil, err
	}

	var out []core.Sample
	for _, c := range chunks {
		idxs := c.QueryWithTags(tags)
		ts := c.Timestamps()
		vs := c.Values()
		tagCol := c.Tags()
		for _, i := range idxs {
			if ts[i] < lo || ts[i] > hi {
				continue
			}
			out = append(out, core.Sample{Metric: c.Metric, Timestamp: ts[i], Value: vs[i], Tags: tagCol[i]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// candidateChunks returns the active chunk (if any) for metric plus
// every sealed chunk the adaptive index reports as possibly
// overlapping [lo, hi] and matching the chunk-level tag presence
// filter, loaded from the chunk store. The active chunk is always
// included regardless of tags since its tag_presence has not been
// computed yet; per-sample tag filtering happens downstream.
func (e *Engine) candidateChunks(metric string, lo, hi int64, tags map[string]string) ([]*chunk.Chunk, error) {
	e.mu.RLock()
	active := e.active[metric]
	e.mu.RUnlock()

	var out []*chunk.Chunk
	if active != nil && active.Count() > 0 {
		if l, r := active.QueryTimeRange(lo, hi); r > l {
			out = append(out, active)
		}
	}

	ids := e.index.FindChunks(metric, lo, hi, tags)
	for _, id := range ids {
		c, err := e.store.LoadChunk(metric, id)
		if err != nil {
			e.logger.Warn("engine: skipping unreadable sealed chunk", "metric", metric, "id", id, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Sum, Avg, Min and Max aggregate over [lo, hi]. When tags is non-empty
// the aggregate is computed over the tag-filtered sample set rather
// than the whole chunk, so tag-scoped aggregates are fully supported.
// When tags is empty Sum, Min and Max use each candidate chunk's own
// Sum/Min/Max directly (Sum takes the four-wide unrolled fast path in
// chunk.Chunk), and Avg combines per-chunk sums and sample counts,
// rather than flattening every chunk's values into one slice first.
func (e *Engine) Sum(metric string, lo, hi int64, tags map[string]string) (float64, error) {
	if len(tags) > 0 {
		return e.aggregateFiltered(metric, lo, hi, tags, sumReduce)
	}

	chunks, err := e.candidateChunks(metric, lo, hi, nil)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, c := range chunks {
		total += c.Sum(lo, hi)
	}
	e.metrics.queriesServed.Add(1)
	return total, nil
}

func (e *Engine) Avg(metric string, lo, hi int64, tags map[string]string) (float64, error) {
	if len(tags) > 0 {
		return e.aggregateFiltered(metric, lo, hi, tags, avgReduce)
	}

	chunks, err := e.candidateChunks(metric, lo, hi, nil)
	if err != nil {
		return 0, err
	}
	var total float64
	var count int
	for _, c := range chunks {
		l, r := c.QueryTimeRange(lo, hi)
		if r <= l {
			continue
		}
		total += c.Sum(lo, hi)
		count += r - l
	}
	e.metrics.queriesServed.Add(1)
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

func (e *Engine) Min(metric string, lo, hi int64, tags map[string]string) (float64, error) {
	if len(tags) > 0 {
		return e.aggregateFiltered(metric, lo, hi, tags, minReduce)
	}

	chunks, err := e.candidateChunks(metric, lo, hi, nil)
	if err != nil {
		return 0, err
	}
	var m float64
	found := false
	for _, c := range chunks {
		l, r := c.QueryTimeRange(lo, hi)
		if r <= l {
			continue
		}
		v := c.Min(lo, hi)
		if !found || v < m {
			m = v
			found = true
		}
	}
	e.metrics.queriesServed.Add(1)
	return m, nil
}

func (e *Engine) Max(metric string, lo, hi int64, tags map[string]string) (float64, error) {
	if len(tags) > 0 {
		return e.aggregateFiltered(metric, lo, hi, tags, maxReduce)
	}

	chunks, err := e.candidateChunks(metric, lo, hi, nil)
	if err != nil {
		return 0, err
	}
	var m float64
	found := false
	for _, c := range chunks {
		l, r := c.QueryTimeRange(lo, hi)
		if r <= l {
			continue
		}
		v := c.Max(lo, hi)
		if !found || v > m {
			m = v
			found = true
		}
	}
	e.metrics.queriesServed.Add(1)
	return m, nil
}

func sumReduce(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}

func avgReduce(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return sumReduce(vs) / float64(len(vs))
}

func minReduce(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxReduce(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// aggregateFiltered collects the tag-filtered sample set and reduces
// it with reduce; used whenever tags narrows the candidate set below
// whole-chunk granularity, since chunk.Chunk's fast-path methods only
// operate on contiguous time ranges.
func (e *Engine) aggregateFiltered(metric string, lo, hi int64, tags map[string]string, reduce func([]float64) float64) (float64, error) {
	samples, err := e.collectSamples(metric, lo, hi, tags)
	if err != nil {
		return 0, err
	}
	vs := make([]float64, len(samples))
	for i, s := range samples {
		vs[i] = s.Value
	}
	e.metrics.queriesServed.Add(1)
	return reduce(vs), nil
}

// GetMetrics returns, sorted, every metric name the engine knows of
// (written or loaded from metadata), whether its data is sealed or
// still in the active chunk. Metrics removed by DeleteMetric are not
// listed.
func (e *Engine) GetMetrics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.metricsSet))
	for m := range e.metricsSet {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// DeleteMetric removes every trace of metric: its active chunk, every
// sealed chunk file, its adaptive index entries and its metadata
// record.
func (e *Engine) DeleteMetric(metric string) error {
	ctx := context.Background()
	m := metric
	if err := e.hooks.Trigger(ctx, hooks.NewPreDeleteMetricEvent(hooks.PreDeleteMetricPayload{Metric: &m})); err != nil {
		return fmt.Errorf("engine: delete rejected by pre-delete hook: %w", err)
	}

	err := e.store.DeleteChunks(metric)

	e.mu.Lock()
	delete(e.metricsSet, metric)
	delete(e.active, metric)
	delete(e.sealedCount, metric)
	metrics, counts := e.snapshotMetadataLocked()
	e.mu.Unlock()

	e.index.RemoveMetric(metric)

	if err == nil {
		err = writeMetadata(e.dir, metrics, counts)
	}

	e.hooks.Trigger(ctx, hooks.NewPostDeleteMetricEvent(hooks.PostDeleteMetricPayload{Metric: metric, Error: err}))
	return err
}
