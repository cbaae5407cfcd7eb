// Package index tracks which chunks exist for which metrics, pruning
// candidates by time range and tag presence before the query engine
// has to open and scan a single chunk.
package index

import (
	"expvar"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/skiplist"
)

// rebuildEvery is the default optimization-hook period: every this
// many find_chunks calls, the secondary skiplist is rebuilt from the
// primary entries.
const rebuildEvery = 1000

// Entry describes one registered chunk's routing metadata.
type Entry struct {
	ID          uint64
	Metric      string
	MinTS       int64
	MaxTS       int64
	TagPresence map[string]map[string]struct{}
}

func (e *Entry) satisfiesTags(tags map[string]string) bool {
	for k, v := range tags {
		values, ok := e.TagPresence[k]
		if !ok {
			return false
		}
		if _, ok := values[v]; !ok {
			return false
		}
	}
	return true
}

func (e *Entry) overlaps(lo, hi int64) bool {
	return e.MinTS <= hi && e.MaxTS >= lo
}

// skipKey orders secondary entries by (metric, min_ts), the key the
// optimization hook in spec §4.6 re-sorts by.
type skipKey struct {
	metric string
	minTS  int64
}

func skipComparator(a, b skipKey) int {
	if c := strings.Compare(a.metric, b.metric); c != 0 {
		return c
	}
	switch {
	case a.minTS < b.minTS:
		return -1
	case a.minTS > b.minTS:
		return 1
	default:
		return 0
	}
}

// AdaptiveIndex registers chunk metadata and answers pruning queries.
// Correctness always comes from the primary slice: the secondary
// skiplist is a binary-search accelerator rebuilt every rebuildEvery
// calls to FindChunks, never a source of truth.
type AdaptiveIndex struct {
	mu       sync.RWMutex
	entries  []*Entry
	bySeries *skiplist.SkipList[skipKey, []*Entry]

	queryCount   *expvar.Int
	sinceRebuild int
	rebuildEvery int
	fingerprints sync.Map // fingerprint string -> *expvar.Int
	built        bool
}

// New constructs an empty index. Q overrides the rebuild period; 0
// selects the spec-suggested default of 1000.
func New(q int) *AdaptiveIndex {
	if q <= 0 {
		q = rebuildEvery
	}
	return &AdaptiveIndex{
		bySeries:     skiplist.NewWithComparator[skipKey, []*Entry](skipComparator),
		queryCount:   new(expvar.Int),
		rebuildEvery: q,
	}
}

// AddChunk registers a newly sealed chunk.
func (idx *AdaptiveIndex) AddChunk(id uint64, metric string, minTS, maxTS int64, tagPresence map[string]map[string]struct{}) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, &Entry{
		ID:          id,
		Metric:      metric,
		MinTS:       minTS,
		MaxTS:       maxTS,
		TagPresence: tagPresence,
	})
	idx.built = false // the skiplist does not cover the new entry until the next rebuild
}

// RemoveMetric drops every entry for metric, used by delete_metric.
func (idx *AdaptiveIndex) RemoveMetric(metric string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	kept := idx.entries[:0]
	for _, e := range idx.entries {
		if e.Metric != metric {
			kept = append(kept, e)
		}
	}
	idx.entries = kept
	idx.bySeries = skiplist.NewWithComparator[skipKey, []*Entry](skipComparator)
	idx.built = false
}

// FindChunks returns the ordered ids of every chunk registered for
// metric whose time range overlaps [lo, hi] and whose tag_presence is
// a superset of tags. Increments query_count and the per-fingerprint
// hit counter.
func (idx *AdaptiveIndex) FindChunks(metric string, lo, hi int64, tags map[string]string) []uint64 {
	idx.mu.Lock()
	idx.queryCount.Add(1)
	idx.sinceRebuild++
	rebuild := idx.sinceRebuild >= idx.rebuildEvery
	if rebuild {
		idx.rebuildSecondaryLocked()
		idx.sinceRebuild = 0
	}
	candidates := idx.candidatesLocked(metric)
	idx.mu.Unlock()

	idx.bumpFingerprint(metric, tags)

	var ids []uint64
	for _, e := range candidates {
		if !e.overlaps(lo, hi) {
			continue
		}
		if !e.satisfiesTags(tags) {
			continue
		}
		ids = append(ids, e.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// candidatesLocked returns every entry for metric, using the skiplist
// to skip straight to that metric's run when it has been built since the
// last AddChunk or RemoveMetric, or falling back to a full linear scan of
// the primary slice otherwise.
// Callers must hold idx.mu (read or write).
func (idx *AdaptiveIndex) candidatesLocked(metric string) []*Entry {
	if !idx.built {
		var out []*Entry
		for _, e := range idx.entries {
			if e.Metric == metric {
				out = append(out, e)
			}
		}
		return out
	}

	var out []*Entry
	iter := idx.bySeries.NewIterator()
	if !iter.Seek(skipKey{metric: metric, minTS: minInt64}) {
		return nil
	}
	for {
		key := iter.Key()
		if key.metric != metric {
			break
		}
		out = append(out, iter.Value()...)
		if !iter.Next() {
			break
		}
	}
	return out
}

const minInt64 = -1 << 63

// rebuildSecondaryLocked reconstructs the skiplist from the primary
// entries. Callers must hold idx.mu.
func (idx *AdaptiveIndex) rebuildSecondaryLocked() {
	fresh := skiplist.NewWithComparator[skipKey, []*Entry](skipComparator)
	grouped := make(map[skipKey][]*Entry)
	for _, e := range idx.entries {
		key := skipKey{metric: e.Metric, minTS: e.MinTS}
		grouped[key] = append(grouped[key], e)
	}
	for k, v := range grouped {
		fresh.Insert(k, v)
	}
	idx.bySeries = fresh
	idx.built = true
}

// bumpFingerprint increments the hit counter for the query's
// fingerprint metric || ":" || sum of "k=v" tag pairs, per spec §4.6.
func (idx *AdaptiveIndex) bumpFingerprint(metric string, tags map[string]string) {
	fp := fingerprint(metric, tags)
	counter, ok := idx.fingerprints.Load(fp)
	if !ok {
		counter, _ = idx.fingerprints.LoadOrStore(fp, new(expvar.Int))
	}
	counter.(*expvar.Int).Add(1)
}

func fingerprint(metric string, tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(metric)
	b.WriteByte(':')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

// QueryCount exposes the running query_count for tests and diagnostics.
func (idx *AdaptiveIndex) QueryCount() int64 {
	return idx.queryCount.Value()
}

// FingerprintHits exposes the hit counter for one fingerprint, 0 if never queried.
func (idx *AdaptiveIndex) FingerprintHits(metric string, tags map[string]string) int64 {
	v, ok := idx.fingerprints.Load(fingerprint(metric, tags))
	if !ok {
		return 0
	}
	return v.(*expvar.Int).Value()
}
