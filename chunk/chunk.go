// Package chunk implements the columnar, fixed-capacity storage unit
// that samples land in once drained from the ingest queue.
package chunk

import (
	"math"
	"sort"
)

// Capacity is the maximum number of samples a single chunk holds
// before it must be sealed. Production deployments use the default
// of 1000; tests may lower it via config to exercise sealing without
// writing thousands of samples.
var Capacity = 1000

// Chunk holds parallel timestamp/value/tag columns for one metric,
// sorted non-decreasing by timestamp.
type Chunk struct {
	ID         uint64
	Metric     string
	timestamps []int64
	values     []float64
	tags       []map[string]string
	minTS      int64
	maxTS      int64
}

// New returns an empty chunk for the given metric.
func New(metric string, id uint64) *Chunk {
	return &Chunk{
		Metric:     metric,
		ID:         id,
		timestamps: make([]int64, 0, Capacity),
		values:     make([]float64, 0, Capacity),
		tags:       make([]map[string]string, 0, Capacity),
	}
}

// CanAppend reports whether the chunk has room for one more sample.
func (c *Chunk) CanAppend() bool {
	return len(c.timestamps) < Capacity
}

// Count returns the number of samples currently held.
func (c *Chunk) Count() int {
	return len(c.timestamps)
}

func (c *Chunk) MinTS() int64 { return c.minTS }
func (c *Chunk) MaxTS() int64 { return c.maxTS }

// Append adds one sample. Samples normally arrive in non-decreasing
// timestamp order; an out-of-order arrival is handled by a bounded
// insertion-sort step so the column invariant (non-decreasing
// timestamps) always holds.
func (c *Chunk) Append(ts int64, v float64, tags map[string]string) {
	n := len(c.timestamps)
	if n == 0 || ts >= c.timestamps[n-1] {
		c.timestamps = append(c.timestamps, ts)
		c.values = append(c.values, v)
		c.tags = append(c.tags, tags)
	} else {
		pos := sort.Search(n, func(i int) bool { return c.timestamps[i] > ts })
		c.timestamps = append(c.timestamps, 0)
		c.values = append(c.values, 0)
		c.tags = append(c.tags, nil)
		copy(c.timestamps[pos+1:], c.timestamps[pos:n])
		copy(c.values[pos+1:], c.values[pos:n])
		copy(c.tags[pos+1:], c.tags[pos:n])
		c.timestamps[pos] = ts
		c.values[pos] = v
		c.tags[pos] = tags
	}

	if n == 0 {
		c.minTS, c.maxTS = ts, ts
	} else {
		if ts < c.minTS {
			c.minTS = ts
		}
		if ts > c.maxTS {
			c.maxTS = ts
		}
	}
}

// Timestamps, Values and Tags return borrowed views of the columns;
// callers must not mutate the returned slices.
func (c *Chunk) Timestamps() []int64          { return c.timestamps }
func (c *Chunk) Values() []float64            { return c.values }
func (c *Chunk) Tags() []map[string]string    { return c.tags }

// QueryTimeRange returns the contiguous half-open index range [l, r)
// of samples whose timestamp falls within [lo, hi], via binary search
// on both endpoints (timestamps are non-decreasing).
func (c *Chunk) QueryTimeRange(lo, hi int64) (int, int) {
	n := len(c.timestamps)
	l := sort.Search(n, func(i int) bool { return c.timestamps[i] >= lo })
	r := sort.Search(n, func(i int) bool { return c.timestamps[i] > hi })
	if r < l {
		r = l
	}
	return l, r
}

// QueryWithTags returns the ascending index set of samples whose tag
// map is a superset of queryTags.
func (c *Chunk) QueryWithTags(queryTags map[string]string) []int {
	if len(queryTags) == 0 {
		out := make([]int, len(c.timestamps))
		for i := range out {
			out[i] = i
		}
		return out
	}
	var out []int
	for i, tags := range c.tags {
		if supersetOf(tags, queryTags) {
			out = append(out, i)
		}
	}
	return out
}

func supersetOf(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Sum, Avg, Min and Max compute over the contiguous index range that
// QueryTimeRange selects for [lo, hi]. Sum and Avg use a four-wide
// unrolled loop with a scalar tail when the range holds at least four
// samples and a plain scalar loop otherwise; Min and Max always use a
// scalar loop. NaN is treated as neither less nor greater than any
// other value, so it never wins a min/max comparison against a
// non-NaN value; Sum and Avg propagate NaN.
func (c *Chunk) Sum(lo, hi int64) float64 {
	l, r := c.QueryTimeRange(lo, hi)
	if r <= l {
		return 0
	}
	return sumRange(c.values, l, r)
}

func (c *Chunk) Avg(lo, hi int64) float64 {
	l, r := c.QueryTimeRange(lo, hi)
	if r <= l {
		return 0
	}
	return sumRange(c.values, l, r) / float64(r-l)
}

func (c *Chunk) Min(lo, hi int64) float64 {
	l, r := c.QueryTimeRange(lo, hi)
	if r <= l {
		return 0
	}
	m := c.values[l]
	for i := l + 1; i < r; i++ {
		if c.values[i] < m || math.IsNaN(m) {
			m = c.values[i]
		}
	}
	return m
}

func (c *Chunk) Max(lo, hi int64) float64 {
	l, r := c.QueryTimeRange(lo, hi)
	if r <= l {
		return 0
	}
	m := c.values[l]
	for i := l + 1; i < r; i++ {
		if c.values[i] > m || math.IsNaN(m) {
			m = c.values[i]
		}
	}
	return m
}

// sumRange reduces values[l:r] in four-wide blocks when the range is
// long enough to benefit, falling back to a scalar loop otherwise.
func sumRange(values []float64, l, r int) float64 {
	if r-l < 4 {
		var s float64
		for i := l; i < r; i++ {
			s += values[i]
		}
		return s
	}

	var s0, s1, s2, s3 float64
	i := l
	for ; i+4 <= r; i += 4 {
		s0 += values[i]
		s1 += values[i+1]
		s2 += values[i+2]
		s3 += values[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for ; i < r; i++ {
		sum += values[i]
	}
	return sum
}

// TagPresence returns, per tag key, the set of values observed across
// every sample currently in the chunk. Computed fresh from the tag
// column rather than threaded through incrementally, so it is always
// accurate for a chunk about to be sealed.
func (c *Chunk) TagPresence() map[string]map[string]struct{} {
	presence := make(map[string]map[string]struct{})
	for _, tags := range c.tags {
		for k, v := range tags {
			set, ok := presence[k]
			if !ok {
				set = make(map[string]struct{})
				presence[k] = set
			}
			set[v] = struct{}{}
		}
	}
	return presence
}
