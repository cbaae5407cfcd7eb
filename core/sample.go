package core

import (
	"math"
	"sort"
)

// Sample is a single timestamped, tagged numeric observation belonging
// to one metric.
type Sample struct {
	Metric    string
	Tags      map[string]string
	Timestamp int64 // unix nanoseconds
	Value     float64
}

// Fingerprint returns a stable identity for deduplication purposes:
// the metric name, the sorted tag pairs, the timestamp and the value.
// Two samples that would be indistinguishable once written share a
// fingerprint, independent of map iteration order.
func (s Sample) Fingerprint() string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64+len(s.Metric))
	buf = append(buf, s.Metric...)
	buf = append(buf, '\x00')
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, s.Tags[k]...)
		buf = append(buf, '\x00')
	}
	buf = appendInt64(buf, s.Timestamp)
	buf = appendFloat64(buf, s.Value)
	return string(buf)
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	u := uint64(v)
	for i := 0; i < 8; i++ {
		tmp[i] = byte(u >> (8 * i))
	}
	return append(buf, tmp[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	return appendInt64(buf, int64(math.Float64bits(v)))
}
