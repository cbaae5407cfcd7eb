package engine

import (
	"expvar"
	"fmt"
	"sync/atomic"
)

var instanceSeq atomic.Int64

// engineMetrics holds the expvar counters for one Engine instance.
// Each instance gets a unique numeric suffix so opening more than one
// engine in the same process (as tests routinely do) never collides
// with expvar's "publish panics on reuse" rule.
type engineMetrics struct {
	id string

	walBytesWritten   *expvar.Int
	walEntriesWritten *expvar.Int
	chunksSealed      *expvar.Int
	queriesServed      *expvar.Int
	writesServed      *expvar.Int
}

func newEngineMetrics() *engineMetrics {
	id := fmt.Sprintf("%d", instanceSeq.Add(1))
	m := &engineMetrics{
		id:                id,
		walBytesWritten:   new(expvar.Int),
		walEntriesWritten: new(expvar.Int),
		chunksSealed:      new(expvar.Int),
		queriesServed:     new(expvar.Int),
		writesServed:      new(expvar.Int),
	}
	publishExpvarFunc("waffledb_"+id+"_wal_bytes_written", func() interface{} { return m.walBytesWritten.Value() })
	publishExpvarFunc("waffledb_"+id+"_wal_entries_written", func() interface{} { return m.walEntriesWritten.Value() })
	publishExpvarFunc("waffledb_"+id+"_chunks_sealed", func() interface{} { return m.chunksSealed.Value() })
	publishExpvarFunc("waffledb_"+id+"_queries_served", func() interface{} { return m.queriesServed.Value() })
	publishExpvarFunc("waffledb_"+id+"_writes_served", func() interface{} { return m.writesServed.Value() })
	return m
}

// publishExpvarFunc publishes a derived expvar metric, skipping
// registration if the name is already taken since expvar.Publish
// panics on reuse.
func publishExpvarFunc(name string, f func() interface{}) {
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}
