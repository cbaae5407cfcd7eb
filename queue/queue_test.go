package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waffledb/waffledb/core"
)

func TestPushPopFIFO(t *testing.T) {
	q := New()
	q.Push(core.Sample{Metric: "a", Timestamp: 1})
	q.Push(core.Sample{Metric: "b", Timestamp: 2})

	s, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", s.Metric)

	s, ok = q.Pop()
	require.True(t, ok)
	require.Equal(t, "b", s.Metric)

	_, ok = q.Pop()
	require.False(t, ok)
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(core.Sample{Metric: "m", Timestamp: int64(p*perProducer + i)})
			}
		}(p)
	}
	wg.Wait()

	var drained []core.Sample
	drained = q.DrainInto(drained)
	require.Len(t, drained, producers*perProducer)
	require.Equal(t, 0, q.Len())
}

func TestDrainIntoAppendsToExistingSlice(t *testing.T) {
	q := New()
	q.Push(core.Sample{Metric: "x"})

	existing := []core.Sample{{Metric: "pre"}}
	got := q.DrainInto(existing)
	require.Len(t, got, 2)
	require.Equal(t, "pre", got[0].Metric)
	require.Equal(t, "x", got[1].Metric)
}
