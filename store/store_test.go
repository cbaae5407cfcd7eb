package store

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/waffledb/waffledb/chunk"
	"github.com/waffledb/waffledb/core"
)

func makeChunk(metric string, id uint64, n int) *chunk.Chunk {
	c := chunk.New(metric, id)
	for i := 0; i < n; i++ {
		c.Append(int64(i), float64(i), map[string]string{"host": "a"})
	}
	return c
}

func TestSaveAndLoadChunkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{Compression: core.CompressionSnappy})

	c := makeChunk("cpu", 1, 20)
	require.NoError(t, s.SaveChunk(c))

	got, err := s.LoadChunk("cpu", 1)
	require.NoError(t, err)
	require.Equal(t, c.Timestamps(), got.Timestamps())
	require.Equal(t, c.Values(), got.Values())
}

func TestDeleteChunksInvalidatesDecodedCache(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{Compression: core.CompressionNone, DecodedCacheCap: 10})

	c := makeChunk("cpu", 1, 5)
	require.NoError(t, s.SaveChunk(c))

	_, err := s.LoadChunk("cpu", 1)
	require.NoError(t, err)

	require.NoError(t, s.DeleteChunks("cpu"))

	_, err = s.LoadChunk("cpu", 1)
	require.Error(t, err)
}

func TestListChunksSortsNumerically(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{Compression: core.CompressionNone})

	for _, id := range []uint64{2, 10, 1} {
		require.NoError(t, s.SaveChunk(makeChunk("cpu", id, 3)))
	}

	ids, err := s.ListChunks("cpu")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 10}, ids)
}

func TestDeleteChunksRemovesAllFilesForMetric(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{Compression: core.CompressionNone})

	require.NoError(t, s.SaveChunk(makeChunk("cpu", 1, 3)))
	require.NoError(t, s.SaveChunk(makeChunk("mem", 1, 3)))

	require.NoError(t, s.DeleteChunks("cpu"))

	cpuIDs, err := s.ListChunks("cpu")
	require.NoError(t, err)
	require.Empty(t, cpuIDs)

	memIDs, err := s.ListChunks("mem")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, memIDs)
}

func TestLoadChunkMissingFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{Compression: core.CompressionNone})

	_, err := s.LoadChunk("cpu", 999)
	require.Error(t, err)
}
