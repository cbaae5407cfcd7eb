package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteThenReadMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()

	metrics := []string{"cpu", "mem"}
	counts := map[string]int{"cpu": 3, "mem": 0}

	require.NoError(t, writeMetadata(dir, metrics, counts))

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.ElementsMatch(t, metrics, state.metrics)
	assert.Equal(t, 3, state.chunkCounts["cpu"])
	_, memPresent := state.chunkCounts["mem"]
	assert.False(t, memPresent, "zero-count metrics are omitted on write")
}

func TestReadMetadataOnMissingFileReturnsEmptyState(t *testing.T) {
	dir := t.TempDir()

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, state.metrics)
	assert.Empty(t, state.chunkCounts)
}

func TestReadMetadataToleratesMalformedHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), []byte("not-a-header\n"), 0644))

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, state.metrics)
	assert.Empty(t, state.chunkCounts)
}

func TestReadMetadataToleratesTruncatedMetricList(t *testing.T) {
	dir := t.TempDir()
	content := "metrics:3\ncpu\nmem\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), []byte(content), 0644))

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cpu", "mem"}, state.metrics)
	assert.Empty(t, state.chunkCounts)
}

func TestReadMetadataToleratesMissingChunksMarker(t *testing.T) {
	dir := t.TempDir()
	content := "metrics:1\ncpu\nnot-chunks-marker\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), []byte(content), 0644))

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cpu"}, state.metrics)
	assert.Empty(t, state.chunkCounts)
}

func TestReadMetadataSkipsMalformedChunkLines(t *testing.T) {
	dir := t.TempDir()
	content := "metrics:1\ncpu\nchunks:\ncpu:3\nmalformed-no-colon\nmem:not-a-number\ndisk:5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFileName), []byte(content), 0644))

	state, err := readMetadata(dir, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, state.chunkCounts["cpu"])
	assert.Equal(t, 5, state.chunkCounts["disk"])
	_, memPresent := state.chunkCounts["mem"]
	assert.False(t, memPresent)
	assert.Len(t, state.chunkCounts, 2)
}
