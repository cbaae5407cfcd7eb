// Package store persists sealed chunks to disk and loads them back,
// one file per chunk, with a generic block-compression layer wrapped
// around the chunk's own columnar encoding.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/waffledb/waffledb/cache"
	"github.com/waffledb/waffledb/chunk"
	"github.com/waffledb/waffledb/compressors"
	"github.com/waffledb/waffledb/core"
)

const chunkFileSuffix = ".chunk"

// formatChunkFileName builds the on-disk name for one chunk, grounded
// on the teacher's <index>.seg naming for WAL segments but keyed by
// metric as well since a store holds chunks for every metric.
func formatChunkFileName(metric string, id uint64) string {
	return fmt.Sprintf("%s_%d%s", metric, id, chunkFileSuffix)
}

// parseChunkFileName extracts (metric, id) from a chunk file name.
func parseChunkFileName(name string) (metric string, id uint64, err error) {
	if !strings.HasSuffix(name, chunkFileSuffix) {
		return "", 0, fmt.Errorf("store: %s is not a chunk file", name)
	}
	trimmed := strings.TrimSuffix(name, chunkFileSuffix)
	idx := strings.LastIndex(trimmed, "_")
	if idx < 0 {
		return "", 0, fmt.Errorf("store: %s has no metric/id separator", name)
	}
	id, err = strconv.ParseUint(trimmed[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("store: %s has a non-numeric id: %w", name, err)
	}
	return trimmed[:idx], id, nil
}

// Store persists and retrieves chunks under one data directory.
type Store struct {
	dir         string
	compression core.CompressionType
	cache       cache.Interface
}

// Options configure a Store.
type Options struct {
	Compression     core.CompressionType
	DecodedCacheCap int // 0 disables the decoded-chunk cache
}

// Open prepares a chunk store rooted at dir, which must already exist.
func Open(dir string, opts Options) *Store {
	var c cache.Interface
	if opts.DecodedCacheCap > 0 {
		c = cache.NewLRUCache(opts.DecodedCacheCap, nil, nil, nil)
	}
	return &Store{dir: dir, compression: opts.Compression, cache: c}
}

// SaveChunk writes c to disk at <metric>_<id>.chunk via a temp file
// followed by an atomic rename, so a crash mid-write never leaves a
// corrupt file at the final path.
func (s *Store) SaveChunk(c *chunk.Chunk) error {
	var raw bytes.Buffer
	if err := c.Serialize(&raw); err != nil {
		return fmt.Errorf("store: serialize chunk %s/%d: %w", c.Metric, c.ID, err)
	}

	compressor, err := compressors.ForType(s.compression)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	if err := compressor.CompressTo(&body, raw.Bytes()); err != nil {
		return fmt.Errorf("store: compress chunk %s/%d: %w", c.Metric, c.ID, err)
	}

	header := core.NewFileHeader(core.MagicChunk, s.compression)

	finalPath := filepath.Join(s.dir, formatChunkFileName(c.Metric, c.ID))
	tmp, err := os.CreateTemp(s.dir, "chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file for %s/%d: %w", c.Metric, c.ID, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := binary.Write(tmp, binary.LittleEndian, &header); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write header for %s/%d: %w", c.Metric, c.ID, err)
	}
	if _, err := tmp.Write(body.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write body for %s/%d: %w", c.Metric, c.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s/%d: %w", c.Metric, c.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file for %s/%d: %w", c.Metric, c.ID, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("store: rename into place for %s/%d: %w", c.Metric, c.ID, err)
	}

	if s.cache != nil {
		s.cache.Put(cacheKey(c.Metric, c.ID), c)
	}
	return nil
}

// LoadChunk reads the chunk previously saved for (metric, id). A
// decoded copy is served from the decoded-chunk cache when present.
func (s *Store) LoadChunk(metric string, id uint64) (*chunk.Chunk, error) {
	key := cacheKey(metric, id)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok && v != nil {
			return v.(*chunk.Chunk), nil
		}
	}

	path := filepath.Join(s.dir, formatChunkFileName(metric, id))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s/%d: %w", metric, id, err)
	}
	defer f.Close()

	var header core.FileHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: read header for %s/%d: %v", core.ErrChunkCorrupt, metric, id, err)
	}
	if header.Magic != core.MagicChunk {
		return nil, fmt.Errorf("%w: bad magic for %s/%d", core.ErrChunkCorrupt, metric, id)
	}

	compressor, err := compressors.ForType(header.CompressorType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %v", core.ErrChunkCorrupt, metric, id, err)
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("store: read body for %s/%d: %w", metric, id, err)
	}
	decompressed, err := compressor.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s/%d: %v", core.ErrChunkCorrupt, metric, id, err)
	}
	defer decompressed.Close()

	c, err := chunk.Deserialize(decompressed, metric, id)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s/%d: %v", core.ErrChunkCorrupt, metric, id, err)
	}

	if s.cache != nil {
		s.cache.Put(key, c)
	}
	return c, nil
}

// DeleteChunks removes every persisted chunk file for metric.
func (s *Store) DeleteChunks(metric string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("store: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m, id, err := parseChunkFileName(e.Name())
		if err != nil || m != metric {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("store: remove %s: %w", e.Name(), err)
		}
		if s.cache != nil {
			s.cache.Put(cacheKey(metric, id), nil) // drop any stale cached copy
		}
	}
	return nil
}

// ListChunks returns the ids of every chunk persisted for metric,
// sorted numerically (not lexically) by parsing the <id> suffix.
func (s *Store) ListChunks(metric string) ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read dir: %w", err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m, id, err := parseChunkFileName(e.Name())
		if err != nil || m != metric {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func cacheKey(metric string, id uint64) string {
	return metric + "/" + strconv.FormatUint(id, 10)
}
