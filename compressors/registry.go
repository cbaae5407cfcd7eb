package compressors

import (
	"fmt"

	"github.com/waffledb/waffledb/core"
)

// ForType returns the block Compressor instance for the given
// CompressionType, used by the chunk store to decompress files whose
// header records which codec was used to write them.
func ForType(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("compressors: unknown compression type %d", t)
	}
}

// ForName resolves a config.Config.Engine.SSTable.Compression string
// ("none", "snappy", "lz4", "zstd") to a CompressionType.
func ForName(name string) (core.CompressionType, error) {
	switch name {
	case "", "none":
		return core.CompressionNone, nil
	case "snappy":
		return core.CompressionSnappy, nil
	case "lz4":
		return core.CompressionLZ4, nil
	case "zstd":
		return core.CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("compressors: unknown compression name %q", name)
	}
}
