package chunk

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/waffledb/waffledb/compressors"
)

// Sanity bounds enforced on deserialization (spec §4.3).
const (
	maxTagCountPerRow = 100
	maxKeyValueLen    = 256
)

// Serialize writes the chunk's columnar representation: a fixed header
// {min_ts, max_ts, count: u64}, then the delta-encoded timestamp
// column, then the value column (RLE or raw, whichever
// compressors.PlanValueCodec selects), then per-row tag maps. Both
// column blocks are length-prefixed since their encoded size varies
// with the data. All integers and floats are little-endian.
func (c *Chunk) Serialize(w io.Writer) error {
	n := len(c.timestamps)
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(c.minTS))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(c.maxTS))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(n))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	tsBlock := compressors.EncodeTimestamps(c.timestamps)
	if err := writeBlock(w, tsBlock); err != nil {
		return err
	}

	valueKind := compressors.PlanValueCodec(c.values)
	var valBlock []byte
	var err error
	if valueKind == compressors.KindRLE {
		valBlock, err = compressors.EncodeValuesRLE(c.values)
	} else {
		valBlock = compressors.EncodeValuesRaw(c.values)
	}
	if err != nil {
		return fmt.Errorf("chunk: encode values: %w", err)
	}
	if _, err := w.Write([]byte{byte(valueKind)}); err != nil {
		return err
	}
	if err := writeBlock(w, valBlock); err != nil {
		return err
	}

	for _, tags := range c.tags {
		var cntBuf [4]byte
		binary.LittleEndian.PutUint32(cntBuf[:], uint32(len(tags)))
		if _, err := w.Write(cntBuf[:]); err != nil {
			return err
		}
		for k, v := range tags {
			if err := writeLenPrefixed(w, k); err != nil {
				return err
			}
			if err := writeLenPrefixed(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeLenPrefixed(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// writeBlock writes a u32 byte-length prefix followed by data.
func writeBlock(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readBlock reverses writeBlock.
func readBlock(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Deserialize reads a chunk previously written by Serialize. Sanity
// bound violations (count > Capacity, tag_count/key/value too long)
// report an error rather than panicking; the caller treats this as
// "no chunk" per the chunk-store failure semantics.
func Deserialize(r io.Reader, metric string, id uint64) (*Chunk, error) {
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("chunk: read header: %w", err)
	}
	minTS := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	maxTS := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	count := binary.LittleEndian.Uint64(hdr[16:24])
	if count > uint64(Capacity) {
		return nil, fmt.Errorf("chunk: count %d exceeds capacity", count)
	}

	c := New(metric, id)
	c.minTS, c.maxTS = minTS, maxTS

	tsBlock, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("chunk: read timestamp block: %w", err)
	}
	c.timestamps, err = compressors.DecodeTimestamps(tsBlock, int(count))
	if err != nil {
		return nil, fmt.Errorf("chunk: decode timestamps: %w", err)
	}

	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return nil, fmt.Errorf("chunk: read value codec kind: %w", err)
	}
	valBlock, err := readBlock(r)
	if err != nil {
		return nil, fmt.Errorf("chunk: read value block: %w", err)
	}
	switch compressors.Kind(kindBuf[0]) {
	case compressors.KindRLE:
		c.values, err = compressors.DecodeValuesRLE(valBlock, int(count))
	case compressors.KindNone:
		c.values, err = compressors.DecodeValuesRaw(valBlock, int(count))
	default:
		return nil, fmt.Errorf("chunk: unknown value codec kind %d", kindBuf[0])
	}
	if err != nil {
		return nil, fmt.Errorf("chunk: decode values: %w", err)
	}

	c.tags = make([]map[string]string, count)
	for i := uint64(0); i < count; i++ {
		var cntBuf [4]byte
		if _, err := io.ReadFull(r, cntBuf[:]); err != nil {
			return nil, fmt.Errorf("chunk: read tag_count row %d: %w", i, err)
		}
		tagCount := binary.LittleEndian.Uint32(cntBuf[:])
		if tagCount > maxTagCountPerRow {
			return nil, fmt.Errorf("chunk: tag_count %d exceeds limit at row %d", tagCount, i)
		}
		tags := make(map[string]string, tagCount)
		for j := uint32(0); j < tagCount; j++ {
			k, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("chunk: read tag key row %d: %w", i, err)
			}
			v, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("chunk: read tag value row %d: %w", i, err)
			}
			tags[k] = v
		}
		c.tags[i] = tags
	}
	return c, nil
}

func readLenPrefixed(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxKeyValueLen {
		return "", fmt.Errorf("length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
