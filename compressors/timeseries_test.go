package compressors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTimestampsRoundTrip(t *testing.T) {
	cases := map[string][]int64{
		"empty":     nil,
		"single":    {1700000000000},
		"regular":   {100, 200, 300, 400, 500},
		"irregular": {100, 103, 250, 251, 9000},
		"negative deltas": {
			1700000000000, 1700000000500, 1700000000100, 1700000000900,
		},
		"width escalates to 2 bytes": {0, math.MaxInt8 + 1, 10},
		"width escalates to 4 bytes": {0, math.MaxInt16 + 1, 10},
		"width escalates to 8 bytes": {0, math.MaxInt32 + 1, 10},
	}

	for name, ts := range cases {
		t.Run(name, func(t *testing.T) {
			encoded := EncodeTimestamps(ts)
			decoded, err := DecodeTimestamps(encoded, len(ts))
			require.NoError(t, err)
			require.Equal(t, ts, decoded)
		})
	}
}

func TestDecodeTimestampsTruncated(t *testing.T) {
	ts := []int64{100, 200, 300}
	encoded := EncodeTimestamps(ts)

	_, err := DecodeTimestamps(encoded[:5], len(ts))
	require.Error(t, err)
}

func TestDecodeTimestampsZeroCount(t *testing.T) {
	decoded, err := DecodeTimestamps(nil, 0)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestPlanValueCodec(t *testing.T) {
	constant := make([]float64, 100)
	require.Equal(t, KindRLE, PlanValueCodec(constant))

	distinct := make([]float64, 100)
	for i := range distinct {
		distinct[i] = float64(i)
	}
	require.Equal(t, KindNone, PlanValueCodec(distinct))

	require.Equal(t, KindNone, PlanValueCodec(nil))
}

func TestEncodeDecodeValuesRLERoundTrip(t *testing.T) {
	values := []float64{1, 1, 1, 2, 2, 3, 3, 3, 3}
	encoded, err := EncodeValuesRLE(values)
	require.NoError(t, err)

	decoded, err := DecodeValuesRLE(encoded, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestEncodeDecodeValuesRLELongRunSplits(t *testing.T) {
	n := math.MaxUint16 + 10
	values := make([]float64, n)
	for i := range values {
		values[i] = 42
	}

	encoded, err := EncodeValuesRLE(values)
	require.NoError(t, err)
	require.Greater(t, len(encoded), 10, "a run longer than MaxUint16 must split across multiple pairs")

	decoded, err := DecodeValuesRLE(encoded, n)
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDecodeValuesRLETruncated(t *testing.T) {
	values := []float64{1, 1, 2}
	encoded, err := EncodeValuesRLE(values)
	require.NoError(t, err)

	_, err = DecodeValuesRLE(encoded[:len(encoded)-1], len(values))
	require.Error(t, err)
}

func TestDecodeValuesRLECountMismatch(t *testing.T) {
	values := []float64{1, 1, 2}
	encoded, err := EncodeValuesRLE(values)
	require.NoError(t, err)

	_, err = DecodeValuesRLE(encoded, len(values)+1)
	require.Error(t, err)
}

func TestEncodeDecodeValuesRawRoundTrip(t *testing.T) {
	values := []float64{0, -1.5, 3.25, math.Pi, -math.MaxFloat64}
	encoded := EncodeValuesRaw(values)

	decoded, err := DecodeValuesRaw(encoded, len(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDecodeValuesRawTruncated(t *testing.T) {
	values := []float64{1, 2, 3}
	encoded := EncodeValuesRaw(values)

	_, err := DecodeValuesRaw(encoded[:len(encoded)-1], len(values))
	require.Error(t, err)
}

func TestBitPackUnpackIntegersRoundTrip(t *testing.T) {
	cases := [][]uint64{
		{0, 0, 0},
		{1, 2, 3, 4, 5, 6, 7},
		{0, 255, 128, 64},
		{1 << 40, 1, 1 << 40},
	}

	for _, values := range cases {
		packed, width := BitPackIntegers(values)
		unpacked := BitUnpackIntegers(packed, width, len(values))
		require.Equal(t, values, unpacked)
	}
}

func TestBitPackIntegersAllZero(t *testing.T) {
	packed, width := BitPackIntegers([]uint64{0, 0, 0})
	require.NotZero(t, width)
	unpacked := BitUnpackIntegers(packed, width, 3)
	require.Equal(t, []uint64{0, 0, 0}, unpacked)
}

func TestBitPackIntegersEmpty(t *testing.T) {
	packed, width := BitPackIntegers(nil)
	require.Nil(t, packed)
	require.Zero(t, width)
}
