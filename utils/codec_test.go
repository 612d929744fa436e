package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUvarintBoundaries varint在编码边界上的往返
func TestUvarintBoundaries(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 1 << 32, 1<<63 - 1}
	for _, v := range cases {
		buf := AppendUvarint(nil, v)
		require.Equal(t, UvarintLen(v), len(buf))
		got, n, err := GetUvarint(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}

func TestUvarintTruncated(t *testing.T) {
	buf := AppendUvarint(nil, 16384)
	_, _, err := GetUvarint(buf[:1])
	require.ErrorIs(t, err, ErrCorruption)

	_, _, err = GetUvarint(nil)
	require.ErrorIs(t, err, ErrCorruption)
}

func TestLenPrefixedBytes(t *testing.T) {
	buf := AppendUvarint(nil, 5)
	buf = append(buf, []byte("hello")...)
	got, n, err := GetLenPrefixedBytes(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, []byte("hello"), got)

	// 长度超出剩余数据
	_, _, err = GetLenPrefixedBytes(buf[:3])
	require.ErrorIs(t, err, ErrCorruption)
}

// TestChecksumWithType trailer的crc覆盖的是payload加类型byte
func TestChecksumWithType(t *testing.T) {
	payload := []byte("some block payload")
	crc := ChecksumWithType(payload, CompressionNone)
	require.Equal(t, CalculateChecksum(append(append([]byte{}, payload...), CompressionNone)), crc)
	require.NotEqual(t, crc, ChecksumWithType(payload, CompressionSnappy))
}

func TestFixedIntRoundTrip(t *testing.T) {
	require.Equal(t, uint32(0xdeadbeef), Bytes2Uint32(Uint32ToBytes(0xdeadbeef)))
	require.Equal(t, uint64(0x0123456789abcdef), Bytes2Uint64(Uint64ToBytes(0x0123456789abcdef)))
}
