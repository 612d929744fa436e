package lsmt

import (
	"fmt"
	"plfsio/utils"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestBlock(t *testing.T, n, restartInterval int) []byte {
	bb := newBlockBuilder(restartInterval, false)
	for i := 0; i < n; i++ {
		bb.Add([]byte(fmt.Sprintf("key%05d", i)), []byte(fmt.Sprintf("val%05d", i)))
	}
	return bb.Finish()
}

// TestBlockIterate 构建后全量遍历
func TestBlockIterate(t *testing.T) {
	payload := buildTestBlock(t, 100, 16)
	bi, err := newBlockIterator(payload, false, 0, 0)
	require.NoError(t, err)

	i := 0
	for bi.SeekToFirst(); bi.Valid(); bi.Next() {
		require.Equal(t, fmt.Sprintf("key%05d", i), string(bi.Key()))
		require.Equal(t, fmt.Sprintf("val%05d", i), string(bi.Value()))
		i++
	}
	require.NoError(t, bi.Err())
	require.Equal(t, 100, i)
}

// TestBlockSeek 精确定位和越界
func TestBlockSeek(t *testing.T) {
	payload := buildTestBlock(t, 100, 7)
	bi, err := newBlockIterator(payload, false, 0, 0)
	require.NoError(t, err)

	for _, i := range []int{0, 1, 6, 7, 50, 98, 99} {
		bi.Seek([]byte(fmt.Sprintf("key%05d", i)))
		require.True(t, bi.Valid(), "seek %d", i)
		require.Equal(t, fmt.Sprintf("key%05d", i), string(bi.Key()))
	}

	// 介于两个key之间，落到下一个
	bi.Seek([]byte("key00010x"))
	require.True(t, bi.Valid())
	require.Equal(t, "key00011", string(bi.Key()))

	// 比所有key都大
	bi.Seek([]byte("zzz"))
	require.False(t, bi.Valid())
	require.NoError(t, bi.Err())
}

// TestBlockSealRoundTrip 压缩、trailer、校验一条龙
func TestBlockSealRoundTrip(t *testing.T) {
	payload := buildTestBlock(t, 200, 16)
	for _, compression := range []byte{utils.CompressionNone, utils.CompressionSnappy} {
		sealed := sealBlock(payload, compression, true)
		got, err := unsealBlock(sealed, true)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

// TestBlockSnappyFallback 压不小的payload按原样存，类型byte是0
func TestBlockSnappyFallback(t *testing.T) {
	payload := []byte{0x01} // 太短，snappy编码只会更长
	sealed := sealBlock(payload, utils.CompressionSnappy, true)
	require.Equal(t, utils.CompressionNone, sealed[len(sealed)-utils.BlockTrailerSize])
}

// TestBlockCorruption 翻转一个byte必须被crc抓住
func TestBlockCorruption(t *testing.T) {
	payload := buildTestBlock(t, 50, 16)
	sealed := sealBlock(payload, utils.CompressionNone, false)
	sealed[3] ^= 0xff
	_, err := unsealBlock(sealed, true)
	require.ErrorIs(t, err, utils.ErrCorruption)

	// 关掉校验时坏数据会被放过去
	_, err = unsealBlock(sealed, false)
	require.NoError(t, err)
}

// TestBlockFixedKV 定长编码的遍历和seek
func TestBlockFixedKV(t *testing.T) {
	bb := newBlockBuilder(8, true)
	for i := 0; i < 64; i++ {
		bb.Add([]byte(fmt.Sprintf("k%07d", i)), []byte(fmt.Sprintf("v%015d", i)))
	}
	payload := bb.Finish()

	bi, err := newBlockIterator(payload, true, 8, 16)
	require.NoError(t, err)
	i := 0
	for bi.SeekToFirst(); bi.Valid(); bi.Next() {
		require.Equal(t, fmt.Sprintf("k%07d", i), string(bi.Key()))
		i++
	}
	require.Equal(t, 64, i)

	bi.Seek([]byte("k0000042"))
	require.True(t, bi.Valid())
	require.Equal(t, "v000000000000042", string(bi.Value()))
}

// TestBlockSingleEntry 单条entry的block
func TestBlockSingleEntry(t *testing.T) {
	bb := newBlockBuilder(16, false)
	bb.Add([]byte("only"), []byte("one"))
	bi, err := newBlockIterator(bb.Finish(), false, 0, 0)
	require.NoError(t, err)
	bi.Seek([]byte("only"))
	require.True(t, bi.Valid())
	require.Equal(t, "one", string(bi.Value()))
	bi.Next()
	require.False(t, bi.Valid())
}
