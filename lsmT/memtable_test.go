package lsmt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// 和写入端一样按编号生成定长key
func seqKey(seq int) []byte {
	return []byte(fmt.Sprintf("%08d", seq))
}

// TestWriteBufferSort 乱序插入，排序后first/last正确
func TestWriteBufferSort(t *testing.T) {
	buf := newWriteBuffer(1<<20, false)
	rnd := rand.New(rand.NewSource(301))
	vals := make(map[int][]byte)
	for _, seq := range []int{3, 2, 1, 5, 4} {
		v := make([]byte, 32)
		rnd.Read(v)
		vals[seq] = v
		buf.Add(seqKey(seq), v)
	}
	require.Equal(t, 5, buf.NumEntries())

	buf.FinishAndSort()
	it := buf.NewIterator()

	it.SeekToFirst()
	require.True(t, it.Valid())
	require.Equal(t, seqKey(1), it.Key())
	require.Equal(t, vals[1], it.Value())

	it.SeekToLast()
	require.True(t, it.Valid())
	require.Equal(t, seqKey(5), it.Key())
	require.Equal(t, vals[5], it.Value())
}

// TestWriteBufferVariableValues 变长value的排序
func TestWriteBufferVariableValues(t *testing.T) {
	buf := newWriteBuffer(1<<20, false)
	sizes := map[int]int{3: 16, 2: 18, 1: 20, 5: 14, 4: 18}
	for _, seq := range []int{3, 2, 1, 5, 4} {
		v := make([]byte, sizes[seq])
		for i := range v {
			v[i] = byte(seq)
		}
		buf.Add(seqKey(seq), v)
	}
	buf.FinishAndSort()
	it := buf.NewIterator()

	it.SeekToFirst()
	require.Equal(t, 20, len(it.Value()))
	it.SeekToLast()
	require.Equal(t, 14, len(it.Value()))
}

// TestWriteBufferStableDuplicates 相同key保持插入顺序
func TestWriteBufferStableDuplicates(t *testing.T) {
	buf := newWriteBuffer(1<<20, false)
	buf.Add([]byte("k1"), []byte("v1"))
	buf.Add([]byte("k0"), []byte("v0"))
	buf.Add([]byte("k1"), []byte("v2"))
	buf.Add([]byte("k1"), []byte("v3"))
	buf.FinishAndSort()

	it := buf.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Value()))
	}
	require.Equal(t, []string{"v0", "v1", "v2", "v3"}, got)
}

// TestWriteBufferBudget 空buffer永远有空间，之后严格按预算判断
func TestWriteBufferBudget(t *testing.T) {
	buf := newWriteBuffer(64, false)
	budget := 64
	huge := make([]byte, 1024)
	require.True(t, buf.HasRoom([]byte("k"), huge, budget))
	buf.Add([]byte("k"), huge)
	require.False(t, buf.HasRoom([]byte("k"), []byte("v"), budget))

	buf.Reset()
	require.True(t, buf.IsEmpty())
	require.True(t, buf.HasRoom([]byte("k"), huge, budget))
}

// TestWriteBufferFixedKV 定长模式的预算口径没有varint开销
func TestWriteBufferFixedKV(t *testing.T) {
	buf := newWriteBuffer(1<<10, true)
	buf.Add([]byte("0123456789"), make([]byte, 30))
	require.Equal(t, 40, buf.CurrentSize())
}
