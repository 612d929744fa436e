package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCuckooNoFalseNegative 插入过的key经过编码再解码后必须全部命中
func TestCuckooNoFalseNegative(t *testing.T) {
	b := NewCuckooBuilder(16, 0, 0.95)
	const n = 50000
	for i := 0; i < n; i++ {
		b.AddKey(KeyHash([]byte(fmt.Sprintf("k%07d", i))))
	}
	r, err := NewCuckooReader(b.Finish())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.True(t, r.MayContainKey([]byte(fmt.Sprintf("k%07d", i))), "key %d", i)
	}
}

// TestCuckooFalsePositiveRate 16bit指纹下假阳率应该很低
func TestCuckooFalsePositiveRate(t *testing.T) {
	b := NewCuckooBuilder(16, 0, 0.95)
	const n = 50000
	for i := 0; i < n; i++ {
		b.AddKey(KeyHash([]byte(fmt.Sprintf("k%07d", i))))
	}
	r, err := NewCuckooReader(b.Finish())
	require.NoError(t, err)

	hits := 0
	for i := 0; i < n; i++ {
		if r.MayContainKey([]byte(fmt.Sprintf("x%07d", i))) {
			hits++
		}
	}
	rate := float64(hits) / float64(n)
	require.LessOrEqual(t, rate, 0.02, "false positive rate %f", rate)
}

// TestCuckooOverflowChain 同一个key插入超过8次必然装不进两个bucket，
// 多出来的会被推进overflow链
func TestCuckooOverflowChain(t *testing.T) {
	b := NewCuckooBuilder(16, 8, 0.95)
	h := KeyHash([]byte("hot"))
	const dups = 12
	for i := 0; i < dups; i++ {
		b.Add(h, uint64(i))
	}
	data := b.Finish()
	overflow := Bytes2Uint32(data[7:])
	require.Greater(t, overflow, uint32(0), "expect an overflow table")

	r, err := NewCuckooReader(data)
	require.NoError(t, err)
	require.True(t, r.MayContain(h))

	// 多值查找要沿着整条链收集
	vals := r.Values(h)
	require.GreaterOrEqual(t, len(vals), dups)
	seen := make(map[uint64]bool)
	for _, v := range vals {
		seen[v] = true
	}
	for i := 0; i < dups; i++ {
		require.True(t, seen[uint64(i)], "value %d lost", i)
	}
}

// TestCuckooValues 不同key各自带value
func TestCuckooValues(t *testing.T) {
	b := NewCuckooBuilder(16, 12, 0.95)
	const n = 1000
	for i := 0; i < n; i++ {
		b.Add(KeyHash([]byte(fmt.Sprintf("k%04d", i))), uint64(i))
	}
	r, err := NewCuckooReader(b.Finish())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		vals := r.Values(KeyHash([]byte(fmt.Sprintf("k%04d", i))))
		require.Contains(t, vals, uint64(i))
	}
}

func TestCuckooEmpty(t *testing.T) {
	b := NewCuckooBuilder(16, 0, 0.95)
	r, err := NewCuckooReader(b.Finish())
	require.NoError(t, err)
	require.False(t, r.MayContainKey([]byte("anything")))
}

func TestCuckooBadHeader(t *testing.T) {
	_, err := NewCuckooReader([]byte{FilterCuckoo, 16})
	require.ErrorIs(t, err, ErrCorruption)

	b := NewCuckooBuilder(16, 0, 0.95)
	b.AddKey(KeyHash([]byte("k1")))
	data := b.Finish()
	// 截断bucket数据
	_, err = NewCuckooReader(data[:len(data)-1])
	require.ErrorIs(t, err, ErrCorruption)
}
