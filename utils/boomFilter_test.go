package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func bloomKeys(n int) [][]byte {
	keys := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, []byte(fmt.Sprintf("k%07d", i)))
	}
	return keys
}

// TestBloomNoFalseNegative 插入过的key必须全部命中
func TestBloomNoFalseNegative(t *testing.T) {
	keys := bloomKeys(10000)
	hashes := make([]uint32, 0, len(keys))
	for _, k := range keys {
		hashes = append(hashes, Hash(k))
	}
	f := NewBloomFilter(hashes, 10)
	for _, k := range keys {
		require.True(t, f.MayContainKey(k), "key %s", k)
	}
}

// TestBloomFalsePositiveRate 12bit每key时观测到的假阳率不超过5%
func TestBloomFalsePositiveRate(t *testing.T) {
	const n = 200000
	hashes := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		hashes = append(hashes, Hash([]byte(fmt.Sprintf("k%07d", i))))
	}
	f := NewBloomFilter(hashes, 12)

	hits := 0
	for i := 0; i < n; i++ {
		if f.MayContainKey([]byte(fmt.Sprintf("x%07d", i))) {
			hits++
		}
	}
	rate := float64(hits) / float64(n)
	require.LessOrEqual(t, rate, 0.05, "false positive rate %f", rate)
}

func TestBloomTiny(t *testing.T) {
	f := NewBloomFilter([]uint32{Hash([]byte("k1"))}, 10)
	require.True(t, f.MayContainKey([]byte("k1")))

	// 空filter对一切都说不
	var empty Filter
	require.False(t, empty.MayContainKey([]byte("k1")))
}
