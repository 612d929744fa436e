package utils

import "math"

type Filter []byte

// 根据bitsPerKey计算hash函数的个数k
// k = bitsPerKey * ln2，并收敛到[1,30]
func bloomK(bitsPerKey int) uint32 {
	k := uint32(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// 将keys(hash值)插入到BloomFilter中
// 输出为 ceil(m/8) 个bit位 + 1个记录k的结尾byte
func NewBloomFilter(keys []uint32, bitsPerKey int) Filter {
	if bitsPerKey < 0 {
		bitsPerKey = 0
	}
	k := bloomK(bitsPerKey)

	size := uint32(len(keys) * bitsPerKey)
	if size < 64 {
		size = 64
	}
	nBytes := (size + 7) / 8
	nBits := nBytes * 8
	filter := make([]byte, nBytes+1)
	for _, hash := range keys {
		// 二次hash通过将hash循环右移17位实现
		delta := hash>>17 | hash<<15
		for j := uint32(0); j < k; j++ {
			offset := hash % nBits
			// byteOffset表示在filter的哪个index
			byteOffset := offset / 8
			// bitOffset表示在filter的index中的第几位
			bitOffset := offset % 8
			filter[byteOffset] |= 1 << bitOffset
			hash += delta
		}
	}
	filter[nBytes] = uint8(k)
	return filter
}

// 判断是否有可能存在于Bloom Filter
// 返回false则key一定没有被插入过
func (f Filter) MayContain(hash uint32) bool {
	if len(f) < 2 {
		return false
	}
	// hash函数的个数
	k := f[len(f)-1]
	if k > 30 {
		// 保留给未来的编码，当作命中处理
		return true
	}
	bits := uint32(8 * (len(f) - 1))
	delta := hash>>17 | hash<<15
	for j := uint8(0); j < k; j++ {
		offset := hash % bits
		byteOffset := offset / 8
		bitOffset := offset % 8
		if f[byteOffset]&(1<<bitOffset) == 0 {
			return false
		}
		hash += delta
	}
	return true
}

// 判断是否可能存在于Bloom Filter
func (f Filter) MayContainKey(key []byte) bool {
	return f.MayContain(Hash(key))
}
