package utils

import (
	"github.com/cespare/xxhash/v2"
)

const seed = 0xbc9f1d34
const m = 0xc6a4a793

// 计算key的32位hash值，bloomFilter使用
func Hash(key []byte) uint32 {
	hash := uint32(seed) ^ uint32(len(key))*m
	// 每次处理key的前四个byte
	for ; len(key) >= 4; key = key[4:] {
		hash += uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
		hash *= m
		hash ^= hash >> 16
	}
	// 处理剩下的key
	switch len(key) {
	case 3:
		hash += uint32(key[2]) << 16
		fallthrough
	case 2:
		hash += uint32(key[1]) << 8
		fallthrough
	case 1:
		hash += uint32(key[0])
		hash *= m
		hash ^= hash >> 24
	}
	return hash
}

// 计算key的64位hash值，partition路由和cuckooFilter使用
func KeyHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}
