package utils

import (
	"hash/crc32"
	"unsafe"
)

// file
const (
	ManifestFilename = "MANIFEST"
	DefaultFileMode  = 0666
	// 单个key的长度上限，超过会返回ErrInvalidArgument
	MaxKeySize = 1 << 16
)

// 压缩类型，block的trailer的第一个byte
const (
	CompressionNone   byte = 0
	CompressionSnappy byte = 1
)

// filter block的第一个byte，标记filter的类型
const (
	FilterNone   byte = 0
	FilterBloom  byte = 1
	FilterCuckoo byte = 2
)

// codec
var (
	// CastagnoliCrcTable is a CRC32 polynomial table
	CastagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)
)

// block的trailer大小：1byte压缩类型 + 4byte crc32c
const BlockTrailerSize = 5

const U32Size = int(unsafe.Sizeof(uint32(0)))
const U64Size = int(unsafe.Sizeof(uint64(0)))
