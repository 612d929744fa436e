package utils

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// 计算crc32c
func CalculateChecksum(data []byte) uint32 {
	return crc32.Checksum(data, CastagnoliCrcTable)
}

// 在payload的crc基础上追加压缩类型byte，得到block trailer里的crc
// trailer覆盖的是 (payload || type)
func ChecksumWithType(payload []byte, compressType byte) uint32 {
	crc := crc32.Checksum(payload, CastagnoliCrcTable)
	return crc32.Update(crc, CastagnoliCrcTable, []byte{compressType})
}

// 将uint32转化为byte数组，小端
func Uint32ToBytes(u32 uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], u32)
	return buf[:]
}

// 将uint64转化为byte数组，小端
func Uint64ToBytes(u64 uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u64)
	return buf[:]
}

// 将byte数组转化为uint32，小端
func Bytes2Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// 将byte数组转化为uint64，小端
func Bytes2Uint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// 向buf追加一个uvarint
func AppendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// varint编码后的长度
func UvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

// 从buf头部解析一个uvarint，返回值和消耗的byte数
// 解析失败(截断/超长)返回ErrCorruption
func GetUvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, errors.Wrap(ErrCorruption, "bad uvarint")
	}
	return v, n, nil
}

// 从buf头部解析一个带uvarint长度前缀的byte串
func GetLenPrefixedBytes(buf []byte) ([]byte, int, error) {
	sz, n, err := GetUvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(buf)-n) < sz {
		return nil, 0, errors.Wrap(ErrCorruption, "length prefix overflows buffer")
	}
	return buf[n : n+int(sz)], n + int(sz), nil
}
