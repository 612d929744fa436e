package lsmt

import (
	"plfsio/utils"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

/*
	block布局：内 ---> 外
	+---------------------------------------------------------------------------+
	| entry0 | entry1 | ... | restart0(u32) ... restartN(u32) | restart个数(u32) |
	+---------------------------------------------------------------------------+
	entry: shared(uvarint) unshared(uvarint) valueLen(uvarint) keyDelta value
	fixedKV模式下entry就是 key(keySize) value(valueSize)，没有varint前缀

	封装后再接5字节trailer：压缩类型(1) + crc32c(payload||type)(4)
*/

// blockBuilder 构建单个block的payload
type blockBuilder struct {
	restartInterval int
	fixedKV         bool

	buf        []byte
	restarts   []uint32
	counter    int // 距离上个restart点的entry数
	lastKey    []byte
	numEntries int
}

func newBlockBuilder(restartInterval int, fixedKV bool) *blockBuilder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &blockBuilder{
		restartInterval: restartInterval,
		fixedKV:         fixedKV,
		restarts:        []uint32{0},
	}
}

func (bb *blockBuilder) Reset() {
	bb.buf = bb.buf[:0]
	bb.restarts = bb.restarts[:0]
	bb.restarts = append(bb.restarts, 0)
	bb.counter = 0
	bb.lastKey = bb.lastKey[:0]
	bb.numEntries = 0
}

func (bb *blockBuilder) Empty() bool {
	return bb.numEntries == 0
}

func (bb *blockBuilder) NumEntries() int {
	return bb.numEntries
}

// CurrentSizeEstimate 当前payload加上restart数组的大致大小
func (bb *blockBuilder) CurrentSizeEstimate() int {
	return len(bb.buf) + 4*len(bb.restarts) + 4
}

// Add 追加一条entry，key必须不小于上一条
func (bb *blockBuilder) Add(k, v []byte) {
	utils.CondPanic(bb.numEntries > 0 && utils.CompareKeys(k, bb.lastKey) < 0,
		errors.New("block entries out of order"))

	if bb.fixedKV {
		if bb.counter >= bb.restartInterval {
			bb.restarts = append(bb.restarts, uint32(len(bb.buf)))
			bb.counter = 0
		}
		bb.buf = append(bb.buf, k...)
		bb.buf = append(bb.buf, v...)
	} else {
		shared := 0
		if bb.counter >= bb.restartInterval {
			// 重置前缀共享，记录restart点
			bb.restarts = append(bb.restarts, uint32(len(bb.buf)))
			bb.counter = 0
		} else {
			// 和上一个key的公共前缀长度
			n := len(k)
			if len(bb.lastKey) < n {
				n = len(bb.lastKey)
			}
			for shared < n && k[shared] == bb.lastKey[shared] {
				shared++
			}
		}
		bb.buf = utils.AppendUvarint(bb.buf, uint64(shared))
		bb.buf = utils.AppendUvarint(bb.buf, uint64(len(k)-shared))
		bb.buf = utils.AppendUvarint(bb.buf, uint64(len(v)))
		bb.buf = append(bb.buf, k[shared:]...)
		bb.buf = append(bb.buf, v...)
	}

	bb.lastKey = append(bb.lastKey[:0], k...)
	bb.counter++
	bb.numEntries++
}

// Finish 封上restart数组，返回未压缩的payload
func (bb *blockBuilder) Finish() []byte {
	for _, r := range bb.restarts {
		bb.buf = append(bb.buf, utils.Uint32ToBytes(r)...)
	}
	bb.buf = append(bb.buf, utils.Uint32ToBytes(uint32(len(bb.restarts)))...)
	return bb.buf
}

// sealBlock 压缩payload并接上trailer，返回最终要落盘的字节
// 压缩后不比原始小就按未压缩写，类型byte置0
func sealBlock(payload []byte, compression byte, force bool) []byte {
	blob := payload
	blockType := utils.CompressionNone
	if compression == utils.CompressionSnappy {
		compressed := snappy.Encode(nil, payload)
		limit := len(payload)
		if !force {
			// 不强制时要求至少省出1/8才值得
			limit = len(payload) - len(payload)/8
		}
		if len(compressed) < limit {
			blob = compressed
			blockType = utils.CompressionSnappy
		}
	}
	out := make([]byte, 0, len(blob)+utils.BlockTrailerSize)
	out = append(out, blob...)
	out = append(out, blockType)
	out = append(out, utils.Uint32ToBytes(utils.ChecksumWithType(blob, blockType))...)
	return out
}

// unsealBlock 校验trailer并解压，raw是含trailer的完整block
func unsealBlock(raw []byte, verify bool) ([]byte, error) {
	if len(raw) < utils.BlockTrailerSize {
		return nil, errors.Wrap(utils.ErrCorruption, "block too small")
	}
	blob := raw[:len(raw)-utils.BlockTrailerSize]
	blockType := raw[len(raw)-utils.BlockTrailerSize]
	if verify {
		want := utils.Bytes2Uint32(raw[len(raw)-4:])
		if got := utils.ChecksumWithType(blob, blockType); got != want {
			return nil, errors.Wrap(utils.ErrCorruption, "block bad check sum")
		}
	}
	switch blockType {
	case utils.CompressionNone:
		return blob, nil
	case utils.CompressionSnappy:
		payload, err := snappy.Decode(nil, blob)
		if err != nil {
			return nil, errors.Wrapf(utils.ErrCorruption, "snappy: %v", err)
		}
		return payload, nil
	default:
		return nil, errors.Wrapf(utils.ErrCorruption, "unknown block type %d", blockType)
	}
}

// blockIterator 在解压后的payload上迭代
type blockIterator struct {
	data     []byte // 不含restart数组
	restarts []uint32
	fixedKV  bool
	keySize  int
	valSize  int

	offset     int // 当前entry的起点
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
	err        error
}

// newBlockIterator 解析payload尾部的restart数组
func newBlockIterator(payload []byte, fixedKV bool, keySize, valSize int) (*blockIterator, error) {
	if len(payload) < 4 {
		return nil, errors.Wrap(utils.ErrCorruption, "block missing restart count")
	}
	numRestarts := int(utils.Bytes2Uint32(payload[len(payload)-4:]))
	tail := 4 + 4*numRestarts
	if numRestarts < 1 || tail > len(payload) {
		return nil, errors.Wrap(utils.ErrCorruption, "block bad restart array")
	}
	dataEnd := len(payload) - tail
	restarts := make([]uint32, numRestarts)
	for i := 0; i < numRestarts; i++ {
		restarts[i] = utils.Bytes2Uint32(payload[dataEnd+4*i:])
		if int(restarts[i]) > dataEnd {
			return nil, errors.Wrap(utils.ErrCorruption, "block restart out of range")
		}
	}
	return &blockIterator{
		data:     payload[:dataEnd],
		restarts: restarts,
		fixedKV:  fixedKV,
		keySize:  keySize,
		valSize:  valSize,
	}, nil
}

func (bi *blockIterator) Valid() bool {
	return bi.valid && bi.err == nil
}

func (bi *blockIterator) Err() error {
	return bi.err
}

func (bi *blockIterator) Key() []byte {
	return bi.key
}

func (bi *blockIterator) Value() []byte {
	return bi.value
}

func (bi *blockIterator) corrupt(msg string) {
	bi.valid = false
	bi.err = errors.Wrap(utils.ErrCorruption, msg)
}

// 从offset处解析一条entry，prefixOK表示此处允许前缀共享
func (bi *blockIterator) parseAt(offset int, prefixOK bool) {
	if offset >= len(bi.data) {
		bi.valid = false
		return
	}
	if bi.fixedKV {
		if offset+bi.keySize+bi.valSize > len(bi.data) {
			bi.corrupt("fixed entry truncated")
			return
		}
		bi.key = append(bi.key[:0], bi.data[offset:offset+bi.keySize]...)
		bi.value = bi.data[offset+bi.keySize : offset+bi.keySize+bi.valSize]
		bi.offset = offset
		bi.nextOffset = offset + bi.keySize + bi.valSize
		bi.valid = true
		return
	}

	p := bi.data[offset:]
	shared, n1, err := utils.GetUvarint(p)
	if err != nil {
		bi.corrupt("entry shared len")
		return
	}
	unshared, n2, err := utils.GetUvarint(p[n1:])
	if err != nil {
		bi.corrupt("entry unshared len")
		return
	}
	vlen, n3, err := utils.GetUvarint(p[n1+n2:])
	if err != nil {
		bi.corrupt("entry value len")
		return
	}
	hdr := n1 + n2 + n3
	rest := uint64(len(p) - hdr)
	if unshared > rest || vlen > rest || unshared+vlen > rest {
		bi.corrupt("entry overflows block")
		return
	}
	if shared > 0 && (!prefixOK || uint64(len(bi.key)) < shared) {
		bi.corrupt("entry bad shared prefix")
		return
	}
	bi.key = append(bi.key[:shared], p[hdr:hdr+int(unshared)]...)
	bi.value = p[hdr+int(unshared) : hdr+int(unshared)+int(vlen)]
	bi.offset = offset
	bi.nextOffset = offset + hdr + int(unshared) + int(vlen)
	bi.valid = true
}

func (bi *blockIterator) SeekToFirst() {
	bi.key = bi.key[:0]
	bi.parseAt(0, false)
}

func (bi *blockIterator) Next() {
	utils.CondPanic(!bi.valid, errors.New("blockIterator.Next on invalid iterator"))
	bi.parseAt(bi.nextOffset, true)
}

// Seek 定位到第一条key >= target的entry
// 先二分restart点，再线性前进
func (bi *blockIterator) Seek(target []byte) {
	// 找最后一个restart点，其key < target
	lo, hi := 0, len(bi.restarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		bi.key = bi.key[:0]
		bi.parseAt(int(bi.restarts[mid]), false)
		if !bi.valid {
			if bi.err == nil {
				bi.corrupt("restart points at empty entry")
			}
			return
		}
		if utils.CompareKeys(bi.key, target) < 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	bi.key = bi.key[:0]
	bi.parseAt(int(bi.restarts[lo]), false)
	for bi.Valid() && utils.CompareKeys(bi.key, target) < 0 {
		bi.Next()
	}
}
