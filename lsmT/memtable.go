package lsmt

import (
	"plfsio/utils"
	"sort"
)

// entryRef memtable里一条记录在arena上的位置，下标顺序就是插入顺序
type entryRef struct {
	keyOff int
	keyLen int
	valOff int
	valLen int
}

// writeBuffer 无序的追加buffer，key/value都拷贝进arena
// 只写不读，排序推迟到compaction开始时做一次
type writeBuffer struct {
	arena   *utils.Arena
	entries []entryRef
	fixedKV bool
	// 预算口径的编码字节数
	bytes  int
	sorted bool
}

func newWriteBuffer(capHint int, fixedKV bool) *writeBuffer {
	if capHint < 1 {
		capHint = 1
	}
	return &writeBuffer{
		arena:   utils.NewArena(capHint),
		fixedKV: fixedKV,
	}
}

// 一条记录在预算口径下的编码大小
func encodedPairSize(k, v []byte, fixedKV bool) int {
	if fixedKV {
		return len(k) + len(v)
	}
	return utils.UvarintLen(uint64(len(k))) + utils.UvarintLen(uint64(len(v))) + len(k) + len(v)
}

// Add 追加一条记录
func (b *writeBuffer) Add(k, v []byte) {
	keyOff := b.arena.Put(k)
	valOff := b.arena.Put(v)
	b.entries = append(b.entries, entryRef{
		keyOff: keyOff,
		keyLen: len(k),
		valOff: valOff,
		valLen: len(v),
	})
	b.bytes += encodedPairSize(k, v, b.fixedKV)
}

// HasRoom 判断再装一条(k, v)是否还在预算内
// 空buffer总是有空间，所以memtable最多超出预算一条记录
func (b *writeBuffer) HasRoom(k, v []byte, budget int) bool {
	if len(b.entries) == 0 {
		return true
	}
	return b.bytes+encodedPairSize(k, v, b.fixedKV) <= budget
}

func (b *writeBuffer) NumEntries() int {
	return len(b.entries)
}

func (b *writeBuffer) IsEmpty() bool {
	return len(b.entries) == 0
}

// CurrentSize 预算口径下的当前大小
func (b *writeBuffer) CurrentSize() int {
	return b.bytes
}

func (b *writeBuffer) key(i int) []byte {
	e := b.entries[i]
	return b.arena.Get(e.keyOff, e.keyLen)
}

func (b *writeBuffer) value(i int) []byte {
	e := b.entries[i]
	return b.arena.Get(e.valOff, e.valLen)
}

// FinishAndSort 按key字节序稳定排序
// 相同key保持插入顺序，读取时多值模式按写入序拼接，唯一键模式取最后一条
func (b *writeBuffer) FinishAndSort() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return utils.CompareKeys(b.key(i), b.key(j)) < 0
	})
	b.sorted = true
}

// Reset 清空buffer，arena保留给下一轮
func (b *writeBuffer) Reset() {
	b.arena.Reset()
	b.entries = b.entries[:0]
	b.bytes = 0
	b.sorted = false
}

// bufIterator 按当前entry顺序遍历writeBuffer
type bufIterator struct {
	buf *writeBuffer
	pos int
}

// NewIterator 创建迭代器，FinishAndSort之后是有序的
func (b *writeBuffer) NewIterator() *bufIterator {
	return &bufIterator{buf: b, pos: 0}
}

func (it *bufIterator) SeekToFirst() {
	it.pos = 0
}

func (it *bufIterator) SeekToLast() {
	it.pos = len(it.buf.entries) - 1
}

func (it *bufIterator) Next() {
	it.pos++
}

func (it *bufIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.buf.entries)
}

func (it *bufIterator) Key() []byte {
	return it.buf.key(it.pos)
}

func (it *bufIterator) Value() []byte {
	return it.buf.value(it.pos)
}
