package lsmt

import "sync/atomic"

// Stats 写入侧的计数器，compaction线程和前台线程都会更新，全部走atomic
// 指针为nil时所有方法都是no-op，方便测试里不关心统计的场景
type Stats struct {
	NumKeys    uint64 // 追加的记录数
	KeyBytes   uint64
	ValueBytes uint64

	TablesBuilt   uint64 // 产出的sorted run个数
	BlocksWritten uint64
	DataBytes     uint64 // 写进data log的字节数
	IndexBytes    uint64 // 写进index log的字节数
	SideBytes     uint64 // 旁路日志的字节数
	EpochsSealed  uint64
}

func (s *Stats) AddKey(keyLen, valLen int) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.NumKeys, 1)
	atomic.AddUint64(&s.KeyBytes, uint64(keyLen))
	atomic.AddUint64(&s.ValueBytes, uint64(valLen))
}

func (s *Stats) AddBlock() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.BlocksWritten, 1)
}

func (s *Stats) AddTable() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.TablesBuilt, 1)
}

func (s *Stats) AddDataBytes(n uint64) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.DataBytes, n)
}

func (s *Stats) AddIndexBytes(n uint64) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.IndexBytes, n)
}

func (s *Stats) AddSideBytes(n uint64) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.SideBytes, n)
}

func (s *Stats) AddEpoch() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.EpochsSealed, 1)
}

// Snapshot 拷贝一份当前值
func (s *Stats) Snapshot() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		NumKeys:       atomic.LoadUint64(&s.NumKeys),
		KeyBytes:      atomic.LoadUint64(&s.KeyBytes),
		ValueBytes:    atomic.LoadUint64(&s.ValueBytes),
		TablesBuilt:   atomic.LoadUint64(&s.TablesBuilt),
		BlocksWritten: atomic.LoadUint64(&s.BlocksWritten),
		DataBytes:     atomic.LoadUint64(&s.DataBytes),
		IndexBytes:    atomic.LoadUint64(&s.IndexBytes),
		SideBytes:     atomic.LoadUint64(&s.SideBytes),
		EpochsSealed:  atomic.LoadUint64(&s.EpochsSealed),
	}
}
