package lsmt

import (
	"plfsio/file"
	"plfsio/utils"
	"sync"

	"github.com/pkg/errors"
)

// Partition 一条独立的写入管线
// 拥有一对memtable、两个追加日志和一个双缓冲调度器；由key的hash路由进来
type Partition struct {
	mu  sync.Mutex
	db  *doubleBuffering
	opt *Options
	idx int

	dataLog  *file.LogFile
	indexLog *file.LogFile

	// 本epoch内已经落盘的meta trailer位置，SealEpoch时打包进epoch stone
	pendingMetas []file.EpochHandle
	epoch        uint32
}

// NewPartition 创建partition并截断它的两个日志文件
func NewPartition(opt *Options, idx int) (*Partition, error) {
	df, err := opt.Env.CreateAppendFile(file.DataFileName(opt.Dir, idx))
	if err != nil {
		return nil, err
	}
	xf, err := opt.Env.CreateAppendFile(file.IndexFileName(opt.Dir, idx))
	if err != nil {
		df.Close()
		return nil, err
	}
	p := &Partition{
		opt:      opt,
		idx:      idx,
		dataLog:  file.NewLogFile(df, opt.DataBufSize, opt.MinDataBufSize),
		indexLog: file.NewLogFile(xf, opt.IndexBufSize, opt.MinIndexBufSize),
	}
	arenaHint := opt.MemtableBudget + 1024
	active := newWriteBuffer(arenaHint, opt.FixedKV)
	spare := newWriteBuffer(arenaHint, opt.FixedKV)
	p.db = newDoubleBuffering(&p.mu, p, active, spare)
	return p, nil
}

// Add 追加一条记录，两个buffer都被占用时会阻塞
func (p *Partition) Add(k, v []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.add(k, v)
}

// Flush 强制调度一次compaction
func (p *Partition) Flush(wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.flush(wait)
}

// Sync 等在途compaction结束后sync底层文件
func (p *Partition) Sync(doFlush bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.sync(doFlush)
}

// Wait 等到没有在途compaction
func (p *Partition) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.wait()
}

// Finish 冲掉剩余数据并关闭日志文件，幂等
func (p *Partition) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.finish()
}

// SealEpoch 写入epoch stone并翻到下一个epoch
// REQUIRES: 调用方已经Wait过，没有在途compaction
func (p *Partition) SealEpoch(epoch uint32) (file.EpochHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	utils.CondPanic(p.db.numBg != 0, errors.New("SealEpoch with compaction in flight"))
	if p.db.bgStatus != nil && !p.db.finished {
		return file.EpochHandle{}, p.db.bgStatus
	}

	stone := &epochStone{Epoch: epoch, Tables: p.pendingMetas}
	enc := stone.Encode()
	h := file.EpochHandle{
		Off: uint64(p.indexLog.Offset()),
		Len: uint64(len(enc)),
	}
	if err := p.indexLog.Append(enc); err != nil {
		if p.db.bgStatus == nil {
			p.db.bgStatus = err
		}
		return file.EpochHandle{}, err
	}
	p.opt.Stats.AddIndexBytes(uint64(len(enc)))
	p.opt.Stats.AddEpoch()
	p.pendingMetas = nil
	p.epoch = epoch + 1
	return h, nil
}

// 以下是compactionBackend的实现，doubleBuffering通过这些回调驱动partition

func (p *Partition) addToBuffer(buf *writeBuffer, k, v []byte) {
	buf.Add(k, v)
	p.opt.Stats.AddKey(len(k), len(v))
}

func (p *Partition) hasRoom(buf *writeBuffer, k, v []byte) bool {
	return buf.HasRoom(k, v, p.opt.MemtableBudget)
}

func (p *Partition) isEmpty(buf *writeBuffer) bool {
	return buf.IsEmpty()
}

func (p *Partition) scheduleCompaction(buf *writeBuffer) {
	p.opt.Pool.Submit(func() {
		p.mu.Lock()
		p.db.doCompaction(buf)
		p.mu.Unlock()
	})
}

// compact 排序buffer并产出一个sorted run
// 持锁进入，排序和IO期间放锁
func (p *Partition) compact(buf *writeBuffer) error {
	if buf.IsEmpty() {
		return nil
	}
	epoch := p.epoch
	p.mu.Unlock()

	buf.FinishAndSort()
	tb := newTableBuilder(p.opt, p.dataLog, p.indexLog, epoch)
	it := buf.NewIterator()
	var err error
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err = tb.Add(it.Key(), it.Value()); err != nil {
			break
		}
	}
	var h file.EpochHandle
	if err == nil {
		h, err = tb.Finish()
	}

	p.mu.Lock()
	if err == nil {
		p.pendingMetas = append(p.pendingMetas, h)
	}
	return err
}

// syncBackend 对两个日志做sync，closing时一并关闭
// 持锁进入，IO期间放锁；调用时没有在途compaction，日志没有别的使用者
func (p *Partition) syncBackend(closing bool) error {
	p.mu.Unlock()
	err := p.dataLog.Sync()
	if e := p.indexLog.Sync(); err == nil {
		err = e
	}
	if closing {
		if e := p.dataLog.Close(); err == nil {
			err = e
		}
		if e := p.indexLog.Close(); err == nil {
			err = e
		}
	}
	p.mu.Lock()
	return err
}

func (p *Partition) clear(buf *writeBuffer) {
	buf.Reset()
}
