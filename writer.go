package plfsio

import (
	"plfsio/file"
	lsmt "plfsio/lsmT"
	"plfsio/utils"
	"sync"

	"github.com/pkg/errors"
)

// DirWriter 一个以写入模式打开的plfsio目录
// 单写者：Append/EpochFlush/Flush/Sync/Finish都只能由打开它的那个线程调用
type DirWriter struct {
	mu   sync.Mutex
	opt  *DirOptions
	lopt *lsmt.Options

	parts []*lsmt.Partition
	side  *file.SideLog
	pool  *utils.Pool
	// pool是Open自建的才在Finish时关掉
	ownPool bool
	stats   *lsmt.Stats

	epoch uint32
	// 自上一个epoch stone之后是否有过Append
	dirty bool
	// epochs[e][p] 是partition p在epoch e的stone位置，Finish时写进MANIFEST
	epochs [][]file.EpochHandle

	finished     bool
	finishStatus error
}

// OpenWriter 以写入模式打开目录，目录里已有的文件会被截断
func OpenWriter(opt *DirOptions, dir string) (*DirWriter, error) {
	o := *opt
	if err := o.sanitize(); err != nil {
		return nil, err
	}
	if err := o.Env.MkdirAll(dir); err != nil {
		return nil, err
	}

	pool := o.CompactionPool
	ownPool := false
	if pool == nil {
		pool = utils.NewPool(1<<o.LgParts, 1<<o.LgParts)
		ownPool = true
	}

	stats := &lsmt.Stats{}
	w := &DirWriter{
		opt:     &o,
		lopt:    o.lsmOptions(dir, pool, stats),
		pool:    pool,
		ownPool: ownPool,
		stats:   stats,
	}
	for i := 0; i < 1<<o.LgParts; i++ {
		p, err := lsmt.NewPartition(w.lopt, i)
		if err != nil {
			w.closePartial()
			return nil, err
		}
		w.parts = append(w.parts, p)
	}

	sf, err := o.Env.CreateAppendFile(file.SideFileName(dir, sidePartOf(o.Rank, o.LgParts)))
	if err != nil {
		w.closePartial()
		return nil, err
	}
	w.side = file.NewSideLog(sf, o.SideIoBufSize)
	return w, nil
}

// Open失败时的收尾
func (w *DirWriter) closePartial() {
	for _, p := range w.parts {
		p.Finish()
	}
	if w.ownPool {
		w.pool.Close()
	}
}

// Append 追加一条记录，epoch必须单调不减
// epoch大于当前值时先把中间的epoch逐个flush掉
func (w *DirWriter) Append(key, value []byte, epoch uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.WithStack(utils.ErrAlreadyFinished)
	}
	if len(key) == 0 || len(key) > utils.MaxKeySize {
		return errors.Wrapf(utils.ErrInvalidArgument, "key size %d", len(key))
	}
	if w.opt.FixedKV && (len(key) != w.opt.KeySize || len(value) != w.opt.ValueSize) {
		return errors.Wrap(utils.ErrInvalidArgument, "fixed_kv size mismatch")
	}
	if epoch < w.epoch {
		return errors.Wrapf(utils.ErrInvalidArgument, "epoch moved backwards: %d < %d", epoch, w.epoch)
	}
	for epoch > w.epoch {
		if err := w.epochFlushLocked(w.epoch); err != nil {
			return err
		}
	}

	p := w.parts[partitionOf(key, w.opt.LgParts)]
	if err := p.Add(key, value); err != nil {
		return err
	}
	w.dirty = true
	return nil
}

// EpochFlush 关闭epoch：所有partition各flush一轮，等完成后写epoch stone
func (w *DirWriter) EpochFlush(epoch uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.WithStack(utils.ErrAlreadyFinished)
	}
	if epoch != w.epoch {
		return errors.Wrapf(utils.ErrInvalidArgument, "epoch %d, current %d", epoch, w.epoch)
	}
	return w.epochFlushLocked(epoch)
}

func (w *DirWriter) epochFlushLocked(epoch uint32) error {
	// 先全部调度出去，让各partition的compaction并行跑
	for _, p := range w.parts {
		if err := p.Flush(false); err != nil {
			return err
		}
	}
	for _, p := range w.parts {
		if err := p.Wait(); err != nil {
			return err
		}
	}
	row := make([]file.EpochHandle, len(w.parts))
	for i, p := range w.parts {
		h, err := p.SealEpoch(epoch)
		if err != nil {
			return err
		}
		row[i] = h
	}
	w.epochs = append(w.epochs, row)
	w.epoch = epoch + 1
	w.dirty = false
	return nil
}

// Flush 调度所有partition的compaction并等它们完成，不保证落盘
func (w *DirWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.WithStack(utils.ErrAlreadyFinished)
	}
	for _, p := range w.parts {
		if err := p.Flush(false); err != nil {
			return err
		}
	}
	var err error
	for _, p := range w.parts {
		if e := p.Wait(); err == nil {
			err = e
		}
	}
	return err
}

// Sync 把所有partition和旁路日志都刷到存储
func (w *DirWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.WithStack(utils.ErrAlreadyFinished)
	}
	var err error
	for _, p := range w.parts {
		if e := p.Sync(true); err == nil {
			err = e
		}
	}
	if e := w.side.Sync(); err == nil {
		err = e
	}
	return err
}

// IoAppend 向旁路日志追加一段不透明字节流
func (w *DirWriter) IoAppend(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return 0, errors.WithStack(utils.ErrAlreadyFinished)
	}
	n, err := w.side.IoAppend(b)
	if err == nil {
		w.stats.AddSideBytes(uint64(n))
	}
	return n, err
}

// IoFlush 把旁路日志的缓冲刷下去
func (w *DirWriter) IoFlush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return errors.WithStack(utils.ErrAlreadyFinished)
	}
	return w.side.Flush()
}

// Finish 收尾：封掉最后一个epoch，关闭所有partition，写MANIFEST并fsync
// 幂等，重复调用返回第一次的结果；成功后所有写操作都返回AlreadyFinished
func (w *DirWriter) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return w.finishStatus
	}

	var err error
	if w.dirty {
		err = w.epochFlushLocked(w.epoch)
	}
	for _, p := range w.parts {
		if e := p.Finish(); err == nil {
			err = e
		}
	}
	if e := w.side.Sync(); err == nil {
		err = e
	}
	if e := w.side.Close(); err == nil {
		err = e
	}
	if w.ownPool {
		w.pool.Close()
	}

	if err == nil {
		m := &file.Manifest{
			LgParts:    uint32(w.opt.LgParts),
			UniqueKeys: w.opt.UniqueKeys,
			FixedKV:    w.opt.FixedKV,
			KeySize:    uint32(w.opt.KeySize),
			ValueSize:  uint32(w.opt.ValueSize),
			Epochs:     w.epochs,
		}
		err = file.WriteManifest(w.opt.Env, file.ManifestName(w.lopt.Dir), m)
	}

	w.finished = true
	w.finishStatus = err
	return err
}

// Info 写入侧计数器的快照
func (w *DirWriter) Info() lsmt.Stats {
	return w.stats.Snapshot()
}
