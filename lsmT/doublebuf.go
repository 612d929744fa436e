package lsmt

import (
	"plfsio/utils"
	"sync"

	"github.com/pkg/errors"
)

// compactionBackend 是partition侧要实现的能力契约
// doubleBuffering只负责调度，buffer里的数据长什么样、compaction怎么落盘都由backend决定
type compactionBackend interface {
	// 向buf追加一条记录，调用时持有分区锁
	addToBuffer(buf *writeBuffer, k, v []byte)
	// buf是否还装得下(k, v)
	hasRoom(buf *writeBuffer, k, v []byte) bool
	isEmpty(buf *writeBuffer) bool
	// 执行一次compaction，持锁进入，IO期间内部放锁
	compact(buf *writeBuffer) error
	// 将buf的compaction提交到线程池
	scheduleCompaction(buf *writeBuffer)
	// 对底层文件做sync，closing为true时同时关闭文件，持锁进入，IO期间内部放锁
	syncBackend(closing bool) error
	// 清空buf以便复用
	clear(buf *writeBuffer)
}

// doubleBuffering 单partition的双缓冲调度器
// 所有方法都要求调用方已持有mu；同一partition同一时刻至多一个在途compaction
type doubleBuffering struct {
	mu      *sync.Mutex
	cv      *sync.Cond
	backend compactionBackend

	// scheduled - completed 就是在途的compaction数，只会是0或1
	numScheduled uint32
	numCompleted uint32
	numBg        uint32
	finished     bool
	// 后台错误会被闩在这里，之后的所有操作都返回它
	bgStatus error

	// 正在接收写入的buffer
	membuf *writeBuffer
	// 可以换上来的空闲buffer
	bufs []*writeBuffer
}

func newDoubleBuffering(mu *sync.Mutex, backend compactionBackend, active *writeBuffer, spare *writeBuffer) *doubleBuffering {
	return &doubleBuffering{
		mu:      mu,
		cv:      sync.NewCond(mu),
		backend: backend,
		membuf:  active,
		bufs:    []*writeBuffer{spare},
	}
}

// add 追加一条记录
// REQUIRES: 持有mu；Finish未被调用过
func (d *doubleBuffering) add(k, v []byte) error {
	if d.finished {
		return d.bgStatus
	}
	_, err := d.prepare(false, k, v)
	if err == nil {
		utils.CondPanic(d.membuf == nil, errors.New("doublebuf: no active buffer"))
		d.backend.addToBuffer(d.membuf, k, v)
	}
	return err
}

// flush 强制调度一次compaction，wait为true时等它完成
// REQUIRES: 持有mu
func (d *doubleBuffering) flush(wait bool) error {
	if d.finished {
		return d.bgStatus
	}
	seq, err := d.prepare(true, nil, nil)
	if err == nil && wait {
		d.waitFor(seq)
		return d.bgStatus
	}
	return err
}

// sync 等所有在途compaction结束后对底层文件做sync
// 默认只sync已经调度的数据，doFlush为true时把当前buffer也刷下去
// REQUIRES: 持有mu
func (d *doubleBuffering) sync(doFlush bool) error {
	var seq uint32
	var err error
	if d.finished {
		err = d.bgStatus
	} else {
		seq, err = d.prepare(doFlush, nil, nil)
	}
	if err != nil {
		return err
	}
	d.waitFor(seq)
	d.waitForCompactions()
	if d.bgStatus == nil {
		d.bgStatus = d.backend.syncBackend(false)
	}
	return d.bgStatus
}

// wait 阻塞到没有在途compaction
// REQUIRES: 持有mu
func (d *doubleBuffering) wait() error {
	d.waitForCompactions()
	return d.bgStatus
}

// finish 把buffer里剩余的数据全部调度、等待、sync并关闭
// 幂等；成功后bgStatus被钉成AlreadyFinished
// REQUIRES: 持有mu
func (d *doubleBuffering) finish() error {
	if d.finished {
		return d.bgStatus
	}
	d.flush(false)
	d.waitForCompactions()
	var finishStatus error
	if d.bgStatus == nil {
		d.bgStatus = d.backend.syncBackend(true)
		finishStatus = d.bgStatus
		if finishStatus == nil {
			d.bgStatus = errors.WithStack(utils.ErrAlreadyFinished)
		} else {
			d.bgStatus = errors.Wrapf(utils.ErrAlreadyFinished, "finish failed: %v", finishStatus)
		}
	} else {
		finishStatus = d.bgStatus
	}
	d.finished = true
	return finishStatus
}

// prepare 调度内核：
// 没有force且active还有空间就直接返回；
// 否则把active换下去compaction，换一个空闲buffer上来；
// 两个buffer都被占用时在cv上等后台完成
// REQUIRES: 持有mu
func (d *doubleBuffering) prepare(force bool, k, v []byte) (uint32, error) {
	var seq uint32
	for {
		utils.CondPanic(d.membuf == nil, errors.New("doublebuf: no active buffer"))
		if d.bgStatus != nil {
			return seq, d.bgStatus
		}
		if !force && d.backend.hasRoom(d.membuf, k, v) {
			return seq, nil
		}
		if len(d.bufs) == 0 {
			// buffer用尽，等一个compaction完成
			d.cv.Wait()
		} else {
			// 换buffer之后就有一个空位了
			force = false
			d.tryScheduleCompaction(&seq, d.membuf)
			d.membuf = d.bufs[len(d.bufs)-1]
			d.bufs = d.bufs[:len(d.bufs)-1]
		}
	}
}

// REQUIRES: 持有mu
func (d *doubleBuffering) tryScheduleCompaction(seq *uint32, immbuf *writeBuffer) {
	d.numScheduled++
	*seq = d.numScheduled
	d.numBg++
	if d.backend.isEmpty(immbuf) {
		// 空buffer的compaction很快，直接在当前线程内联执行，省一次上下文切换
		d.doCompaction(immbuf)
	} else {
		d.backend.scheduleCompaction(immbuf)
	}
}

// doCompaction 执行并收尾一次compaction，线程池的任务体也会进到这里
// REQUIRES: 持有mu
func (d *doubleBuffering) doCompaction(immbuf *writeBuffer) {
	err := d.backend.compact(immbuf)
	d.numCompleted++
	if d.bgStatus == nil {
		d.bgStatus = err
	}
	d.backend.clear(immbuf)
	d.bufs = append(d.bufs, immbuf)
	utils.CondPanic(d.numBg == 0, errors.New("doublebuf: bg counter underflow"))
	d.numBg--
	// 刚空出一个buffer，顺手看看active是不是也满了，满了就接着调度下一轮
	d.prepare(false, nil, nil)
	d.cv.Broadcast()
}

// waitFor 等到序号seq的compaction完成；seq为0时立刻返回
// REQUIRES: 持有mu
func (d *doubleBuffering) waitFor(seq uint32) {
	for d.numCompleted < seq {
		d.cv.Wait()
	}
}

// REQUIRES: 持有mu
func (d *doubleBuffering) waitForCompactions() {
	for d.numBg > 0 {
		d.cv.Wait()
	}
}
