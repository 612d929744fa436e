package lsmt

import (
	"fmt"
	"plfsio/utils"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeBackend 用内存记录代替真实的table builder，驱动doubleBuffering的调度路径
type fakeBackend struct {
	mu *sync.Mutex
	d  *doubleBuffering

	// 每个buffer最多装几条
	capacity int
	// 每次非空compaction按序记下看到的key
	compacted [][]string
	// 下一次compaction返回的错误
	failNext error
	// 非nil时非空compaction要等这个gate放行
	gate chan struct{}

	synced int
	closed bool
}

func (f *fakeBackend) addToBuffer(buf *writeBuffer, k, v []byte) {
	buf.Add(k, v)
}

func (f *fakeBackend) hasRoom(buf *writeBuffer, k, v []byte) bool {
	return buf.NumEntries() < f.capacity
}

func (f *fakeBackend) isEmpty(buf *writeBuffer) bool {
	return buf.IsEmpty()
}

func (f *fakeBackend) scheduleCompaction(buf *writeBuffer) {
	go func() {
		f.mu.Lock()
		f.d.doCompaction(buf)
		f.mu.Unlock()
	}()
}

func (f *fakeBackend) compact(buf *writeBuffer) error {
	empty := buf.IsEmpty()
	f.mu.Unlock()
	if !empty && f.gate != nil {
		<-f.gate
	}
	buf.FinishAndSort()
	var keys []string
	it := buf.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	f.mu.Lock()
	if !empty {
		f.compacted = append(f.compacted, keys)
	}
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeBackend) syncBackend(closing bool) error {
	f.mu.Unlock()
	f.mu.Lock()
	f.synced++
	if closing {
		f.closed = true
	}
	return nil
}

func (f *fakeBackend) clear(buf *writeBuffer) {
	buf.Reset()
}

func newTestDoubleBuf(capacity int) (*fakeBackend, *doubleBuffering) {
	mu := &sync.Mutex{}
	f := &fakeBackend{mu: mu, capacity: capacity}
	d := newDoubleBuffering(mu, f,
		newWriteBuffer(1<<10, false), newWriteBuffer(1<<10, false))
	f.d = d
	return f, d
}

func (f *fakeBackend) add(t *testing.T, keys ...string) {
	for _, k := range keys {
		f.mu.Lock()
		err := f.d.add([]byte(k), []byte("v"))
		f.mu.Unlock()
		require.NoError(t, err)
	}
}

// TestDoubleBufFIFO 多轮swap后compaction按调度顺序完成，数据不丢不乱
func TestDoubleBufFIFO(t *testing.T) {
	f, d := newTestDoubleBuf(2)
	var want []string
	for i := 0; i < 11; i++ {
		k := fmt.Sprintf("k%03d", i)
		want = append(want, k)
		f.add(t, k)
	}
	f.mu.Lock()
	require.NoError(t, d.finish())
	require.Equal(t, d.numScheduled, d.numCompleted)
	require.True(t, f.closed)

	var got []string
	for _, batch := range f.compacted {
		got = append(got, batch...)
	}
	f.mu.Unlock()
	require.Equal(t, want, got)
}

// TestDoubleBufBackpressure 两个buffer都被占用时Add会挂起，
// 等后台完成一个compaction才继续
func TestDoubleBufBackpressure(t *testing.T) {
	f, d := newTestDoubleBuf(2)
	f.gate = make(chan struct{})

	// 填满active，再来一条触发swap并调度(被gate卡住)
	f.add(t, "k1", "k2", "k3")
	// 填满换上来的buffer
	f.add(t, "k4")

	// 两个buffer都满了，这条会挂在cv上
	done := make(chan error, 1)
	go func() {
		f.mu.Lock()
		err := d.add([]byte("k5"), []byte("v"))
		f.mu.Unlock()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("add should block while both buffers are in use")
	case <-time.After(50 * time.Millisecond):
	}

	// 放行后台compaction，挂起的Add被唤醒
	close(f.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("add did not wake up")
	}

	f.mu.Lock()
	require.NoError(t, d.finish())
	// finish之后调度过的compaction全部完成，没有在途的
	require.Equal(t, d.numScheduled, d.numCompleted)
	var got []string
	for _, batch := range f.compacted {
		got = append(got, batch...)
	}
	f.mu.Unlock()
	require.Equal(t, []string{"k1", "k2", "k3", "k4", "k5"}, got)
}

// TestDoubleBufStickyError 后台错误闩住之后，所有前台操作都返回它
func TestDoubleBufStickyError(t *testing.T) {
	f, d := newTestDoubleBuf(2)
	bang := errors.Wrap(utils.ErrIO, "disk on fire")
	f.add(t, "k1", "k2")
	f.mu.Lock()
	f.failNext = bang
	err := d.flush(true)
	require.ErrorIs(t, err, utils.ErrIO)

	// 之后的Add也只会看到同一个错误
	err = d.add([]byte("k3"), []byte("v"))
	require.ErrorIs(t, err, utils.ErrIO)

	// finish把错误原样带出来
	err = d.finish()
	require.ErrorIs(t, err, utils.ErrIO)
	f.mu.Unlock()
}

// TestDoubleBufFinish finish之后bgStatus被钉成AlreadyFinished
func TestDoubleBufFinish(t *testing.T) {
	f, d := newTestDoubleBuf(4)
	f.add(t, "k1")
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(t, d.finish())
	require.True(t, f.closed)

	require.ErrorIs(t, d.add([]byte("k2"), []byte("v")), utils.ErrAlreadyFinished)
	require.ErrorIs(t, d.flush(false), utils.ErrAlreadyFinished)
	require.ErrorIs(t, d.finish(), utils.ErrAlreadyFinished)
}

// TestDoubleBufFlushWait flush(wait)返回时数据已经完成compaction
func TestDoubleBufFlushWait(t *testing.T) {
	f, d := newTestDoubleBuf(8)
	f.add(t, "k2", "k1")
	f.mu.Lock()
	require.NoError(t, d.flush(true))
	require.Equal(t, [][]string{{"k1", "k2"}}, f.compacted)

	// sync等所有在途compaction结束后触达backend
	require.NoError(t, d.sync(false))
	require.Equal(t, 1, f.synced)
	f.mu.Unlock()
}
