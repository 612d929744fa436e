package file

import (
	"fmt"
	"os"
	"path/filepath"
	"plfsio/utils"

	"github.com/pkg/errors"
)

// Options
type Options struct {
	FileName string
	Dir      string
	// 写缓冲的容量
	BufSize int
	// 缓冲达到该水位才真正落盘
	MinFlush int
}

// AppendFile 只追加的文件，底层环境的抽象
type AppendFile interface {
	Append(b []byte) error
	Flush() error
	Sync() error
	Close() error
}

// RandomFile 支持随机读的文件
type RandomFile interface {
	Pread(p []byte, off int64) (int, error)
	Size() (int64, error)
	Close() error
}

// Env 文件环境，Open时显式注入，不用全局单例
// 测试可以包一层注入限速文件制造背压
type Env interface {
	CreateAppendFile(name string) (AppendFile, error)
	OpenRandomFile(name string) (RandomFile, error)
	MkdirAll(dir string) error
	RemoveAll(dir string) error
}

type osEnv struct{}

// DefaultEnv 直接落到本地文件系统
func DefaultEnv() Env {
	return osEnv{}
}

type osAppendFile struct {
	fp *os.File
}

func (f *osAppendFile) Append(b []byte) error {
	_, err := f.fp.Write(b)
	if err != nil {
		return errors.Wrapf(utils.ErrIO, "append %s: %v", f.fp.Name(), err)
	}
	return nil
}

func (f *osAppendFile) Flush() error { return nil }

func (f *osAppendFile) Sync() error {
	if err := f.fp.Sync(); err != nil {
		return errors.Wrapf(utils.ErrIO, "sync %s: %v", f.fp.Name(), err)
	}
	return nil
}

func (f *osAppendFile) Close() error {
	if err := f.fp.Close(); err != nil {
		return errors.Wrapf(utils.ErrIO, "close %s: %v", f.fp.Name(), err)
	}
	return nil
}

type osRandomFile struct {
	fp *os.File
}

func (f *osRandomFile) Pread(p []byte, off int64) (int, error) {
	n, err := f.fp.ReadAt(p, off)
	if err != nil && n != len(p) {
		return n, errors.Wrapf(utils.ErrIO, "pread %s: %v", f.fp.Name(), err)
	}
	return n, nil
}

func (f *osRandomFile) Size() (int64, error) {
	st, err := f.fp.Stat()
	if err != nil {
		return 0, errors.Wrapf(utils.ErrIO, "stat %s: %v", f.fp.Name(), err)
	}
	return st.Size(), nil
}

func (f *osRandomFile) Close() error {
	return f.fp.Close()
}

func (osEnv) CreateAppendFile(name string) (AppendFile, error) {
	fp, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, utils.DefaultFileMode)
	if err != nil {
		return nil, errors.Wrapf(utils.ErrIO, "create %s: %v", name, err)
	}
	return &osAppendFile{fp: fp}, nil
}

func (osEnv) OpenRandomFile(name string) (RandomFile, error) {
	fp, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(utils.ErrIO, "open %s: %v", name, err)
	}
	return &osRandomFile{fp: fp}, nil
}

func (osEnv) MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(utils.ErrIO, "mkdir %s: %v", dir, err)
	}
	return nil
}

func (osEnv) RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(utils.ErrIO, "remove %s: %v", dir, err)
	}
	return nil
}

// 目录内的文件布局
func DataFileName(dir string, part int) string {
	return filepath.Join(dir, fmt.Sprintf("partition_%d.data", part))
}

func IndexFileName(dir string, part int) string {
	return filepath.Join(dir, fmt.Sprintf("partition_%d.idx", part))
}

func SideFileName(dir string, part int) string {
	return filepath.Join(dir, fmt.Sprintf("partition_%d.side", part))
}

func ManifestName(dir string) string {
	return filepath.Join(dir, utils.ManifestFilename)
}

// LogFile 带写缓冲的追加日志
// Offset返回的是包含缓冲在内的逻辑偏移，block的索引以它为准
type LogFile struct {
	f        AppendFile
	buf      []byte
	minFlush int
	offset   int64
}

func NewLogFile(f AppendFile, bufSize, minFlush int) *LogFile {
	if bufSize < minFlush {
		bufSize = minFlush
	}
	return &LogFile{
		f:        f,
		buf:      make([]byte, 0, bufSize),
		minFlush: minFlush,
	}
}

// Append 写入缓冲，达到水位后落盘
func (lf *LogFile) Append(b []byte) error {
	lf.offset += int64(len(b))
	if len(b) >= cap(lf.buf) {
		// 单笔超过缓冲容量，直接写穿
		if err := lf.flushBuf(); err != nil {
			return err
		}
		return lf.f.Append(b)
	}
	if len(lf.buf)+len(b) > cap(lf.buf) {
		if err := lf.flushBuf(); err != nil {
			return err
		}
	}
	lf.buf = append(lf.buf, b...)
	if len(lf.buf) >= lf.minFlush {
		return lf.flushBuf()
	}
	return nil
}

func (lf *LogFile) flushBuf() error {
	if len(lf.buf) == 0 {
		return nil
	}
	err := lf.f.Append(lf.buf)
	lf.buf = lf.buf[:0]
	return err
}

// Offset 已追加的逻辑字节数
func (lf *LogFile) Offset() int64 {
	return lf.offset
}

func (lf *LogFile) Flush() error {
	if err := lf.flushBuf(); err != nil {
		return err
	}
	return lf.f.Flush()
}

func (lf *LogFile) Sync() error {
	if err := lf.Flush(); err != nil {
		return err
	}
	return lf.f.Sync()
}

func (lf *LogFile) Close() error {
	if err := lf.Flush(); err != nil {
		lf.f.Close()
		return err
	}
	return lf.f.Close()
}
