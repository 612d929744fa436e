package plfsio

import (
	"plfsio/file"
	lsmt "plfsio/lsmT"
	"plfsio/utils"

	"github.com/pkg/errors"
)

// CompressionType block的压缩方式
type CompressionType int

const (
	NoCompression CompressionType = iota
	SnappyCompression
)

// FilterType 每个sorted run附带的过滤器
type FilterType int

const (
	BloomFilter FilterType = iota
	CuckooFilter
)

// DirOptions plfsio目录总的配置
type DirOptions struct {
	Rank    int // 写入进程的编号，决定旁路日志落在哪个partition
	LgParts int // partition个数的log2

	TotalMemtableBudget int // 所有partition合计的memtable预算

	BlockSize       int
	BlockBatchSize  int // data log按batch写入的粒度
	BlockPadding    bool
	RestartInterval int

	Compression      CompressionType
	ForceCompression bool
	IndexCompression bool

	Filter       FilterType
	BFBitsPerKey int // 为0时完全关闭过滤器
	CuckooFrac   float64

	// true时读取只取最新epoch的值，同一个epoch内的重复key取最后写入的一条
	// (写入侧不去重，重复key全部落盘)
	UniqueKeys bool

	KeySize   int
	ValueSize int
	// true时按固定长度编码，entry不带varint前缀
	FixedKV bool

	VerifyChecksums bool
	ParanoidChecks  bool

	DataBuffer     int
	MinDataBuffer  int
	IndexBuffer    int
	MinIndexBuffer int
	SideIoBufSize  int

	// 文件环境，不注入时落到本地文件系统
	Env file.Env
	// compaction线程池，不注入时Open自建一个2^lg_parts大小的
	CompactionPool *utils.Pool
}

// NewDefaultDirOptions 返回默认配置
func NewDefaultDirOptions() *DirOptions {
	return &DirOptions{
		LgParts:             0,
		TotalMemtableBudget: 4 << 20,
		BlockSize:           32 << 10,
		BlockBatchSize:      2 << 20,
		RestartInterval:     16,
		Compression:         NoCompression,
		Filter:              BloomFilter,
		BFBitsPerKey:        8,
		CuckooFrac:          0.95,
		UniqueKeys:          true,
		DataBuffer:          4 << 20,
		MinDataBuffer:       1 << 20,
		IndexBuffer:         2 << 20,
		MinIndexBuffer:      1 << 20,
		SideIoBufSize:       4 << 10,
	}
}

// 填补零值并收敛到支持的范围
func (opt *DirOptions) sanitize() error {
	def := NewDefaultDirOptions()
	if opt.TotalMemtableBudget == 0 {
		opt.TotalMemtableBudget = def.TotalMemtableBudget
	}
	if opt.BlockSize == 0 {
		opt.BlockSize = def.BlockSize
	}
	if opt.BlockBatchSize == 0 {
		opt.BlockBatchSize = def.BlockBatchSize
	}
	if opt.RestartInterval < 1 {
		opt.RestartInterval = def.RestartInterval
	}
	if opt.CuckooFrac <= 0 || opt.CuckooFrac > 1 {
		opt.CuckooFrac = def.CuckooFrac
	}
	if opt.DataBuffer == 0 {
		opt.DataBuffer = def.DataBuffer
	}
	if opt.MinDataBuffer == 0 {
		opt.MinDataBuffer = def.MinDataBuffer
	}
	if opt.IndexBuffer == 0 {
		opt.IndexBuffer = def.IndexBuffer
	}
	if opt.MinIndexBuffer == 0 {
		opt.MinIndexBuffer = def.MinIndexBuffer
	}
	if opt.SideIoBufSize == 0 {
		opt.SideIoBufSize = def.SideIoBufSize
	}
	if opt.Env == nil {
		opt.Env = file.DefaultEnv()
	}

	if opt.LgParts < 0 || opt.LgParts > 10 {
		return errors.Wrapf(utils.ErrInvalidArgument, "lg_parts %d", opt.LgParts)
	}
	switch opt.Compression {
	case NoCompression, SnappyCompression:
	default:
		return errors.Wrapf(utils.ErrInvalidArgument, "compression %d", opt.Compression)
	}
	switch opt.Filter {
	case BloomFilter, CuckooFilter:
	default:
		return errors.Wrapf(utils.ErrInvalidArgument, "filter %d", opt.Filter)
	}
	if opt.FixedKV && (opt.KeySize <= 0 || opt.ValueSize < 0) {
		return errors.Wrap(utils.ErrInvalidArgument, "fixed_kv needs key_size and value_size")
	}
	return nil
}

// 换算成写入管线的配置
func (opt *DirOptions) lsmOptions(dir string, pool *utils.Pool, stats *lsmt.Stats) *lsmt.Options {
	compression := utils.CompressionNone
	if opt.Compression == SnappyCompression {
		compression = utils.CompressionSnappy
	}
	filterType := utils.FilterBloom
	if opt.Filter == CuckooFilter {
		filterType = utils.FilterCuckoo
	}
	return &lsmt.Options{
		Dir:              dir,
		Env:              opt.Env,
		Pool:             pool,
		LgParts:          opt.LgParts,
		MemtableBudget:   opt.TotalMemtableBudget >> opt.LgParts,
		BlockSize:        opt.BlockSize,
		BlockBatchSize:   opt.BlockBatchSize,
		BlockPadding:     opt.BlockPadding,
		RestartInterval:  opt.RestartInterval,
		Compression:      compression,
		ForceCompression: opt.ForceCompression,
		IndexCompression: opt.IndexCompression,
		FilterType:       filterType,
		BFBitsPerKey:     opt.BFBitsPerKey,
		CuckooFrac:       opt.CuckooFrac,
		UniqueKeys:       opt.UniqueKeys,
		FixedKV:          opt.FixedKV,
		KeySize:          opt.KeySize,
		ValueSize:        opt.ValueSize,
		VerifyChecksums:  opt.VerifyChecksums,
		ParanoidChecks:   opt.ParanoidChecks,
		DataBufSize:      opt.DataBuffer,
		MinDataBufSize:   opt.MinDataBuffer,
		IndexBufSize:     opt.IndexBuffer,
		MinIndexBufSize:  opt.MinIndexBuffer,
		Stats:            stats,
	}
}

// key到partition的路由
func partitionOf(key []byte, lgParts int) int {
	return int(utils.KeyHash(key) & uint64(1<<lgParts-1))
}

// 旁路日志挂在rank对应的partition下
func sidePartOf(rank, lgParts int) int {
	return rank & (1<<lgParts - 1)
}

// DestroyDir 删除整个目录
func DestroyDir(opt *DirOptions, dir string) error {
	env := opt.Env
	if env == nil {
		env = file.DefaultEnv()
	}
	return env.RemoveAll(dir)
}
