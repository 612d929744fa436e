package lsmt

import (
	"plfsio/file"
	"plfsio/utils"
)

// Options 写入管线的配置，由上层的DirOptions换算而来
type Options struct {
	Dir  string
	Env  file.Env
	Pool *utils.Pool

	LgParts int
	// 单个partition的memtable预算
	MemtableBudget int

	BlockSize       int
	BlockBatchSize  int
	BlockPadding    bool
	RestartInterval int

	Compression      byte
	ForceCompression bool
	IndexCompression bool

	FilterType   byte
	BFBitsPerKey int
	CuckooFrac   float64

	UniqueKeys bool
	FixedKV    bool
	KeySize    int
	ValueSize  int

	VerifyChecksums bool
	ParanoidChecks  bool

	DataBufSize     int
	MinDataBufSize  int
	IndexBufSize    int
	MinIndexBufSize int

	Stats *Stats
}

// NumParts partition个数
func (opt *Options) NumParts() int {
	return 1 << opt.LgParts
}
