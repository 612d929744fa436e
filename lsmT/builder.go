package lsmt

import (
	"bytes"
	"plfsio/file"
	"plfsio/utils"

	"github.com/pkg/errors"
)

/*
	一次compaction产出一个sorted run：
	data log:  [block0][block1]...[blockN](padding)
	index log: [filter block][index block][meta trailer]
	index block的entry: key是块间的最短separator，value是(offset, length)的varint对
*/

// tableBuilder 消费一个排好序的memtable，产出一个sorted run
type tableBuilder struct {
	opt      *Options
	dataLog  *file.LogFile
	indexLog *file.LogFile
	epoch    uint32

	dataBlock  *blockBuilder
	indexBlock *blockBuilder
	// 攒满block_batch_size才写入data log
	batch []byte

	lastKey    []byte
	minKey     []byte
	numEntries int

	bloomKeys []uint32
	cuckoo    *utils.CuckooBuilder
}

func newTableBuilder(opt *Options, dataLog, indexLog *file.LogFile, epoch uint32) *tableBuilder {
	tb := &tableBuilder{
		opt:        opt,
		dataLog:    dataLog,
		indexLog:   indexLog,
		epoch:      epoch,
		dataBlock:  newBlockBuilder(opt.RestartInterval, opt.FixedKV),
		indexBlock: newBlockBuilder(1, false),
	}
	if opt.BFBitsPerKey > 0 {
		if opt.FilterType == utils.FilterCuckoo {
			kbits := opt.BFBitsPerKey
			if kbits > 32 {
				kbits = 32
			}
			tb.cuckoo = utils.NewCuckooBuilder(kbits, 0, opt.CuckooFrac)
		}
	}
	return tb
}

// 当前data log的逻辑偏移，包含还在batch里的部分
func (tb *tableBuilder) dataOffset() uint64 {
	return uint64(tb.dataLog.Offset()) + uint64(len(tb.batch))
}

// Add 追加一条记录，key必须按升序进来
func (tb *tableBuilder) Add(k, v []byte) error {
	if tb.opt.ParanoidChecks && tb.numEntries > 0 {
		utils.CondPanic(utils.CompareKeys(k, tb.lastKey) < 0,
			errors.New("tableBuilder keys out of order"))
	}
	// block写满且到了key的边界才切块，相同key的多条记录永远落在同一个block里
	if !tb.dataBlock.Empty() &&
		tb.dataBlock.CurrentSizeEstimate() >= tb.opt.BlockSize &&
		!bytes.Equal(k, tb.lastKey) {
		if err := tb.finishDataBlock(utils.ShortestSeparator(tb.lastKey, k)); err != nil {
			return err
		}
	}

	if tb.numEntries == 0 {
		tb.minKey = append(tb.minKey[:0], k...)
	}
	if tb.opt.BFBitsPerKey > 0 {
		if tb.cuckoo != nil {
			tb.cuckoo.AddKey(utils.KeyHash(k))
		} else {
			tb.bloomKeys = append(tb.bloomKeys, utils.Hash(k))
		}
	}

	tb.dataBlock.Add(k, v)
	tb.lastKey = append(tb.lastKey[:0], k...)
	tb.numEntries++
	return nil
}

// 封装当前data block，在index block里登记它的位置
func (tb *tableBuilder) finishDataBlock(indexKey []byte) error {
	payload := tb.dataBlock.Finish()
	sealed := sealBlock(payload, tb.opt.Compression, tb.opt.ForceCompression)
	if tb.opt.ParanoidChecks {
		if _, err := unsealBlock(sealed, true); err != nil {
			return err
		}
	}
	off := tb.dataOffset()

	var handle []byte
	handle = utils.AppendUvarint(handle, off)
	handle = utils.AppendUvarint(handle, uint64(len(sealed)))
	tb.indexBlock.Add(indexKey, handle)

	tb.batch = append(tb.batch, sealed...)
	tb.dataBlock.Reset()
	tb.opt.Stats.AddBlock()
	if len(tb.batch) >= tb.opt.BlockBatchSize {
		return tb.flushBatch()
	}
	return nil
}

func (tb *tableBuilder) flushBatch() error {
	if len(tb.batch) == 0 {
		return nil
	}
	err := tb.dataLog.Append(tb.batch)
	tb.opt.Stats.AddDataBytes(uint64(len(tb.batch)))
	tb.batch = tb.batch[:0]
	return err
}

// 构建filter block的payload，第一个byte是filter类型
func (tb *tableBuilder) buildFilter() []byte {
	if tb.opt.BFBitsPerKey <= 0 {
		return nil
	}
	if tb.cuckoo != nil {
		// cuckoo的编码自带类型tag
		return tb.cuckoo.Finish()
	}
	payload := []byte{utils.FilterBloom}
	return append(payload, utils.NewBloomFilter(tb.bloomKeys, tb.opt.BFBitsPerKey)...)
}

// Finish 封最后一个block、filter、index和meta trailer
// 返回meta trailer在index log里的位置
func (tb *tableBuilder) Finish() (file.EpochHandle, error) {
	utils.CondPanic(tb.numEntries == 0, errors.New("tableBuilder.Finish on empty table"))
	if !tb.dataBlock.Empty() {
		if err := tb.finishDataBlock(utils.ShortSuccessor(tb.lastKey)); err != nil {
			return file.EpochHandle{}, err
		}
	}
	if err := tb.flushBatch(); err != nil {
		return file.EpochHandle{}, err
	}
	// block_padding把这个run的data对齐到block_size的整数倍
	if tb.opt.BlockPadding && tb.opt.BlockSize > 0 {
		if tail := int(tb.dataLog.Offset()) % tb.opt.BlockSize; tail != 0 {
			pad := make([]byte, tb.opt.BlockSize-tail)
			if err := tb.dataLog.Append(pad); err != nil {
				return file.EpochHandle{}, err
			}
			tb.opt.Stats.AddDataBytes(uint64(len(pad)))
		}
	}

	meta := &metaTrailer{Epoch: tb.epoch}

	if filter := tb.buildFilter(); filter != nil {
		sealed := sealBlock(filter, utils.CompressionNone, false)
		meta.FilterOff = uint64(tb.indexLog.Offset())
		meta.FilterLen = uint64(len(sealed))
		if err := tb.indexLog.Append(sealed); err != nil {
			return file.EpochHandle{}, err
		}
		tb.opt.Stats.AddIndexBytes(uint64(len(sealed)))
	}

	indexCompression := utils.CompressionNone
	if tb.opt.IndexCompression {
		indexCompression = tb.opt.Compression
	}
	indexSealed := sealBlock(tb.indexBlock.Finish(), indexCompression, tb.opt.ForceCompression)
	meta.IndexOff = uint64(tb.indexLog.Offset())
	meta.IndexLen = uint64(len(indexSealed))
	if err := tb.indexLog.Append(indexSealed); err != nil {
		return file.EpochHandle{}, err
	}
	tb.opt.Stats.AddIndexBytes(uint64(len(indexSealed)))

	meta.MinKey = tb.minKey
	meta.MaxKey = tb.lastKey
	enc := meta.Encode()
	handle := file.EpochHandle{
		Off: uint64(tb.indexLog.Offset()),
		Len: uint64(len(enc)),
	}
	if err := tb.indexLog.Append(enc); err != nil {
		return file.EpochHandle{}, err
	}
	tb.opt.Stats.AddIndexBytes(uint64(len(enc)))
	tb.opt.Stats.AddTable()
	return handle, nil
}
