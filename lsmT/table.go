package lsmt

import (
	"bytes"
	"plfsio/file"
	"plfsio/utils"

	"github.com/pkg/errors"
)

// PartReader 一个partition的读句柄，持有它的两个日志文件
// stone和table都按偏移缓存，同一个run只解析一次
type PartReader struct {
	opt      *Options
	idxFile  file.RandomFile
	dataFile file.RandomFile
	stones   map[uint64]*epochStone
	tables   map[uint64]*table
}

func NewPartReader(opt *Options, idx int) (*PartReader, error) {
	xf, err := opt.Env.OpenRandomFile(file.IndexFileName(opt.Dir, idx))
	if err != nil {
		return nil, err
	}
	df, err := opt.Env.OpenRandomFile(file.DataFileName(opt.Dir, idx))
	if err != nil {
		xf.Close()
		return nil, err
	}
	return &PartReader{
		opt:      opt,
		idxFile:  xf,
		dataFile: df,
		stones:   make(map[uint64]*epochStone),
		tables:   make(map[uint64]*table),
	}, nil
}

func (pr *PartReader) Close() error {
	err := pr.idxFile.Close()
	if e := pr.dataFile.Close(); err == nil {
		err = e
	}
	return err
}

func readSpan(f file.RandomFile, off, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := f.Pread(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadStone 读取并校验一个epoch stone
func (pr *PartReader) ReadStone(h file.EpochHandle) (*epochStone, error) {
	if es, ok := pr.stones[h.Off]; ok {
		return es, nil
	}
	buf, err := readSpan(pr.idxFile, h.Off, h.Len)
	if err != nil {
		return nil, err
	}
	es, err := decodeEpochStone(buf)
	if err != nil {
		return nil, err
	}
	pr.stones[h.Off] = es
	return es, nil
}

// table 一个sorted run的读端
// meta在OpenTable时就解析好，filter和index block推迟到第一次Get再加载：
// meta坏了意味着这个run不存在(可以跳过)，而block坏了是实打实的corruption
type table struct {
	opt  *Options
	meta *metaTrailer
	idx  file.RandomFile
	data file.RandomFile

	loaded bool
	bloom  utils.Filter
	// filter二选一，都为nil时不过滤
	cuckoo       *utils.CuckooReader
	indexPayload []byte
}

// OpenTable 按meta trailer的位置打开一个sorted run
func (pr *PartReader) OpenTable(h file.EpochHandle) (*table, error) {
	if t, ok := pr.tables[h.Off]; ok {
		return t, nil
	}
	raw, err := readSpan(pr.idxFile, h.Off, h.Len)
	if err != nil {
		return nil, err
	}
	meta, err := decodeMetaTrailer(raw)
	if err != nil {
		return nil, err
	}
	t := &table{opt: pr.opt, meta: meta, idx: pr.idxFile, data: pr.dataFile}
	pr.tables[h.Off] = t
	return t, nil
}

// 加载filter和index block
func (t *table) load() error {
	if t.loaded {
		return nil
	}
	if t.meta.FilterLen > 0 {
		sealed, err := readSpan(t.idx, t.meta.FilterOff, t.meta.FilterLen)
		if err != nil {
			return err
		}
		payload, err := unsealBlock(sealed, t.opt.VerifyChecksums)
		if err != nil {
			return err
		}
		if len(payload) > 0 {
			switch payload[0] {
			case utils.FilterBloom:
				t.bloom = utils.Filter(payload[1:])
			case utils.FilterCuckoo:
				t.cuckoo, err = utils.NewCuckooReader(payload)
				if err != nil {
					return err
				}
			case utils.FilterNone:
			default:
				return errors.Wrapf(utils.ErrCorruption, "unknown filter tag %d", payload[0])
			}
		}
	}

	sealed, err := readSpan(t.idx, t.meta.IndexOff, t.meta.IndexLen)
	if err != nil {
		return err
	}
	t.indexPayload, err = unsealBlock(sealed, t.opt.VerifyChecksums)
	if err != nil {
		return err
	}
	t.loaded = true
	return nil
}

// 过滤器判定，返回false则key一定不在这个run里
func (t *table) mayContain(key []byte) bool {
	if t.bloom != nil {
		return t.bloom.MayContainKey(key)
	}
	if t.cuckoo != nil {
		return t.cuckoo.MayContainKey(key)
	}
	return true
}

// Get 返回这个run里key的所有value，按写入顺序
func (t *table) Get(key []byte) ([][]byte, error) {
	if utils.CompareKeys(key, t.meta.MinKey) < 0 || utils.CompareKeys(key, t.meta.MaxKey) > 0 {
		return nil, nil
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	if !t.mayContain(key) {
		return nil, nil
	}

	// index block永远是varint编码
	idxIter, err := newBlockIterator(t.indexPayload, false, 0, 0)
	if err != nil {
		return nil, err
	}
	idxIter.Seek(key)
	if err = idxIter.Err(); err != nil {
		return nil, err
	}
	if !idxIter.Valid() {
		return nil, nil
	}

	handle := idxIter.Value()
	off, n, err := utils.GetUvarint(handle)
	if err != nil {
		return nil, err
	}
	length, _, err := utils.GetUvarint(handle[n:])
	if err != nil {
		return nil, err
	}

	raw, err := readSpan(t.data, off, length)
	if err != nil {
		return nil, err
	}
	payload, err := unsealBlock(raw, t.opt.VerifyChecksums)
	if err != nil {
		return nil, err
	}
	bi, err := newBlockIterator(payload, t.opt.FixedKV, t.opt.KeySize, t.opt.ValueSize)
	if err != nil {
		return nil, err
	}

	// 相同key的多条记录一定在同一个block里
	var out [][]byte
	bi.Seek(key)
	for bi.Valid() && bytes.Equal(bi.Key(), key) {
		out = append(out, append([]byte{}, bi.Value()...))
		bi.Next()
	}
	if err = bi.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
