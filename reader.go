package plfsio

import (
	"plfsio/file"
	lsmt "plfsio/lsmT"
	"plfsio/utils"

	"github.com/pkg/errors"
)

// DirReader 以只读模式打开一个已经Finish过的目录
type DirReader struct {
	opt      *DirOptions
	lopt     *lsmt.Options
	manifest *file.Manifest
	parts    []*lsmt.PartReader
	side     file.RandomFile
	dir      string
}

// OpenReader 读取MANIFEST并打开所有partition
// 目录布局相关的参数以MANIFEST里记录的为准，避免和写入侧配置漂移
func OpenReader(opt *DirOptions, dir string) (*DirReader, error) {
	o := *opt
	if err := o.sanitize(); err != nil {
		return nil, err
	}
	m, err := file.ReadManifest(o.Env, file.ManifestName(dir))
	if err != nil {
		return nil, err
	}
	o.LgParts = int(m.LgParts)
	o.UniqueKeys = m.UniqueKeys
	o.FixedKV = m.FixedKV
	o.KeySize = int(m.KeySize)
	o.ValueSize = int(m.ValueSize)

	r := &DirReader{
		opt:      &o,
		lopt:     o.lsmOptions(dir, nil, nil),
		manifest: m,
		dir:      dir,
	}
	for i := 0; i < 1<<o.LgParts; i++ {
		pr, err := lsmt.NewPartReader(r.lopt, i)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.parts = append(r.parts, pr)
	}
	return r, nil
}

func (r *DirReader) Close() error {
	var err error
	for _, pr := range r.parts {
		if pr == nil {
			continue
		}
		if e := pr.Close(); err == nil {
			err = e
		}
	}
	if r.side != nil {
		if e := r.side.Close(); err == nil {
			err = e
		}
	}
	return err
}

// 坏掉的epoch（找不到合法的stone或meta trailer）直接跳过，
// 这对应"每次成功的compaction至多一张表"的保证：写到一半的数据没有出生证明
func skippable(err error) bool {
	return errors.Is(err, utils.ErrCorruption)
}

// ReadAll 读出key的全部数据：
// unique_keys时从最新epoch往回找，第一个命中就是答案；
// 否则按写入顺序把所有epoch里的value拼起来
func (r *DirReader) ReadAll(key []byte) ([]byte, error) {
	part := partitionOf(key, r.opt.LgParts)
	pr := r.parts[part]

	if r.opt.UniqueKeys {
		for e := len(r.manifest.Epochs) - 1; e >= 0; e-- {
			vals, err := r.epochValues(pr, r.manifest.Epochs[e][part], key, true)
			if err != nil {
				return nil, err
			}
			if vals != nil {
				return vals[len(vals)-1], nil
			}
		}
		return []byte{}, nil
	}

	var out []byte
	for e := 0; e < len(r.manifest.Epochs); e++ {
		vals, err := r.epochValues(pr, r.manifest.Epochs[e][part], key, false)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			out = append(out, v...)
		}
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// epochValues 在一个epoch里查key
// unique时表从新到旧，命中即止；否则从旧到新收集全部
func (r *DirReader) epochValues(pr *lsmt.PartReader, h file.EpochHandle, key []byte, unique bool) ([][]byte, error) {
	stone, err := pr.ReadStone(h)
	if err != nil {
		if skippable(err) {
			return nil, nil
		}
		return nil, err
	}

	if unique {
		for t := len(stone.Tables) - 1; t >= 0; t-- {
			vals, err := r.tableValues(pr, stone.Tables[t], key)
			if err != nil {
				return nil, err
			}
			if len(vals) > 0 {
				return vals, nil
			}
		}
		return nil, nil
	}

	var out [][]byte
	for t := 0; t < len(stone.Tables); t++ {
		vals, err := r.tableValues(pr, stone.Tables[t], key)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func (r *DirReader) tableValues(pr *lsmt.PartReader, h file.EpochHandle, key []byte) ([][]byte, error) {
	tbl, err := pr.OpenTable(h)
	if err != nil {
		if skippable(err) {
			return nil, nil
		}
		return nil, err
	}
	return tbl.Get(key)
}

// IoPread 从旁路日志读一段字节，读到文件尾部时返回不足n的结果
func (r *DirReader) IoPread(off int64, n int) ([]byte, error) {
	if r.side == nil {
		sf, err := r.opt.Env.OpenRandomFile(file.SideFileName(r.dir, sidePartOf(r.opt.Rank, r.opt.LgParts)))
		if err != nil {
			return nil, err
		}
		r.side = sf
	}
	sz, err := r.side.Size()
	if err != nil {
		return nil, err
	}
	if off >= sz {
		return []byte{}, nil
	}
	if int64(n) > sz-off {
		n = int(sz - off)
	}
	buf := make([]byte, n)
	if _, err := r.side.Pread(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}
