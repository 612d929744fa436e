package lsmt

import (
	"plfsio/file"
	"plfsio/utils"

	"github.com/pkg/errors"
)

// index log里两种自带crc的记录：
// meta trailer，每次compaction产出一个，定位filter/index和key范围
// epoch stone，每次EpochFlush产出一个，罗列这个epoch内所有meta trailer的位置

var tableMagic = [8]byte{'P', 'L', 'F', 'S', 'T', 'A', 'B', '!'}
var stoneMagic = [8]byte{'P', 'L', 'F', 'S', 'E', 'P', 'O', '!'}

// metaTrailer 一个sorted run的出生证明
// 只有trailer成功落盘，这个run才算存在；写到一半的block对读者不可见
type metaTrailer struct {
	Epoch     uint32
	FilterOff uint64
	FilterLen uint64
	IndexOff  uint64
	IndexLen  uint64
	MinKey    []byte
	MaxKey    []byte
}

func (mt *metaTrailer) Encode() []byte {
	buf := make([]byte, 0, 8+4+32+16+len(mt.MinKey)+len(mt.MaxKey)+4)
	buf = append(buf, tableMagic[:]...)
	buf = append(buf, utils.Uint32ToBytes(mt.Epoch)...)
	buf = append(buf, utils.Uint64ToBytes(mt.FilterOff)...)
	buf = append(buf, utils.Uint64ToBytes(mt.FilterLen)...)
	buf = append(buf, utils.Uint64ToBytes(mt.IndexOff)...)
	buf = append(buf, utils.Uint64ToBytes(mt.IndexLen)...)
	buf = utils.AppendUvarint(buf, uint64(len(mt.MinKey)))
	buf = append(buf, mt.MinKey...)
	buf = utils.AppendUvarint(buf, uint64(len(mt.MaxKey)))
	buf = append(buf, mt.MaxKey...)
	buf = append(buf, utils.Uint32ToBytes(utils.CalculateChecksum(buf))...)
	return buf
}

func decodeMetaTrailer(buf []byte) (*metaTrailer, error) {
	if len(buf) < 8+4+32+2+4 {
		return nil, errors.Wrap(utils.ErrCorruption, "meta trailer too small")
	}
	body := buf[:len(buf)-4]
	if utils.Bytes2Uint32(buf[len(buf)-4:]) != utils.CalculateChecksum(body) {
		return nil, errors.Wrap(utils.ErrCorruption, "meta trailer bad check sum")
	}
	for i := range tableMagic {
		if body[i] != tableMagic[i] {
			return nil, errors.Wrap(utils.ErrCorruption, "meta trailer bad magic")
		}
	}
	mt := &metaTrailer{}
	mt.Epoch = utils.Bytes2Uint32(body[8:])
	mt.FilterOff = utils.Bytes2Uint64(body[12:])
	mt.FilterLen = utils.Bytes2Uint64(body[20:])
	mt.IndexOff = utils.Bytes2Uint64(body[28:])
	mt.IndexLen = utils.Bytes2Uint64(body[36:])
	rest := body[44:]
	minKey, n, err := utils.GetLenPrefixedBytes(rest)
	if err != nil {
		return nil, err
	}
	maxKey, _, err := utils.GetLenPrefixedBytes(rest[n:])
	if err != nil {
		return nil, err
	}
	mt.MinKey = append([]byte{}, minKey...)
	mt.MaxKey = append([]byte{}, maxKey...)
	return mt, nil
}

// epochStone epoch的边界标记
type epochStone struct {
	Epoch  uint32
	Tables []file.EpochHandle
}

func (es *epochStone) Encode() []byte {
	buf := make([]byte, 0, 8+4+4+len(es.Tables)*16+4)
	buf = append(buf, stoneMagic[:]...)
	buf = append(buf, utils.Uint32ToBytes(es.Epoch)...)
	buf = append(buf, utils.Uint32ToBytes(uint32(len(es.Tables)))...)
	for _, h := range es.Tables {
		buf = append(buf, utils.Uint64ToBytes(h.Off)...)
		buf = append(buf, utils.Uint64ToBytes(h.Len)...)
	}
	buf = append(buf, utils.Uint32ToBytes(utils.CalculateChecksum(buf))...)
	return buf
}

func decodeEpochStone(buf []byte) (*epochStone, error) {
	if len(buf) < 8+4+4+4 {
		return nil, errors.Wrap(utils.ErrCorruption, "epoch stone too small")
	}
	body := buf[:len(buf)-4]
	if utils.Bytes2Uint32(buf[len(buf)-4:]) != utils.CalculateChecksum(body) {
		return nil, errors.Wrap(utils.ErrCorruption, "epoch stone bad check sum")
	}
	for i := range stoneMagic {
		if body[i] != stoneMagic[i] {
			return nil, errors.Wrap(utils.ErrCorruption, "epoch stone bad magic")
		}
	}
	es := &epochStone{}
	es.Epoch = utils.Bytes2Uint32(body[8:])
	count := utils.Bytes2Uint32(body[12:])
	if len(body) != 16+int(count)*16 {
		return nil, errors.Wrap(utils.ErrCorruption, "epoch stone truncated")
	}
	off := 16
	for i := uint32(0); i < count; i++ {
		es.Tables = append(es.Tables, file.EpochHandle{
			Off: utils.Bytes2Uint64(body[off:]),
			Len: utils.Bytes2Uint64(body[off+8:]),
		})
		off += 16
	}
	return es, nil
}
