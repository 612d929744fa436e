package file

import (
	"plfsio/utils"

	"github.com/pkg/errors"
)

// MANIFEST 目录级footer，Finish时一次性写入
// 保存每个epoch每个partition的epoch stone在index log里的位置
var manifestMagic = [8]byte{'P', 'L', 'F', 'S', 'D', 'I', 'R', '!'}

const manifestVersion = uint32(1)

// manifest的flags位
const (
	manifestFlagUniqueKeys = 1 << 0
	manifestFlagFixedKV    = 1 << 1
)

// EpochHandle 定位一条记录：在index log内的偏移和长度
type EpochHandle struct {
	Off uint64
	Len uint64
}

// Manifest 目录的元信息
type Manifest struct {
	LgParts    uint32
	UniqueKeys bool
	FixedKV    bool
	KeySize    uint32
	ValueSize  uint32
	// Epochs[e][p] 是partition p在epoch e的stone位置
	Epochs [][]EpochHandle
}

// 编码manifest，结尾带crc32c
func (m *Manifest) Encode() []byte {
	nparts := 1 << m.LgParts
	buf := make([]byte, 0, 32+len(m.Epochs)*nparts*16+4)
	buf = append(buf, manifestMagic[:]...)
	buf = append(buf, utils.Uint32ToBytes(manifestVersion)...)
	buf = append(buf, utils.Uint32ToBytes(m.LgParts)...)
	var flags uint32
	if m.UniqueKeys {
		flags |= manifestFlagUniqueKeys
	}
	if m.FixedKV {
		flags |= manifestFlagFixedKV
	}
	buf = append(buf, utils.Uint32ToBytes(flags)...)
	buf = append(buf, utils.Uint32ToBytes(m.KeySize)...)
	buf = append(buf, utils.Uint32ToBytes(m.ValueSize)...)
	buf = append(buf, utils.Uint32ToBytes(uint32(len(m.Epochs)))...)
	for _, parts := range m.Epochs {
		utils.CondPanic(len(parts) != nparts, errors.New("manifest epoch entry count"))
		for _, h := range parts {
			buf = append(buf, utils.Uint64ToBytes(h.Off)...)
			buf = append(buf, utils.Uint64ToBytes(h.Len)...)
		}
	}
	buf = append(buf, utils.Uint32ToBytes(utils.CalculateChecksum(buf))...)
	return buf
}

// WriteManifest 写入manifest文件并fsync
func WriteManifest(env Env, name string, m *Manifest) error {
	fp, err := env.CreateAppendFile(name)
	if err != nil {
		return err
	}
	if err = fp.Append(m.Encode()); err != nil {
		fp.Close()
		return err
	}
	if err = fp.Sync(); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

// ReadManifest 读取并校验manifest
func ReadManifest(env Env, name string) (*Manifest, error) {
	fp, err := env.OpenRandomFile(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	sz, err := fp.Size()
	if err != nil {
		return nil, err
	}
	if sz < 32+4 {
		return nil, errors.Wrap(utils.ErrCorruption, "manifest too small")
	}
	buf := make([]byte, sz)
	if _, err = fp.Pread(buf, 0); err != nil {
		return nil, err
	}

	body := buf[:len(buf)-4]
	crc := utils.Bytes2Uint32(buf[len(buf)-4:])
	if crc != utils.CalculateChecksum(body) {
		return nil, errors.Wrap(utils.ErrCorruption, "manifest bad check sum")
	}
	for i := range manifestMagic {
		if body[i] != manifestMagic[i] {
			return nil, errors.Wrap(utils.ErrCorruption, "manifest bad magic")
		}
	}
	version := utils.Bytes2Uint32(body[8:])
	if version != manifestVersion {
		return nil, errors.Wrapf(utils.ErrNotSupported, "manifest version %d", version)
	}

	m := &Manifest{}
	m.LgParts = utils.Bytes2Uint32(body[12:])
	flags := utils.Bytes2Uint32(body[16:])
	m.UniqueKeys = flags&manifestFlagUniqueKeys != 0
	m.FixedKV = flags&manifestFlagFixedKV != 0
	m.KeySize = utils.Bytes2Uint32(body[20:])
	m.ValueSize = utils.Bytes2Uint32(body[24:])
	numEpochs := utils.Bytes2Uint32(body[28:])
	nparts := 1 << m.LgParts

	want := 32 + int(numEpochs)*nparts*16
	if len(body) != want {
		return nil, errors.Wrap(utils.ErrCorruption, "manifest truncated")
	}
	off := 32
	for e := uint32(0); e < numEpochs; e++ {
		parts := make([]EpochHandle, nparts)
		for p := 0; p < nparts; p++ {
			parts[p].Off = utils.Bytes2Uint64(body[off:])
			parts[p].Len = utils.Bytes2Uint64(body[off+8:])
			off += 16
		}
		m.Epochs = append(m.Epochs, parts)
	}
	return m, nil
}
