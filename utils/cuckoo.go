package utils

import (
	"github.com/pkg/errors"
)

// cuckooFilter：每个bucket有4个slot，每个slot打包存(K位指纹 + V位value)
// 放不下的key会被递归地推入下一级overflow表，查找时沿着链依次检查

const (
	cuckooSlotsPerBucket = 4
	cuckooMaxKicks       = 500
	// 指纹的再散列乘数，决定partner bucket
	cuckooOddMul = 0x5bd1e995
)

// 一个bit-packed的cuckoo表
type cuckooTable struct {
	kbits      uint32 // 指纹位数
	vbits      uint32 // value位数
	numBuckets uint32 // 2的幂
	bits       []byte
}

// 编码后单表的bucket数据大小
func cuckooBucketBytes(numBuckets, kbits, vbits uint32) int {
	totalBits := uint64(numBuckets) * cuckooSlotsPerBucket * uint64(kbits+vbits)
	return int((totalBits + 7) / 8)
}

func nextPow2(n uint32) uint32 {
	v := uint32(1)
	for v < n {
		v <<= 1
	}
	return v
}

func newCuckooTable(numKeys int, kbits, vbits uint32, frac float64) *cuckooTable {
	if frac <= 0 || frac > 1 {
		frac = 0.95
	}
	need := uint32((float64(numKeys)/cuckooSlotsPerBucket)/frac) + 1
	nb := nextPow2(need)
	return &cuckooTable{
		kbits:      kbits,
		vbits:      vbits,
		numBuckets: nb,
		bits:       make([]byte, cuckooBucketBytes(nb, kbits, vbits)),
	}
}

// 读出任意bit区间，slot内低位在前
func getBits(buf []byte, off uint64, n uint32) uint64 {
	var v uint64
	for i := uint32(0); i < n; i++ {
		bit := off + uint64(i)
		if buf[bit>>3]&(1<<(bit&7)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

func setBits(buf []byte, off uint64, n uint32, v uint64) {
	for i := uint32(0); i < n; i++ {
		bit := off + uint64(i)
		if v&(1<<i) != 0 {
			buf[bit>>3] |= 1 << (bit & 7)
		} else {
			buf[bit>>3] &^= 1 << (bit & 7)
		}
	}
}

func (t *cuckooTable) slotOffset(bucket uint32, slot int) uint64 {
	return (uint64(bucket)*cuckooSlotsPerBucket + uint64(slot)) * uint64(t.kbits+t.vbits)
}

// slot内：低kbits是指纹，高vbits是value
func (t *cuckooTable) slotGet(bucket uint32, slot int) (fp uint64, val uint64) {
	raw := getBits(t.bits, t.slotOffset(bucket, slot), t.kbits+t.vbits)
	fp = raw & ((1 << t.kbits) - 1)
	val = raw >> t.kbits
	return fp, val
}

func (t *cuckooTable) slotSet(bucket uint32, slot int, fp, val uint64) {
	raw := fp | val<<t.kbits
	setBits(t.bits, t.slotOffset(bucket, slot), t.kbits+t.vbits, raw)
}

// 指纹取h的高kbits，0保留给空slot
func (t *cuckooTable) fingerprint(h uint64) uint64 {
	fp := h >> (64 - t.kbits)
	if fp == 0 {
		fp = 1
	}
	return fp
}

func (t *cuckooTable) bucket1(h uint64) uint32 {
	return uint32(h) & (t.numBuckets - 1)
}

// partner bucket由指纹再散列异或得到，和原bucket互为对偶
func (t *cuckooTable) altBucket(b uint32, fp uint64) uint32 {
	return (b ^ uint32(fp*cuckooOddMul)) & (t.numBuckets - 1)
}

// 在bucket里找一个空slot放入，成功返回true
func (t *cuckooTable) tryPut(bucket uint32, fp, val uint64) (int, bool) {
	for s := 0; s < cuckooSlotsPerBucket; s++ {
		if f, _ := t.slotGet(bucket, s); f == 0 {
			t.slotSet(bucket, s, fp, val)
			return s, true
		}
	}
	return 0, false
}

// 检查两个候选bucket里是否存在指纹fp
func (t *cuckooTable) contains(h uint64) bool {
	fp := t.fingerprint(h)
	b1 := t.bucket1(h)
	b2 := t.altBucket(b1, fp)
	for s := 0; s < cuckooSlotsPerBucket; s++ {
		if f, _ := t.slotGet(b1, s); f == fp {
			return true
		}
	}
	if b2 != b1 {
		for s := 0; s < cuckooSlotsPerBucket; s++ {
			if f, _ := t.slotGet(b2, s); f == fp {
				return true
			}
		}
	}
	return false
}

// 收集两个候选bucket里指纹等于fp的所有value
func (t *cuckooTable) values(h uint64, out []uint64) []uint64 {
	fp := t.fingerprint(h)
	b1 := t.bucket1(h)
	b2 := t.altBucket(b1, fp)
	for s := 0; s < cuckooSlotsPerBucket; s++ {
		if f, v := t.slotGet(b1, s); f == fp {
			out = append(out, v)
		}
	}
	if b2 != b1 {
		for s := 0; s < cuckooSlotsPerBucket; s++ {
			if f, v := t.slotGet(b2, s); f == fp {
				out = append(out, v)
			}
		}
	}
	return out
}

type cuckooItem struct {
	hash uint64
	val  uint64
}

// CuckooBuilder 收集一张table的全部key，Finish时构建主表和overflow链
type CuckooBuilder struct {
	kbits uint32
	vbits uint32
	frac  float64
	items []cuckooItem
	rnd   uint64 // 踢出slot用的xorshift状态
}

func NewCuckooBuilder(kbits, vbits int, frac float64) *CuckooBuilder {
	CondPanic(kbits < 1 || kbits > 32, errors.Wrap(ErrInvalidArgument, "cuckoo fingerprint bits"))
	CondPanic(vbits < 0 || vbits > 32, errors.Wrap(ErrInvalidArgument, "cuckoo value bits"))
	return &CuckooBuilder{
		kbits: uint32(kbits),
		vbits: uint32(vbits),
		frac:  frac,
		rnd:   uint64(kbits)<<32 | 0x9e3779b9,
	}
}

// AddKey 只记录成员信息，value为0
func (b *CuckooBuilder) AddKey(h uint64) {
	b.Add(h, 0)
}

// Add 记录(hash, value)，value只保留低vbits
func (b *CuckooBuilder) Add(h uint64, v uint64) {
	if b.vbits > 0 {
		v &= (1 << b.vbits) - 1
	} else {
		v = 0
	}
	b.items = append(b.items, cuckooItem{hash: h, val: v})
}

func (b *CuckooBuilder) NumKeys() int {
	return len(b.items)
}

func (b *CuckooBuilder) Reset() {
	b.items = b.items[:0]
}

func (b *CuckooBuilder) nextRand() uint64 {
	b.rnd ^= b.rnd << 13
	b.rnd ^= b.rnd >> 7
	b.rnd ^= b.rnd << 17
	return b.rnd
}

// 将一批item插入table，踢不动的原样返回
// shadow数组跟踪每个slot上实际放的是哪条item，保证被挤出去的item不会丢失
func (b *CuckooBuilder) insertAll(t *cuckooTable, items []cuckooItem) []cuckooItem {
	shadow := make([]cuckooItem, int(t.numBuckets)*cuckooSlotsPerBucket)
	var homeless []cuckooItem
	for _, it := range items {
		fp := t.fingerprint(it.hash)
		val := it.val
		cur := it.hash
		b1 := t.bucket1(cur)
		b2 := t.altBucket(b1, fp)
		if s, ok := t.tryPut(b1, fp, val); ok {
			shadow[int(b1)*cuckooSlotsPerBucket+s] = it
			continue
		}
		if s, ok := t.tryPut(b2, fp, val); ok {
			shadow[int(b2)*cuckooSlotsPerBucket+s] = it
			continue
		}
		// 两个候选都满了，从b2开始踢
		moving := it
		bucket := b2
		placed := false
		for kick := 0; kick < cuckooMaxKicks; kick++ {
			victimSlot := int(b.nextRand() & (cuckooSlotsPerBucket - 1))
			victim := shadow[int(bucket)*cuckooSlotsPerBucket+victimSlot]
			vfp := t.fingerprint(victim.hash)
			// moving占据victim的位置
			t.slotSet(bucket, victimSlot, t.fingerprint(moving.hash), moving.val)
			shadow[int(bucket)*cuckooSlotsPerBucket+victimSlot] = moving
			// victim去它的另一个候选bucket
			alt := t.altBucket(bucket, vfp)
			if s, ok := t.tryPut(alt, vfp, victim.val); ok {
				shadow[int(alt)*cuckooSlotsPerBucket+s] = victim
				placed = true
				break
			}
			moving = victim
			bucket = alt
		}
		if !placed {
			homeless = append(homeless, moving)
		}
	}
	return homeless
}

// Finish 构建整个filter并编码：
// variant_tag(1) kbits(1) vbits(1) num_buckets(4) overflow_count(4) bucket_bytes overflow_blocks...
// 每个overflow block为 num_buckets(4) + bucket_bytes
func (b *CuckooBuilder) Finish() []byte {
	var tables []*cuckooTable
	pending := b.items
	size := len(pending)
	if size == 0 {
		size = 1
	}
	for {
		t := newCuckooTable(size, b.kbits, b.vbits, b.frac)
		left := b.insertAll(t, pending)
		tables = append(tables, t)
		if len(left) == 0 {
			break
		}
		if len(left) == len(pending) {
			// 一个key都没消化掉，下一级直接翻倍
			size *= 2
		} else {
			size = len(left)
		}
		pending = left
	}

	out := []byte{FilterCuckoo, byte(b.kbits), byte(b.vbits)}
	primary := tables[0]
	out = append(out, Uint32ToBytes(primary.numBuckets)...)
	out = append(out, Uint32ToBytes(uint32(len(tables)-1))...)
	out = append(out, primary.bits...)
	for _, t := range tables[1:] {
		out = append(out, Uint32ToBytes(t.numBuckets)...)
		out = append(out, t.bits...)
	}
	return out
}

// CuckooReader 解码后的filter链
type CuckooReader struct {
	tables []*cuckooTable
}

// NewCuckooReader 解析Finish的输出，data[0]必须是FilterCuckoo
func NewCuckooReader(data []byte) (*CuckooReader, error) {
	if len(data) < 11 || data[0] != FilterCuckoo {
		return nil, errors.Wrap(ErrCorruption, "bad cuckoo filter header")
	}
	kbits := uint32(data[1])
	vbits := uint32(data[2])
	if kbits < 1 || kbits > 32 || vbits > 32 {
		return nil, errors.Wrap(ErrCorruption, "bad cuckoo filter params")
	}
	nb := Bytes2Uint32(data[3:])
	overflow := Bytes2Uint32(data[7:])
	rest := data[11:]
	r := &CuckooReader{}
	for i := uint32(0); ; i++ {
		if nb == 0 || nb&(nb-1) != 0 {
			return nil, errors.Wrap(ErrCorruption, "cuckoo bucket count not a power of two")
		}
		sz := cuckooBucketBytes(nb, kbits, vbits)
		if len(rest) < sz {
			return nil, errors.Wrap(ErrCorruption, "cuckoo filter truncated")
		}
		r.tables = append(r.tables, &cuckooTable{
			kbits:      kbits,
			vbits:      vbits,
			numBuckets: nb,
			bits:       rest[:sz],
		})
		rest = rest[sz:]
		if i == overflow {
			break
		}
		if len(rest) < 4 {
			return nil, errors.Wrap(ErrCorruption, "cuckoo overflow truncated")
		}
		nb = Bytes2Uint32(rest)
		rest = rest[4:]
	}
	return r, nil
}

// MayContain 依次检查主表和每一级overflow表
func (r *CuckooReader) MayContain(h uint64) bool {
	for _, t := range r.tables {
		if t.contains(h) {
			return true
		}
	}
	return false
}

func (r *CuckooReader) MayContainKey(key []byte) bool {
	return r.MayContain(KeyHash(key))
}

// Values 多值变体：返回整条链上所有匹配指纹的value
func (r *CuckooReader) Values(h uint64) []uint64 {
	var out []uint64
	for _, t := range r.tables {
		out = t.values(h, out)
	}
	return out
}
