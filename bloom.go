package hybridkv

import (
	"encoding/binary"
	"hash/fnv"
)

// BloomFilter is a fixed-size bloom filter used by SSTable.Get to skip a
// disk read for keys that are definitely absent. It is rebuilt from the
// on-disk index blob on load, never itself part of the index the spec's
// tail format describes.
type BloomFilter struct {
	bits []uint64
	size uint64
	hash uint64
}

// NewBloomFilter sizes a filter for expectedItems entries at bitsPerItem
// bits each (DefaultBloomFilterBits unless overridden).
func NewBloomFilter(expectedItems int, bitsPerItem int) *BloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	size := uint64(expectedItems * bitsPerItem)
	if size == 0 {
		size = 64
	}
	return &BloomFilter{
		bits: make([]uint64, (size+63)/64),
		size: size,
		hash: 2,
	}
}

func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bloomHash1(key), bloomHash2(key)
	for i := uint64(0); i < bf.hash; i++ {
		bit := (h1 + i*h2) % bf.size
		bf.bits[bit/64] |= 1 << (bit % 64)
	}
}

func (bf *BloomFilter) Contains(key []byte) bool {
	h1, h2 := bloomHash1(key), bloomHash2(key)
	for i := uint64(0); i < bf.hash; i++ {
		bit := (h1 + i*h2) % bf.size
		if bf.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Marshal serializes the filter as size, hash-count, then bit words, all
// little-endian. This blob is embedded as a prefix of an SSTable's tail
// index (see sstable.go).
func (bf *BloomFilter) Marshal() []byte {
	buf := make([]byte, 16+len(bf.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], bf.size)
	binary.LittleEndian.PutUint64(buf[8:16], bf.hash)
	for i, word := range bf.bits {
		binary.LittleEndian.PutUint64(buf[16+i*8:16+(i+1)*8], word)
	}
	return buf
}

// UnmarshalBloomFilter reverses Marshal.
func UnmarshalBloomFilter(data []byte) *BloomFilter {
	bf := &BloomFilter{}
	if len(data) < 16 {
		return bf
	}
	bf.size = binary.LittleEndian.Uint64(data[0:8])
	bf.hash = binary.LittleEndian.Uint64(data[8:16])
	bits := make([]uint64, (bf.size+63)/64)
	for i := range bits {
		off := 16 + i*8
		if off+8 > len(data) {
			break
		}
		bits[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	bf.bits = bits
	return bf
}

func bloomHash1(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

func bloomHash2(key []byte) uint64 {
	h := fnv.New64()
	h.Write(key)
	return h.Sum64() | 1
}
