package hybridkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// sstIndexEntry locates one record inside an SSTable's data region.
type sstIndexEntry struct {
	key    []byte
	offset uint64
	size   uint32
}

// SSTable is an immutable, sorted on-disk file with a keyed offset
// index appended to the tail (spec section 3/4.D). Reads are served
// from a read-only mmap of the whole file.
type SSTable struct {
	Level     int
	CreatedAt int64
	Path      string

	file  *os.File
	mmap  []byte
	index []sstIndexEntry
	bloom *BloomFilter
	minKey, maxKey []byte
}

// sstableRecord is one in-memory record to be written, with its
// tombstone flag carried explicitly (resolves spec's open question 1 —
// never conflated with an empty value).
type sstableRecord struct {
	key       []byte
	value     []byte
	tombstone bool
}

// BuildSSTable sorts records by key and streams them to a new file
// under dir named level_<L>_<ts_ms>.sst, writing through a temp file
// and renaming into place for atomicity (grounded on sstable.go's
// NewSSTable temp-file-then-rename pattern, minus its AEAD encryption —
// the core stores only post-encode bytes, and no codec runs at this
// layer; see SPEC_FULL.md's Domain Stack).
func BuildSSTable(dir string, level int, records []*sstableRecord) (*SSTable, error) {
	sort.Slice(records, func(i, j int) bool {
		return compareKeys(records[i].key, records[j].key) < 0
	})

	createdAt := time.Now().UnixMilli()
	name := fmt.Sprintf("level_%d_%d.sst", level, createdAt)
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp sstable: %v", ErrIO, err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bf := NewBloomFilter(len(records), DefaultBloomFilterBits)
	var index []sstIndexEntry
	var offset uint64

	for _, r := range records {
		bf.Add(r.key)
		start := offset
		if err := binary.Write(tmp, binary.LittleEndian, uint32(len(r.key))); err != nil {
			return nil, fmt.Errorf("%w: write key_len: %v", ErrIO, err)
		}
		if _, err := tmp.Write(r.key); err != nil {
			return nil, fmt.Errorf("%w: write key: %v", ErrIO, err)
		}
		var deleted uint8
		if r.tombstone {
			deleted = 1
		}
		if err := binary.Write(tmp, binary.LittleEndian, deleted); err != nil {
			return nil, fmt.Errorf("%w: write deleted flag: %v", ErrIO, err)
		}
		if err := binary.Write(tmp, binary.LittleEndian, uint32(len(r.value))); err != nil {
			return nil, fmt.Errorf("%w: write val_len: %v", ErrIO, err)
		}
		if _, err := tmp.Write(r.value); err != nil {
			return nil, fmt.Errorf("%w: write value: %v", ErrIO, err)
		}
		size := 4 + uint32(len(r.key)) + 1 + 4 + uint32(len(r.value))
		offset += uint64(size)
		index = append(index, sstIndexEntry{key: append([]byte(nil), r.key...), offset: start, size: size})
	}

	var tail bytes.Buffer
	bloomBytes := bf.Marshal()
	binary.Write(&tail, binary.LittleEndian, uint32(len(bloomBytes)))
	tail.Write(bloomBytes)
	binary.Write(&tail, binary.LittleEndian, uint32(len(index)))
	for _, e := range index {
		binary.Write(&tail, binary.LittleEndian, uint32(len(e.key)))
		tail.Write(e.key)
		binary.Write(&tail, binary.LittleEndian, e.offset)
		binary.Write(&tail, binary.LittleEndian, e.size)
	}

	if _, err := tmp.Write(tail.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: write tail index: %v", ErrIO, err)
	}
	if err := binary.Write(tmp, binary.LittleEndian, uint32(tail.Len())); err != nil {
		return nil, fmt.Errorf("%w: write index_len: %v", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync sstable: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: close sstable: %v", ErrIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("%w: rename sstable into place: %v", ErrIO, err)
	}
	ok = true

	sst, err := mmapSSTable(path)
	if err != nil {
		return nil, err
	}
	sst.Level = level
	sst.CreatedAt = createdAt
	sst.index = index
	sst.bloom = bf
	if len(index) > 0 {
		sst.minKey = append([]byte(nil), index[0].key...)
		sst.maxKey = append([]byte(nil), index[len(index)-1].key...)
	}
	return sst, nil
}

func mmapSSTable(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sstable %s: %v", ErrIO, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat sstable %s: %v", ErrIO, path, err)
	}
	if stat.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: empty sstable %s", ErrCorrupt, path)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(stat.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap sstable %s: %v", ErrIO, path, err)
	}
	return &SSTable{Path: path, file: f, mmap: data}, nil
}

// LoadSSTable opens an existing file, memory maps it, and rebuilds the
// index and bloom filter from the tail blob (spec section 4.D). Any
// failure marks the table unreadable and is reported via the returned
// error; the caller (OpenLSM) logs and skips it rather than
// propagating the failure into the engine open path (spec section 7,
// "local recovery").
func LoadSSTable(path string) (*SSTable, error) {
	sst, err := mmapSSTable(path)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			sst.Close()
		}
	}()

	n := len(sst.mmap)
	if n < 4 {
		return nil, fmt.Errorf("%w: sstable %s too short", ErrCorrupt, path)
	}
	indexLen := binary.LittleEndian.Uint32(sst.mmap[n-4:])
	if int(indexLen)+4 > n {
		return nil, fmt.Errorf("%w: sstable %s index_len out of range", ErrCorrupt, path)
	}
	tail := sst.mmap[n-4-int(indexLen) : n-4]
	r := bytes.NewReader(tail)

	var bloomLen uint32
	if err := binary.Read(r, binary.LittleEndian, &bloomLen); err != nil {
		return nil, fmt.Errorf("%w: sstable %s bloom_len: %v", ErrCorrupt, path, err)
	}
	bloomBytes := make([]byte, bloomLen)
	if _, err := io.ReadFull(r, bloomBytes); err != nil {
		return nil, fmt.Errorf("%w: sstable %s bloom bytes: %v", ErrCorrupt, path, err)
	}
	sst.bloom = UnmarshalBloomFilter(bloomBytes)

	var entryCount uint32
	if err := binary.Read(r, binary.LittleEndian, &entryCount); err != nil {
		return nil, fmt.Errorf("%w: sstable %s entry_count: %v", ErrCorrupt, path, err)
	}
	index := make([]sstIndexEntry, 0, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("%w: sstable %s index entry %d key_len: %v", ErrCorrupt, path, i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: sstable %s index entry %d key: %v", ErrCorrupt, path, i, err)
		}
		var off uint64
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, fmt.Errorf("%w: sstable %s index entry %d offset: %v", ErrCorrupt, path, i, err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: sstable %s index entry %d size: %v", ErrCorrupt, path, i, err)
		}
		index = append(index, sstIndexEntry{key: key, offset: off, size: size})
	}

	sst.index = index
	if len(index) > 0 {
		sst.minKey = index[0].key
		sst.maxKey = index[len(index)-1].key
	}
	// path, level and created_at are recovered from the filename by the
	// LSM's loader, which knows the naming convention; SSTable itself
	// doesn't parse its own name.
	ok = true
	return sst, nil
}

// Get returns (value, tombstone, found). A tombstone hit must stop the
// caller's search through older levels (spec section 3, invariant 2).
func (sst *SSTable) Get(key []byte) (value []byte, tombstone bool, found bool) {
	if sst.bloom != nil && !sst.bloom.Contains(key) {
		return nil, false, false
	}
	idx := sort.Search(len(sst.index), func(i int) bool {
		return compareKeys(sst.index[i].key, key) >= 0
	})
	if idx >= len(sst.index) || compareKeys(sst.index[idx].key, key) != 0 {
		return nil, false, false
	}
	entry := sst.index[idx]
	if entry.offset+uint64(entry.size) > uint64(len(sst.mmap)) {
		log.Printf("hybridkv: sstable: %s: index entry for key out of range", sst.Path)
		return nil, false, false
	}
	data := sst.mmap[entry.offset : entry.offset+uint64(entry.size)]
	r := bytes.NewReader(data)

	var keyLen uint32
	binary.Read(r, binary.LittleEndian, &keyLen)
	storedKey := make([]byte, keyLen)
	io.ReadFull(r, storedKey)
	var deleted uint8
	binary.Read(r, binary.LittleEndian, &deleted)
	var valLen uint32
	binary.Read(r, binary.LittleEndian, &valLen)
	val := make([]byte, valLen)
	io.ReadFull(r, val)

	return val, deleted == 1, true
}

// MinKey and MaxKey bound the table's key range. The LSM read path does
// not consult them; it checks each table's bloom filter and index.
func (sst *SSTable) MinKey() []byte { return sst.minKey }
func (sst *SSTable) MaxKey() []byte { return sst.maxKey }

// EntryCount returns the number of records indexed in this table.
func (sst *SSTable) EntryCount() int { return len(sst.index) }

// AllRecords decodes every record in key order, used by compaction to
// merge tables without re-opening the raw file format elsewhere.
func (sst *SSTable) AllRecords() []*sstableRecord {
	out := make([]*sstableRecord, 0, len(sst.index))
	for _, e := range sst.index {
		if e.offset+uint64(e.size) > uint64(len(sst.mmap)) {
			continue
		}
		data := sst.mmap[e.offset : e.offset+uint64(e.size)]
		r := bytes.NewReader(data)
		var keyLen uint32
		binary.Read(r, binary.LittleEndian, &keyLen)
		key := make([]byte, keyLen)
		io.ReadFull(r, key)
		var deleted uint8
		binary.Read(r, binary.LittleEndian, &deleted)
		var valLen uint32
		binary.Read(r, binary.LittleEndian, &valLen)
		val := make([]byte, valLen)
		io.ReadFull(r, val)
		out = append(out, &sstableRecord{key: key, value: val, tombstone: deleted == 1})
	}
	return out
}

// Close unmaps and closes the underlying file.
func (sst *SSTable) Close() error {
	var err error
	if sst.mmap != nil {
		if uerr := syscall.Munmap(sst.mmap); uerr != nil {
			err = fmt.Errorf("%w: munmap %s: %v", ErrIO, sst.Path, uerr)
		}
		sst.mmap = nil
	}
	if sst.file != nil {
		if cerr := sst.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrIO, sst.Path, cerr)
		}
	}
	return err
}

// RemoveFile closes and deletes the backing file, used by compaction
// once a merged replacement table has been durably written.
func (sst *SSTable) RemoveFile() error {
	if err := sst.Close(); err != nil {
		return err
	}
	if err := os.Remove(sst.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, sst.Path, err)
	}
	return nil
}
