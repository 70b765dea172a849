package hybridkv

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RepairSSTable attempts to salvage a possibly corrupted SSTable by
// parsing records sequentially from the start of the file until the
// first read failure, then writing a fresh, valid SSTable to outPath
// from whatever it recovered. It returns the number of records
// salvaged. This is a supplemental operator tool (spec.md does not
// require it, and OpenLSM never invokes it automatically — a damaged
// table is simply skipped there) grounded on the teacher's
// sstable_repair.go, adapted from its header-bounded scan to this
// tail-indexed format, which has no header to bound the scan by: we
// instead stop at the first frame that fails to parse.
func RepairSSTable(inPath, outPath string, level int) (int, error) {
	f, err := os.Open(inPath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrIO, inPath, err)
	}
	defer f.Close()

	var recovered []*sstableRecord
	for {
		var keyLen uint32
		if err := binary.Read(f, binary.LittleEndian, &keyLen); err != nil {
			break
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(f, key); err != nil {
			break
		}
		var deleted uint8
		if err := binary.Read(f, binary.LittleEndian, &deleted); err != nil {
			break
		}
		var valLen uint32
		if err := binary.Read(f, binary.LittleEndian, &valLen); err != nil {
			break
		}
		val := make([]byte, valLen)
		if _, err := io.ReadFull(f, val); err != nil {
			break
		}
		recovered = append(recovered, &sstableRecord{key: key, value: val, tombstone: deleted == 1})
	}

	if len(recovered) == 0 {
		return 0, fmt.Errorf("%w: %s: no records recoverable", ErrCorrupt, inPath)
	}

	dir := filepath.Dir(outPath)
	sst, err := BuildSSTable(dir, level, recovered)
	if err != nil {
		return 0, err
	}
	defer sst.Close()
	if sst.Path != outPath {
		if err := os.Rename(sst.Path, outPath); err != nil {
			return 0, fmt.Errorf("%w: rename repaired table into place: %v", ErrIO, err)
		}
	}
	return len(recovered), nil
}
