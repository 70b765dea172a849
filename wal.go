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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// WALEntryKind discriminates a WAL frame's purpose (spec section 4.B).
type WALEntryKind uint8

const (
	WALPut WALEntryKind = iota
	WALDelete
	WALCheckpoint
)

// WALEntry is one durable record: a Put, a Delete (tombstone), or a
// Checkpoint marker. Seq is assigned by the WAL and is strictly
// monotone for the lifetime of the process (spec section 3, invariant
// 3).
type WALEntry struct {
	Kind  WALEntryKind
	Seq   uint64
	TsMs  uint64
	Key   []byte
	Value []byte
}

const walFilePrefix = "wal_"
const walFileSuffix = ".wal"

func walFileName(tsMs int64) string {
	return fmt.Sprintf("%s%016d%s", walFilePrefix, tsMs, walFileSuffix)
}

// WAL is the write-ahead log: an append-only, rotating journal of Put
// and Delete entries, replayed on open to rebuild the active memtable
// (spec section 4.B). Entries are framed little-endian:
// u32 entry_len, then u8 kind, u64 seq, u64 ts_ms, u32 key_len, key,
// u32 val_len, val.
type WAL struct {
	dir          string
	maxFileBytes int64
	syncWrites   bool

	mu        sync.Mutex
	file      *os.File
	fileBytes int64
	pending   *bytes.Buffer
	pendingN  int
	closed    bool

	seq uint64

	ticker   *time.Ticker
	stopCh   chan struct{}
	flushWg  sync.WaitGroup
}

// OpenWAL opens (creating if absent) the WAL directory under dbDir,
// continuing to append to the most recent existing log file, or
// creating a fresh one if the directory is empty.
func OpenWAL(dbDir string, maxFileBytes int64, syncWrites bool) (*WAL, error) {
	dir := filepath.Join(dbDir, "wal")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIO, dir, err)
	}

	existing, err := walFilesSorted(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, dir, err)
	}

	var f *os.File
	var path string
	if len(existing) == 0 {
		path = filepath.Join(dir, walFileName(time.Now().UnixMilli()))
	} else {
		path = filepath.Join(dir, existing[len(existing)-1])
	}
	f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	w := &WAL{
		dir:          dir,
		maxFileBytes: maxFileBytes,
		syncWrites:   syncWrites,
		file:         f,
		fileBytes:    stat.Size(),
		pending:      bytes.NewBuffer(nil),
		stopCh:       make(chan struct{}),
		ticker:       time.NewTicker(walFlushInterval),
	}

	w.flushWg.Add(1)
	go w.flushLoop()

	return w, nil
}

func walFilesSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), walFilePrefix) && strings.HasSuffix(e.Name(), walFileSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // zero-padded timestamps sort lexicographically == chronologically
	return names, nil
}

// SetNextSeq primes the sequence counter after recovery, so that the
// first new append uses max(recovered_seq)+1 (spec section 3, invariant
// 3).
func (w *WAL) SetNextSeq(next uint64) {
	atomic.StoreUint64(&w.seq, next)
}

func (w *WAL) nextSeq() uint64 {
	return atomic.AddUint64(&w.seq, 1) - 1
}

func encodeWALEntry(buf *bytes.Buffer, e *WALEntry) {
	var body bytes.Buffer
	body.WriteByte(byte(e.Kind))
	binary.Write(&body, binary.LittleEndian, e.Seq)
	binary.Write(&body, binary.LittleEndian, e.TsMs)
	binary.Write(&body, binary.LittleEndian, uint32(len(e.Key)))
	body.Write(e.Key)
	binary.Write(&body, binary.LittleEndian, uint32(len(e.Value)))
	body.Write(e.Value)

	binary.Write(buf, binary.LittleEndian, uint32(body.Len()))
	buf.Write(body.Bytes())
}

// AppendPut assigns the next sequence number, enqueues a Put frame, and
// applies the flush triggers from spec section 4.B (synchronous flush
// is NOT one of them for Put; only the size trigger and background
// timer apply here).
func (w *WAL) AppendPut(key, value []byte) (uint64, error) {
	return w.append(&WALEntry{Kind: WALPut, Key: key, Value: value}, false)
}

// AppendDelete assigns the next sequence number, enqueues a Delete
// frame, and flushes synchronously (spec section 4.B, trigger (a)).
func (w *WAL) AppendDelete(key []byte) (uint64, error) {
	return w.append(&WALEntry{Kind: WALDelete, Key: key}, true)
}

func (w *WAL) append(e *WALEntry, syncNow bool) (uint64, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrNotOpen
	}
	e.Seq = w.nextSeq()
	e.TsMs = uint64(time.Now().UnixMilli())
	encodeWALEntry(w.pending, e)
	w.pendingN++

	needFlush := syncNow || w.pendingN >= walFlushEntryThreshold
	if !needFlush {
		w.mu.Unlock()
		return e.Seq, nil
	}
	err := w.flushLocked()
	w.mu.Unlock()
	return e.Seq, err
}

// flushLocked writes the pending buffer to the active file, fsyncing
// if syncWrites is set, and rotates if the file has grown past
// maxFileBytes. Caller must hold w.mu.
func (w *WAL) flushLocked() error {
	if w.pending.Len() == 0 {
		return w.rotateIfNeededLocked()
	}
	n, err := w.file.Write(w.pending.Bytes())
	if err != nil {
		return fmt.Errorf("%w: wal append: %v", ErrIO, err)
	}
	w.fileBytes += int64(n)
	w.pending.Reset()
	w.pendingN = 0

	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: wal fsync: %v", ErrIO, err)
		}
	}
	return w.rotateIfNeededLocked()
}

func (w *WAL) rotateIfNeededLocked() error {
	if w.fileBytes < w.maxFileBytes {
		return nil
	}
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: wal close during rotation: %v", ErrIO, err)
	}
	path := filepath.Join(w.dir, walFileName(time.Now().UnixMilli()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: wal open %s: %v", ErrIO, path, err)
	}
	w.file = f
	w.fileBytes = 0
	return nil
}

// flushLoop is the background timer that flushes the pending buffer
// every walFlushInterval (spec section 4.B, trigger (b)).
func (w *WAL) flushLoop() {
	defer w.flushWg.Done()
	for {
		select {
		case <-w.ticker.C:
			w.mu.Lock()
			if err := w.flushLocked(); err != nil {
				log.Printf("hybridkv: wal: background flush failed: %v", err)
			}
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

// Checkpoint drains the pending buffer, appends a Checkpoint entry, and
// rotates to a fresh file (spec section 4.B).
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrNotOpen
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	cp := &WALEntry{Kind: WALCheckpoint, Seq: w.nextSeq(), TsMs: uint64(time.Now().UnixMilli())}
	encodeWALEntry(w.pending, cp)
	w.pendingN++
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.rotateLocked()
}

// Truncate deletes every WAL file except the currently active one
// (spec section 4.B). The engine does not call it.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	active := filepath.Base(w.file.Name())
	names, err := walFilesSorted(w.dir)
	if err != nil {
		return fmt.Errorf("%w: list %s: %v", ErrIO, w.dir, err)
	}
	for _, name := range names {
		if name == active {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", ErrIO, name, err)
		}
	}
	return nil
}

// Close drains pending writes and closes the active file.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	w.mu.Unlock()

	close(w.stopCh)
	w.ticker.Stop()
	w.flushWg.Wait()

	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: wal close: %v", ErrIO, cerr)
	}
	return err
}

// Recover reads every .wal file in filename (== creation) order and
// returns the entries found, truncating at the first corrupted frame
// (spec section 4.B, 7). It does not modify any file.
func (w *WAL) Recover() ([]*WALEntry, error) {
	w.mu.Lock()
	dir := w.dir
	w.mu.Unlock()

	names, err := walFilesSorted(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, dir, err)
	}

	var entries []*WALEntry
	for _, name := range names {
		fileEntries, truncated, err := readWALFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrIO, name, err)
		}
		entries = append(entries, fileEntries...)
		if truncated {
			if createdMs, perr := parseWALTimestamp(name); perr == nil {
				log.Printf("hybridkv: wal: corrupt trailing frame in %s (created %d), stopping recovery", name, createdMs)
			} else {
				log.Printf("hybridkv: wal: corrupt trailing frame in %s, stopping recovery", name)
			}
			break
		}
	}
	return entries, nil
}

// readWALFile parses every complete frame from path. truncated is true
// if a partial trailing frame was found (short read of entry_len or
// body) — that is local recovery, not an error (spec section 7).
func readWALFile(path string) (entries []*WALEntry, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	for {
		var entryLen uint32
		if err := binary.Read(f, binary.LittleEndian, &entryLen); err != nil {
			if err == io.EOF {
				return entries, false, nil
			}
			return entries, true, nil
		}
		body := make([]byte, entryLen)
		if _, err := io.ReadFull(f, body); err != nil {
			return entries, true, nil
		}
		e, err := decodeWALEntryBody(body)
		if err != nil {
			return entries, true, nil
		}
		entries = append(entries, e)
	}
}

func decodeWALEntryBody(body []byte) (*WALEntry, error) {
	r := bytes.NewReader(body)
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	e := &WALEntry{Kind: WALEntryKind(kind)}
	if err := binary.Read(r, binary.LittleEndian, &e.Seq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &e.TsMs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	e.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, e.Key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var valLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	e.Value = make([]byte, valLen)
	if _, err := io.ReadFull(r, e.Value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}

// parseWALTimestamp extracts the creation timestamp embedded in a WAL
// filename, used only for diagnostics.
func parseWALTimestamp(name string) (int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, walFilePrefix), walFileSuffix)
	return strconv.ParseInt(trimmed, 10, 64)
}
