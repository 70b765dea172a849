package hybridkv

import (
	"bytes"
	"testing"
)

func TestMemTablePutGetDelete(t *testing.T) {
	mt := NewMemTable(1024 * 1024)
	mt.Put([]byte("k1"), []byte("v1"))
	mt.Put([]byte("k2"), []byte("v2"))

	v, tombstone, found := mt.Get([]byte("k1"))
	if !found || tombstone || string(v) != "v1" {
		t.Fatalf("Get(k1) = %q, tombstone=%v, found=%v", v, tombstone, found)
	}

	mt.Delete([]byte("k1"))
	_, tombstone, found = mt.Get([]byte("k1"))
	if !found || !tombstone {
		t.Fatalf("expected k1 to be a found tombstone after delete, got found=%v tombstone=%v", found, tombstone)
	}

	_, _, found = mt.Get([]byte("missing"))
	if found {
		t.Fatalf("expected missing key to be not found")
	}
}

func TestMemTableOrderedIteration(t *testing.T) {
	mt := NewMemTable(1024 * 1024)
	keys := []string{"banana", "apple", "cherry", "date"}
	for _, k := range keys {
		mt.Put([]byte(k), []byte(k))
	}

	first := mt.FirstKey()
	last := mt.LastKey()
	if string(first) != "apple" {
		t.Fatalf("expected FirstKey apple, got %q", first)
	}
	if string(last) != "date" {
		t.Fatalf("expected LastKey date, got %q", last)
	}

	records := mt.Records()
	for i := 1; i < len(records); i++ {
		if bytes.Compare(records[i-1].key, records[i].key) >= 0 {
			t.Fatalf("Records() not strictly ascending at index %d: %q >= %q", i, records[i-1].key, records[i].key)
		}
	}
}

func TestMemTableRangeAndPrefix(t *testing.T) {
	mt := NewMemTable(1024 * 1024)
	for _, k := range []string{"a1", "a2", "b1", "b2", "c1"} {
		mt.Put([]byte(k), []byte(k))
	}

	r := mt.Range([]byte("a2"), []byte("b2"))
	var got []string
	for _, rec := range r {
		got = append(got, string(rec.key))
	}
	if len(got) != 2 || got[0] != "a2" || got[1] != "b1" {
		t.Fatalf("Range(a2,b2) = %v, want [a2 b1]", got)
	}

	p := mt.ScanPrefix([]byte("a"))
	if len(p) != 2 {
		t.Fatalf("ScanPrefix(a) returned %d records, want 2", len(p))
	}
}

func TestMemTableIsFull(t *testing.T) {
	mt := NewMemTable(32)
	if mt.IsFull() {
		t.Fatalf("empty memtable should not be full")
	}
	mt.Put([]byte("a-very-long-key-value-pair"), []byte("more-bytes-than-the-cap-allows"))
	if !mt.IsFull() {
		t.Fatalf("expected memtable to report full once size exceeds cap")
	}
}

func TestMemTableOverwritePreservesSingleEntry(t *testing.T) {
	mt := NewMemTable(1024 * 1024)
	mt.Put([]byte("k"), []byte("v1"))
	mt.Put([]byte("k"), []byte("v2"))
	if mt.Len() != 1 {
		t.Fatalf("expected overwrite to keep a single logical entry, got Len()=%d", mt.Len())
	}
	v, _, found := mt.Get([]byte("k"))
	if !found || string(v) != "v2" {
		t.Fatalf("expected latest value v2, got %q found=%v", v, found)
	}
}
