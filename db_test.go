package hybridkv

import (
	"errors"
	"testing"
	"time"
)

func TestDBPutGetDelete(t *testing.T) {
	db, err := Open("test", DefaultConfig(), nil, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := db.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get(k) = %q, err=%v", v, err)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err = db.Get([]byte("k"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDBGetServesFromCacheOnSecondRead(t *testing.T) {
	db, err := Open("test", DefaultConfig(), nil, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Put([]byte("k"), []byte("v"))
	db.Get([]byte("k")) // k is already in L1: Put inserted it there

	statsBefore := db.CacheStats()
	v, err := db.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get(k) = %q err=%v", v, err)
	}
	statsAfter := db.CacheStats()
	if statsAfter.L1Hits <= statsBefore.L1Hits {
		t.Fatalf("expected repeated Get to register an L1 cache hit")
	}
}

func TestDBPutBatchEmitsEventsInOrder(t *testing.T) {
	db, err := Open("test", DefaultConfig(), nil, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	events := db.SubscribeAll()
	keys := []string{"a", "b", "c"}
	entries := []BatchEntry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}
	if err := db.PutBatch(entries); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	for i, want := range keys {
		select {
		case e := <-events:
			if string(e.Key) != want {
				t.Fatalf("event %d key = %q, want %q", i, e.Key, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestDBGetBatchSkipsMissingKeys(t *testing.T) {
	db, err := Open("test", DefaultConfig(), nil, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Put([]byte("a"), []byte("1"))
	db.Put([]byte("b"), []byte("2"))

	out, err := db.GetBatch([]string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(out) != 2 || string(out["a"]) != "1" || string(out["b"]) != "2" {
		t.Fatalf("GetBatch result = %+v", out)
	}
}

func TestDBReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open("test", DefaultConfig(), nil, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Put([]byte("k"), []byte("v"))
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open("test", DefaultConfig(), nil, dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer db2.Close()

	v, err := db2.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("Get(k) after reopen = %q err=%v", v, err)
	}
}

func TestDBInvalidateCachePattern(t *testing.T) {
	db, err := Open("test", DefaultConfig(), nil, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.Put([]byte("user:1"), []byte("a"))
	if err := db.InvalidateCachePattern("user:*"); err != nil {
		t.Fatalf("InvalidateCachePattern: %v", err)
	}
	statsBefore := db.CacheStats()
	db.Get([]byte("user:1"))
	statsAfter := db.CacheStats()
	if statsAfter.L1Misses <= statsBefore.L1Misses {
		t.Fatalf("expected the invalidated key to miss L1 on next read")
	}
}

func TestDBOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentOps = -1
	_, err := Open("test", cfg, nil, t.TempDir())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
