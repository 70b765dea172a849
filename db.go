package hybridkv

import (
	"fmt"
	"os"
	"regexp"
)

// DB is the Facade: the only type most callers touch (spec section
// 4.I). It wires a Codec, a MultiLevelCache, a HybridEngine and a
// ChangeBus together behind open/close/put/get/delete/put_batch/
// get_batch/compact.
type DB struct {
	cfg    Config
	codec  Codec
	cache  *MultiLevelCache
	engine *HybridEngine
	bus    *ChangeBus
}

// Open creates the on-disk layout under path (or name, if path is
// empty), opens the WAL and LSM, replays the WAL into a fresh
// MemTable, and constructs the cache and bus (spec section 4.I). A
// nil codec defaults to NoneCodec (identity).
func Open(name string, cfg Config, c Codec, path string) (*DB, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dir := path
	if dir == "" {
		dir = name
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: name or path is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrIO, dir, err)
	}
	if c == nil {
		c = NoneCodec{}
	}

	engine, err := OpenEngine(dir, cfg)
	if err != nil {
		return nil, err
	}

	return &DB{
		cfg:    cfg,
		codec:  c,
		cache:  NewMultiLevelCache(cfg.L1CacheSize, cfg.L2CacheSize, cfg.L3CacheSize),
		engine: engine,
		bus:    NewChangeBus(),
	}, nil
}

// Put encodes value, inserts it into L1, writes it through the engine,
// and emits a Put event (spec section 4.I).
func (db *DB) Put(key, value []byte) error {
	encoded, err := db.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}
	db.cache.Put(string(key), encoded, L1)
	if err := db.engine.Put(key, encoded); err != nil {
		return err
	}
	db.bus.Emit(ChangeEvent{Kind: ChangePut, Key: key, Value: value, TsMs: nowMs()})
	return nil
}

// Get checks the cache first; on a miss it reads through the engine,
// inserts the stored (still encoded) bytes into L1, and decodes them
// (spec section 4.I). Returns ErrNotFound if the key is absent or
// tombstoned.
func (db *DB) Get(key []byte) ([]byte, error) {
	if stored, ok := db.cache.Get(string(key)); ok {
		return db.codec.Decode(stored)
	}
	stored, err := db.engine.Get(key)
	if err != nil {
		return nil, err
	}
	db.cache.Put(string(key), stored, L1)
	decoded, err := db.codec.Decode(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecFailure, err)
	}
	return decoded, nil
}

// Delete removes key from the engine and every cache level, and emits
// a Delete event.
func (db *DB) Delete(key []byte) error {
	if err := db.engine.Delete(key); err != nil {
		return err
	}
	db.cache.Remove(string(key))
	db.bus.Emit(ChangeEvent{Kind: ChangeDelete, Key: key, TsMs: nowMs()})
	return nil
}

// BatchEntry is one key-value pair within an ordered PutBatch call. The
// original (Dart) source's put_batch takes a Map literal, whose
// insertion order that language's Map preserves by construction; a Go
// map[string][]byte has no such guarantee, so the faithful rendering
// takes an ordered slice instead (spec section 8, scenario 6: "observe
// three Put events ... in insertion order").
type BatchEntry struct {
	Key   []byte
	Value []byte
}

// PutBatch applies each entry in slice order through Put (spec section
// 4.I: "each entry is applied atomically per-key; no cross-key
// atomicity required"), emitting one Put event per entry in that same
// order.
func (db *DB) PutBatch(entries []BatchEntry) error {
	for _, entry := range entries {
		if err := db.Put(entry.Key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// GetBatch calls Get per key, omitting keys that are not found rather
// than failing the whole batch.
func (db *DB) GetBatch(keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := db.Get([]byte(k))
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Compact flushes and compacts the underlying engine.
func (db *DB) Compact() error {
	return db.engine.Compact()
}

// Close shuts down the engine, releasing the WAL and LSM file handles,
// and closes the change bus.
func (db *DB) Close() error {
	err := db.engine.Close()
	db.bus.Close()
	return err
}

// InvalidateCachePattern removes every cached key matching pattern
// (literal, or a prefix with a trailing "*") from all cache levels
// without touching the underlying engine state.
func (db *DB) InvalidateCachePattern(pattern string) error {
	re, err := globPatternToRegexp(pattern)
	if err != nil {
		return err
	}
	db.cache.InvalidatePattern(re)
	return nil
}

func globPatternToRegexp(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		return regexp.Compile("^" + regexp.QuoteMeta(pattern[:len(pattern)-1]))
	}
	return regexp.Compile("^" + regexp.QuoteMeta(pattern) + "$")
}

// SubscribeAll returns a channel of every ChangeEvent (spec section 6).
func (db *DB) SubscribeAll() <-chan ChangeEvent {
	return db.bus.SubscribeAll()
}

// SubscribePattern returns a channel of ChangeEvents whose key matches
// pattern (spec section 4.H matching rule).
func (db *DB) SubscribePattern(pattern string) <-chan ChangeEvent {
	return db.bus.SubscribePattern(pattern)
}

// CacheStats reports the multi-level cache's hit/miss counters.
func (db *DB) CacheStats() CacheStats {
	return db.cache.Stats()
}
