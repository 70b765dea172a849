package hybridkv

import (
	"fmt"
	"time"

	"github.com/oarkflow/convert"
)

// Configuration defaults, named and valued per spec section 6.
const (
	DefaultMemTableSize        = 4 * 1024 * 1024 // 4 MiB
	DefaultPageSize            = 4096
	DefaultL1CacheSize         = 1000
	DefaultL2CacheSize         = 10000
	DefaultL3CacheSize         = 100
	DefaultCompressionEnabled  = true
	DefaultSyncWrites          = true
	DefaultMaxImmutableTables  = 4
	DefaultWALMaxFileBytes     = 64 * 1024 * 1024 // 64 MiB
	DefaultMaxConcurrentOps    = 10
	DefaultBatchSize           = 50
	DefaultBatchIntervalMillis = 5

	// MaxLevels is the fixed LSM depth (spec section 3).
	MaxLevels = 7
	// CompactionRatio is the per-level capacity multiplier for L1..L6.
	CompactionRatio = 10
	// L0Capacity is the fixed L0 table-count threshold.
	L0Capacity = 4

	// DefaultBloomFilterBits sizes each SSTable's bloom filter.
	DefaultBloomFilterBits = 10

	// walFlushEntryThreshold is the pending-buffer entry count that
	// forces a synchronous WAL flush (spec section 4.B).
	walFlushEntryThreshold = 1000
	// walFlushInterval is the background timer flush period.
	walFlushInterval = time.Millisecond
)

// Config enumerates every option from spec section 6. Zero-valued
// numeric fields are filled in with their defaults by Open, mirroring
// the zero-means-default idiom the teacher's NewWithConfig uses for its
// own Config struct. The bool fields (CompressionEnabled, SyncWrites)
// are used as given; a zero Config leaves both false.
type Config struct {
	MemTableSizeBytes  int64
	PageSize           int
	L1CacheSize        int
	L2CacheSize        int
	L3CacheSize        int
	CompressionEnabled bool
	SyncWrites         bool
	MaxImmutableTables int
	WALMaxFileBytes    int64
	MaxConcurrentOps   int
	BatchSize          int
	BatchIntervalMs    int
}

// DefaultConfig returns the table of defaults from spec section 6.
func DefaultConfig() Config {
	return Config{
		MemTableSizeBytes:  DefaultMemTableSize,
		PageSize:           DefaultPageSize,
		L1CacheSize:        DefaultL1CacheSize,
		L2CacheSize:        DefaultL2CacheSize,
		L3CacheSize:        DefaultL3CacheSize,
		CompressionEnabled: DefaultCompressionEnabled,
		SyncWrites:         DefaultSyncWrites,
		MaxImmutableTables: DefaultMaxImmutableTables,
		WALMaxFileBytes:    DefaultWALMaxFileBytes,
		MaxConcurrentOps:   DefaultMaxConcurrentOps,
		BatchSize:          DefaultBatchSize,
		BatchIntervalMs:    DefaultBatchIntervalMillis,
	}
}

// withDefaults fills zero fields with DefaultConfig's values, the same
// "if unset, use default" pattern velocity.go's NewWithConfig applies to
// MaxUploadSize and MasterKeyConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemTableSizeBytes == 0 {
		c.MemTableSizeBytes = d.MemTableSizeBytes
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.L1CacheSize == 0 {
		c.L1CacheSize = d.L1CacheSize
	}
	if c.L2CacheSize == 0 {
		c.L2CacheSize = d.L2CacheSize
	}
	if c.L3CacheSize == 0 {
		c.L3CacheSize = d.L3CacheSize
	}
	if c.MaxImmutableTables == 0 {
		c.MaxImmutableTables = d.MaxImmutableTables
	}
	if c.WALMaxFileBytes == 0 {
		c.WALMaxFileBytes = d.WALMaxFileBytes
	}
	if c.MaxConcurrentOps == 0 {
		c.MaxConcurrentOps = d.MaxConcurrentOps
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchIntervalMs == 0 {
		c.BatchIntervalMs = d.BatchIntervalMs
	}
	return c
}

func (c Config) validate() error {
	if c.MemTableSizeBytes <= 0 {
		return fmt.Errorf("%w: memtable_size_bytes must be positive", ErrInvalidConfig)
	}
	if c.L1CacheSize <= 0 || c.L2CacheSize <= 0 || c.L3CacheSize <= 0 {
		return fmt.Errorf("%w: cache sizes must be positive", ErrInvalidConfig)
	}
	if c.MaxImmutableTables <= 0 {
		return fmt.Errorf("%w: max_immutable_memtables must be positive", ErrInvalidConfig)
	}
	if c.WALMaxFileBytes <= 0 {
		return fmt.Errorf("%w: wal_max_file_bytes must be positive", ErrInvalidConfig)
	}
	if c.MaxConcurrentOps <= 0 {
		return fmt.Errorf("%w: max_concurrent_ops must be positive", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	}
	if c.BatchIntervalMs <= 0 {
		return fmt.Errorf("%w: batch_interval_ms must be positive", ErrInvalidConfig)
	}
	return nil
}

// ConfigFromFlags coerces a loosely-typed override map (as a CLI demo or
// config file might produce) into a Config, using the same flexible
// numeric coercion velocity.go's Incr/Decr apply via oarkflow/convert.
func ConfigFromFlags(overrides map[string]any) (Config, error) {
	cfg := DefaultConfig()
	for k, v := range overrides {
		switch k {
		case "memtable_size_bytes":
			n, ok := convert.ToInt64(v)
			if !ok {
				return cfg, fmt.Errorf("%w: memtable_size_bytes must be numeric", ErrInvalidConfig)
			}
			cfg.MemTableSizeBytes = n
		case "wal_max_file_bytes":
			n, ok := convert.ToInt64(v)
			if !ok {
				return cfg, fmt.Errorf("%w: wal_max_file_bytes must be numeric", ErrInvalidConfig)
			}
			cfg.WALMaxFileBytes = n
		case "max_concurrent_ops":
			n, ok := convert.ToFloat64(v)
			if !ok {
				return cfg, fmt.Errorf("%w: max_concurrent_ops must be numeric", ErrInvalidConfig)
			}
			cfg.MaxConcurrentOps = int(n)
		case "batch_size":
			n, ok := convert.ToFloat64(v)
			if !ok {
				return cfg, fmt.Errorf("%w: batch_size must be numeric", ErrInvalidConfig)
			}
			cfg.BatchSize = int(n)
		case "batch_interval_ms":
			n, ok := convert.ToFloat64(v)
			if !ok {
				return cfg, fmt.Errorf("%w: batch_interval_ms must be numeric", ErrInvalidConfig)
			}
			cfg.BatchIntervalMs = int(n)
		case "sync_writes":
			b, ok := convert.ToBool(v)
			if !ok {
				return cfg, fmt.Errorf("%w: sync_writes must be boolean", ErrInvalidConfig)
			}
			cfg.SyncWrites = b
		}
	}
	return cfg.withDefaults(), nil
}
