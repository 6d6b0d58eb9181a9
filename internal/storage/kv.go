package storage

import "errors"

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// KVStats contains storage engine statistics.
type KVStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size.
	LSMSize uint64

	// ValueLogSize is the value log size.
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCRuns is the number of value log files rewritten by GC.
	GCRuns uint64
}

// KVConfig configures the embedded KV engine backing the local store.
type KVConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string `koanf:"dir"`

	// InMemory keeps everything in memory. Used by tests and ephemeral
	// kiosk devices.
	InMemory bool `koanf:"in_memory"`

	Badger BadgerConfig `koanf:"badger"`
}

// BadgerConfig contains Badger tuning parameters. Defaults are sized for
// low-end phones and single-board devices, not servers.
type BadgerConfig struct {
	// GCInterval is the interval between automatic value log GC runs.
	// Default: 10m
	GCInterval string `koanf:"gc_interval"`

	// GCThreshold is the discard ratio passed to RunValueLogGC (0.0-1.0).
	// Default: 0.5
	GCThreshold float64 `koanf:"gc_threshold"`

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64 `koanf:"cache_size"`

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 64MB
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int `koanf:"num_memtables"`

	// SyncWrites fsyncs after each commit. A record confirmed to the user
	// must survive a crash, so this defaults to true.
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// InMemoryKVConfig returns a configuration for a memory-only engine.
func InMemoryKVConfig() KVConfig {
	cfg := DefaultKVConfig("")
	cfg.InMemory = true
	return cfg
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
		NumMemtables:     2,
		SyncWrites:       true,
	}
}
