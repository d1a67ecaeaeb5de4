package types

type RunMode string

const (
	// ModeLocal is the mode for running against a developer database
	ModeLocal RunMode = "local"
	// ModeAPI is the mode used when the allocator is embedded in the API server
	ModeAPI RunMode = "api"
	// ModeJob is the mode for one-off operational jobs such as reconcile
	ModeJob RunMode = "job"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// StoreType selects the backing store of the sequence counters
type StoreType string

const (
	// StorePostgres keeps counters as rows guarded by row level locks.
	// Required once more than one instance allocates numbers.
	StorePostgres StoreType = "postgres"
	// StoreMemory keeps counters in process behind per key mutexes.
	StoreMemory StoreType = "memory"
)
