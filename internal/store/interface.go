package store

import "context"

// Kind identifies a storage backend.
type Kind string

const (
	KindSQLite Kind = "sqlite" // SQLite file with WAL journal
	KindBinary Kind = "binary" // opaque payload file plus manifest
	KindMemory Kind = "memory" // in-memory, never touches disk
)

// MismatchState relates a store's on-disk schema version to the expected one.
// It is computed fresh on every open and never persisted.
type MismatchState int

const (
	Compatible            MismatchState = iota // versions match
	LightweightCompatible                      // migratable without an explicit mapping
	HeavyweightRequired                        // needs mapping steps
	Unreadable                                 // not parseable as any known version
)

func (m MismatchState) String() string {
	switch m {
	case Compatible:
		return "compatible"
	case LightweightCompatible:
		return "lightweight_compatible"
	case HeavyweightRequired:
		return "heavyweight_required"
	case Unreadable:
		return "unreadable"
	}
	return "unknown"
}

// Storage describes any storage backend.
type Storage interface {
	// Kind returns the backend identifier
	Kind() Kind

	// Configuration names the model section this store holds; "" is the default section
	Configuration() string

	// OpenOptions returns backend specific open options
	OpenOptions() map[string]any
}

// LocalStorage describes a file-backed store.
type LocalStorage interface {
	Storage

	// Location is the path of the main store file
	Location() string

	// MappingSearchPaths lists directories searched for migration mappings, in order
	MappingSearchPaths() []string

	// MigrationOptions tells the stack how to handle a model mismatch
	MigrationOptions() MigrationOptions
}

// Handle is an open store returned by a backend driver.
type Handle interface {
	// SchemaVersion is the version recorded in the store when it was opened
	SchemaVersion() string

	Close() error
}

// Eraser is implemented by backend drivers whose stores live in files.
// Drivers never delete store files themselves; the Coordinator does.
type Eraser interface {
	// StoreFiles returns the main file and any auxiliary files that currently
	// exist for location. A missing main file is reported as "".
	StoreFiles(location string) (main string, auxiliary []string, err error)

	// PrepareErase puts the store into a state where deleting its files is safe.
	// sourceSchema is a hint for the version found on disk.
	PrepareErase(ctx context.Context, location string, sourceSchema string) error
}
