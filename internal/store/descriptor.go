package store

import (
	"errors"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Descriptor is an immutable description of a storage backend.
type Descriptor struct {
	kind          Kind
	configuration string
	openOptions   map[string]any
}

// NewDescriptor validates and returns a Descriptor. An empty configuration
// selects the default model section.
func NewDescriptor(kind Kind, configuration string, openOptions map[string]any) (*Descriptor, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return nil, invalidf("kind is required")
	}
	return &Descriptor{
		kind:          kind,
		configuration: configuration,
		openOptions:   maps.Clone(openOptions),
	}, nil
}

func (d *Descriptor) Kind() Kind {
	return d.kind
}

func (d *Descriptor) Configuration() string {
	return d.configuration
}

// OpenOptions returns a copy of the open options.
func (d *Descriptor) OpenOptions() map[string]any {
	return maps.Clone(d.openOptions)
}

// LocalDescriptor describes a file-backed store.
type LocalDescriptor struct {
	Descriptor
	location     string
	searchPaths  []string
	migrationOpt MigrationOptions
}

// LocalOption customises a LocalDescriptor at construction.
type LocalOption func(*LocalDescriptor)

func WithConfiguration(name string) LocalOption {
	return func(d *LocalDescriptor) { d.configuration = name }
}

func WithOpenOptions(opts map[string]any) LocalOption {
	return func(d *LocalDescriptor) { d.openOptions = maps.Clone(opts) }
}

// WithMappingSearchPaths sets the directories searched for mapping scripts.
func WithMappingSearchPaths(paths ...string) LocalOption {
	return func(d *LocalDescriptor) { d.searchPaths = slices.Clone(paths) }
}

// WithMigrationOptions unions opts into the descriptor's options, so
// application defaults and per-store overrides can both be applied.
func WithMigrationOptions(opts ...MigrationOptions) LocalOption {
	return func(d *LocalDescriptor) { d.migrationOpt = d.migrationOpt.Union(opts...) }
}

// NewLocalDescriptor validates and returns a LocalDescriptor. location may be
// a plain path or a file:// URI. Validation only reads file metadata; it never
// creates files or directories.
func NewLocalDescriptor(kind Kind, location string, opts ...LocalOption) (*LocalDescriptor, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return nil, invalidf("kind is required")
	}
	path, err := ResolveLocation(location)
	if err != nil {
		return nil, err
	}
	d := &LocalDescriptor{
		Descriptor: Descriptor{kind: kind},
		location:   path,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *LocalDescriptor) Location() string {
	return d.location
}

// MappingSearchPaths returns a copy of the search paths.
func (d *LocalDescriptor) MappingSearchPaths() []string {
	return slices.Clone(d.searchPaths)
}

func (d *LocalDescriptor) MigrationOptions() MigrationOptions {
	return d.migrationOpt
}

// ResolveLocation turns a path or file:// URI into a clean absolute path and
// checks that it names a single writable file, or one that can be created in
// the nearest existing ancestor directory.
func ResolveLocation(location string) (string, error) {
	raw := strings.TrimSpace(location)
	if raw == "" {
		return "", invalidf("location is required")
	}
	if strings.HasPrefix(raw, "file:") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", invalidf("location %q: %v", raw, err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", invalidf("location %q: remote host not supported", raw)
		}
		raw = u.Path
		if raw == "" {
			raw = u.Opaque
		}
		if raw == "" {
			return "", invalidf("location %q has no path", location)
		}
	}
	if strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, string(filepath.Separator)) {
		return "", invalidf("location %q names a directory", location)
	}

	path, err := filepath.Abs(raw)
	if err != nil {
		return "", invalidf("location %q: %v", location, err)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return "", invalidf("location %s is a directory, expected file", path)
	case err == nil:
		if err := writable(path); err != nil {
			return "", invalidf("location %s is not writable: %v", path, err)
		}
	}

	// walk up to the nearest existing ancestor; it must be a directory
	dir := filepath.Dir(path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return "", invalidf("parent %s of location %s is not a directory", dir, path)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", invalidf("parent of location %s: %v", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", invalidf("no existing ancestor for location %s", path)
		}
		dir = parent
	}
	if err := writable(dir); err != nil {
		return "", invalidf("location %s cannot be created: %s is not writable: %v", path, dir, err)
	}
	return path, nil
}
