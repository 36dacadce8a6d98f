// Package binary implements a file backend that keeps an opaque payload in
// the store's main file and its schema version in a YAML manifest beside it.
package binary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/store"
)

const (
	manifestSuffix = ".manifest"
	tempSuffix     = ".manifest.tmp"
)

// ErrUnsupported is returned for migrations that need mapping steps; payloads are opaque.
var ErrUnsupported = errors.New("binary store cannot apply mapping steps")

// Manifest is the YAML side file describing a binary store.
type Manifest struct {
	SchemaVersion string    `yaml:"schema_version"`
	Configuration string    `yaml:"configuration,omitempty"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// Driver is the binary file backend driver.
type Driver struct {
	log logger.Logger
	now func() time.Time
}

func New(log logger.Logger) *Driver {
	if log == nil {
		log = logger.Discard
	}
	return &Driver{
		log: log.With("component", "store", "kind", string(store.KindBinary)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (d *Driver) Kind() store.Kind {
	return store.KindBinary
}

// Store is an open binary store.
type Store struct {
	path     string
	manifest Manifest
}

func (s *Store) SchemaVersion() string {
	return s.manifest.SchemaVersion
}

func (s *Store) Manifest() Manifest {
	return s.manifest
}

// ReadPayload returns the whole payload file.
func (s *Store) ReadPayload() ([]byte, error) {
	return os.ReadFile(s.path)
}

// WritePayload replaces the payload file.
func (s *Store) WritePayload(data []byte) error {
	return os.WriteFile(s.path, data, 0644)
}

func (s *Store) Close() error {
	return nil
}

func readManifest(location string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(location + manifestSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, fmt.Errorf("%w: manifest missing", store.ErrUnreadable)
		}
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: parse manifest: %v", store.ErrUnreadable, err)
	}
	if m.SchemaVersion == "" {
		return m, fmt.Errorf("%w: manifest has no schema_version", store.ErrUnreadable)
	}
	return m, nil
}

// writeManifest writes to a temporary file and renames it into place.
func writeManifest(location string, m Manifest) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(location+tempSuffix, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(location+tempSuffix, location+manifestSuffix); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// Create writes an empty payload and a manifest holding version.
func (d *Driver) Create(_ context.Context, desc store.LocalStorage, version string) error {
	location := desc.Location()
	if err := os.MkdirAll(filepath.Dir(location), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	if err := os.WriteFile(location, nil, 0644); err != nil {
		return fmt.Errorf("create payload: %w", err)
	}
	now := d.now()
	m := Manifest{SchemaVersion: version, Configuration: desc.Configuration(), CreatedAt: now, UpdatedAt: now}
	if err := writeManifest(location, m); err != nil {
		return err
	}
	d.log.Info("created store", "location", location, "version", version)
	return nil
}

func (d *Driver) Open(_ context.Context, desc store.LocalStorage) (store.Handle, error) {
	m, err := readManifest(desc.Location())
	if err != nil {
		return nil, err
	}
	return &Store{path: desc.Location(), manifest: m}, nil
}

// SchemaVersion reads the manifest. exists is false when there is no payload file.
func (d *Driver) SchemaVersion(_ context.Context, location string) (string, bool, error) {
	exists, err := store.CheckExists(location)
	if err != nil || !exists {
		return "", exists, err
	}
	m, err := readManifest(location)
	if err != nil {
		return "", true, err
	}
	return m.SchemaVersion, true, nil
}

// ApplyMigration rewrites the manifest version. Plans with mapping steps are
// rejected with ErrUnsupported.
func (d *Driver) ApplyMigration(_ context.Context, location string, plan migration.Plan) error {
	if len(plan.Steps) > 0 {
		return fmt.Errorf("%w (%d steps from %s)", ErrUnsupported, len(plan.Steps), plan.From)
	}
	m, err := readManifest(location)
	if err != nil {
		return err
	}
	m.SchemaVersion = plan.To
	m.UpdatedAt = d.now()
	if err := writeManifest(location, m); err != nil {
		return err
	}
	d.log.Info("migrated store", "location", location, "from", plan.From, "to", plan.To)
	return nil
}

// StoreFiles lists the payload, the manifest and any leftover temporary manifest.
func (d *Driver) StoreFiles(location string) (string, []string, error) {
	return store.ExistingFiles(location, manifestSuffix, tempSuffix)
}

// PrepareErase is a no-op: binary stores keep no journal.
func (d *Driver) PrepareErase(context.Context, string, string) error {
	return nil
}
