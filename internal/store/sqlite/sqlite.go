package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/store"
)

// defaultPragmas are applied on every open. Open options with the same key override them.
var defaultPragmas = map[string]string{
	"journal_mode": "WAL",
	"synchronous":  "NORMAL",
	"foreign_keys": "ON",
	"busy_timeout": "5000",
}

// pragmaOrder fixes the order pragmas run in; journal_mode goes first.
var pragmaOrder = []string{"journal_mode", "synchronous", "foreign_keys", "busy_timeout", "cache_size"}

var pragmaValue = regexp.MustCompile(`^-?[A-Za-z0-9_]+$`)

// Driver is the SQLite backend driver.
type Driver struct {
	log logger.Logger
}

// New creates a SQLite Driver.
func New(log logger.Logger) *Driver {
	if log == nil {
		log = logger.Discard
	}
	return &Driver{log: log.With("component", "store", "kind", string(store.KindSQLite))}
}

func (d *Driver) Kind() store.Kind {
	return store.KindSQLite
}

// Store is an open SQLite store.
type Store struct {
	path    string
	db      *sql.DB
	version string
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) SchemaVersion() string {
	return s.version
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// pragmas merges open options over the defaults. Unknown keys and values
// that are not plain words or numbers are rejected.
func pragmas(openOptions map[string]any) ([]string, error) {
	values := make(map[string]string, len(defaultPragmas))
	for k, v := range defaultPragmas {
		values[k] = v
	}
	for k, v := range openOptions {
		key := strings.ToLower(k)
		if !isKnownPragma(key) {
			return nil, fmt.Errorf("unsupported sqlite open option %q", k)
		}
		s := fmt.Sprint(v)
		if !pragmaValue.MatchString(s) {
			return nil, fmt.Errorf("invalid value %q for sqlite open option %q", s, k)
		}
		values[key] = s
	}
	var out []string
	for _, key := range pragmaOrder {
		if v, ok := values[key]; ok {
			out = append(out, fmt.Sprintf("PRAGMA %s=%s", key, v))
		}
	}
	return out, nil
}

func isKnownPragma(key string) bool {
	for _, k := range pragmaOrder {
		if k == key {
			return true
		}
	}
	return false
}

// open opens the database at path with the given pragmas.
func open(ctx context.Context, path string, stmts []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range stmts {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Create makes a new store at desc's location holding version. Parent
// directories are created if needed.
func (d *Driver) Create(ctx context.Context, desc store.LocalStorage, version string) error {
	stmts, err := pragmas(desc.OpenOptions())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(desc.Location()), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	db, err := open(ctx, desc.Location(), stmts)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := initSchema(ctx, db, version); err != nil {
		return err
	}
	d.log.Info("created store", "location", desc.Location(), "version", version)
	return nil
}

// initSchema creates the schema_migrations table and records version.
func initSchema(ctx context.Context, db *sql.DB, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, initialSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, recordVersionSQL, version); err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Open opens an existing store.
func (d *Driver) Open(ctx context.Context, desc store.LocalStorage) (store.Handle, error) {
	stmts, err := pragmas(desc.OpenOptions())
	if err != nil {
		return nil, err
	}
	db, err := open(ctx, desc.Location(), stmts)
	if err != nil {
		return nil, err
	}
	version, err := currentVersion(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.log.Debug("opened store", "location", desc.Location(), "version", version)
	return &Store{path: desc.Location(), db: db, version: version}, nil
}

// SchemaVersion reads the version recorded in the store at location. exists
// is false when there is no main file. A file that is not a database, or a
// database without version tracking, wraps store.ErrUnreadable.
func (d *Driver) SchemaVersion(ctx context.Context, location string) (version string, exists bool, err error) {
	exists, err = store.CheckExists(location)
	if err != nil || !exists {
		return "", exists, err
	}
	db, err := open(ctx, location, nil)
	if err != nil {
		return "", true, err
	}
	defer db.Close()

	version, err = currentVersion(ctx, db)
	return version, true, err
}

// currentVersion returns the newest version in schema_migrations.
func currentVersion(ctx context.Context, db *sql.DB) (string, error) {
	var count int
	if err := db.QueryRowContext(ctx, hasVersionTableSQL).Scan(&count); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrUnreadable, err)
	}
	if count == 0 {
		return "", fmt.Errorf("%w: no schema_migrations table", store.ErrUnreadable)
	}

	var version string
	err := db.QueryRowContext(ctx, currentVersionSQL).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no schema version recorded", store.ErrUnreadable)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

// ApplyMigration runs plan against the store at location. Each mapping step
// runs in its own transaction together with the version it records, so an
// interrupted migration resumes from the last completed step.
func (d *Driver) ApplyMigration(ctx context.Context, location string, plan migration.Plan) error {
	db, err := open(ctx, location, []string{"PRAGMA busy_timeout=5000"})
	if err != nil {
		return err
	}
	defer db.Close()

	log := d.log.With("location", location, "from", plan.From, "to", plan.To)
	for _, step := range plan.Steps {
		body, err := step.Load()
		if err != nil {
			return err
		}
		if err := applyStep(ctx, db, step.Version, body); err != nil {
			return fmt.Errorf("apply mapping %s: %w", step.Path, err)
		}
		log.Info("applied mapping step", "version", step.Version, "label", step.Label)
	}

	last := ""
	if n := len(plan.Steps); n > 0 {
		last = plan.Steps[n-1].Version
	}
	if last != plan.To {
		if err := applyStep(ctx, db, plan.To, ""); err != nil {
			return fmt.Errorf("record version %s: %w", plan.To, err)
		}
	}
	log.Info("migrated store", "lightweight", plan.Lightweight, "steps", len(plan.Steps))
	return nil
}

func applyStep(ctx context.Context, db *sql.DB, version, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if strings.TrimSpace(body) != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, recordVersionSQL, version); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// StoreFiles lists the main database file and any -wal, -shm or -journal
// side files that exist.
func (d *Driver) StoreFiles(location string) (string, []string, error) {
	main, aux, err := store.ExistingFiles(location, auxiliarySuffixes...)
	if err != nil {
		return "", nil, err
	}
	sort.Strings(aux)
	return main, aux, nil
}

// PrepareErase checkpoints the WAL and switches the journal to DELETE mode so
// that closing the connection removes the -wal and -shm files and the main
// file alone holds the store.
func (d *Driver) PrepareErase(ctx context.Context, location string, sourceSchema string) error {
	exists, err := store.CheckExists(location)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	ok, err := isDatabase(location)
	if err != nil {
		return err
	}
	if !ok {
		// nothing to checkpoint; the coordinator deletes it as plain files
		d.log.Warn("store is not a sqlite database, skipping journal switch", "location", location, "source_schema", sourceSchema)
		return nil
	}

	db, err := open(ctx, location, []string{"PRAGMA busy_timeout=5000"})
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.Close()
		return fmt.Errorf("checkpoint wal: %w", err)
	}
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=DELETE").Scan(&mode); err != nil {
		db.Close()
		return fmt.Errorf("set journal mode: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close after journal change: %w", err)
	}
	if !strings.EqualFold(mode, "delete") {
		return fmt.Errorf("journal mode is %q after switching to delete", mode)
	}
	d.log.Debug("prepared store for erase", "location", location, "source_schema", sourceSchema)
	return nil
}

// sqliteHeader starts every SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// isDatabase reports whether the file at path carries the SQLite header. An
// empty file counts as a database: SQLite initialises it on first write.
func isDatabase(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("read database header: %w", err)
	}
	defer f.Close()

	buf := make([]byte, len(sqliteHeader))
	n, err := io.ReadFull(f, buf)
	switch {
	case errors.Is(err, io.EOF):
		return true, nil
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return false, fmt.Errorf("read database header: %w", err)
	}
	return bytes.Equal(buf[:n], sqliteHeader), nil
}

// OpenMemory opens a private in-memory database initialised at version.
// Its contents disappear on Close.
func OpenMemory(ctx context.Context, openOptions map[string]any, version string) (*Store, error) {
	stmts, err := pragmas(openOptions)
	if err != nil {
		return nil, err
	}
	db, err := open(ctx, ":memory:", stmts)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, db, version); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{path: ":memory:", db: db, version: version}, nil
}
