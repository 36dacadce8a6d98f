package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/store"
)

func newDescriptor(t *testing.T, opts ...store.LocalOption) *store.LocalDescriptor {
	t.Helper()
	d, err := store.NewLocalDescriptor(store.KindSQLite, filepath.Join(t.TempDir(), "data", "app.db"), opts...)
	require.NoError(t, err)
	return d
}

func TestCreateAndSchemaVersion(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)

	_, exists, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	version, exists, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "v1.0.0", version)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t, store.WithOpenOptions(map[string]any{"busy_timeout": 250, "cache_size": -2000}))
	require.NoError(t, drv.Create(ctx, desc, "v1.2.0"))

	h, err := drv.Open(ctx, desc)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "v1.2.0", h.SchemaVersion())

	s, ok := h.(*Store)
	require.True(t, ok)
	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 250, timeout)
}

func TestPragmasRejectBadOptions(t *testing.T) {
	_, err := pragmas(map[string]any{"temp_store_directory": "/tmp"})
	assert.Error(t, err)

	_, err = pragmas(map[string]any{"synchronous": "OFF; DROP TABLE x"})
	assert.Error(t, err)

	stmts, err := pragmas(map[string]any{"SYNCHRONOUS": "FULL"})
	require.NoError(t, err)
	assert.Equal(t, "PRAGMA journal_mode=WAL", stmts[0])
	assert.Contains(t, stmts, "PRAGMA synchronous=FULL")
}

func TestSchemaVersionUnreadable(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)

	t.Run("not a database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.db")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("this is not sqlite ", 100)), 0644))

		_, exists, err := drv.SchemaVersion(ctx, path)
		assert.True(t, exists)
		assert.ErrorIs(t, err, store.ErrUnreadable)
	})

	t.Run("foreign database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "other.db")
		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		_, err = db.Exec("CREATE TABLE widgets (id INTEGER PRIMARY KEY)")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, exists, err := drv.SchemaVersion(ctx, path)
		assert.True(t, exists)
		assert.ErrorIs(t, err, store.ErrUnreadable)
	})
}

func TestApplyMigrationProgressive(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	mappings := filepath.Join(t.TempDir(), "mappings")
	require.NoError(t, os.MkdirAll(mappings, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mappings, "v2.0.0_notes.sql"),
		[]byte("-- +migrate Up\nCREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);\n-- +migrate Down\nDROP TABLE notes;\n"), 0644))

	desc := newDescriptor(t, store.WithMappingSearchPaths(mappings))
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	engine, err := migration.NewEngine("2.1.0", nil)
	require.NoError(t, err)
	plan, err := engine.Plan(desc, "v1.0.0", false)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	require.NoError(t, drv.ApplyMigration(ctx, desc.Location(), plan))

	h, err := drv.Open(ctx, desc)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, "v2.1.0", h.SchemaVersion())

	var count int
	require.NoError(t, h.(*Store).DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='notes'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestApplyMigrationFailedStepKeepsVersion(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	mappings := filepath.Join(t.TempDir(), "mappings")
	require.NoError(t, os.MkdirAll(mappings, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(mappings, "v2.0.0_broken.sql"), []byte("ALTER TABLE missing ADD COLUMN x;"), 0644))

	desc := newDescriptor(t, store.WithMappingSearchPaths(mappings))
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	plan := migration.Plan{From: "v1.0.0", To: "v2.0.0", Steps: []migration.Step{
		{Version: "v2.0.0", Label: "broken", Path: filepath.Join(mappings, "v2.0.0_broken.sql")},
	}}
	assert.Error(t, drv.ApplyMigration(ctx, desc.Location(), plan))

	version, _, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", version)
}

func TestApplyMigrationLightweight(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	require.NoError(t, drv.ApplyMigration(ctx, desc.Location(), migration.Plan{From: "v1.0.0", To: "v1.3.0", Lightweight: true}))

	version, _, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.Equal(t, "v1.3.0", version)
}

func TestPrepareEraseSwitchesJournalMode(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	require.NoError(t, drv.PrepareErase(ctx, desc.Location(), "v1.0.0"))

	db, err := sql.Open("sqlite", desc.Location())
	require.NoError(t, err)
	defer db.Close()
	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "delete", strings.ToLower(mode))
}

func TestPrepareEraseMissingStore(t *testing.T) {
	drv := New(nil)
	assert.NoError(t, drv.PrepareErase(context.Background(), filepath.Join(t.TempDir(), "none.db"), ""))
}

func TestStoreFiles(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "app.db")
	for _, name := range []string{location, location + "-shm", location + "-wal", filepath.Join(dir, "unrelated.db")} {
		require.NoError(t, os.WriteFile(name, nil, 0644))
	}

	main, aux, err := New(nil).StoreFiles(location)
	require.NoError(t, err)
	assert.Equal(t, location, main)
	assert.Equal(t, []string{location + "-shm", location + "-wal"}, aux)
}

func TestEraseAndRecreate(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	require.NoError(t, store.NewCoordinator(nil).EraseAndWait(ctx, drv, desc, "v1.0.0"))

	entries, err := os.ReadDir(filepath.Dir(desc.Location()))
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, drv.Create(ctx, desc, "v2.0.0"))
	version, _, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", version)
}

func TestPrepareEraseNotADatabase(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(desc.Location()), 0755))
	require.NoError(t, os.WriteFile(desc.Location(), []byte(strings.Repeat("garbage ", 64)), 0644))

	_, _, err := drv.SchemaVersion(ctx, desc.Location())
	require.ErrorIs(t, err, store.ErrUnreadable)

	require.NoError(t, drv.PrepareErase(ctx, desc.Location(), ""))
	require.NoError(t, store.NewCoordinator(nil).EraseAndWait(ctx, drv, desc, ""))

	entries, err := os.ReadDir(filepath.Dir(desc.Location()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsDatabase(t *testing.T) {
	dir := t.TempDir()
	created := filepath.Join(dir, "created.db")
	require.NoError(t, New(nil).Create(context.Background(), newDescriptorAt(t, created), "v1.0.0"))

	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"empty", nil, true},
		{"short", []byte("SQLite"), false},
		{"garbage", []byte(strings.Repeat("x", 200)), false},
		{"header only", append([]byte("SQLite format 3\x00"), make([]byte, 84)...), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, tt.content, 0644))
			got, err := isDatabase(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := isDatabase(created)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSchemaVersionFollowsInsertOrder(t *testing.T) {
	ctx := context.Background()
	drv := New(nil)
	desc := newDescriptor(t)
	require.NoError(t, drv.Create(ctx, desc, "v1.0.0"))

	// a clock that moved backwards records the newer version with an older timestamp
	db, err := sql.Open("sqlite", desc.Location())
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_migrations SET applied_at = 2000000000`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES ('v1.1.0', 1000)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	version, _, err := drv.SchemaVersion(ctx, desc.Location())
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0", version)
}

func newDescriptorAt(t *testing.T, location string) *store.LocalDescriptor {
	t.Helper()
	d, err := store.NewLocalDescriptor(store.KindSQLite, location)
	require.NoError(t, err)
	return d
}
