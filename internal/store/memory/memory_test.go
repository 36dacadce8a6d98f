package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maloquacious/goobstore/internal/store"
	"github.com/maloquacious/goobstore/internal/store/sqlite"
)

func TestOpenTransient(t *testing.T) {
	ctx := context.Background()
	desc, err := store.NewDescriptor(store.KindMemory, "Scratch", nil)
	require.NoError(t, err)

	drv := New(nil)
	assert.Equal(t, store.KindMemory, drv.Kind())

	h, err := drv.OpenTransient(ctx, desc, "v3.1.0")
	require.NoError(t, err)
	assert.Equal(t, "v3.1.0", h.SchemaVersion())

	db := h.(*sqlite.Store).DB()
	_, err = db.Exec("CREATE TABLE scratch (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// a second open starts empty
	h2, err := drv.OpenTransient(ctx, desc, "v3.1.0")
	require.NoError(t, err)
	defer h2.Close()
	var count int
	require.NoError(t, h2.(*sqlite.Store).DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='scratch'`).Scan(&count))
	assert.Zero(t, count)
}

func TestOpenTransientRejectsBadOptions(t *testing.T) {
	desc, err := store.NewDescriptor(store.KindMemory, "", map[string]any{"nonsense": 1})
	require.NoError(t, err)

	_, err = New(nil).OpenTransient(context.Background(), desc, "v1.0.0")
	assert.Error(t, err)
}
