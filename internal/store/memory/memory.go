// Package memory provides the in-memory backend. Stores never touch disk, so
// they are always created fresh at the expected schema version and never go
// through migration policy.
package memory

import (
	"context"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/store"
	"github.com/maloquacious/goobstore/internal/store/sqlite"
)

type Driver struct {
	log logger.Logger
}

func New(log logger.Logger) *Driver {
	if log == nil {
		log = logger.Discard
	}
	return &Driver{log: log.With("component", "store", "kind", string(store.KindMemory))}
}

func (d *Driver) Kind() store.Kind {
	return store.KindMemory
}

// OpenTransient returns a new, empty in-memory store at version.
func (d *Driver) OpenTransient(ctx context.Context, desc store.Storage, version string) (store.Handle, error) {
	s, err := sqlite.OpenMemory(ctx, desc.OpenOptions(), version)
	if err != nil {
		return nil, err
	}
	d.log.Debug("opened in-memory store", "configuration", desc.Configuration(), "version", version)
	return s, nil
}
