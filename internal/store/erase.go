package store

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/maloquacious/goobstore/internal/logger"
)

// Coordinator performs destructive store recreation. It holds no per-store
// state; every call works only from its arguments.
type Coordinator struct {
	log    logger.Logger
	remove func(name string) error
}

// NewCoordinator returns a Coordinator that deletes files with os.Remove.
func NewCoordinator(log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Discard
	}
	return &Coordinator{
		log:    log.With("component", "erase"),
		remove: os.Remove,
	}
}

// EraseAndWait deletes every file of the store described by desc, blocking
// until done. The steps run in order and each failure stops the sequence:
//
//  1. backend.PrepareErase; failure returns ErrPrepareFailed and deletes nothing.
//  2. backend.StoreFiles; failure returns ErrEnumerationFailed and deletes nothing.
//  3. auxiliary files are removed, then the main file. The first failure
//     returns ErrPartialDelete; removed files stay removed.
//
// ctx is passed to the pre-erase hook only. Deletion is not cancellable.
// Callers must not run EraseAndWait concurrently with any other operation on
// the same location.
func (c *Coordinator) EraseAndWait(ctx context.Context, backend Eraser, desc LocalStorage, sourceSchema string) error {
	location := desc.Location()
	log := c.log.With("kind", string(desc.Kind()), "location", location)

	if err := backend.PrepareErase(ctx, location, sourceSchema); err != nil {
		log.Error("pre-erase hook failed", "error", err)
		return &EraseError{Kind: ErrPrepareFailed, Location: location, Err: err}
	}

	main, aux, err := backend.StoreFiles(location)
	if err != nil {
		log.Error("store file enumeration failed", "error", err)
		return &EraseError{Kind: ErrEnumerationFailed, Location: location, Err: err}
	}

	files := make([]string, 0, len(aux)+1)
	files = append(files, aux...)
	if main != "" {
		files = append(files, main)
	}
	log.Debug("erasing store files", "files", files, "source_schema", sourceSchema)

	for i, name := range files {
		if err := c.remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error("store partially deleted", "file", name, "deleted", i, "remaining", len(files)-i, "error", err)
			return &EraseError{
				Kind:      ErrPartialDelete,
				Location:  location,
				Deleted:   files[:i:i],
				Remaining: files[i:],
				Err:       err,
			}
		}
	}

	log.Info("store erased", "files", len(files))
	return nil
}
