// Package stack adds stores to a running application. For local stores it
// reads the on-disk schema version, resolves the migration policy and then
// opens, migrates or recreates the store.
package stack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/metrics"
	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/store"
)

var (
	// ErrAsyncMigrationRequired is returned by AddStorageAndWait when the
	// policy calls for a progressive migration.
	ErrAsyncMigrationRequired = errors.New("progressive migration must run asynchronously")
	// ErrLocationBusy means another operation on the same location is in flight.
	ErrLocationBusy = errors.New("store location is busy")
	// ErrNoDriver means no driver is registered for the descriptor's kind.
	ErrNoDriver = errors.New("no driver for store kind")
)

// Driver is any backend driver.
type Driver interface {
	Kind() store.Kind
}

// LocalDriver manages stores kept in files.
type LocalDriver interface {
	Driver
	store.Eraser
	migration.Applier
	SchemaVersion(ctx context.Context, location string) (version string, exists bool, err error)
	Create(ctx context.Context, desc store.LocalStorage, version string) error
	Open(ctx context.Context, desc store.LocalStorage) (store.Handle, error)
}

// TransientDriver opens stores that have no files.
type TransientDriver interface {
	Driver
	OpenTransient(ctx context.Context, desc store.Storage, version string) (store.Handle, error)
}

// Result is an added store together with how it was brought up.
type Result struct {
	store.Handle
	Decision store.Decision
	Created  bool
}

// Stack holds the drivers and migration engine used to add stores.
type Stack struct {
	engine    *migration.Engine
	local     map[store.Kind]LocalDriver
	transient map[store.Kind]TransientDriver
	erase     *store.Coordinator
	log       logger.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	busy map[string]struct{}
	wg   sync.WaitGroup
}

// Option configures a Stack.
type Option func(*Stack) error

// WithDriver registers a driver. It must implement LocalDriver or TransientDriver.
func WithDriver(d Driver) Option {
	return func(s *Stack) error {
		switch drv := d.(type) {
		case LocalDriver:
			s.local[drv.Kind()] = drv
		case TransientDriver:
			s.transient[drv.Kind()] = drv
		default:
			return fmt.Errorf("driver %q is neither local nor transient", d.Kind())
		}
		return nil
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Stack) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stack) error {
		s.metrics = m
		return nil
	}
}

// New returns a Stack that brings stores to engine's expected version.
func New(engine *migration.Engine, opts ...Option) (*Stack, error) {
	if engine == nil {
		return nil, errors.New("stack: migration engine is required")
	}
	s := &Stack{
		engine:    engine,
		local:     make(map[store.Kind]LocalDriver),
		transient: make(map[store.Kind]TransientDriver),
		log:       logger.Discard,
		busy:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("component", "stack")
	s.erase = store.NewCoordinator(s.log)
	return s, nil
}

// AddStorageAndWait adds desc and blocks until the store is open or has
// failed. Progressive migrations are refused with ErrAsyncMigrationRequired.
func (s *Stack) AddStorageAndWait(ctx context.Context, desc store.Storage) (*Result, error) {
	return s.add(ctx, desc, true)
}

// AddStorage adds desc in the background and calls completion exactly once
// with the outcome. Use Wait to block until all pending adds are done.
func (s *Stack) AddStorage(ctx context.Context, desc store.Storage, completion func(*Result, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.add(ctx, desc, false)
		if completion != nil {
			completion(res, err)
		}
	}()
}

// Wait blocks until every AddStorage call has completed.
func (s *Stack) Wait() {
	s.wg.Wait()
}

func (s *Stack) add(ctx context.Context, desc store.Storage, synchronous bool) (*Result, error) {
	started := time.Now()
	log := s.log.With("attempt", uuid.NewString(), "kind", string(desc.Kind()), "synchronous", synchronous)

	var (
		res *Result
		err error
	)
	if local, ok := desc.(store.LocalStorage); ok {
		res, err = s.addLocal(ctx, local, synchronous, log)
	} else {
		res, err = s.addTransient(ctx, desc, log)
	}
	s.metrics.ObserveOpen(string(desc.Kind()), err == nil, time.Since(started))
	if err != nil {
		log.Error("add storage failed", "error", err)
		return nil, err
	}
	log.Info("storage added", "decision", res.Decision.String(), "created", res.Created, "version", res.SchemaVersion())
	return res, nil
}

func (s *Stack) addTransient(ctx context.Context, desc store.Storage, log logger.Logger) (*Result, error) {
	drv, ok := s.transient[desc.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDriver, desc.Kind())
	}
	h, err := drv.OpenTransient(ctx, desc, s.engine.Expected())
	if err != nil {
		return nil, err
	}
	log.Debug("opened transient store", "configuration", desc.Configuration())
	return &Result{Handle: h, Decision: store.Decision{Action: store.OpenDirectly}, Created: true}, nil
}

func (s *Stack) addLocal(ctx context.Context, desc store.LocalStorage, synchronous bool, log logger.Logger) (*Result, error) {
	drv, ok := s.local[desc.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDriver, desc.Kind())
	}
	release, err := s.acquire(desc.Location())
	if err != nil {
		return nil, err
	}
	defer release()

	location := desc.Location()
	log = log.With("location", location)

	onDisk, exists, mismatch, err := s.inspect(ctx, drv, location)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := drv.Create(ctx, desc, s.engine.Expected()); err != nil {
			return nil, fmt.Errorf("create store %s: %w", location, err)
		}
		h, err := drv.Open(ctx, desc)
		if err != nil {
			return nil, err
		}
		return &Result{Handle: h, Decision: store.Decision{Action: store.OpenDirectly}, Created: true}, nil
	}

	decision := store.Resolve(desc, mismatch, synchronous)
	s.metrics.ObserveDecision(string(desc.Kind()), decision.Action.String())
	log.Info("resolved migration policy",
		"on_disk", onDisk,
		"expected", s.engine.Expected(),
		"mismatch", mismatch.String(),
		"options", desc.MigrationOptions().String(),
		"decision", decision.String())

	res := &Result{Decision: decision}
	switch decision.Action {
	case store.OpenDirectly:
	case store.AttemptLightweightMigration:
		if err := s.migrate(ctx, drv, desc, onDisk, true); err != nil {
			return nil, err
		}
	case store.AttemptProgressiveMigration:
		if synchronous {
			return nil, fmt.Errorf("%s: %w", location, ErrAsyncMigrationRequired)
		}
		if err := s.migrate(ctx, drv, desc, onDisk, false); err != nil {
			return nil, err
		}
	case store.RecreateStore:
		if err := s.recreate(ctx, drv, desc, onDisk); err != nil {
			return nil, err
		}
		res.Created = true
	default:
		return nil, fmt.Errorf("add storage %s: %w", location, decision.Err())
	}

	h, err := drv.Open(ctx, desc)
	if err != nil {
		return nil, err
	}
	res.Handle = h
	return res, nil
}

// inspect reads the on-disk version and classifies it. A store the driver
// cannot read is reported as Unreadable rather than as an error.
func (s *Stack) inspect(ctx context.Context, drv LocalDriver, location string) (string, bool, store.MismatchState, error) {
	onDisk, exists, err := drv.SchemaVersion(ctx, location)
	switch {
	case errors.Is(err, store.ErrUnreadable):
		return "", true, store.Unreadable, nil
	case err != nil:
		return "", false, store.Unreadable, fmt.Errorf("read schema version of %s: %w", location, err)
	case !exists:
		return "", false, store.Compatible, nil
	}
	return onDisk, true, s.engine.Classify(onDisk), nil
}

func (s *Stack) migrate(ctx context.Context, drv LocalDriver, desc store.LocalStorage, onDisk string, lightweight bool) error {
	plan, err := s.engine.Plan(desc, onDisk, lightweight)
	if err != nil {
		return err
	}
	if err := drv.ApplyMigration(ctx, desc.Location(), plan); err != nil {
		return fmt.Errorf("migrate %s from %s to %s: %w", desc.Location(), plan.From, plan.To, err)
	}
	return nil
}

func (s *Stack) recreate(ctx context.Context, drv LocalDriver, desc store.LocalStorage, onDisk string) error {
	err := s.erase.EraseAndWait(ctx, drv, desc, onDisk)
	s.metrics.ObserveErase(string(desc.Kind()), eraseResult(err))
	if err != nil {
		return err
	}
	if err := drv.Create(ctx, desc, s.engine.Expected()); err != nil {
		return fmt.Errorf("create store %s: %w", desc.Location(), err)
	}
	return nil
}

// Erase deletes the store at desc's location without opening it.
func (s *Stack) Erase(ctx context.Context, desc store.LocalStorage) error {
	drv, ok := s.local[desc.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDriver, desc.Kind())
	}
	release, err := s.acquire(desc.Location())
	if err != nil {
		return err
	}
	defer release()

	onDisk, _, _, err := s.inspect(ctx, drv, desc.Location())
	if err != nil {
		s.log.Warn("erasing without a source schema", "kind", string(desc.Kind()), "location", desc.Location(), "error", err)
	}
	err = s.erase.EraseAndWait(ctx, drv, desc, onDisk)
	s.metrics.ObserveErase(string(desc.Kind()), eraseResult(err))
	return err
}

// Inspection describes a local store without changing it.
type Inspection struct {
	Location     string
	Exists       bool
	OnDisk       string
	Expected     string
	Mismatch     store.MismatchState
	Synchronous  store.Decision
	Asynchronous store.Decision
}

// Inspect reports what adding desc would do on each path.
func (s *Stack) Inspect(ctx context.Context, desc store.LocalStorage) (Inspection, error) {
	drv, ok := s.local[desc.Kind()]
	if !ok {
		return Inspection{}, fmt.Errorf("%w: %s", ErrNoDriver, desc.Kind())
	}
	onDisk, exists, mismatch, err := s.inspect(ctx, drv, desc.Location())
	if err != nil {
		return Inspection{}, err
	}
	in := Inspection{
		Location: desc.Location(),
		Exists:   exists,
		OnDisk:   onDisk,
		Expected: s.engine.Expected(),
		Mismatch: mismatch,
	}
	if exists {
		in.Synchronous = store.Resolve(desc, mismatch, true)
		in.Asynchronous = store.Resolve(desc, mismatch, false)
	}
	return in, nil
}

func (s *Stack) acquire(location string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[location]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLocationBusy, location)
	}
	s.busy[location] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, location)
		s.mu.Unlock()
	}, nil
}

func eraseResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrPrepareFailed):
		return "prepare_failed"
	case errors.Is(err, store.ErrEnumerationFailed):
		return "enumeration_failed"
	case errors.Is(err, store.ErrPartialDelete):
		return "partial_delete"
	}
	return "error"
}
