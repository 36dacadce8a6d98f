// Package migration decides how far apart an on-disk schema version is from
// the version the application expects, and discovers the mapping scripts
// needed to walk a store forward.
//
// Versions are semantic versions, with or without a leading "v". A store is
// lightweight compatible when it shares the expected major version and is
// older; a different, older major version needs a progressive migration
// through mapping scripts found on the descriptor's mapping search paths.
//
// Mapping scripts are named v<version>_<label>.sql. Only the section after
// "-- +migrate Up" (up to an optional "-- +migrate Down") is executed.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/store"
)

// ErrMappingNotFound means a progressive migration needs mapping scripts and none were found.
var ErrMappingNotFound = errors.New("no mapping found for migration")

// Plan is a migration from one schema version to another.
type Plan struct {
	From        string
	To          string
	Lightweight bool
	Steps       []Step
}

// Applier is implemented by backend drivers that can migrate their stores.
type Applier interface {
	ApplyMigration(ctx context.Context, location string, plan Plan) error
}

// Engine classifies schema versions against an expected version.
type Engine struct {
	expected string
	log      logger.Logger
}

// NewEngine returns an Engine expecting version.
func NewEngine(version string, log logger.Logger) (*Engine, error) {
	v, ok := Normalize(version)
	if !ok {
		return nil, fmt.Errorf("invalid expected schema version %q", version)
	}
	if log == nil {
		log = logger.Discard
	}
	return &Engine{expected: v, log: log.With("component", "migration")}, nil
}

// Normalize returns the canonical "vMAJOR.MINOR.PATCH" form of v.
func Normalize(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// Expected returns the canonical expected version.
func (e *Engine) Expected() string {
	return e.expected
}

// Classify compares an on-disk version with the expected one. Versions that
// are invalid or newer than expected are Unreadable: no known schema
// describes them.
func (e *Engine) Classify(onDisk string) store.MismatchState {
	v, ok := Normalize(onDisk)
	if !ok {
		return store.Unreadable
	}
	switch c := semver.Compare(v, e.expected); {
	case c == 0:
		return store.Compatible
	case c > 0:
		return store.Unreadable
	}
	if semver.Major(v) == semver.Major(e.expected) {
		return store.LightweightCompatible
	}
	return store.HeavyweightRequired
}

// Plan builds the migration plan for desc from onDisk to the expected
// version. Lightweight plans carry no steps. A progressive plan that crosses
// a major version must find at least one mapping step.
func (e *Engine) Plan(desc store.LocalStorage, onDisk string, lightweight bool) (Plan, error) {
	from, ok := Normalize(onDisk)
	if !ok {
		return Plan{}, fmt.Errorf("plan migration: %w", store.ErrUnreadable)
	}
	p := Plan{From: from, To: e.expected, Lightweight: lightweight}
	if lightweight {
		return p, nil
	}

	steps, err := FindSteps(desc.MappingSearchPaths(), from, e.expected)
	if err != nil {
		return Plan{}, err
	}
	if len(steps) == 0 && semver.Major(from) != semver.Major(e.expected) {
		return Plan{}, fmt.Errorf("%w: %s to %s in %v", ErrMappingNotFound, from, e.expected, desc.MappingSearchPaths())
	}
	p.Steps = steps
	e.log.Debug("planned migration", "from", from, "to", e.expected, "steps", len(steps))
	return p, nil
}
