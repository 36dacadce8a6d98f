package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, opts MigrationOptions) *LocalDescriptor {
	t.Helper()
	d, err := NewLocalDescriptor(KindSQLite, filepath.Join(t.TempDir(), "app.db"), WithMigrationOptions(opts))
	require.NoError(t, err)
	return d
}

// allOptionSets enumerates every combination of the three flags.
func allOptionSets() []MigrationOptions {
	var sets []MigrationOptions
	for bits := 0; bits <= allOptions.Bits(); bits++ {
		sets = append(sets, OptionsFromBits(bits))
	}
	return sets
}

func TestResolveCompatibleAlwaysOpensDirectly(t *testing.T) {
	for _, opts := range allOptionSets() {
		for _, sync := range []bool{true, false} {
			d := newLocal(t, opts)
			got := Resolve(d, Compatible, sync)
			assert.Equal(t, Decision{Action: OpenDirectly}, got, "options=%s sync=%v", opts, sync)
		}
	}
}

func TestResolveUnreadableAlwaysFails(t *testing.T) {
	for _, opts := range allOptionSets() {
		for _, sync := range []bool{true, false} {
			d := newLocal(t, opts)
			got := Resolve(d, Unreadable, sync)
			assert.Equal(t, Fail, got.Action, "options=%s sync=%v", opts, sync)
			assert.Equal(t, ReasonUnreadable, got.Reason)
			assert.ErrorIs(t, got.Err(), ErrUnreadable)
		}
	}
}

func TestResolveRecreateTakesPrecedence(t *testing.T) {
	for _, opts := range allOptionSets() {
		if !opts.IsSet(RecreateOnModelMismatch) {
			continue
		}
		for _, mismatch := range []MismatchState{LightweightCompatible, HeavyweightRequired} {
			for _, sync := range []bool{true, false} {
				got := Resolve(newLocal(t, opts), mismatch, sync)
				assert.Equal(t, RecreateStore, got.Action, "options=%s mismatch=%s sync=%v", opts, mismatch, sync)
				assert.NoError(t, got.Err())
			}
		}
	}
}

func TestResolvePreventProgressiveFailsHeavyweight(t *testing.T) {
	for _, opts := range []MigrationOptions{
		PreventProgressiveMigration,
		PreventProgressiveMigration | AllowSynchronousLightweightMigration,
	} {
		for _, sync := range []bool{true, false} {
			got := Resolve(newLocal(t, opts), HeavyweightRequired, sync)
			assert.Equal(t, Decision{Action: Fail, Reason: ReasonMigrationRequired}, got)
			assert.ErrorIs(t, got.Err(), ErrMigrationRequired)
		}
	}
}

func TestResolveSynchronousLightweight(t *testing.T) {
	d := newLocal(t, AllowSynchronousLightweightMigration)

	assert.Equal(t, AttemptLightweightMigration, Resolve(d, LightweightCompatible, true).Action)
	assert.NotEqual(t, AttemptLightweightMigration, Resolve(d, LightweightCompatible, false).Action)
	assert.Equal(t, AttemptProgressiveMigration, Resolve(d, LightweightCompatible, false).Action)
}

func TestResolveTable(t *testing.T) {
	tests := []struct {
		opts     MigrationOptions
		mismatch MismatchState
		sync     bool
		want     Decision
	}{
		{None, HeavyweightRequired, true, Decision{Action: AttemptProgressiveMigration}},
		{None, HeavyweightRequired, false, Decision{Action: AttemptProgressiveMigration}},
		{RecreateOnModelMismatch | PreventProgressiveMigration, LightweightCompatible, true, Decision{Action: RecreateStore}},
		{None, LightweightCompatible, true, Decision{Action: AttemptProgressiveMigration}},
		{PreventProgressiveMigration, LightweightCompatible, true, Decision{Action: Fail, Reason: ReasonMigrationRequired}},
		{PreventProgressiveMigration | AllowSynchronousLightweightMigration, LightweightCompatible, true, Decision{Action: AttemptLightweightMigration}},
		{PreventProgressiveMigration | AllowSynchronousLightweightMigration, LightweightCompatible, false, Decision{Action: Fail, Reason: ReasonMigrationRequired}},
		{AllowSynchronousLightweightMigration, HeavyweightRequired, true, Decision{Action: AttemptProgressiveMigration}},
		{None, MismatchState(42), true, Decision{Action: Fail, Reason: ReasonUnreadable}},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s/%s/sync=%v", tt.opts, tt.mismatch, tt.sync)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(newLocal(t, tt.opts), tt.mismatch, tt.sync))
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "recreate_store", Decision{Action: RecreateStore}.String())
	assert.Equal(t, "fail(migration_required)", Decision{Action: Fail, Reason: ReasonMigrationRequired}.String())
	assert.Equal(t, "heavyweight_required", HeavyweightRequired.String())
}
