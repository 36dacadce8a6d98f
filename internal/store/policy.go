package store

// Action is what the stack should do with a store it is about to open.
type Action int

const (
	OpenDirectly Action = iota
	AttemptLightweightMigration
	AttemptProgressiveMigration
	RecreateStore
	Fail
)

func (a Action) String() string {
	switch a {
	case OpenDirectly:
		return "open_directly"
	case AttemptLightweightMigration:
		return "attempt_lightweight_migration"
	case AttemptProgressiveMigration:
		return "attempt_progressive_migration"
	case RecreateStore:
		return "recreate_store"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// FailReason qualifies a Fail decision.
type FailReason int

const (
	ReasonNone FailReason = iota
	ReasonUnreadable
	ReasonMigrationRequired
)

func (r FailReason) String() string {
	switch r {
	case ReasonUnreadable:
		return "unreadable"
	case ReasonMigrationRequired:
		return "migration_required"
	}
	return "none"
}

// Decision is the outcome of Resolve. It is produced fresh for every open
// attempt and must not be cached.
type Decision struct {
	Action Action
	Reason FailReason
}

func (d Decision) String() string {
	if d.Action == Fail {
		return "fail(" + d.Reason.String() + ")"
	}
	return d.Action.String()
}

// Err returns the error matching a Fail decision, nil otherwise.
func (d Decision) Err() error {
	if d.Action != Fail {
		return nil
	}
	switch d.Reason {
	case ReasonUnreadable:
		return ErrUnreadable
	case ReasonMigrationRequired:
		return ErrMigrationRequired
	}
	return nil
}

func failWith(reason FailReason) Decision {
	return Decision{Action: Fail, Reason: reason}
}

// Resolve picks the action for opening desc given its mismatch state and
// whether the open is synchronous. Rules are evaluated in order:
//
//   - Compatible opens directly and Unreadable fails, whatever the options.
//   - RecreateOnModelMismatch wins over every migration flag.
//   - Lightweight migration runs inline only when the open is synchronous and
//     AllowSynchronousLightweightMigration is set; otherwise it is deferred to
//     the progressive path.
//   - PreventProgressiveMigration turns a progressive migration into a failure.
//
// Resolve is pure and safe for concurrent use.
func Resolve(desc LocalStorage, mismatch MismatchState, synchronous bool) Decision {
	opts := desc.MigrationOptions()

	switch mismatch {
	case Compatible:
		return Decision{Action: OpenDirectly}
	case LightweightCompatible:
		if opts.IsSet(RecreateOnModelMismatch) {
			return Decision{Action: RecreateStore}
		}
		if synchronous && opts.IsSet(AllowSynchronousLightweightMigration) {
			return Decision{Action: AttemptLightweightMigration}
		}
		if opts.IsSet(PreventProgressiveMigration) {
			return failWith(ReasonMigrationRequired)
		}
		return Decision{Action: AttemptProgressiveMigration}
	case HeavyweightRequired:
		if opts.IsSet(RecreateOnModelMismatch) {
			return Decision{Action: RecreateStore}
		}
		if opts.IsSet(PreventProgressiveMigration) {
			return failWith(ReasonMigrationRequired)
		}
		return Decision{Action: AttemptProgressiveMigration}
	}
	return failWith(ReasonUnreadable)
}
