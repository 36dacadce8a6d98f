package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/stack"
	"github.com/maloquacious/goobstore/internal/store"
)

const (
	ExitSuccess  = 0
	ExitConfig   = 1
	ExitDatabase = 2
	ExitInput    = 4
	ExitInternal = 10
)

// UserError is an error with a diagnosis and a suggested fix.
type UserError struct {
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	Err      error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for a terminal.
func (e *UserError) Format() string {
	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Error())
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

func configError(err error) *UserError {
	return &UserError{
		Message:  "cannot load configuration",
		Fix:      "check the file passed with --config",
		ExitCode: ExitConfig,
		Err:      err,
	}
}

func inputError(msg, fix string) *UserError {
	return &UserError{Message: msg, Fix: fix, ExitCode: ExitInput}
}

// classify turns any error returned by a command into a UserError.
func classify(err error) *UserError {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}
	database := func(cause, fix string) *UserError {
		return &UserError{Message: "store operation failed", Cause: cause, Fix: fix, ExitCode: ExitDatabase, Err: err}
	}
	var ee *store.EraseError
	switch {
	case errors.Is(err, store.ErrInvalidDescriptor):
		return &UserError{Message: "invalid store descriptor", Fix: "check the store's kind and location", ExitCode: ExitInput, Err: err}
	case errors.Is(err, store.ErrUnreadable):
		return database("the store was written by an unknown schema or is not a store at all",
			"move the file aside or erase it with 'goobstore erase --yes'")
	case errors.Is(err, store.ErrMigrationRequired):
		return database("the schema changed and migration is disabled for this store",
			"remove prevent_progressive_migration or add recreate_on_model_mismatch")
	case errors.Is(err, stack.ErrAsyncMigrationRequired):
		return database("a progressive migration cannot run synchronously",
			"rerun with --async")
	case errors.Is(err, migration.ErrMappingNotFound):
		return database("no mapping scripts lead to the expected schema version",
			"add v<version>_<label>.sql files to a mapping search path")
	case errors.Is(err, stack.ErrLocationBusy):
		return database("another operation is using this store", "retry when it has finished")
	case errors.As(err, &ee) && errors.Is(err, store.ErrPartialDelete):
		return database(fmt.Sprintf("%d file(s) remain: %s", len(ee.Remaining), strings.Join(ee.Remaining, ", ")),
			"remove the remaining files by hand before reopening")
	case errors.Is(err, store.ErrPrepareFailed), errors.Is(err, store.ErrEnumerationFailed):
		return database("nothing was deleted", "check permissions on the store directory")
	}
	return &UserError{Message: "unexpected error", ExitCode: ExitInternal, Err: err}
}
