package store

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// MigrationOptions is a set of independent flags telling the stack how to
// set up a local store. The bit values are stable and match the bridged
// integer representation.
type MigrationOptions uint8

const (
	// None fails or migrates according to the default rules.
	None MigrationOptions = 0

	// RecreateOnModelMismatch deletes and recreates the store on any model
	// mismatch. It takes precedence over every other flag.
	RecreateOnModelMismatch MigrationOptions = 1 << 0

	// PreventProgressiveMigration turns a required progressive migration into a failure.
	PreventProgressiveMigration MigrationOptions = 1 << 1

	// AllowSynchronousLightweightMigration permits lightweight migration when
	// the store is added synchronously.
	AllowSynchronousLightweightMigration MigrationOptions = 1 << 2

	allOptions = RecreateOnModelMismatch | PreventProgressiveMigration | AllowSynchronousLightweightMigration
)

var optionNames = []struct {
	flag MigrationOptions
	name string
}{
	{RecreateOnModelMismatch, "recreate_on_model_mismatch"},
	{PreventProgressiveMigration, "prevent_progressive_migration"},
	{AllowSynchronousLightweightMigration, "allow_synchronous_lightweight_migration"},
}

// IsSet reports whether every bit of flag is set in o.
func (o MigrationOptions) IsSet(flag MigrationOptions) bool {
	return flag != None && o&flag == flag
}

// Union returns o combined with others.
func (o MigrationOptions) Union(others ...MigrationOptions) MigrationOptions {
	for _, other := range others {
		o |= other
	}
	return o
}

// Bits returns the integer form used at bridging boundaries.
func (o MigrationOptions) Bits() int {
	return int(o)
}

// OptionsFromBits converts the integer form back. Unknown bits are dropped.
func OptionsFromBits(bits int) MigrationOptions {
	return MigrationOptions(bits) & allOptions
}

func (o MigrationOptions) String() string {
	if o&allOptions == None {
		return "none"
	}
	var names []string
	for _, n := range optionNames {
		if o.IsSet(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseMigrationOptions parses option names. Each argument may itself be a
// comma separated list. "none" and empty entries are ignored.
func ParseMigrationOptions(names ...string) (MigrationOptions, error) {
	var o MigrationOptions
	for _, arg := range names {
		for _, raw := range strings.Split(arg, ",") {
			name := strings.ToLower(strings.TrimSpace(raw))
			name = strings.ReplaceAll(name, "-", "_")
			if name == "" || name == "none" {
				continue
			}
			found := false
			for _, n := range optionNames {
				if n.name == name {
					o |= n.flag
					found = true
					break
				}
			}
			if !found {
				return None, fmt.Errorf("unknown migration option %q", raw)
			}
		}
	}
	return o, nil
}

var _ pflag.Value = (*MigrationOptions)(nil)

// Set adds the named options to o, so repeated flags accumulate.
func (o *MigrationOptions) Set(value string) error {
	parsed, err := ParseMigrationOptions(value)
	if err != nil {
		return err
	}
	*o = o.Union(parsed)
	return nil
}

func (o *MigrationOptions) Type() string {
	return "migrationOptions"
}
