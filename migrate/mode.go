package migrate

import (
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/util"
)

// Mode decides what happens when a live table differs from its desired
// schema.
type Mode string

const (
	// ModeSafe never changes an existing table; a mismatch is an error.
	ModeSafe Mode = "safe"
	// ModeAlter alters the table column by column when the primary key is
	// unchanged and recreates it otherwise.
	ModeAlter Mode = "alter"
	// ModeDrop drops and recreates the table on any change.
	ModeDrop Mode = "drop"
)

// ResolveMode picks the migration mode from config. An unset mode follows the
// legacy drop_table_on_schema_change flag, and production environments are
// always safe.
func ResolveMode(config database.GeneratorConfig) Mode {
	mode := Mode(config.Migration)
	if mode == "" {
		if config.DropTableOnSchemaChange {
			mode = ModeDrop
		} else {
			mode = ModeSafe
		}
	}
	if util.IsProduction(config.Environment) {
		mode = ModeSafe
	}
	return mode
}
