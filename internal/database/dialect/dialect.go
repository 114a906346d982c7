package dialect

import (
	"fmt"

	"github.com/federata/federata/internal/database/common"
)

// TriggerSpec carries everything the trigger installer needs to generate the
// row-level insert/update/delete trigger for one table
type TriggerSpec struct {
	Schema        string
	Table         string
	Sequence      string
	Tombstone     string
	ServerID      string
	PKColumns     []string
	TrackingWidth int
}

// BackfillSpec carries the parameters of the initial tracking id backfill
type BackfillSpec struct {
	Schema   string
	Table    string
	Sequence string
	ServerID string
}

// ColumnMatch pairs a target table column with the temp table column it is
// matched against in tombstone deletes
type ColumnMatch struct {
	TargetColumn string
	TempColumn   string
}

// Dialect is the capability set every supported database family implements.
// Generators interpolate identifiers only; values always flow as bound
// parameters.
type Dialect interface {
	// Name returns the family tag
	Name() string

	// Placeholder returns the 1-based bind placeholder for this family
	Placeholder(i int) string

	// DefaultSchema returns the family's default schema name
	DefaultSchema() string

	// QuoteIdentifier quotes a single identifier
	QuoteIdentifier(name string) string

	// QualifyTable quotes and joins a schema-qualified table name
	QualifyTable(schema, table string) string

	// TempTableName derives the session temp table name from a base name
	TempTableName(base string) string

	// CreateTempTable creates a session-local temporary table, idempotently
	CreateTempTable(name string, columnsDDL []string) string

	// NormalizeColumnType maps a raw information_schema type to its
	// canonical name
	NormalizeColumnType(raw string) string

	// IdentityInsert toggles identity inserts for a table; empty string
	// means no statement is needed
	IdentityInsert(schema, table string, on bool) string

	// AddColumnIfMissing adds a column when absent
	AddColumnIfMissing(schema, table, column, typeDDL string) string

	// AddTrackingColumn adds the unique tracking_id column when absent
	AddTrackingColumn(schema, table string, width int) []string

	// AddLastUpdatedColumn adds the last_updated timestamp column when
	// absent, defaulted to the current timestamp
	AddLastUpdatedColumn(schema, table string) string

	// CreateSequenceIfMissing creates the cycling 1..99 tracking sequence in
	// the table's schema
	CreateSequenceIfMissing(schema, name string) string

	// CreateTombstoneTable creates the deletion table for a target table
	CreateTombstoneTable(schema, name string, trackingWidth int) string

	// UpsertFromTemp merges temp table rows into the target: missing rows
	// are inserted, existing rows are updated only when the incoming
	// last-writer column is strictly greater
	UpsertFromTemp(schema, table, temp string, pkCols, allCols []string, lastWriterCol string) string

	// TombstoneDeleteFromTemp deletes target rows matching any temp row on
	// the given column pairs
	TombstoneDeleteFromTemp(schema, table, temp string, matches []ColumnMatch) string

	// InstallTrigger returns the idempotent statements installing the
	// insert/update/delete trigger
	InstallTrigger(spec TriggerSpec) []string

	// CreateBackfillProcedure returns the statements defining the initial
	// tracking id backfill routine for a table
	CreateBackfillProcedure(spec BackfillSpec) []string

	// CallBackfill returns one invocation of the backfill routine together
	// with its bound arguments
	CallBackfill(spec BackfillSpec, batchSize int, datetime string) (string, []interface{})
}

// ForFamily returns the dialect for a member's database family
func ForFamily(family string) (Dialect, error) {
	switch family {
	case common.FamilyPostgres:
		return &postgresDialect{}, nil
	case common.FamilySQLServer:
		return &sqlserverDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown database family: %s", family)
	}
}
