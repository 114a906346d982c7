package common

import (
	"fmt"
	"regexp"
	"time"
)

// TrackingTimeLayout is the datetime component of a tracking id
const TrackingTimeLayout = "20060102150405"

// TrackingSequenceMax is the upper bound of the per-table tracking sequence;
// the sequence cycles through 1..99 and contributes the zero-padded tail
const TrackingSequenceMax = 99

// FKTrackingWidth is the width of foreign-key sibling tracking columns
const FKTrackingWidth = 21

// TrackingIDWidth returns the tracking id column width for a server id:
// the server id followed by a 14-digit timestamp and a 2-digit sequence
func TrackingIDWidth(serverID string) int {
	return len(serverID) + 16
}

// FormatTrackingID composes a tracking id from its three components
func FormatTrackingID(serverID string, at time.Time, sequence int) string {
	return fmt.Sprintf("%s%s%02d", serverID, at.Format(TrackingTimeLayout), sequence%(TrackingSequenceMax+1))
}

// TrackingIDPattern returns a regular expression matching tracking ids
// produced by the given server
func TrackingIDPattern(serverID string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(serverID) + `\d{14}\d{2}$`)
}

// TrackingSequenceName returns the per-table tracking sequence name
func TrackingSequenceName(schema, table string) string {
	return fmt.Sprintf("%s_%s_tracking_id_sequence", schema, table)
}

// TombstoneTableName returns the deletion table name for a replicated table
func TombstoneTableName(schema, table string) string {
	return fmt.Sprintf("%s_%s_deletion", schema, table)
}

// IsTombstoneTable reports whether a table name follows the deletion suffix
// convention
func IsTombstoneTable(table string) bool {
	return len(table) > len("_deletion") && table[len(table)-len("_deletion"):] == "_deletion"
}

// TempTableBase returns the session temp table base name for a target table
func TempTableBase(schema, table string) string {
	return fmt.Sprintf("%s_%s_temporary_table", schema, table)
}

// BackfillProcedureName returns the tracking id backfill procedure name for
// a table
func BackfillProcedureName(schema, table string) string {
	return fmt.Sprintf("set_%s_%s_tracking_id_where_null", schema, table)
}
