// Package instrument prepares member tables for change capture: tracking id
// columns and sequences, last_updated columns, foreign-key sibling tracking
// columns, tombstone tables and row triggers.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/internal/database/dialect"
	"github.com/federata/federata/pkg/logger"
)

// ErrInvalidDatabaseStructure marks a table that cannot be instrumented,
// e.g. one without a primary key
var ErrInvalidDatabaseStructure = errors.New("invalid database structure")

// ErrInstrumentationFailure marks a member whose instrumentation did not
// complete on every table
var ErrInstrumentationFailure = errors.New("instrumentation failure")

// backfillBatch is the row count of one backfill batch, matching the
// sequence range so each batch consumes the full cycle
const backfillBatch = common.TrackingSequenceMax

// Instrumenter installs change tracking onto member tables
type Instrumenter struct {
	store    *catalog.Store
	serverID string
	logger   *logger.Logger
}

// NewInstrumenter creates an instrumenter stamping rows with the given
// server id
func NewInstrumenter(store *catalog.Store, serverID string, logger *logger.Logger) *Instrumenter {
	return &Instrumenter{
		store:    store,
		serverID: serverID,
		logger:   logger,
	}
}

// InstrumentMember instruments every non-tombstone table of a member. Each
// table runs in its own transaction; a failing table is rolled back and
// skipped while the others keep their instrumentation. Any failure leaves
// the member marked uninitialized.
func (ins *Instrumenter) InstrumentMember(ctx context.Context, h *broker.Handle, member *catalog.Member) error {
	d, err := dialect.ForFamily(member.Family)
	if err != nil {
		return err
	}

	tables, err := ins.store.ListTables(ctx, member.ID)
	if err != nil {
		return err
	}

	var failures int
	for _, t := range tables {
		if common.IsTombstoneTable(t.Name) {
			continue
		}
		if err := ins.instrumentTable(ctx, h, d, t); err != nil {
			failures++
			if ins.logger != nil {
				ins.logger.Errorf("Failed to instrument %s.%s on member %s: %v", t.SchemaName, t.Name, member.ID, err)
			}
			continue
		}
	}

	if failures > 0 {
		if err := ins.store.MarkMemberInitialized(ctx, member.ID, false); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d of %d tables failed on member %s", ErrInstrumentationFailure, failures, len(tables), member.ID)
	}

	if err := ins.store.MarkMemberInitialized(ctx, member.ID, true); err != nil {
		return err
	}
	if ins.logger != nil {
		ins.logger.Infof("Instrumented member %s", member.ID)
	}
	return nil
}

// instrumentTable runs the full instrumentation of one table inside one
// member transaction, then records the added sibling columns and tombstone
// link in the catalog
func (ins *Instrumenter) instrumentTable(ctx context.Context, h *broker.Handle, d dialect.Dialect, t catalog.Table) error {
	pkCols, err := ins.store.ListPKColumns(ctx, t.ID)
	if err != nil {
		return err
	}
	if len(pkCols) == 0 {
		return fmt.Errorf("%w: table %s.%s has no primary key", ErrInvalidDatabaseStructure, t.SchemaName, t.Name)
	}

	fks, err := ins.store.ListForeignKeys(ctx, t.ID)
	if err != nil {
		return err
	}

	width := common.TrackingIDWidth(ins.serverID)
	sequence := common.TrackingSequenceName(t.SchemaName, t.Name)
	tombstone := common.TombstoneTableName(t.SchemaName, t.Name)

	tx, err := h.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range d.AddTrackingColumn(t.SchemaName, t.Name, width) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add tracking column: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, d.CreateSequenceIfMissing(t.SchemaName, sequence)); err != nil {
		return fmt.Errorf("failed to create tracking sequence: %w", err)
	}

	spec := dialect.BackfillSpec{
		Schema:   t.SchemaName,
		Table:    t.Name,
		Sequence: sequence,
		ServerID: ins.serverID,
	}
	for _, stmt := range d.CreateBackfillProcedure(spec) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create backfill procedure: %w", err)
		}
	}
	if err := ins.backfill(ctx, tx, d, spec); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, d.AddLastUpdatedColumn(t.SchemaName, t.Name)); err != nil {
		return fmt.Errorf("failed to add last_updated column: %w", err)
	}
	backdate := fmt.Sprintf("UPDATE %s SET %s = CURRENT_TIMESTAMP WHERE %s IS NULL",
		d.QualifyTable(t.SchemaName, t.Name), d.QuoteIdentifier("last_updated"), d.QuoteIdentifier("last_updated"))
	if _, err := tx.Exec(ctx, backdate); err != nil {
		return fmt.Errorf("failed to backdate last_updated: %w", err)
	}

	for _, fk := range fks {
		sibling := fk.ChildColumnName + "_tracking_id"
		stmt := d.AddColumnIfMissing(t.SchemaName, t.Name, sibling, fmt.Sprintf("varchar(%d)", common.FKTrackingWidth))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add sibling tracking column %s: %w", sibling, err)
		}
	}

	if _, err := tx.Exec(ctx, d.CreateTombstoneTable(t.SchemaName, tombstone, width)); err != nil {
		return fmt.Errorf("failed to create tombstone table: %w", err)
	}

	trigger := dialect.TriggerSpec{
		Schema:        t.SchemaName,
		Table:         t.Name,
		Sequence:      sequence,
		Tombstone:     tombstone,
		ServerID:      ins.serverID,
		PKColumns:     pkCols,
		TrackingWidth: width,
	}
	for _, stmt := range d.InstallTrigger(trigger) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install trigger: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit instrumentation: %w", err)
	}

	return ins.recordInstrumentation(ctx, t, fks, width)
}

// backfill assigns tracking ids to pre-existing rows in sequence-sized
// batches. The datetime component must differ between batches, so each
// iteration waits for the wall clock second to advance.
func (ins *Instrumenter) backfill(ctx context.Context, tx *broker.Tx, d dialect.Dialect, spec dialect.BackfillSpec) error {
	remainingQuery := fmt.Sprintf("SELECT count(*) AS remaining FROM %s WHERE %s IS NULL",
		d.QualifyTable(spec.Schema, spec.Table), d.QuoteIdentifier("tracking_id"))

	lastStamp := ""
	for {
		rows, err := tx.Query(ctx, remainingQuery)
		if err != nil {
			return fmt.Errorf("failed to count rows awaiting backfill: %w", err)
		}
		if len(rows) == 0 || asInt64(rows[0]["remaining"]) == 0 {
			return nil
		}

		stamp, err := waitForFreshStamp(ctx, lastStamp)
		if err != nil {
			return err
		}
		lastStamp = stamp

		query, args := d.CallBackfill(spec, backfillBatch, stamp)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to backfill tracking ids: %w", err)
		}
	}
}

// waitForFreshStamp returns the current tracking datetime string, sleeping
// in sub-second steps until it differs from the previous batch's
func waitForFreshStamp(ctx context.Context, last string) (string, error) {
	for {
		stamp := time.Now().Format(common.TrackingTimeLayout)
		if stamp != last {
			return stamp, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// recordInstrumentation refreshes the catalog with the columns and tables
// instrumentation added
func (ins *Instrumenter) recordInstrumentation(ctx context.Context, t catalog.Table, fks []catalog.ForeignKey, width int) error {
	trackingWidth := width
	if _, err := ins.store.UpsertColumn(ctx, t.ID, common.ColumnMetadata{
		Name:      "tracking_id",
		DataType:  "varchar",
		MaxLength: &trackingWidth,
		Nullable:  true,
	}); err != nil {
		return err
	}

	if _, err := ins.store.UpsertColumn(ctx, t.ID, common.ColumnMetadata{
		Name:     "last_updated",
		DataType: "timestamp",
		Nullable: true,
	}); err != nil {
		return err
	}

	fkWidth := common.FKTrackingWidth
	for _, fk := range fks {
		sibling := fk.ChildColumnName + "_tracking_id"
		columnID, err := ins.store.UpsertColumn(ctx, t.ID, common.ColumnMetadata{
			Name:      sibling,
			DataType:  "varchar",
			MaxLength: &fkWidth,
			Nullable:  true,
		})
		if err != nil {
			return err
		}
		if err := ins.store.SetConstraintTrackingRef(ctx, fk.ConstraintID, columnID); err != nil {
			return err
		}
	}

	tombstone := common.TombstoneTableName(t.SchemaName, t.Name)
	tombstoneID, err := ins.store.UpsertTable(ctx, t.SchemaID, tombstone)
	if err != nil {
		return err
	}
	if _, err := ins.store.UpsertColumn(ctx, tombstoneID, common.ColumnMetadata{
		Name: "deletion_id", DataType: "bigint",
	}); err != nil {
		return err
	}
	if _, err := ins.store.UpsertColumn(ctx, tombstoneID, common.ColumnMetadata{
		Name: "deletion_time", DataType: "timestamp",
	}); err != nil {
		return err
	}
	if _, err := ins.store.UpsertColumn(ctx, tombstoneID, common.ColumnMetadata{
		Name: "row_tracking_id", DataType: "varchar", MaxLength: &trackingWidth, Nullable: true,
	}); err != nil {
		return err
	}

	return ins.store.SetDeletionTable(ctx, t.ID, tombstoneID)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
