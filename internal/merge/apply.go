package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/internal/database/dialect"
)

// maxInsertParams caps the bound parameters of one multi-row insert, below
// the sqlserver statement limit of 2100
const maxInsertParams = 900

// applyUpserts materializes a payload section's rows into the table's temp
// table and merges them into the target with last-writer-wins
func (m *Merger) applyUpserts(ctx context.Context, sess *session, tx *broker.Tx, t target) error {
	if len(t.section.Rows) == 0 {
		return nil
	}
	d := sess.dialect

	cols := common.IntersectFold(payloadKeys(t.section.Rows), columnNames(t.columns))
	if len(cols) == 0 {
		if m.logger != nil {
			m.logger.Warnf("No payload columns match table %s.%s, skipping", t.table.SchemaName, t.table.Name)
		}
		return nil
	}

	base := common.TempTableBase(t.table.SchemaName, t.table.Name)
	if err := sess.prepareTemp(ctx, tx, base, t.columns); err != nil {
		return err
	}
	if err := multiRowInsert(ctx, tx, d, base, cols, t.section.Rows); err != nil {
		return err
	}

	pkCols := t.pkColumns
	if len(common.IntersectFold(pkCols, cols)) != len(pkCols) {
		// Incomplete key in the payload, match on the tracking id instead
		pkCols = nil
	}

	if stmt := d.IdentityInsert(t.table.SchemaName, t.table.Name, true); stmt != "" {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to enable identity insert: %w", err)
		}
	}
	upsert := d.UpsertFromTemp(t.table.SchemaName, t.table.Name, base, pkCols, cols, "last_updated")
	if _, err := tx.Exec(ctx, upsert); err != nil {
		return fmt.Errorf("failed to upsert into %s.%s: %w", t.table.SchemaName, t.table.Name, err)
	}
	if stmt := d.IdentityInsert(t.table.SchemaName, t.table.Name, false); stmt != "" {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to disable identity insert: %w", err)
		}
	}
	return nil
}

// applyTombstones materializes a payload section's deleted rows and removes
// the matching target rows, preferring the tracking id and falling back to
// primary-key equality
func (m *Merger) applyTombstones(ctx context.Context, sess *session, tx *broker.Tx, t target) error {
	if len(t.section.DeletedRows) == 0 {
		return nil
	}
	d := sess.dialect

	tombstoneColumns, err := m.tombstoneColumns(ctx, t)
	if err != nil {
		return err
	}
	cols := common.IntersectFold(payloadKeys(t.section.DeletedRows), columnNames(tombstoneColumns))
	if len(cols) == 0 {
		return nil
	}

	base := common.TempTableBase(t.table.SchemaName, t.table.Name+"_deletion")
	if err := sess.prepareTemp(ctx, tx, base, tombstoneColumns); err != nil {
		return err
	}
	if err := multiRowInsert(ctx, tx, d, base, cols, t.section.DeletedRows); err != nil {
		return err
	}

	matches := tombstoneMatches(t, cols)
	if len(matches) == 0 {
		if m.logger != nil {
			m.logger.Warnf("Tombstones for %s.%s carry no usable match columns, skipping", t.table.SchemaName, t.table.Name)
		}
		return nil
	}

	del := d.TombstoneDeleteFromTemp(t.table.SchemaName, t.table.Name, base, matches)
	if _, err := tx.Exec(ctx, del); err != nil {
		return fmt.Errorf("failed to apply tombstones to %s.%s: %w", t.table.SchemaName, t.table.Name, err)
	}
	return nil
}

// tombstoneColumns returns the shape of the target's tombstone table, or
// the conventional shape when the target has none linked yet
func (m *Merger) tombstoneColumns(ctx context.Context, t target) ([]catalog.Column, error) {
	if t.table.DeletionTableID != nil {
		return m.store.ListColumns(ctx, *t.table.DeletionTableID)
	}

	width := 255
	return []catalog.Column{
		{Name: "deletion_id", DataType: "bigint"},
		{Name: "deletion_time", DataType: "timestamp"},
		{Name: "row_tracking_id", DataType: "varchar", MaxLength: &width},
	}, nil
}

// tombstoneMatches pairs temp tombstone columns against target columns:
// the tracking id when both sides carry it, otherwise the primary key
func tombstoneMatches(t target, tempCols []string) []dialect.ColumnMatch {
	hasRowTracking := false
	for _, c := range tempCols {
		if strings.EqualFold(c, "row_tracking_id") {
			hasRowTracking = true
		}
	}
	targetHasTracking := false
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, "tracking_id") {
			targetHasTracking = true
		}
	}
	if hasRowTracking && targetHasTracking {
		return []dialect.ColumnMatch{{TargetColumn: "tracking_id", TempColumn: "row_tracking_id"}}
	}

	var matches []dialect.ColumnMatch
	pkInTemp := common.IntersectFold(t.pkColumns, tempCols)
	if len(pkInTemp) == len(t.pkColumns) {
		for _, pk := range t.pkColumns {
			matches = append(matches, dialect.ColumnMatch{TargetColumn: pk, TempColumn: pk})
		}
	}
	return matches
}

// tempTableStmts derives the temp table's column DDL from catalog metadata
// and returns the statements preparing it for one obligation: an idempotent
// create followed by an unconditional clear. Transactions land on arbitrary
// pooled connections, so the table may or may not exist there already, and
// when it does it can still hold rows committed by an earlier obligation.
func tempTableStmts(d dialect.Dialect, base string, columns []catalog.Column) []string {
	ddl := make([]string, len(columns))
	for i, c := range columns {
		normalized := d.NormalizeColumnType(c.DataType)
		ddl[i] = fmt.Sprintf("%s %s", d.QuoteIdentifier(c.Name),
			common.ColumnTypeDDL(normalized, c.MaxLength, c.NumericPrecision))
	}
	return []string{
		d.CreateTempTable(base, ddl),
		fmt.Sprintf("DELETE FROM %s", d.QuoteIdentifier(d.TempTableName(base))),
	}
}

// prepareTemp readies the temp table for a base name inside the obligation's
// transaction
func (s *session) prepareTemp(ctx context.Context, tx *broker.Tx, base string, columns []catalog.Column) error {
	for _, stmt := range tempTableStmts(s.dialect, base, columns) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare temp table %s: %w", base, err)
		}
	}
	return nil
}

// multiRowInsert loads payload rows into a temp table with chunked
// multi-row parameterized inserts
func multiRowInsert(ctx context.Context, tx *broker.Tx, d dialect.Dialect, base string, cols []string, rows []common.Row) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.TempTableName(base), strings.Join(quoted, ", "))

	rowsPerChunk := maxInsertParams / len(cols)
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	for start := 0; start < len(rows); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var stmt strings.Builder
		stmt.WriteString(prefix)
		args := make([]interface{}, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if i > 0 {
				stmt.WriteString(", ")
			}
			stmt.WriteString("(")
			for j, col := range cols {
				if j > 0 {
					stmt.WriteString(", ")
				}
				stmt.WriteString(d.Placeholder(len(args) + 1))
				args = append(args, rowValue(row, col))
			}
			stmt.WriteString(")")
		}

		if _, err := tx.Exec(ctx, stmt.String(), args...); err != nil {
			return fmt.Errorf("failed to load temp table %s: %w", base, err)
		}
	}
	return nil
}
