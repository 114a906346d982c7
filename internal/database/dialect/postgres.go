package dialect

import (
	"fmt"
	"strings"

	"github.com/federata/federata/internal/database/common"
)

type postgresDialect struct{}

func (d *postgresDialect) Name() string {
	return common.FamilyPostgres
}

func (d *postgresDialect) Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

func (d *postgresDialect) DefaultSchema() string {
	return "public"
}

func (d *postgresDialect) QuoteIdentifier(name string) string {
	// Double any embedded quotes, then wrap the name
	name = strings.ReplaceAll(name, `"`, `""`)
	return fmt.Sprintf(`"%s"`, name)
}

func (d *postgresDialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *postgresDialect) TempTableName(base string) string {
	return base
}

func (d *postgresDialect) CreateTempTable(name string, columnsDDL []string) string {
	// ON COMMIT DROP keeps pooled connections from accumulating temp tables
	// across transactions
	return fmt.Sprintf("CREATE TEMPORARY TABLE IF NOT EXISTS %s (%s) ON COMMIT DROP",
		d.QuoteIdentifier(name), strings.Join(columnsDDL, ", "))
}

func (d *postgresDialect) NormalizeColumnType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.TrimSuffix(t, " with time zone")
	t = strings.TrimSuffix(t, " without time zone")
	switch t {
	case "character varying":
		return "varchar"
	case "character":
		return "char"
	case "double precision":
		return "float8"
	default:
		return t
	}
}

func (d *postgresDialect) IdentityInsert(schema, table string, on bool) string {
	// PostgreSQL has no identity-insert toggle
	return ""
}

func (d *postgresDialect) AddColumnIfMissing(schema, table, column, typeDDL string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		d.QualifyTable(schema, table), d.QuoteIdentifier(column), typeDDL)
}

func (d *postgresDialect) AddTrackingColumn(schema, table string, width int) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s varchar(%d) UNIQUE",
			d.QualifyTable(schema, table), d.QuoteIdentifier("tracking_id"), width),
	}
}

func (d *postgresDialect) AddLastUpdatedColumn(schema, table string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s timestamp DEFAULT CURRENT_TIMESTAMP",
		d.QualifyTable(schema, table), d.QuoteIdentifier("last_updated"))
}

func (d *postgresDialect) CreateSequenceIfMissing(schema, name string) string {
	// Schema-qualified so the trigger's and backfill's nextval('schema.name')
	// resolve regardless of search_path
	return fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s INCREMENT BY 1 MINVALUE 1 MAXVALUE %d CYCLE",
		d.QualifyTable(schema, name), common.TrackingSequenceMax)
}

func (d *postgresDialect) CreateTombstoneTable(schema, name string, trackingWidth int) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s bigserial PRIMARY KEY, %s timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP, %s varchar(%d))",
		d.QualifyTable(schema, name),
		d.QuoteIdentifier("deletion_id"),
		d.QuoteIdentifier("deletion_time"),
		d.QuoteIdentifier("row_tracking_id"),
		trackingWidth)
}

func (d *postgresDialect) UpsertFromTemp(schema, table, temp string, pkCols, allCols []string, lastWriterCol string) string {
	// Without primary key columns the unique tracking id is the match key
	matchCols := pkCols
	if len(matchCols) == 0 {
		matchCols = []string{"tracking_id"}
	}

	quotedAll := make([]string, len(allCols))
	for i, c := range allCols {
		quotedAll[i] = d.QuoteIdentifier(c)
	}

	quotedMatch := make([]string, len(matchCols))
	for i, c := range matchCols {
		quotedMatch[i] = d.QuoteIdentifier(c)
	}

	matchSet := make(map[string]bool, len(matchCols))
	for _, c := range matchCols {
		matchSet[strings.ToLower(c)] = true
	}

	var updateSet []string
	for _, c := range allCols {
		if matchSet[strings.ToLower(c)] {
			continue
		}
		updateSet = append(updateSet, fmt.Sprintf("%s = EXCLUDED.%s", d.QuoteIdentifier(c), d.QuoteIdentifier(c)))
	}

	target := d.QualifyTable(schema, table)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		target,
		strings.Join(quotedAll, ", "),
		strings.Join(quotedAll, ", "),
		d.QuoteIdentifier(temp),
		strings.Join(quotedMatch, ", "))

	if len(updateSet) == 0 {
		return stmt + " DO NOTHING"
	}

	// Last-writer-wins: only overwrite strictly older rows
	return fmt.Sprintf("%s DO UPDATE SET %s WHERE %s.%s < EXCLUDED.%s",
		stmt,
		strings.Join(updateSet, ", "),
		target,
		d.QuoteIdentifier(lastWriterCol),
		d.QuoteIdentifier(lastWriterCol))
}

func (d *postgresDialect) TombstoneDeleteFromTemp(schema, table, temp string, matches []ColumnMatch) string {
	target := d.QualifyTable(schema, table)

	conditions := make([]string, len(matches))
	for i, m := range matches {
		conditions[i] = fmt.Sprintf("d.%s = %s.%s",
			d.QuoteIdentifier(m.TempColumn), target, d.QuoteIdentifier(m.TargetColumn))
	}

	return fmt.Sprintf("DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s d WHERE %s)",
		target, d.QuoteIdentifier(temp), strings.Join(conditions, " AND "))
}

func (d *postgresDialect) triggerFunctionName(spec TriggerSpec) string {
	return fmt.Sprintf("%s_%s_sync_row", spec.Schema, spec.Table)
}

func (d *postgresDialect) InstallTrigger(spec TriggerSpec) []string {
	target := d.QualifyTable(spec.Schema, spec.Table)
	tombstone := d.QualifyTable(spec.Schema, spec.Tombstone)
	funcName := d.QualifyTable(spec.Schema, d.triggerFunctionName(spec))
	sequence := fmt.Sprintf("%s.%s", spec.Schema, spec.Sequence)

	var body strings.Builder
	fmt.Fprintf(&body, "CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $trg$\n", funcName)
	body.WriteString("BEGIN\n")
	body.WriteString("    IF TG_OP = 'INSERT' THEN\n")
	body.WriteString("        IF NEW.tracking_id IS NULL THEN\n")
	fmt.Fprintf(&body, "            NEW.tracking_id := '%s' || to_char(CURRENT_TIMESTAMP, 'YYYYMMDDHH24MISS') || lpad(nextval('%s')::text, 2, '0');\n",
		spec.ServerID, sequence)
	// Rows arriving from other members keep their origin last_updated
	body.WriteString("            NEW.last_updated := CURRENT_TIMESTAMP;\n")
	body.WriteString("        END IF;\n")
	body.WriteString("        RETURN NEW;\n")
	body.WriteString("    ELSIF TG_OP = 'UPDATE' THEN\n")
	body.WriteString("        IF NEW.tracking_id IS NOT NULL THEN\n")
	body.WriteString("            NEW.last_updated := CURRENT_TIMESTAMP;\n")
	body.WriteString("        END IF;\n")
	body.WriteString("        RETURN NEW;\n")
	body.WriteString("    ELSIF TG_OP = 'DELETE' THEN\n")
	body.WriteString("        IF OLD.tracking_id IS NOT NULL THEN\n")
	fmt.Fprintf(&body, "            INSERT INTO %s (row_tracking_id, deletion_time) VALUES (OLD.tracking_id, CURRENT_TIMESTAMP);\n", tombstone)
	body.WriteString("        END IF;\n")
	body.WriteString("        RETURN OLD;\n")
	body.WriteString("    END IF;\n")
	body.WriteString("    RETURN NEW;\n")
	body.WriteString("END;\n")
	body.WriteString("$trg$ LANGUAGE plpgsql")

	rowTrigger := fmt.Sprintf("%s_%s_sync_trigger", spec.Schema, spec.Table)
	deleteTrigger := fmt.Sprintf("%s_%s_sync_delete_trigger", spec.Schema, spec.Table)

	// The pg_trigger_depth() guard keeps the triggers from re-entering when
	// the merge pipeline or another trigger writes the same table
	return []string{
		body.String(),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", d.QuoteIdentifier(rowTrigger), target),
		fmt.Sprintf("CREATE TRIGGER %s BEFORE INSERT OR UPDATE ON %s FOR EACH ROW WHEN (pg_trigger_depth() = 0) EXECUTE FUNCTION %s()",
			d.QuoteIdentifier(rowTrigger), target, funcName),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", d.QuoteIdentifier(deleteTrigger), target),
		fmt.Sprintf("CREATE TRIGGER %s AFTER DELETE ON %s FOR EACH ROW WHEN (pg_trigger_depth() = 0) EXECUTE FUNCTION %s()",
			d.QuoteIdentifier(deleteTrigger), target, funcName),
	}
}

func (d *postgresDialect) CreateBackfillProcedure(spec BackfillSpec) []string {
	procName := common.BackfillProcedureName(spec.Schema, spec.Table)
	target := d.QualifyTable(spec.Schema, spec.Table)
	sequence := fmt.Sprintf("%s.%s", spec.Schema, spec.Sequence)

	var body strings.Builder
	fmt.Fprintf(&body, "CREATE OR REPLACE PROCEDURE %s(batch_size integer, datetime_string text) LANGUAGE plpgsql AS $proc$\n",
		d.QuoteIdentifier(procName))
	body.WriteString("DECLARE\n")
	body.WriteString("    r RECORD;\n")
	body.WriteString("BEGIN\n")
	fmt.Fprintf(&body, "    FOR r IN (SELECT ctid FROM %s WHERE tracking_id IS NULL LIMIT batch_size) LOOP\n", target)
	fmt.Fprintf(&body, "        UPDATE %s SET tracking_id = '%s' || datetime_string || lpad(nextval('%s')::text, 2, '0') WHERE ctid = r.ctid;\n",
		target, spec.ServerID, sequence)
	body.WriteString("    END LOOP;\n")
	body.WriteString("END;\n")
	body.WriteString("$proc$")

	return []string{body.String()}
}

func (d *postgresDialect) CallBackfill(spec BackfillSpec, batchSize int, datetime string) (string, []interface{}) {
	procName := common.BackfillProcedureName(spec.Schema, spec.Table)
	return fmt.Sprintf("CALL %s($1, $2)", d.QuoteIdentifier(procName)),
		[]interface{}{batchSize, datetime}
}
