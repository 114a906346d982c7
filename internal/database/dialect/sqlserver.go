package dialect

import (
	"fmt"
	"strings"

	"github.com/federata/federata/internal/database/common"
)

type sqlserverDialect struct{}

func (d *sqlserverDialect) Name() string {
	return common.FamilySQLServer
}

func (d *sqlserverDialect) Placeholder(i int) string {
	return fmt.Sprintf("@p%d", i)
}

func (d *sqlserverDialect) DefaultSchema() string {
	return "dbo"
}

func (d *sqlserverDialect) QuoteIdentifier(name string) string {
	// Double any embedded closing brackets, then wrap the name
	name = strings.ReplaceAll(name, "]", "]]")
	return fmt.Sprintf("[%s]", name)
}

func (d *sqlserverDialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *sqlserverDialect) TempTableName(base string) string {
	return "#" + base
}

func (d *sqlserverDialect) CreateTempTable(name string, columnsDDL []string) string {
	temp := d.TempTableName(name)
	return fmt.Sprintf("IF OBJECT_ID('tempdb..%s') IS NULL CREATE TABLE %s (%s)",
		temp, d.QuoteIdentifier(temp), strings.Join(columnsDDL, ", "))
}

func (d *sqlserverDialect) NormalizeColumnType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch t {
	case "datetimeoffset":
		return "datetime2"
	default:
		return t
	}
}

func (d *sqlserverDialect) IdentityInsert(schema, table string, on bool) string {
	state := "OFF"
	if on {
		state = "ON"
	}
	return fmt.Sprintf("IF OBJECTPROPERTY(OBJECT_ID('%s.%s'), 'TableHasIdentity') = 1 SET IDENTITY_INSERT %s %s",
		schema, table, d.QualifyTable(schema, table), state)
}

func (d *sqlserverDialect) AddColumnIfMissing(schema, table, column, typeDDL string) string {
	return fmt.Sprintf("IF COL_LENGTH('%s.%s', '%s') IS NULL ALTER TABLE %s ADD %s %s",
		schema, table, column,
		d.QualifyTable(schema, table), d.QuoteIdentifier(column), typeDDL)
}

func (d *sqlserverDialect) AddTrackingColumn(schema, table string, width int) []string {
	indexName := fmt.Sprintf("UX_%s_%s_tracking_id", schema, table)
	return []string{
		d.AddColumnIfMissing(schema, table, "tracking_id", fmt.Sprintf("varchar(%d)", width)),
		// Filtered unique index: rows awaiting backfill still carry NULL
		fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s' AND object_id = OBJECT_ID('%s.%s')) CREATE UNIQUE NONCLUSTERED INDEX %s ON %s (%s) WHERE %s IS NOT NULL",
			indexName, schema, table,
			d.QuoteIdentifier(indexName), d.QualifyTable(schema, table),
			d.QuoteIdentifier("tracking_id"), d.QuoteIdentifier("tracking_id")),
	}
}

func (d *sqlserverDialect) AddLastUpdatedColumn(schema, table string) string {
	return d.AddColumnIfMissing(schema, table, "last_updated", "datetime2 DEFAULT CURRENT_TIMESTAMP")
}

func (d *sqlserverDialect) CreateSequenceIfMissing(schema, name string) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.sequences WHERE name = '%s' AND schema_id = SCHEMA_ID('%s')) CREATE SEQUENCE %s AS int START WITH 1 INCREMENT BY 1 MINVALUE 1 MAXVALUE %d CYCLE",
		name, schema, d.QualifyTable(schema, name), common.TrackingSequenceMax)
}

func (d *sqlserverDialect) CreateTombstoneTable(schema, name string, trackingWidth int) string {
	return fmt.Sprintf(
		"IF OBJECT_ID('%s.%s', 'U') IS NULL CREATE TABLE %s (%s bigint IDENTITY(1,1) PRIMARY KEY, %s datetime2 NOT NULL DEFAULT CURRENT_TIMESTAMP, %s varchar(%d))",
		schema, name,
		d.QualifyTable(schema, name),
		d.QuoteIdentifier("deletion_id"),
		d.QuoteIdentifier("deletion_time"),
		d.QuoteIdentifier("row_tracking_id"),
		trackingWidth)
}

func (d *sqlserverDialect) UpsertFromTemp(schema, table, temp string, pkCols, allCols []string, lastWriterCol string) string {
	// Without primary key columns the unique tracking id is the match key
	matchCols := pkCols
	if len(matchCols) == 0 {
		matchCols = []string{"tracking_id"}
	}

	matchSet := make(map[string]bool, len(matchCols))
	onConditions := make([]string, len(matchCols))
	for i, c := range matchCols {
		matchSet[strings.ToLower(c)] = true
		onConditions[i] = fmt.Sprintf("t.%s = s.%s", d.QuoteIdentifier(c), d.QuoteIdentifier(c))
	}

	var updateSet []string
	insertCols := make([]string, len(allCols))
	insertVals := make([]string, len(allCols))
	for i, c := range allCols {
		insertCols[i] = d.QuoteIdentifier(c)
		insertVals[i] = "s." + d.QuoteIdentifier(c)
		if matchSet[strings.ToLower(c)] {
			continue
		}
		updateSet = append(updateSet, fmt.Sprintf("t.%s = s.%s", d.QuoteIdentifier(c), d.QuoteIdentifier(c)))
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "MERGE %s AS t USING %s AS s ON %s",
		d.QualifyTable(schema, table),
		d.QuoteIdentifier(d.TempTableName(temp)),
		strings.Join(onConditions, " AND "))

	if len(updateSet) > 0 {
		// Last-writer-wins: only overwrite strictly older rows
		fmt.Fprintf(&stmt, " WHEN MATCHED AND s.%s > t.%s THEN UPDATE SET %s",
			d.QuoteIdentifier(lastWriterCol),
			d.QuoteIdentifier(lastWriterCol),
			strings.Join(updateSet, ", "))
	}

	fmt.Fprintf(&stmt, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "))

	return stmt.String()
}

func (d *sqlserverDialect) TombstoneDeleteFromTemp(schema, table, temp string, matches []ColumnMatch) string {
	target := d.QualifyTable(schema, table)

	conditions := make([]string, len(matches))
	for i, m := range matches {
		conditions[i] = fmt.Sprintf("d.%s = t.%s",
			d.QuoteIdentifier(m.TempColumn), d.QuoteIdentifier(m.TargetColumn))
	}

	return fmt.Sprintf("DELETE t FROM %s t WHERE EXISTS (SELECT 1 FROM %s d WHERE %s)",
		target, d.QuoteIdentifier(d.TempTableName(temp)), strings.Join(conditions, " AND "))
}

func (d *sqlserverDialect) triggerName(spec TriggerSpec) string {
	return fmt.Sprintf("%s_%s_sync_trigger", spec.Schema, spec.Table)
}

func (d *sqlserverDialect) InstallTrigger(spec TriggerSpec) []string {
	target := d.QualifyTable(spec.Schema, spec.Table)
	tombstone := d.QualifyTable(spec.Schema, spec.Tombstone)
	triggerName := d.triggerName(spec)
	qualifiedTrigger := d.QualifyTable(spec.Schema, triggerName)

	pkSelect := make([]string, len(spec.PKColumns))
	pkVars := make([]string, len(spec.PKColumns))
	pkWhere := make([]string, len(spec.PKColumns))
	for i, c := range spec.PKColumns {
		pkSelect[i] = d.QuoteIdentifier(c)
		pkVars[i] = fmt.Sprintf("@k%d", i+1)
		pkWhere[i] = fmt.Sprintf("%s = @k%d", d.QuoteIdentifier(c), i+1)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "CREATE TRIGGER %s ON %s AFTER INSERT, UPDATE, DELETE AS\n", qualifiedTrigger, target)
	body.WriteString("BEGIN\n")
	body.WriteString("    SET NOCOUNT ON;\n")
	// Only fire for top-level statements
	fmt.Fprintf(&body, "    IF TRIGGER_NESTLEVEL(OBJECT_ID('%s.%s')) > 1 RETURN;\n", spec.Schema, triggerName)
	body.WriteString("    IF EXISTS (SELECT 1 FROM inserted) AND EXISTS (SELECT 1 FROM deleted)\n")
	body.WriteString("    BEGIN\n")
	fmt.Fprintf(&body, "        UPDATE t SET last_updated = CURRENT_TIMESTAMP FROM %s t INNER JOIN inserted i ON t.tracking_id = i.tracking_id WHERE i.tracking_id IS NOT NULL;\n", target)
	body.WriteString("    END\n")
	body.WriteString("    ELSE IF EXISTS (SELECT 1 FROM inserted)\n")
	body.WriteString("    BEGIN\n")
	fmt.Fprintf(&body, "        DECLARE %s;\n", strings.Join(prefixEach(pkVars, "", " sql_variant"), ", "))
	fmt.Fprintf(&body, "        DECLARE row_cursor CURSOR LOCAL FAST_FORWARD FOR SELECT %s FROM inserted WHERE tracking_id IS NULL;\n",
		strings.Join(pkSelect, ", "))
	body.WriteString("        OPEN row_cursor;\n")
	fmt.Fprintf(&body, "        FETCH NEXT FROM row_cursor INTO %s;\n", strings.Join(pkVars, ", "))
	body.WriteString("        WHILE @@FETCH_STATUS = 0\n")
	body.WriteString("        BEGIN\n")
	fmt.Fprintf(&body, "            UPDATE %s SET tracking_id = '%s' + FORMAT(CURRENT_TIMESTAMP, 'yyyyMMddHHmmss') + RIGHT('0' + CAST(NEXT VALUE FOR %s AS varchar(2)), 2), last_updated = CURRENT_TIMESTAMP WHERE %s;\n",
		target, spec.ServerID, d.QualifyTable(spec.Schema, spec.Sequence), strings.Join(pkWhere, " AND "))
	fmt.Fprintf(&body, "            FETCH NEXT FROM row_cursor INTO %s;\n", strings.Join(pkVars, ", "))
	body.WriteString("        END\n")
	body.WriteString("        CLOSE row_cursor;\n")
	body.WriteString("        DEALLOCATE row_cursor;\n")
	body.WriteString("    END\n")
	body.WriteString("    ELSE IF EXISTS (SELECT 1 FROM deleted)\n")
	body.WriteString("    BEGIN\n")
	fmt.Fprintf(&body, "        INSERT INTO %s (row_tracking_id, deletion_time) SELECT tracking_id, CURRENT_TIMESTAMP FROM deleted WHERE tracking_id IS NOT NULL;\n", tombstone)
	body.WriteString("    END\n")
	body.WriteString("END")

	return []string{
		fmt.Sprintf("IF OBJECT_ID('%s.%s', 'TR') IS NOT NULL DROP TRIGGER %s", spec.Schema, triggerName, qualifiedTrigger),
		body.String(),
	}
}

func prefixEach(vars []string, prefix, suffix string) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = prefix + v + suffix
	}
	return out
}

func (d *sqlserverDialect) CreateBackfillProcedure(spec BackfillSpec) []string {
	// The backfill runs as a dynamic-SQL batch rather than a stored
	// procedure; there is nothing to create up front
	return nil
}

func (d *sqlserverDialect) CallBackfill(spec BackfillSpec, batchSize int, datetime string) (string, []interface{}) {
	target := d.QualifyTable(spec.Schema, spec.Table)

	var batch strings.Builder
	fmt.Fprintf(&batch, "UPDATE TOP (%d) %s SET tracking_id = '%s' + FORMAT(CURRENT_TIMESTAMP, 'yyyyMMddHHmmss') + RIGHT('0' + CAST(NEXT VALUE FOR %s AS varchar(2)), 2) WHERE tracking_id IS NULL",
		batchSize, target, spec.ServerID, d.QualifyTable(spec.Schema, spec.Sequence))

	return batch.String(), nil
}
