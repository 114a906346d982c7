package dialect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresBasics(t *testing.T) {
	d := &postgresDialect{}

	assert.Equal(t, "postgres", d.Name())
	assert.Equal(t, "$1", d.Placeholder(1))
	assert.Equal(t, "$12", d.Placeholder(12))
	assert.Equal(t, "public", d.DefaultSchema())
	assert.Equal(t, `"orders"`, d.QuoteIdentifier("orders"))
	assert.Equal(t, `"odd""name"`, d.QuoteIdentifier(`odd"name`))
	assert.Equal(t, `"public"."orders"`, d.QualifyTable("public", "orders"))
	assert.Equal(t, "base", d.TempTableName("base"))
	assert.Equal(t, "", d.IdentityInsert("public", "orders", true))
}

func TestPostgresNormalizeColumnType(t *testing.T) {
	d := &postgresDialect{}

	assert.Equal(t, "varchar", d.NormalizeColumnType("character varying"))
	assert.Equal(t, "char", d.NormalizeColumnType("character"))
	assert.Equal(t, "timestamp", d.NormalizeColumnType("timestamp without time zone"))
	assert.Equal(t, "timestamp", d.NormalizeColumnType("timestamp with time zone"))
	assert.Equal(t, "float8", d.NormalizeColumnType("double precision"))
	assert.Equal(t, "integer", d.NormalizeColumnType("integer"))
}

func TestPostgresIdempotentDDL(t *testing.T) {
	d := &postgresDialect{}

	t.Run("AddColumn", func(t *testing.T) {
		stmt := d.AddColumnIfMissing("public", "orders", "note", "varchar(50)")
		assert.Contains(t, stmt, "ADD COLUMN IF NOT EXISTS")
		assert.Contains(t, stmt, `"note" varchar(50)`)
	})

	t.Run("TrackingColumn", func(t *testing.T) {
		stmts := d.AddTrackingColumn("public", "orders", 21)
		require.Len(t, stmts, 1)
		assert.Contains(t, stmts[0], "IF NOT EXISTS")
		assert.Contains(t, stmts[0], "varchar(21) UNIQUE")
	})

	t.Run("Sequence", func(t *testing.T) {
		stmt := d.CreateSequenceIfMissing("public", "public_orders_tracking_id_sequence")
		assert.Contains(t, stmt, `CREATE SEQUENCE IF NOT EXISTS "public"."public_orders_tracking_id_sequence"`)
		assert.Contains(t, stmt, "MINVALUE 1 MAXVALUE 99 CYCLE")
	})

	t.Run("Tombstone", func(t *testing.T) {
		stmt := d.CreateTombstoneTable("public", "public_orders_deletion", 21)
		assert.Contains(t, stmt, "CREATE TABLE IF NOT EXISTS")
		assert.Contains(t, stmt, `"deletion_id" bigserial PRIMARY KEY`)
		assert.Contains(t, stmt, `"deletion_time" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`)
		assert.Contains(t, stmt, `"row_tracking_id" varchar(21)`)
	})

	t.Run("TempTable", func(t *testing.T) {
		stmt := d.CreateTempTable("public_orders_temporary_table", []string{`"id" integer`})
		assert.Contains(t, stmt, "CREATE TEMPORARY TABLE IF NOT EXISTS")
		// Pooled connections reuse sessions, so the table must not outlive the transaction.
		assert.True(t, strings.HasSuffix(stmt, "ON COMMIT DROP"))
	})
}

func TestPostgresUpsertFromTemp(t *testing.T) {
	d := &postgresDialect{}

	t.Run("LastWriterWins", func(t *testing.T) {
		stmt := d.UpsertFromTemp("public", "orders", "orders_tmp",
			[]string{"id"}, []string{"id", "total", "last_updated"}, "last_updated")

		assert.Contains(t, stmt, `INSERT INTO "public"."orders" ("id", "total", "last_updated")`)
		assert.Contains(t, stmt, `ON CONFLICT ("id") DO UPDATE SET`)
		assert.Contains(t, stmt, `"total" = EXCLUDED."total"`)
		// Strictly-older comparison keeps equal timestamps stable
		assert.Contains(t, stmt, `WHERE "public"."orders"."last_updated" < EXCLUDED."last_updated"`)
		assert.NotContains(t, stmt, `"id" = EXCLUDED."id"`)
	})

	t.Run("NoPrimaryKeyMatchesTrackingID", func(t *testing.T) {
		stmt := d.UpsertFromTemp("public", "orders", "orders_tmp",
			nil, []string{"tracking_id", "total", "last_updated"}, "last_updated")
		assert.Contains(t, stmt, `ON CONFLICT ("tracking_id")`)
	})

	t.Run("OnlyKeyColumnsDoNothing", func(t *testing.T) {
		stmt := d.UpsertFromTemp("public", "orders", "orders_tmp",
			[]string{"id"}, []string{"id"}, "last_updated")
		assert.True(t, strings.HasSuffix(stmt, "DO NOTHING"))
	})
}

func TestPostgresTombstoneDeleteFromTemp(t *testing.T) {
	d := &postgresDialect{}

	stmt := d.TombstoneDeleteFromTemp("public", "orders", "orders_del_tmp", []ColumnMatch{
		{TargetColumn: "tracking_id", TempColumn: "row_tracking_id"},
	})
	assert.Equal(t,
		`DELETE FROM "public"."orders" WHERE EXISTS (SELECT 1 FROM "orders_del_tmp" d WHERE d."row_tracking_id" = "public"."orders"."tracking_id")`,
		stmt)

	multi := d.TombstoneDeleteFromTemp("public", "orders", "orders_del_tmp", []ColumnMatch{
		{TargetColumn: "a", TempColumn: "a"},
		{TargetColumn: "b", TempColumn: "b"},
	})
	assert.Contains(t, multi, ` AND `)
}

func TestPostgresInstallTrigger(t *testing.T) {
	d := &postgresDialect{}
	stmts := d.InstallTrigger(TriggerSpec{
		Schema:        "public",
		Table:         "orders",
		Sequence:      "public_orders_tracking_id_sequence",
		Tombstone:     "public_orders_deletion",
		ServerID:      "SRV01",
		PKColumns:     []string{"id"},
		TrackingWidth: 21,
	})
	require.Len(t, stmts, 5)

	fn := stmts[0]
	assert.Contains(t, fn, "CREATE OR REPLACE FUNCTION")
	assert.Contains(t, fn, "'SRV01' || to_char(CURRENT_TIMESTAMP, 'YYYYMMDDHH24MISS') || lpad(nextval(")
	assert.Contains(t, fn, `INSERT INTO "public"."public_orders_deletion" (row_tracking_id, deletion_time)`)

	assert.Contains(t, stmts[1], "DROP TRIGGER IF EXISTS")
	assert.Contains(t, stmts[2], "BEFORE INSERT OR UPDATE")
	assert.Contains(t, stmts[2], "WHEN (pg_trigger_depth() = 0)")
	assert.Contains(t, stmts[4], "AFTER DELETE")
	assert.Contains(t, stmts[4], "WHEN (pg_trigger_depth() = 0)")
}

// Replicated inserts carry their origin timestamp; stamping them here would let
// the receiving side win every conflict. The stamp must stay inside the guard
// that only fires for locally originated rows.
func TestPostgresTriggerStampsOnlyLocalInserts(t *testing.T) {
	d := &postgresDialect{}
	stmts := d.InstallTrigger(TriggerSpec{
		Schema:        "public",
		Table:         "orders",
		Sequence:      "public_orders_tracking_id_sequence",
		Tombstone:     "public_orders_deletion",
		ServerID:      "SRV01",
		PKColumns:     []string{"id"},
		TrackingWidth: 21,
	})
	fn := stmts[0]

	// Isolate the INSERT branch of the generated function body.
	insertBranch := fn[:strings.Index(fn, "ELSIF")]
	require.Contains(t, insertBranch, "IF NEW.tracking_id IS NULL THEN")

	stamp := strings.Index(insertBranch, "NEW.last_updated := CURRENT_TIMESTAMP;")
	guardEnd := strings.Index(insertBranch, "END IF;")
	require.NotEqual(t, -1, stamp)
	require.NotEqual(t, -1, guardEnd)
	assert.Less(t, stamp, guardEnd)
}

// The sequence DDL, the trigger and the backfill must all name the same
// schema-qualified sequence, or instrumentation breaks outside the
// search_path default.
func TestPostgresSequenceQualificationConsistent(t *testing.T) {
	d := &postgresDialect{}
	const schema, sequence = "sales", "sales_customers_tracking_id_sequence"

	create := d.CreateSequenceIfMissing(schema, sequence)
	assert.Contains(t, create, `"sales"."sales_customers_tracking_id_sequence"`)

	stmts := d.InstallTrigger(TriggerSpec{
		Schema:        schema,
		Table:         "customers",
		Sequence:      sequence,
		Tombstone:     "sales_customers_deletion",
		ServerID:      "SRV01",
		PKColumns:     []string{"id"},
		TrackingWidth: 21,
	})
	assert.Contains(t, stmts[0], "nextval('sales.sales_customers_tracking_id_sequence')")

	proc := d.CreateBackfillProcedure(BackfillSpec{
		Schema: schema, Table: "customers", Sequence: sequence, ServerID: "SRV01",
	})
	assert.Contains(t, proc[0], "nextval('sales.sales_customers_tracking_id_sequence')")
}

func TestPostgresBackfill(t *testing.T) {
	d := &postgresDialect{}
	spec := BackfillSpec{Schema: "public", Table: "orders", Sequence: "public_orders_tracking_id_sequence", ServerID: "SRV01"}

	stmts := d.CreateBackfillProcedure(spec)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], `CREATE OR REPLACE PROCEDURE "set_public_orders_tracking_id_where_null"`)
	assert.Contains(t, stmts[0], "WHERE tracking_id IS NULL LIMIT batch_size")
	assert.Contains(t, stmts[0], "'SRV01' || datetime_string || lpad(nextval(")

	call, args := d.CallBackfill(spec, 99, "20250314150926")
	assert.Equal(t, `CALL "set_public_orders_tracking_id_where_null"($1, $2)`, call)
	assert.Equal(t, []interface{}{99, "20250314150926"}, args)
}
