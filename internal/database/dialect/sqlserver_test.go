package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLServerBasics(t *testing.T) {
	d := &sqlserverDialect{}

	assert.Equal(t, "sqlserver", d.Name())
	assert.Equal(t, "@p1", d.Placeholder(1))
	assert.Equal(t, "@p12", d.Placeholder(12))
	assert.Equal(t, "dbo", d.DefaultSchema())
	assert.Equal(t, "[orders]", d.QuoteIdentifier("orders"))
	assert.Equal(t, "[odd]]name]", d.QuoteIdentifier("odd]name"))
	assert.Equal(t, "[dbo].[orders]", d.QualifyTable("dbo", "orders"))
	assert.Equal(t, "#base", d.TempTableName("base"))
}

func TestSQLServerNormalizeColumnType(t *testing.T) {
	d := &sqlserverDialect{}

	assert.Equal(t, "datetime2", d.NormalizeColumnType("datetimeoffset"))
	assert.Equal(t, "nvarchar", d.NormalizeColumnType("NVARCHAR"))
}

func TestSQLServerIdentityInsert(t *testing.T) {
	d := &sqlserverDialect{}

	on := d.IdentityInsert("dbo", "orders", true)
	assert.Contains(t, on, "OBJECTPROPERTY(OBJECT_ID('dbo.orders'), 'TableHasIdentity') = 1")
	assert.Contains(t, on, "SET IDENTITY_INSERT [dbo].[orders] ON")

	off := d.IdentityInsert("dbo", "orders", false)
	assert.Contains(t, off, "SET IDENTITY_INSERT [dbo].[orders] OFF")
}

func TestSQLServerIdempotentDDL(t *testing.T) {
	d := &sqlserverDialect{}

	t.Run("AddColumn", func(t *testing.T) {
		stmt := d.AddColumnIfMissing("dbo", "orders", "note", "varchar(50)")
		assert.Contains(t, stmt, "IF COL_LENGTH('dbo.orders', 'note') IS NULL")
		assert.Contains(t, stmt, "ALTER TABLE [dbo].[orders] ADD [note] varchar(50)")
	})

	t.Run("TrackingColumnFilteredUniqueIndex", func(t *testing.T) {
		stmts := d.AddTrackingColumn("dbo", "orders", 21)
		require.Len(t, stmts, 2)
		assert.Contains(t, stmts[0], "varchar(21)")
		assert.Contains(t, stmts[1], "IF NOT EXISTS (SELECT 1 FROM sys.indexes")
		assert.Contains(t, stmts[1], "CREATE UNIQUE NONCLUSTERED INDEX")
		// NULL rows awaiting backfill must not collide in the index
		assert.Contains(t, stmts[1], "WHERE [tracking_id] IS NOT NULL")
	})

	t.Run("Sequence", func(t *testing.T) {
		stmt := d.CreateSequenceIfMissing("dbo", "dbo_orders_tracking_id_sequence")
		assert.Contains(t, stmt, "IF NOT EXISTS (SELECT 1 FROM sys.sequences")
		assert.Contains(t, stmt, "schema_id = SCHEMA_ID('dbo')")
		assert.Contains(t, stmt, "CREATE SEQUENCE [dbo].[dbo_orders_tracking_id_sequence]")
		assert.Contains(t, stmt, "MINVALUE 1 MAXVALUE 99 CYCLE")
	})

	t.Run("Tombstone", func(t *testing.T) {
		stmt := d.CreateTombstoneTable("dbo", "dbo_orders_deletion", 21)
		assert.Contains(t, stmt, "IF OBJECT_ID('dbo.dbo_orders_deletion', 'U') IS NULL")
		assert.Contains(t, stmt, "[deletion_id] bigint IDENTITY(1,1) PRIMARY KEY")
		assert.Contains(t, stmt, "[row_tracking_id] varchar(21)")
	})

	t.Run("TempTable", func(t *testing.T) {
		stmt := d.CreateTempTable("dbo_orders_temporary_table", []string{"[id] int"})
		assert.Contains(t, stmt, "IF OBJECT_ID('tempdb..#dbo_orders_temporary_table') IS NULL")
		assert.Contains(t, stmt, "CREATE TABLE [#dbo_orders_temporary_table]")
	})
}

func TestSQLServerUpsertFromTemp(t *testing.T) {
	d := &sqlserverDialect{}

	t.Run("LastWriterWins", func(t *testing.T) {
		stmt := d.UpsertFromTemp("dbo", "orders", "orders_tmp",
			[]string{"id"}, []string{"id", "total", "last_updated"}, "last_updated")

		assert.Contains(t, stmt, "MERGE [dbo].[orders] AS t USING [#orders_tmp] AS s ON t.[id] = s.[id]")
		// Strictly-newer comparison keeps equal timestamps stable
		assert.Contains(t, stmt, "WHEN MATCHED AND s.[last_updated] > t.[last_updated] THEN UPDATE SET")
		assert.Contains(t, stmt, "t.[total] = s.[total]")
		assert.Contains(t, stmt, "WHEN NOT MATCHED THEN INSERT ([id], [total], [last_updated]) VALUES (s.[id], s.[total], s.[last_updated]);")
		assert.NotContains(t, stmt, "t.[id] = s.[id],")
	})

	t.Run("NoPrimaryKeyMatchesTrackingID", func(t *testing.T) {
		stmt := d.UpsertFromTemp("dbo", "orders", "orders_tmp",
			nil, []string{"tracking_id", "total", "last_updated"}, "last_updated")
		assert.Contains(t, stmt, "ON t.[tracking_id] = s.[tracking_id]")
	})

	t.Run("CompositeKey", func(t *testing.T) {
		stmt := d.UpsertFromTemp("dbo", "orders", "orders_tmp",
			[]string{"a", "b"}, []string{"a", "b", "total", "last_updated"}, "last_updated")
		assert.Contains(t, stmt, "ON t.[a] = s.[a] AND t.[b] = s.[b]")
	})
}

func TestSQLServerTombstoneDeleteFromTemp(t *testing.T) {
	d := &sqlserverDialect{}

	stmt := d.TombstoneDeleteFromTemp("dbo", "orders", "orders_del_tmp", []ColumnMatch{
		{TargetColumn: "tracking_id", TempColumn: "row_tracking_id"},
	})
	assert.Equal(t,
		"DELETE t FROM [dbo].[orders] t WHERE EXISTS (SELECT 1 FROM [#orders_del_tmp] d WHERE d.[row_tracking_id] = t.[tracking_id])",
		stmt)
}

func TestSQLServerInstallTrigger(t *testing.T) {
	d := &sqlserverDialect{}
	stmts := d.InstallTrigger(TriggerSpec{
		Schema:        "dbo",
		Table:         "orders",
		Sequence:      "dbo_orders_tracking_id_sequence",
		Tombstone:     "dbo_orders_deletion",
		ServerID:      "SRV01",
		PKColumns:     []string{"id"},
		TrackingWidth: 21,
	})
	require.Len(t, stmts, 2)

	assert.Contains(t, stmts[0], "IF OBJECT_ID('dbo.dbo_orders_sync_trigger', 'TR') IS NOT NULL DROP TRIGGER")

	body := stmts[1]
	assert.Contains(t, body, "CREATE TRIGGER [dbo].[dbo_orders_sync_trigger] ON [dbo].[orders] AFTER INSERT, UPDATE, DELETE")
	// Re-entrancy guard for top-level statements only
	assert.Contains(t, body, "IF TRIGGER_NESTLEVEL(OBJECT_ID('dbo.dbo_orders_sync_trigger')) > 1 RETURN;")
	assert.Contains(t, body, "'SRV01' + FORMAT(CURRENT_TIMESTAMP, 'yyyyMMddHHmmss') + RIGHT('0' + CAST(NEXT VALUE FOR [dbo].[dbo_orders_tracking_id_sequence] AS varchar(2)), 2)")
	assert.Contains(t, body, "DECLARE row_cursor CURSOR LOCAL FAST_FORWARD FOR SELECT [id] FROM inserted WHERE tracking_id IS NULL;")
	assert.Contains(t, body, "INSERT INTO [dbo].[dbo_orders_deletion] (row_tracking_id, deletion_time) SELECT tracking_id, CURRENT_TIMESTAMP FROM deleted WHERE tracking_id IS NOT NULL;")
}

func TestSQLServerBackfill(t *testing.T) {
	d := &sqlserverDialect{}
	spec := BackfillSpec{Schema: "dbo", Table: "orders", Sequence: "dbo_orders_tracking_id_sequence", ServerID: "SRV01"}

	assert.Nil(t, d.CreateBackfillProcedure(spec))

	call, args := d.CallBackfill(spec, 99, "20250314150926")
	assert.Contains(t, call, "UPDATE TOP (99) [dbo].[orders] SET tracking_id =")
	assert.Contains(t, call, "WHERE tracking_id IS NULL")
	assert.Nil(t, args)
}

// The sequence DDL, the trigger and the backfill must all reference the same
// schema-qualified sequence so instrumentation works outside the user's
// default schema.
func TestSQLServerSequenceQualificationConsistent(t *testing.T) {
	d := &sqlserverDialect{}
	const schema, sequence = "sales", "sales_customers_tracking_id_sequence"

	create := d.CreateSequenceIfMissing(schema, sequence)
	assert.Contains(t, create, "schema_id = SCHEMA_ID('sales')")
	assert.Contains(t, create, "CREATE SEQUENCE [sales].[sales_customers_tracking_id_sequence]")

	stmts := d.InstallTrigger(TriggerSpec{
		Schema:        schema,
		Table:         "customers",
		Sequence:      sequence,
		Tombstone:     "sales_customers_deletion",
		ServerID:      "SRV01",
		PKColumns:     []string{"id"},
		TrackingWidth: 21,
	})
	assert.Contains(t, stmts[1], "NEXT VALUE FOR [sales].[sales_customers_tracking_id_sequence]")

	call, _ := d.CallBackfill(BackfillSpec{
		Schema: schema, Table: "customers", Sequence: sequence, ServerID: "SRV01",
	}, 50, "20250314150926")
	assert.Contains(t, call, "NEXT VALUE FOR [sales].[sales_customers_tracking_id_sequence]")
}

func TestForFamily(t *testing.T) {
	pg, err := ForFamily("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Name())

	ms, err := ForFamily("sqlserver")
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", ms.Name())

	_, err = ForFamily("oracle")
	assert.Error(t, err)
}
