package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/database/common"
)

type tableRef struct {
	schema string
	name   string
}

func (i *Introspector) listTables(ctx context.Context, h *broker.Handle) ([]tableRef, error) {
	var query string
	switch h.Family() {
	case common.FamilyPostgres:
		query = `
			SELECT table_schema AS schema_name, table_name AS table_name
			FROM information_schema.tables
			WHERE table_type = 'BASE TABLE'
				AND table_schema NOT IN ('pg_catalog', 'information_schema')
			ORDER BY table_schema, table_name
		`
	case common.FamilySQLServer:
		query = `
			SELECT table_schema AS schema_name, table_name AS table_name
			FROM information_schema.tables
			WHERE table_type = 'BASE TABLE'
			ORDER BY table_schema, table_name
		`
	default:
		return nil, fmt.Errorf("unknown database family: %s", h.Family())
	}

	rows, err := h.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]tableRef, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, tableRef{
			schema: asString(row["schema_name"]),
			name:   asString(row["table_name"]),
		})
	}
	return tables, nil
}

func (i *Introspector) listColumns(ctx context.Context, h *broker.Handle, schema, table string) ([]common.ColumnMetadata, error) {
	query := `
		SELECT column_name AS column_name, data_type AS data_type,
			character_maximum_length AS max_length,
			datetime_precision AS datetime_precision,
			numeric_precision AS numeric_precision,
			is_nullable AS is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	if h.Family() == common.FamilySQLServer {
		query = strings.NewReplacer("$1", "@p1", "$2", "@p2").Replace(query)
	}

	rows, err := h.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s.%s: %w", schema, table, err)
	}

	columns := make([]common.ColumnMetadata, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, common.ColumnMetadata{
			Name:              asString(row["column_name"]),
			DataType:          asString(row["data_type"]),
			MaxLength:         asIntPtr(row["max_length"]),
			DatetimePrecision: asIntPtr(row["datetime_precision"]),
			NumericPrecision:  asIntPtr(row["numeric_precision"]),
			Nullable:          strings.EqualFold(asString(row["is_nullable"]), "YES"),
		})
	}
	return columns, nil
}

func (i *Introspector) listPrimaryKeyColumns(ctx context.Context, h *broker.Handle, schema, table string) (map[string]bool, error) {
	query := `
		SELECT kcu.column_name AS column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.constraint_schema = tc.constraint_schema
			AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1 AND tc.table_name = $2
	`
	if h.Family() == common.FamilySQLServer {
		query = strings.NewReplacer("$1", "@p1", "$2", "@p2").Replace(query)
	}

	rows, err := h.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list primary key of %s.%s: %w", schema, table, err)
	}

	pk := make(map[string]bool, len(rows))
	for _, row := range rows {
		pk[asString(row["column_name"])] = true
	}
	return pk, nil
}

func (i *Introspector) listForeignKeys(ctx context.Context, h *broker.Handle) ([]common.ForeignKeyEdge, error) {
	var query string
	switch h.Family() {
	case common.FamilyPostgres:
		query = `
			SELECT con.conname AS constraint_name,
				child_ns.nspname AS child_schema, child.relname AS child_table, child_col.attname AS child_column,
				parent_ns.nspname AS parent_schema, parent.relname AS parent_table, parent_col.attname AS parent_column
			FROM pg_constraint con
			JOIN pg_class child ON child.oid = con.conrelid
			JOIN pg_namespace child_ns ON child_ns.oid = child.relnamespace
			JOIN pg_class parent ON parent.oid = con.confrelid
			JOIN pg_namespace parent_ns ON parent_ns.oid = parent.relnamespace
			CROSS JOIN LATERAL unnest(con.conkey, con.confkey) AS cols(child_attnum, parent_attnum)
			JOIN pg_attribute child_col ON child_col.attrelid = child.oid AND child_col.attnum = cols.child_attnum
			JOIN pg_attribute parent_col ON parent_col.attrelid = parent.oid AND parent_col.attnum = cols.parent_attnum
			WHERE con.contype = 'f'
				AND child_ns.nspname NOT IN ('pg_catalog', 'information_schema')
		`
	case common.FamilySQLServer:
		query = `
			SELECT fk.name AS constraint_name,
				cs.name AS child_schema, ct.name AS child_table, cc.name AS child_column,
				ps.name AS parent_schema, pt.name AS parent_table, pc.name AS parent_column
			FROM sys.foreign_key_columns fkc
			JOIN sys.foreign_keys fk ON fk.object_id = fkc.constraint_object_id
			JOIN sys.tables ct ON ct.object_id = fkc.parent_object_id
			JOIN sys.schemas cs ON cs.schema_id = ct.schema_id
			JOIN sys.columns cc ON cc.object_id = fkc.parent_object_id AND cc.column_id = fkc.parent_column_id
			JOIN sys.tables pt ON pt.object_id = fkc.referenced_object_id
			JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
			JOIN sys.columns pc ON pc.object_id = fkc.referenced_object_id AND pc.column_id = fkc.referenced_column_id
		`
	default:
		return nil, fmt.Errorf("unknown database family: %s", h.Family())
	}

	rows, err := h.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}

	edges := make([]common.ForeignKeyEdge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, common.ForeignKeyEdge{
			ConstraintName: asString(row["constraint_name"]),
			ChildSchema:    asString(row["child_schema"]),
			ChildTable:     asString(row["child_table"]),
			ChildColumn:    asString(row["child_column"]),
			ParentSchema:   asString(row["parent_schema"]),
			ParentTable:    asString(row["parent_table"]),
			ParentColumn:   asString(row["parent_column"]),
		})
	}
	return edges, nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asIntPtr(v interface{}) *int {
	var n int
	switch i := v.(type) {
	case nil:
		return nil
	case int:
		n = i
	case int16:
		n = int(i)
	case int32:
		n = int(i)
	case int64:
		n = int(i)
	default:
		return nil
	}
	return &n
}
