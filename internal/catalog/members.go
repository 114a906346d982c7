package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/federata/federata/internal/database/common"
)

// CreateMember registers a new member database. Connection details must
// already be encrypted under the process key.
func (s *Store) CreateMember(ctx context.Context, family, host, port, databaseName, username, password string) (*Member, error) {
	if family != common.FamilyPostgres && family != common.FamilySQLServer {
		return nil, fmt.Errorf("unknown database family: %s", family)
	}

	query := `
		INSERT INTO members (member_id, dbms_family, host, port, database_name, username, password)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING member_id, dbms_family, host, port, database_name, username, password,
			provides_successful_connection, is_initialized, created, updated
	`

	var m Member
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), family, host, port, databaseName, username, password).Scan(
		&m.ID, &m.Family, &m.Host, &m.Port, &m.DatabaseName, &m.Username, &m.Password,
		&m.ProvidesSuccessfulConnection, &m.IsInitialized, &m.Created, &m.Updated)
	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	return &m, nil
}

// FindMember looks up a member by id
func (s *Store) FindMember(ctx context.Context, memberID string) (*Member, error) {
	query := `
		SELECT member_id, dbms_family, host, port, database_name, username, password,
			provides_successful_connection, is_initialized, created, updated
		FROM members WHERE member_id = $1
	`

	var m Member
	err := s.db.Pool().QueryRow(ctx, query, memberID).Scan(
		&m.ID, &m.Family, &m.Host, &m.Port, &m.DatabaseName, &m.Username, &m.Password,
		&m.ProvidesSuccessfulConnection, &m.IsInitialized, &m.Created, &m.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("member not found: %s", memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	return &m, nil
}

// ListMembers returns all registered members
func (s *Store) ListMembers(ctx context.Context) ([]Member, error) {
	query := `
		SELECT member_id, dbms_family, host, port, database_name, username, password,
			provides_successful_connection, is_initialized, created, updated
		FROM members ORDER BY created
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.ID, &m.Family, &m.Host, &m.Port, &m.DatabaseName, &m.Username, &m.Password,
			&m.ProvidesSuccessfulConnection, &m.IsInitialized, &m.Created, &m.Updated); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// MarkMemberConnection records whether the latest connection attempt to a
// member succeeded
func (s *Store) MarkMemberConnection(ctx context.Context, memberID string, ok bool) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE members SET provides_successful_connection = $1, updated = now() WHERE member_id = $2",
		ok, memberID)
	if err != nil {
		return fmt.Errorf("failed to mark member connection: %w", err)
	}
	return nil
}

// MarkMemberInitialized records that instrumentation completed for a member
func (s *Store) MarkMemberInitialized(ctx context.Context, memberID string, initialized bool) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE members SET is_initialized = $1, updated = now() WHERE member_id = $2",
		initialized, memberID)
	if err != nil {
		return fmt.Errorf("failed to mark member initialized: %w", err)
	}
	return nil
}

// UpsertSchema records a schema of a member database and returns its id
func (s *Store) UpsertSchema(ctx context.Context, memberID, schemaName string) (string, error) {
	query := `
		INSERT INTO schemas (schema_id, member_id, schema_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_id, schema_name) DO UPDATE SET schema_name = EXCLUDED.schema_name
		RETURNING schema_id
	`

	var schemaID string
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), memberID, schemaName).Scan(&schemaID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert schema %s: %w", schemaName, err)
	}
	return schemaID, nil
}

// UpsertTable records a table of a member schema and returns its id
func (s *Store) UpsertTable(ctx context.Context, schemaID, tableName string) (string, error) {
	query := `
		INSERT INTO tables (table_id, schema_id, table_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (schema_id, table_name) DO UPDATE SET table_name = EXCLUDED.table_name
		RETURNING table_id
	`

	var tableID string
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), schemaID, tableName).Scan(&tableID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert table %s: %w", tableName, err)
	}
	return tableID, nil
}

// UpsertColumn records a column of a member table and returns its id
func (s *Store) UpsertColumn(ctx context.Context, tableID string, meta common.ColumnMetadata) (string, error) {
	query := `
		INSERT INTO columns (column_id, table_id, column_name, data_type, max_length, datetime_precision, numeric_precision, is_nullable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (table_id, column_name) DO UPDATE SET
			data_type = EXCLUDED.data_type,
			max_length = EXCLUDED.max_length,
			datetime_precision = EXCLUDED.datetime_precision,
			numeric_precision = EXCLUDED.numeric_precision,
			is_nullable = EXCLUDED.is_nullable
		RETURNING column_id
	`

	var columnID string
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), tableID, meta.Name, meta.DataType,
		meta.MaxLength, meta.DatetimePrecision, meta.NumericPrecision, meta.Nullable).Scan(&columnID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert column %s: %w", meta.Name, err)
	}
	return columnID, nil
}

// DeleteConstraintsForTable drops all constraints recorded for a table's
// columns ahead of a refresh
func (s *Store) DeleteConstraintsForTable(ctx context.Context, tableID string) error {
	_, err := s.db.Pool().Exec(ctx,
		"DELETE FROM column_constraints WHERE column_id IN (SELECT column_id FROM columns WHERE table_id = $1)",
		tableID)
	if err != nil {
		return fmt.Errorf("failed to delete constraints: %w", err)
	}
	return nil
}

// InsertConstraint records one constraint marker on a column
func (s *Store) InsertConstraint(ctx context.Context, c ColumnConstraint) (string, error) {
	query := `
		INSERT INTO column_constraints (constraint_id, column_id, constraint_name, is_primary_key, is_foreign_key, references_column_id, references_tracking_id_column_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING constraint_id
	`

	var constraintID string
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), c.ColumnID, c.Name,
		c.IsPrimaryKey, c.IsForeignKey, c.ReferencesColumnID, c.ReferencesTrackingIDColumnID).Scan(&constraintID)
	if err != nil {
		return "", fmt.Errorf("failed to insert constraint %s: %w", c.Name, err)
	}
	return constraintID, nil
}

// SetConstraintTrackingRef records the sibling tracking column the
// instrumenter added for a foreign-key constraint
func (s *Store) SetConstraintTrackingRef(ctx context.Context, constraintID, trackingColumnID string) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE column_constraints SET references_tracking_id_column_id = $1 WHERE constraint_id = $2",
		trackingColumnID, constraintID)
	if err != nil {
		return fmt.Errorf("failed to set constraint tracking reference: %w", err)
	}
	return nil
}

// ListTables returns all tables of a member with their schema names
func (s *Store) ListTables(ctx context.Context, memberID string) ([]Table, error) {
	query := `
		SELECT t.table_id, t.schema_id, s.member_id, s.schema_name, t.table_name, t.table_level, t.deletion_table_id
		FROM tables t
		JOIN schemas s ON s.schema_id = t.schema_id
		WHERE s.member_id = $1
		ORDER BY s.schema_name, t.table_name
	`

	rows, err := s.db.Pool().Query(ctx, query, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.ID, &t.SchemaID, &t.MemberID, &t.SchemaName, &t.Name, &t.Level, &t.DeletionTableID); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}

	return tables, rows.Err()
}

// FindTable looks up a table by id
func (s *Store) FindTable(ctx context.Context, tableID string) (*Table, error) {
	query := `
		SELECT t.table_id, t.schema_id, s.member_id, s.schema_name, t.table_name, t.table_level, t.deletion_table_id
		FROM tables t
		JOIN schemas s ON s.schema_id = t.schema_id
		WHERE t.table_id = $1
	`

	var t Table
	err := s.db.Pool().QueryRow(ctx, query, tableID).Scan(
		&t.ID, &t.SchemaID, &t.MemberID, &t.SchemaName, &t.Name, &t.Level, &t.DeletionTableID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("table not found: %s", tableID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find table: %w", err)
	}

	return &t, nil
}

// FindTableByName looks up a member table by schema and name
func (s *Store) FindTableByName(ctx context.Context, memberID, schemaName, tableName string) (*Table, error) {
	query := `
		SELECT t.table_id, t.schema_id, s.member_id, s.schema_name, t.table_name, t.table_level, t.deletion_table_id
		FROM tables t
		JOIN schemas s ON s.schema_id = t.schema_id
		WHERE s.member_id = $1 AND s.schema_name = $2 AND t.table_name = $3
	`

	var t Table
	err := s.db.Pool().QueryRow(ctx, query, memberID, schemaName, tableName).Scan(
		&t.ID, &t.SchemaID, &t.MemberID, &t.SchemaName, &t.Name, &t.Level, &t.DeletionTableID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("table not found: %s.%s", schemaName, tableName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find table: %w", err)
	}

	return &t, nil
}

// ListColumns returns all columns of a table
func (s *Store) ListColumns(ctx context.Context, tableID string) ([]Column, error) {
	query := `
		SELECT column_id, table_id, column_name, data_type, max_length, datetime_precision, numeric_precision, is_nullable
		FROM columns WHERE table_id = $1 ORDER BY column_name
	`

	rows, err := s.db.Pool().Query(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ID, &c.TableID, &c.Name, &c.DataType, &c.MaxLength,
			&c.DatetimePrecision, &c.NumericPrecision, &c.Nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, c)
	}

	return columns, rows.Err()
}

// FindColumnByName looks up a column of a table by name
func (s *Store) FindColumnByName(ctx context.Context, tableID, columnName string) (*Column, error) {
	query := `
		SELECT column_id, table_id, column_name, data_type, max_length, datetime_precision, numeric_precision, is_nullable
		FROM columns WHERE table_id = $1 AND column_name = $2
	`

	var c Column
	err := s.db.Pool().QueryRow(ctx, query, tableID, columnName).Scan(
		&c.ID, &c.TableID, &c.Name, &c.DataType, &c.MaxLength,
		&c.DatetimePrecision, &c.NumericPrecision, &c.Nullable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("column not found: %s", columnName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find column: %w", err)
	}

	return &c, nil
}

// ListPKColumns returns the primary key column names of a table
func (s *Store) ListPKColumns(ctx context.Context, tableID string) ([]string, error) {
	query := `
		SELECT c.column_name
		FROM columns c
		JOIN column_constraints cc ON cc.column_id = c.column_id
		WHERE c.table_id = $1 AND cc.is_primary_key
		ORDER BY c.column_name
	`

	rows, err := s.db.Pool().Query(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list primary key columns: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// ForeignKey joins a foreign-key constraint with its child and parent ends
type ForeignKey struct {
	ConstraintID     string
	ConstraintName   string
	ChildColumnID    string
	ChildColumnName  string
	ParentColumnID   string
	ParentColumnName string
	ParentTableID    string
	ParentSchema     string
	ParentTable      string
}

// ListForeignKeys returns the foreign keys of a table with their parents
// resolved
func (s *Store) ListForeignKeys(ctx context.Context, tableID string) ([]ForeignKey, error) {
	query := `
		SELECT cc.constraint_id, cc.constraint_name, child.column_id, child.column_name,
			parent.column_id, parent.column_name, pt.table_id, ps.schema_name, pt.table_name
		FROM column_constraints cc
		JOIN columns child ON child.column_id = cc.column_id
		JOIN columns parent ON parent.column_id = cc.references_column_id
		JOIN tables pt ON pt.table_id = parent.table_id
		JOIN schemas ps ON ps.schema_id = pt.schema_id
		WHERE child.table_id = $1 AND cc.is_foreign_key
		ORDER BY cc.constraint_name
	`

	rows, err := s.db.Pool().Query(ctx, query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintID, &fk.ConstraintName, &fk.ChildColumnID, &fk.ChildColumnName,
			&fk.ParentColumnID, &fk.ParentColumnName, &fk.ParentTableID, &fk.ParentSchema, &fk.ParentTable); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}

	return fks, rows.Err()
}

// SetTableLevel records the topological level of a table
func (s *Store) SetTableLevel(ctx context.Context, tableID string, level int) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE tables SET table_level = $1 WHERE table_id = $2", level, tableID)
	if err != nil {
		return fmt.Errorf("failed to set table level: %w", err)
	}
	return nil
}

// SetDeletionTable links a table to its tombstone counterpart
func (s *Store) SetDeletionTable(ctx context.Context, tableID, deletionTableID string) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE tables SET deletion_table_id = $1 WHERE table_id = $2", deletionTableID, tableID)
	if err != nil {
		return fmt.Errorf("failed to set deletion table: %w", err)
	}
	return nil
}
