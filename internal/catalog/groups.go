package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateGroup registers a federation group. The data key must already be
// encrypted under the process key.
func (s *Store) CreateGroup(ctx context.Context, name, slug, dataKey string) (*Group, error) {
	query := `
		INSERT INTO groups (group_id, group_name, slug, data_key)
		VALUES ($1, $2, $3, $4)
		RETURNING group_id, group_name, slug, data_key
	`

	var g Group
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), name, slug, dataKey).Scan(
		&g.ID, &g.Name, &g.Slug, &g.DataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	return &g, nil
}

// FindGroup looks up a group by id
func (s *Store) FindGroup(ctx context.Context, groupID string) (*Group, error) {
	var g Group
	err := s.db.Pool().QueryRow(ctx,
		"SELECT group_id, group_name, slug, data_key FROM groups WHERE group_id = $1", groupID).Scan(
		&g.ID, &g.Name, &g.Slug, &g.DataKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group not found: %s", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return &g, nil
}

// FindGroupBySlug looks up a group by its slug
func (s *Store) FindGroupBySlug(ctx context.Context, slug string) (*Group, error) {
	var g Group
	err := s.db.Pool().QueryRow(ctx,
		"SELECT group_id, group_name, slug, data_key FROM groups WHERE slug = $1", slug).Scan(
		&g.ID, &g.Name, &g.Slug, &g.DataKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group not found: %s", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return &g, nil
}

// ListGroups returns all groups
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.Pool().Query(ctx, "SELECT group_id, group_name, slug, data_key FROM groups ORDER BY group_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Slug, &g.DataKey); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}

// CreateGroupTable adds a table to a group's logical schema
func (s *Store) CreateGroupTable(ctx context.Context, groupID, name string) (*GroupTable, error) {
	query := `
		INSERT INTO group_tables (group_table_id, group_id, group_table_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, group_table_name) DO UPDATE SET group_table_name = EXCLUDED.group_table_name
		RETURNING group_table_id, group_id, group_table_name
	`

	var gt GroupTable
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), groupID, name).Scan(&gt.ID, &gt.GroupID, &gt.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create group table %s: %w", name, err)
	}
	return &gt, nil
}

// ListGroupTables returns the logical tables of a group
func (s *Store) ListGroupTables(ctx context.Context, groupID string) ([]GroupTable, error) {
	rows, err := s.db.Pool().Query(ctx,
		"SELECT group_table_id, group_id, group_table_name FROM group_tables WHERE group_id = $1 ORDER BY group_table_name",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group tables: %w", err)
	}
	defer rows.Close()

	var tables []GroupTable
	for rows.Next() {
		var gt GroupTable
		if err := rows.Scan(&gt.ID, &gt.GroupID, &gt.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group table: %w", err)
		}
		tables = append(tables, gt)
	}

	return tables, rows.Err()
}

// CreateGroupColumn adds a column to a group-table
func (s *Store) CreateGroupColumn(ctx context.Context, groupTableID, name string) (*GroupColumn, error) {
	query := `
		INSERT INTO group_columns (group_column_id, group_table_id, group_column_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_table_id, group_column_name) DO UPDATE SET group_column_name = EXCLUDED.group_column_name
		RETURNING group_column_id, group_table_id, group_column_name
	`

	var gc GroupColumn
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), groupTableID, name).Scan(&gc.ID, &gc.GroupTableID, &gc.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create group column %s: %w", name, err)
	}
	return &gc, nil
}

// MapGroupColumn binds a logical group-column to a physical column
func (s *Store) MapGroupColumn(ctx context.Context, groupColumnID, columnID string) error {
	query := `
		INSERT INTO group_column_columns (group_column_column_id, group_column_id, column_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_column_id, column_id) DO NOTHING
	`
	if _, err := s.db.Pool().Exec(ctx, query, uuid.NewString(), groupColumnID, columnID); err != nil {
		return fmt.Errorf("failed to map group column: %w", err)
	}
	return nil
}

// MapGroupTable binds a logical group-table to a physical table
func (s *Store) MapGroupTable(ctx context.Context, groupTableID, tableID string) error {
	query := `
		INSERT INTO group_table_tables (group_table_table_id, group_table_id, table_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_table_id, table_id) DO NOTHING
	`
	if _, err := s.db.Pool().Exec(ctx, query, uuid.NewString(), groupTableID, tableID); err != nil {
		return fmt.Errorf("failed to map group table: %w", err)
	}
	return nil
}

// MappedTable is the physical table a group-table maps to on one member,
// carried with the table's level and tombstone link
type MappedTable struct {
	GroupTableID   string
	GroupTableName string
	Table          Table
}

// MappedTableForMember resolves which physical table of a member a
// group-table maps to. Returns nil when the member has no mapping for it.
func (s *Store) MappedTableForMember(ctx context.Context, groupTableID, memberID string) (*MappedTable, error) {
	query := `
		SELECT gt.group_table_id, gt.group_table_name,
			t.table_id, t.schema_id, s.member_id, s.schema_name, t.table_name, t.table_level, t.deletion_table_id
		FROM group_table_tables gtt
		JOIN group_tables gt ON gt.group_table_id = gtt.group_table_id
		JOIN tables t ON t.table_id = gtt.table_id
		JOIN schemas s ON s.schema_id = t.schema_id
		WHERE gtt.group_table_id = $1 AND s.member_id = $2
	`

	var mt MappedTable
	err := s.db.Pool().QueryRow(ctx, query, groupTableID, memberID).Scan(
		&mt.GroupTableID, &mt.GroupTableName,
		&mt.Table.ID, &mt.Table.SchemaID, &mt.Table.MemberID, &mt.Table.SchemaName,
		&mt.Table.Name, &mt.Table.Level, &mt.Table.DeletionTableID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapped table: %w", err)
	}
	return &mt, nil
}

// MappedColumn pairs a logical group-column name with the physical column it
// maps to on one member
type MappedColumn struct {
	GroupColumnName string
	Column          Column
}

// MappedColumnsForTable resolves the column mapping of a group-table against
// one physical table
func (s *Store) MappedColumnsForTable(ctx context.Context, groupTableID, tableID string) ([]MappedColumn, error) {
	query := `
		SELECT gc.group_column_name,
			c.column_id, c.table_id, c.column_name, c.data_type, c.max_length,
			c.datetime_precision, c.numeric_precision, c.is_nullable
		FROM group_columns gc
		JOIN group_column_columns gcc ON gcc.group_column_id = gc.group_column_id
		JOIN columns c ON c.column_id = gcc.column_id
		WHERE gc.group_table_id = $1 AND c.table_id = $2
		ORDER BY gc.group_column_name
	`

	rows, err := s.db.Pool().Query(ctx, query, groupTableID, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapped columns: %w", err)
	}
	defer rows.Close()

	var mapped []MappedColumn
	for rows.Next() {
		var mc MappedColumn
		if err := rows.Scan(&mc.GroupColumnName,
			&mc.Column.ID, &mc.Column.TableID, &mc.Column.Name, &mc.Column.DataType, &mc.Column.MaxLength,
			&mc.Column.DatetimePrecision, &mc.Column.NumericPrecision, &mc.Column.Nullable); err != nil {
			return nil, fmt.Errorf("failed to scan mapped column: %w", err)
		}
		mapped = append(mapped, mc)
	}

	return mapped, rows.Err()
}

// AddGroupDatabase enrolls a member into a group
func (s *Store) AddGroupDatabase(ctx context.Context, groupID, memberID string, canWrite, canRead bool) (*GroupDatabase, error) {
	query := `
		INSERT INTO group_databases (group_database_id, group_id, member_id, can_write, can_read)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, member_id) DO UPDATE SET can_write = EXCLUDED.can_write, can_read = EXCLUDED.can_read
		RETURNING group_database_id, group_id, member_id, can_write, can_read
	`

	var gd GroupDatabase
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), groupID, memberID, canWrite, canRead).Scan(
		&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead)
	if err != nil {
		return nil, fmt.Errorf("failed to add group database: %w", err)
	}
	return &gd, nil
}

// FindGroupDatabase looks up one group membership by id
func (s *Store) FindGroupDatabase(ctx context.Context, groupDatabaseID string) (*GroupDatabase, error) {
	var gd GroupDatabase
	err := s.db.Pool().QueryRow(ctx,
		"SELECT group_database_id, group_id, member_id, can_write, can_read FROM group_databases WHERE group_database_id = $1",
		groupDatabaseID).Scan(&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group database not found: %s", groupDatabaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group database: %w", err)
	}
	return &gd, nil
}

// ListGroupDatabases returns the memberships of a group
func (s *Store) ListGroupDatabases(ctx context.Context, groupID string) ([]GroupDatabase, error) {
	rows, err := s.db.Pool().Query(ctx,
		"SELECT group_database_id, group_id, member_id, can_write, can_read FROM group_databases WHERE group_id = $1",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group databases: %w", err)
	}
	defer rows.Close()

	var memberships []GroupDatabase
	for rows.Next() {
		var gd GroupDatabase
		if err := rows.Scan(&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead); err != nil {
			return nil, fmt.Errorf("failed to scan group database: %w", err)
		}
		memberships = append(memberships, gd)
	}

	return memberships, rows.Err()
}

// ListWritableGroupDatabases returns every writable membership across all
// groups, the extraction pump's work list
func (s *Store) ListWritableGroupDatabases(ctx context.Context) ([]GroupDatabase, error) {
	rows, err := s.db.Pool().Query(ctx,
		"SELECT group_database_id, group_id, member_id, can_write, can_read FROM group_databases WHERE can_write")
	if err != nil {
		return nil, fmt.Errorf("failed to list writable group databases: %w", err)
	}
	defer rows.Close()

	var memberships []GroupDatabase
	for rows.Next() {
		var gd GroupDatabase
		if err := rows.Scan(&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead); err != nil {
			return nil, fmt.Errorf("failed to scan group database: %w", err)
		}
		memberships = append(memberships, gd)
	}

	return memberships, rows.Err()
}

// ListReadableGroupDatabases returns the readable memberships of a group,
// the fan-out targets of one extraction
func (s *Store) ListReadableGroupDatabases(ctx context.Context, groupID string) ([]GroupDatabase, error) {
	rows, err := s.db.Pool().Query(ctx,
		"SELECT group_database_id, group_id, member_id, can_write, can_read FROM group_databases WHERE group_id = $1 AND can_read",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list readable group databases: %w", err)
	}
	defer rows.Close()

	var memberships []GroupDatabase
	for rows.Next() {
		var gd GroupDatabase
		if err := rows.Scan(&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead); err != nil {
			return nil, fmt.Errorf("failed to scan group database: %w", err)
		}
		memberships = append(memberships, gd)
	}

	return memberships, rows.Err()
}
