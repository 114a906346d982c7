package catalog

import (
	"context"
	"fmt"
)

// catalogDDL creates the catalog tables. Every statement is idempotent so
// Bootstrap can run on every startup.
var catalogDDL = []string{
	`CREATE TABLE IF NOT EXISTS members (
		member_id uuid PRIMARY KEY,
		dbms_family text NOT NULL,
		host text NOT NULL,
		port text NOT NULL,
		database_name text NOT NULL,
		username text NOT NULL,
		password text NOT NULL,
		provides_successful_connection boolean NOT NULL DEFAULT false,
		is_initialized boolean NOT NULL DEFAULT false,
		created timestamptz NOT NULL DEFAULT now(),
		updated timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS schemas (
		schema_id uuid PRIMARY KEY,
		member_id uuid NOT NULL REFERENCES members(member_id) ON DELETE CASCADE,
		schema_name text NOT NULL,
		UNIQUE (member_id, schema_name)
	)`,
	`CREATE TABLE IF NOT EXISTS tables (
		table_id uuid PRIMARY KEY,
		schema_id uuid NOT NULL REFERENCES schemas(schema_id) ON DELETE CASCADE,
		table_name text NOT NULL,
		table_level integer NOT NULL DEFAULT 0,
		deletion_table_id uuid REFERENCES tables(table_id),
		UNIQUE (schema_id, table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS columns (
		column_id uuid PRIMARY KEY,
		table_id uuid NOT NULL REFERENCES tables(table_id) ON DELETE CASCADE,
		column_name text NOT NULL,
		data_type text NOT NULL,
		max_length integer,
		datetime_precision integer,
		numeric_precision integer,
		is_nullable boolean NOT NULL DEFAULT true,
		UNIQUE (table_id, column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS column_constraints (
		constraint_id uuid PRIMARY KEY,
		column_id uuid NOT NULL REFERENCES columns(column_id) ON DELETE CASCADE,
		constraint_name text NOT NULL,
		is_primary_key boolean NOT NULL DEFAULT false,
		is_foreign_key boolean NOT NULL DEFAULT false,
		references_column_id uuid REFERENCES columns(column_id) ON DELETE SET NULL,
		references_tracking_id_column_id uuid REFERENCES columns(column_id) ON DELETE SET NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		group_id uuid PRIMARY KEY,
		group_name text NOT NULL UNIQUE,
		slug text NOT NULL UNIQUE,
		data_key text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_tables (
		group_table_id uuid PRIMARY KEY,
		group_id uuid NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
		group_table_name text NOT NULL,
		UNIQUE (group_id, group_table_name)
	)`,
	`CREATE TABLE IF NOT EXISTS group_columns (
		group_column_id uuid PRIMARY KEY,
		group_table_id uuid NOT NULL REFERENCES group_tables(group_table_id) ON DELETE CASCADE,
		group_column_name text NOT NULL,
		UNIQUE (group_table_id, group_column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS group_column_columns (
		group_column_column_id uuid PRIMARY KEY,
		group_column_id uuid NOT NULL REFERENCES group_columns(group_column_id) ON DELETE CASCADE,
		column_id uuid NOT NULL REFERENCES columns(column_id) ON DELETE CASCADE,
		UNIQUE (group_column_id, column_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_table_tables (
		group_table_table_id uuid PRIMARY KEY,
		group_table_id uuid NOT NULL REFERENCES group_tables(group_table_id) ON DELETE CASCADE,
		table_id uuid NOT NULL REFERENCES tables(table_id) ON DELETE CASCADE,
		UNIQUE (group_table_id, table_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_databases (
		group_database_id uuid PRIMARY KEY,
		group_id uuid NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
		member_id uuid NOT NULL REFERENCES members(member_id) ON DELETE CASCADE,
		can_write boolean NOT NULL DEFAULT false,
		can_read boolean NOT NULL DEFAULT false,
		UNIQUE (group_id, member_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_extractions (
		extraction_id uuid PRIMARY KEY,
		group_id uuid NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
		group_database_id uuid NOT NULL REFERENCES group_databases(group_database_id) ON DELETE CASCADE,
		time_made timestamptz NOT NULL DEFAULT now(),
		start_time timestamptz,
		end_time timestamptz,
		file_path text NOT NULL,
		file_size bigint NOT NULL,
		file_sha256 text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_database_synchronizations (
		synchronization_id uuid PRIMARY KEY,
		extraction_id uuid NOT NULL REFERENCES group_extractions(extraction_id) ON DELETE CASCADE,
		group_database_id uuid NOT NULL REFERENCES group_databases(group_database_id) ON DELETE CASCADE,
		is_applied boolean NOT NULL DEFAULT false,
		time_applied timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS idx_synchronizations_pending
		ON group_database_synchronizations (group_database_id) WHERE NOT is_applied`,
	`CREATE INDEX IF NOT EXISTS idx_extractions_source
		ON group_extractions (group_database_id, time_made DESC)`,
}

// Bootstrap creates the catalog schema if it does not exist
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range catalogDDL {
		if _, err := s.db.Pool().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap catalog: %w", err)
		}
	}
	return nil
}
