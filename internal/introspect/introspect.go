// Package introspect reads the physical schema of member databases into the
// catalog: schemas, tables, columns, primary keys and foreign keys.
package introspect

import (
	"context"
	"errors"
	"fmt"

	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/pkg/logger"
)

// ErrIntrospectionFailure marks a metadata refresh that did not complete,
// leaving the member partially introspected
var ErrIntrospectionFailure = errors.New("introspection failure")

// Introspector refreshes catalog metadata from live member databases
type Introspector struct {
	store  *catalog.Store
	logger *logger.Logger
}

// NewIntrospector creates a new introspector backed by the catalog store
func NewIntrospector(store *catalog.Store, logger *logger.Logger) *Introspector {
	return &Introspector{
		store:  store,
		logger: logger,
	}
}

// Refresh reads the member's schemas, tables, columns and constraints and
// upserts them into the catalog, then links tombstone tables and recomputes
// table levels
func (i *Introspector) Refresh(ctx context.Context, h *broker.Handle, member *catalog.Member) error {
	if err := i.refresh(ctx, h, member); err != nil {
		if errors.Is(err, ErrCycleDetected) {
			return err
		}
		return fmt.Errorf("%w: member %s: %v", ErrIntrospectionFailure, member.ID, err)
	}
	return nil
}

func (i *Introspector) refresh(ctx context.Context, h *broker.Handle, member *catalog.Member) error {
	tables, err := i.listTables(ctx, h)
	if err != nil {
		return err
	}

	schemaIDs := make(map[string]string)
	tableIDs := make(map[string]string)
	for _, t := range tables {
		schemaID, ok := schemaIDs[t.schema]
		if !ok {
			schemaID, err = i.store.UpsertSchema(ctx, member.ID, t.schema)
			if err != nil {
				return err
			}
			schemaIDs[t.schema] = schemaID
		}

		tableID, err := i.store.UpsertTable(ctx, schemaID, t.name)
		if err != nil {
			return err
		}
		tableIDs[t.schema+"."+t.name] = tableID

		columns, err := i.listColumns(ctx, h, t.schema, t.name)
		if err != nil {
			return err
		}
		pkColumns, err := i.listPrimaryKeyColumns(ctx, h, t.schema, t.name)
		if err != nil {
			return err
		}

		if err := i.store.DeleteConstraintsForTable(ctx, tableID); err != nil {
			return err
		}
		for _, col := range columns {
			columnID, err := i.store.UpsertColumn(ctx, tableID, col)
			if err != nil {
				return err
			}
			if pkColumns[col.Name] {
				_, err := i.store.InsertConstraint(ctx, catalog.ColumnConstraint{
					ColumnID:     columnID,
					Name:         fmt.Sprintf("pk_%s_%s_%s", t.schema, t.name, col.Name),
					IsPrimaryKey: true,
				})
				if err != nil {
					return err
				}
			}
		}
	}

	edges, err := i.listForeignKeys(ctx, h)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if err := i.persistForeignKey(ctx, edge, tableIDs); err != nil {
			return err
		}
	}

	if err := i.linkTombstones(ctx, member.ID); err != nil {
		return err
	}
	if err := i.ComputeLevels(ctx, member.ID); err != nil {
		return err
	}

	if i.logger != nil {
		i.logger.Infof("Refreshed metadata for member %s: %d tables, %d foreign keys", member.ID, len(tables), len(edges))
	}
	return nil
}

func (i *Introspector) persistForeignKey(ctx context.Context, edge common.ForeignKeyEdge, tableIDs map[string]string) error {
	childTableID, ok := tableIDs[edge.ChildSchema+"."+edge.ChildTable]
	if !ok {
		return nil
	}
	parentTableID, ok := tableIDs[edge.ParentSchema+"."+edge.ParentTable]
	if !ok {
		return nil
	}

	childColumn, err := i.store.FindColumnByName(ctx, childTableID, edge.ChildColumn)
	if err != nil {
		return err
	}
	parentColumn, err := i.store.FindColumnByName(ctx, parentTableID, edge.ParentColumn)
	if err != nil {
		return err
	}

	_, err = i.store.InsertConstraint(ctx, catalog.ColumnConstraint{
		ColumnID:           childColumn.ID,
		Name:               edge.ConstraintName,
		IsForeignKey:       true,
		ReferencesColumnID: &parentColumn.ID,
	})
	return err
}

// linkTombstones binds each replicated table to its deletion counterpart by
// naming convention
func (i *Introspector) linkTombstones(ctx context.Context, memberID string) error {
	tables, err := i.store.ListTables(ctx, memberID)
	if err != nil {
		return err
	}

	byName := make(map[string]catalog.Table, len(tables))
	for _, t := range tables {
		byName[t.SchemaName+"."+t.Name] = t
	}

	for _, t := range tables {
		if common.IsTombstoneTable(t.Name) {
			continue
		}
		tombstone, ok := byName[t.SchemaName+"."+common.TombstoneTableName(t.SchemaName, t.Name)]
		if !ok {
			continue
		}
		if t.DeletionTableID != nil && *t.DeletionTableID == tombstone.ID {
			continue
		}
		if err := i.store.SetDeletionTable(ctx, t.ID, tombstone.ID); err != nil {
			return err
		}
	}
	return nil
}
