package introspect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
)

// ErrCycleDetected marks a foreign-key cycle across distinct tables, which
// no apply order can satisfy
var ErrCycleDetected = errors.New("foreign key cycle detected")

// ComputeLevels assigns each member table its depth in the foreign-key
// graph: 0 for tables with no parents, otherwise one past the deepest
// parent. Self-referencing edges are ignored. Cycles across distinct tables
// are an error since no apply order can satisfy them.
func (i *Introspector) ComputeLevels(ctx context.Context, memberID string) error {
	tables, err := i.store.ListTables(ctx, memberID)
	if err != nil {
		return err
	}

	// parents[child] holds the distinct non-self parent table ids
	parents := make(map[string]map[string]bool, len(tables))
	for _, t := range tables {
		parents[t.ID] = make(map[string]bool)
	}
	for _, t := range tables {
		if common.IsTombstoneTable(t.Name) {
			continue
		}
		fks, err := i.store.ListForeignKeys(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, fk := range fks {
			if fk.ParentTableID == t.ID {
				continue
			}
			if _, known := parents[fk.ParentTableID]; !known {
				continue
			}
			parents[t.ID][fk.ParentTableID] = true
		}
	}

	levels, err := assignLevels(tables, parents)
	if err != nil {
		return err
	}

	for _, t := range tables {
		level := levels[t.ID]
		if t.Level == level {
			continue
		}
		if err := i.store.SetTableLevel(ctx, t.ID, level); err != nil {
			return err
		}
	}
	return nil
}

// assignLevels solves level(T) = 1 + max(level of parents), 0 with no
// parents, over the condensed parent sets
func assignLevels(tables []catalog.Table, parents map[string]map[string]bool) (map[string]int, error) {
	levels := make(map[string]int, len(parents))
	remaining := len(parents)
	for remaining > 0 {
		progressed := false
		for id, ps := range parents {
			if _, done := levels[id]; done {
				continue
			}
			level := 0
			ready := true
			for parent := range ps {
				parentLevel, done := levels[parent]
				if !done {
					ready = false
					break
				}
				if parentLevel+1 > level {
					level = parentLevel + 1
				}
			}
			if ready {
				levels[id] = level
				remaining--
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, t := range tables {
				if _, done := levels[t.ID]; !done {
					stuck = append(stuck, t.SchemaName+"."+t.Name)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("%w among %s", ErrCycleDetected, strings.Join(stuck, ", "))
		}
	}
	return levels, nil
}
