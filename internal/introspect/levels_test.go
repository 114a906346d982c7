package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federata/federata/internal/catalog"
)

func tableFixture(ids ...string) []catalog.Table {
	tables := make([]catalog.Table, len(ids))
	for i, id := range ids {
		tables[i] = catalog.Table{ID: id, SchemaName: "public", Name: id}
	}
	return tables
}

func parentSets(edges map[string][]string, ids ...string) map[string]map[string]bool {
	parents := make(map[string]map[string]bool, len(ids))
	for _, id := range ids {
		parents[id] = make(map[string]bool)
	}
	for child, ps := range edges {
		for _, p := range ps {
			parents[child][p] = true
		}
	}
	return parents
}

func TestAssignLevels(t *testing.T) {
	t.Run("Chain", func(t *testing.T) {
		// customers <- orders <- order_lines
		parents := parentSets(map[string][]string{
			"orders":      {"customers"},
			"order_lines": {"orders"},
		}, "customers", "orders", "order_lines")

		levels, err := assignLevels(tableFixture("customers", "orders", "order_lines"), parents)
		require.NoError(t, err)
		assert.Equal(t, 0, levels["customers"])
		assert.Equal(t, 1, levels["orders"])
		assert.Equal(t, 2, levels["order_lines"])
	})

	t.Run("Diamond", func(t *testing.T) {
		parents := parentSets(map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		}, "a", "b", "c", "d")

		levels, err := assignLevels(tableFixture("a", "b", "c", "d"), parents)
		require.NoError(t, err)
		assert.Equal(t, 2, levels["d"])
	})

	t.Run("Independent", func(t *testing.T) {
		parents := parentSets(nil, "x", "y")
		levels, err := assignLevels(tableFixture("x", "y"), parents)
		require.NoError(t, err)
		assert.Equal(t, 0, levels["x"])
		assert.Equal(t, 0, levels["y"])
	})

	t.Run("CycleDetected", func(t *testing.T) {
		parents := parentSets(map[string][]string{
			"a": {"b"},
			"b": {"a"},
		}, "a", "b")

		_, err := assignLevels(tableFixture("a", "b"), parents)
		require.ErrorIs(t, err, ErrCycleDetected)
		assert.Contains(t, err.Error(), "public.a")
		assert.Contains(t, err.Error(), "public.b")
	})

	t.Run("CycleNamesOnlyStuckTables", func(t *testing.T) {
		parents := parentSets(map[string][]string{
			"b": {"a"},
			"c": {"d"},
			"d": {"c"},
		}, "a", "b", "c", "d")

		_, err := assignLevels(tableFixture("a", "b", "c", "d"), parents)
		require.ErrorIs(t, err, ErrCycleDetected)
		assert.NotContains(t, err.Error(), "public.a")
		assert.Contains(t, err.Error(), "public.c")
	})
}
