package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackingIDFormat(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

	t.Run("Shape", func(t *testing.T) {
		id := FormatTrackingID("SRV01", at, 7)
		assert.Equal(t, "SRV012025031415092607", id)
		assert.Len(t, id, TrackingIDWidth("SRV01"))
	})

	t.Run("SequencePadding", func(t *testing.T) {
		assert.Equal(t, "A2025031415092601", FormatTrackingID("A", at, 1))
		assert.Equal(t, "A2025031415092699", FormatTrackingID("A", at, 99))
	})

	t.Run("SequenceWraps", func(t *testing.T) {
		assert.Equal(t, FormatTrackingID("A", at, 5), FormatTrackingID("A", at, 105))
	})

	t.Run("Width", func(t *testing.T) {
		assert.Equal(t, 16, TrackingIDWidth(""))
		assert.Equal(t, 21, TrackingIDWidth("SRV01"))
	})

	t.Run("Pattern", func(t *testing.T) {
		p := TrackingIDPattern("SRV01")
		assert.True(t, p.MatchString(FormatTrackingID("SRV01", at, 42)))
		assert.False(t, p.MatchString(FormatTrackingID("OTHER", at, 42)))
		assert.False(t, p.MatchString("SRV01not-a-timestamp"))
	})
}

func TestNamingConventions(t *testing.T) {
	assert.Equal(t, "public_orders_tracking_id_sequence", TrackingSequenceName("public", "orders"))
	assert.Equal(t, "public_orders_deletion", TombstoneTableName("public", "orders"))
	assert.Equal(t, "public_orders_temporary_table", TempTableBase("public", "orders"))
	assert.Equal(t, "set_public_orders_tracking_id_where_null", BackfillProcedureName("public", "orders"))

	assert.True(t, IsTombstoneTable("public_orders_deletion"))
	assert.False(t, IsTombstoneTable("orders"))
	assert.False(t, IsTombstoneTable("_deletion"))
}
