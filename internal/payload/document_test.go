package payload

import (
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federata/federata/internal/database/common"
)

func TestEncodeValue(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.UTC)

	t.Run("Timestamps", func(t *testing.T) {
		assert.Equal(t, "2025-03-14 15:09:26.535897", EncodeValue(at, "timestamp"))
		assert.Equal(t, "2025-03-14 15:09:26.535897", EncodeValue(at, "datetime2"))
	})

	t.Run("Dates", func(t *testing.T) {
		assert.Equal(t, "2025-03-14", EncodeValue(at, "date"))
	})

	t.Run("Times", func(t *testing.T) {
		assert.Equal(t, "15:09:26.535897", EncodeValue(at, "time"))
		assert.Equal(t, "15:09:26.535897", EncodeValue(at, "time without time zone"))
	})

	t.Run("Bytes", func(t *testing.T) {
		assert.Equal(t, "raw", EncodeValue([]byte("raw"), "bytea"))
	})

	t.Run("Primitives", func(t *testing.T) {
		assert.Equal(t, nil, EncodeValue(nil, "varchar"))
		assert.Equal(t, "text", EncodeValue("text", "varchar"))
		assert.Equal(t, int64(42), EncodeValue(int64(42), "bigint"))
		assert.Equal(t, 3.14, EncodeValue(3.14, "float8"))
		assert.Equal(t, true, EncodeValue(true, "boolean"))
	})

	t.Run("NonPrimitiveTextual", func(t *testing.T) {
		assert.Equal(t, "[1 2]", EncodeValue([]int{1, 2}, "integer[]"))
	})

	t.Run("UUIDBytes", func(t *testing.T) {
		raw := [16]byte{0x8f, 0xc1, 0x5b, 0x6b, 0x1a, 0x4e, 0x4d, 0x88,
			0x9a, 0x0e, 0x5d, 0x2c, 0x7f, 0x46, 0x21, 0x03}
		assert.Equal(t, "8fc15b6b-1a4e-4d88-9a0e-5d2c7f462103", EncodeValue(raw, "uuid"))
	})

	t.Run("ValuerUnwraps", func(t *testing.T) {
		assert.Equal(t, "12345.67", EncodeValue(textValuer{"12345.67"}, "numeric"))
	})

	t.Run("NestedValuer", func(t *testing.T) {
		assert.Equal(t, int64(9), EncodeValue(wrappedValuer{textValuer{}}, "bigint"))
	})

	t.Run("FailedValuerFallsBack", func(t *testing.T) {
		assert.Equal(t, "{}", EncodeValue(brokenValuer{}, "numeric"))
	})

	t.Run("StringerFallback", func(t *testing.T) {
		assert.Equal(t, "interval 5m", EncodeValue(namedInterval{"5m"}, "interval"))
	})
}

type textValuer struct{ s string }

func (v textValuer) Value() (driver.Value, error) {
	if v.s == "" {
		return int64(9), nil
	}
	return v.s, nil
}

type wrappedValuer struct{ inner textValuer }

func (v wrappedValuer) Value() (driver.Value, error) { return v.inner, nil }

type brokenValuer struct{}

func (brokenValuer) Value() (driver.Value, error) { return nil, errors.New("not representable") }

type namedInterval struct{ text string }

func (n namedInterval) String() string { return "interval " + n.text }

func TestDocumentRoundTrip(t *testing.T) {
	doc := Document{
		"inventory": {
			"orders": TableSection{
				Rows:        []common.Row{{"id": float64(1), "total": "10.50"}},
				DeletedRows: []common.Row{{"row_tracking_id": "SRV012025031415092601"}},
			},
		},
	}

	data, err := doc.Marshal()
	require.NoError(t, err)

	parsed, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	_, err = ParseDocument([]byte("not json"))
	assert.Error(t, err)
}

func TestDocumentEmpty(t *testing.T) {
	assert.True(t, Document{}.Empty())
	assert.True(t, Document{"g": {}}.Empty())
	assert.True(t, Document{"g": {"orders": TableSection{}}}.Empty())
	assert.False(t, Document{"g": {"orders": TableSection{Rows: []common.Row{{"id": 1}}}}}.Empty())
	assert.False(t, Document{"g": {"orders": TableSection{DeletedRows: []common.Row{{"row_tracking_id": "x"}}}}}.Empty())
}

func TestEncodeRow(t *testing.T) {
	at := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	row := common.Row{"id": int64(7), "made_on": at, "made_at": at}
	types := map[string]string{"made_on": "date", "made_at": "timestamp"}

	encoded := EncodeRow(row, types)
	assert.Equal(t, int64(7), encoded["id"])
	assert.Equal(t, "2025-03-14", encoded["made_on"])
	assert.Equal(t, "2025-03-14 15:09:26.000000", encoded["made_at"])
}
