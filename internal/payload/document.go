// Package payload is the wire codec for extractions: the JSON document
// shape, value serialization, AES-GCM sealing and the zip archive wrapper.
package payload

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/federata/federata/internal/database/common"
)

// Timestamp formats of serialized values
const (
	TimestampLayout = "2006-01-02 15:04:05.000000"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05.000000"
)

// TableSection carries the changed and deleted rows of one group-table
type TableSection struct {
	Rows        []common.Row `json:"rows"`
	DeletedRows []common.Row `json:"deleted_rows"`
}

// Document is one extraction payload: group slug to group-table name to its
// row sections
type Document map[string]map[string]TableSection

// Empty reports whether the document carries no rows at all
func (d Document) Empty() bool {
	for _, tables := range d {
		for _, section := range tables {
			if len(section.Rows) > 0 || len(section.DeletedRows) > 0 {
				return false
			}
		}
	}
	return true
}

// Marshal renders the document as JSON
func (d Document) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload document: %w", err)
	}
	return data, nil
}

// ParseDocument decodes a payload document from JSON
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse payload document: %w", err)
	}
	return d, nil
}

// EncodeValue renders one database value into its payload form. Temporal
// values follow the column's declared type so both families round-trip to
// the same text; byte slices and anything non-primitive travel as text.
func EncodeValue(v interface{}, dataType string) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		switch {
		case isDateType(dataType):
			return val.Format(DateLayout)
		case isTimeType(dataType):
			return val.Format(TimeLayout)
		default:
			return val.Format(TimestampLayout)
		}
	case []byte:
		return string(val)
	case [16]byte:
		// pgx reports uuid columns as raw bytes
		return uuid.UUID(val).String()
	case string, bool, int, int16, int32, int64, float32, float64:
		return val
	}

	// Driver value types (pgtype.Numeric and friends) know their own
	// canonical representation; unwrap before falling back to plain text
	if valuer, ok := v.(driver.Valuer); ok {
		if unwrapped, err := valuer.Value(); err == nil {
			return EncodeValue(unwrapped, dataType)
		}
	}
	if stringer, ok := v.(fmt.Stringer); ok {
		return stringer.String()
	}
	return fmt.Sprintf("%v", v)
}

// EncodeRow renders a row using per-column type metadata where known
func EncodeRow(row common.Row, types map[string]string) common.Row {
	out := make(common.Row, len(row))
	for name, v := range row {
		out[name] = EncodeValue(v, types[name])
	}
	return out
}

func isDateType(dataType string) bool {
	return strings.EqualFold(dataType, "date")
}

func isTimeType(dataType string) bool {
	t := strings.ToLower(dataType)
	return t == "time" || strings.HasPrefix(t, "time(") || strings.HasPrefix(t, "time with") || strings.HasPrefix(t, "time without")
}
