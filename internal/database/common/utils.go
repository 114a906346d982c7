package common

import (
	"fmt"
	"strings"
)

// QuoteStringSlice single-quotes every element for use in SQL literals
func QuoteStringSlice(slice []string) []string {
	quoted := make([]string, len(slice))
	for i, s := range slice {
		quoted[i] = fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", "''"))
	}
	return quoted
}

// IntersectFold returns the elements of wanted that appear in available,
// compared case-insensitively, preserving wanted's order and available's
// spelling
func IntersectFold(wanted, available []string) []string {
	lookup := make(map[string]string, len(available))
	for _, a := range available {
		lookup[strings.ToLower(a)] = a
	}

	var out []string
	for _, w := range wanted {
		if a, ok := lookup[strings.ToLower(w)]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ColumnTypeDDL renders the DDL type for a column from its catalog metadata:
// char and varchar types carry their length, decimal carries its precision,
// everything else is the bare type name
func ColumnTypeDDL(dataType string, maxLength, numericPrecision *int) string {
	t := strings.ToLower(dataType)
	switch {
	case strings.Contains(t, "char"):
		if maxLength != nil && *maxLength > 0 {
			return fmt.Sprintf("%s(%d)", dataType, *maxLength)
		}
		return dataType
	case strings.Contains(t, "decimal") || strings.Contains(t, "numeric"):
		if numericPrecision != nil && *numericPrecision > 0 {
			return fmt.Sprintf("%s(%d)", dataType, *numericPrecision)
		}
		return dataType
	default:
		return dataType
	}
}
