// Package exporter renders extracted records for CLI consumption. The core
// itself never persists results; these writers exist for callers that want
// the accumulated records on disk or stdout.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

// WriteJSON renders records as an indented JSON array, preserving field
// order within each record.
func WriteJSON(w io.Writer, records []*schema.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

// WriteCSV renders records as CSV. The header is the union of field names in
// first-seen order; list and nested values are JSON-encoded into their cell.
func WriteCSV(w io.Writer, records []*schema.Record) error {
	var header []string
	seen := make(map[string]bool)
	for _, record := range records {
		for _, key := range record.Keys() {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, record := range records {
		row := make([]string, len(header))
		for i, key := range header {
			value, ok := record.Get(key)
			if !ok || value == nil {
				continue
			}
			row[i] = cellValue(value)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
