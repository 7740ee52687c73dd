// Package models defines the data types shared by the migration engine and
// the backup verification service.
package models

import "time"

// SourceDocument is one schemaless record exported from the legacy document store.
type SourceDocument struct {
	Collection string         `json:"collection"`
	SourceID   string         `json:"source_id"`
	Payload    map[string]any `json:"payload"`
	ExportedAt time.Time      `json:"exported_at"`
	Size       int            `json:"-"` // encoded size in bytes as read from the export file
}

// DanglingRef describes a foreign-key value that had no entry in the identifier mapping.
type DanglingRef struct {
	Field            string `json:"field"`
	TargetCollection string `json:"target_collection"`
	SourceValue      string `json:"source_value"`
}

// TransformedRecord is a destination-schema row ready to be loaded.
type TransformedRecord struct {
	Table    string         `json:"table"`
	ID       string         `json:"id"`
	SourceID string         `json:"source_id"`
	Fields   map[string]any `json:"fields"`
	Dangling []DanglingRef  `json:"dangling,omitempty"`
}

// Columns returns the record's column names excluding the primary key.
func (r *TransformedRecord) Columns() []string {
	cols := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if k == PrimaryKeyColumn {
			continue
		}
		cols = append(cols, k)
	}

	return cols
}

// PrimaryKeyColumn is the globally-unique primary-key column present on every destination table.
const PrimaryKeyColumn = "id"
