// Package source reads the per-collection export files produced by the legacy
// document store exporter. Each file is a JSON array of objects named
// <collection>.json inside the data directory.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/persistorai/docmigrate/internal/models"
)

// Options controls how payload fields are interpreted.
type Options struct {
	// IDField holds the opaque source identifier. Defaults to "_id".
	IDField string
	// ExportedAtField optionally holds a per-record export timestamp (RFC 3339).
	// Records without one inherit the file's modification time.
	ExportedAtField string
}

// Path returns the export file path for a collection.
func Path(dataDir, collection string) string {
	return filepath.Join(dataDir, collection+".json")
}

// Load reads every record of one collection. A missing file is reported as
// models.ErrMissingSource so the caller can skip the collection.
func Load(dataDir, collection string, opts Options) ([]models.SourceDocument, error) {
	path := Path(dataDir, collection)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, models.ErrMissingSource)
	}

	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is built from configured data dir.
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return Decode(collection, data, info.ModTime().UTC(), opts)
}

// Decode parses an array-of-records document. Numbers are kept as json.Number
// so monetary values are never rounded through float64.
func Decode(collection string, data []byte, exportedAt time.Time, opts Options) ([]models.SourceDocument, error) {
	if opts.IDField == "" {
		opts.IDField = "_id"
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s export: %w", collection, err)
	}

	docs := make([]models.SourceDocument, 0, len(raw))

	for i, rec := range raw {
		dec := json.NewDecoder(bytes.NewReader(rec))
		dec.UseNumber()

		var payload map[string]any
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("decoding %s record %d: %w", collection, i, err)
		}

		doc := models.SourceDocument{
			Collection: collection,
			SourceID:   sourceID(payload[opts.IDField]),
			Payload:    payload,
			ExportedAt: exportedAt,
			Size:       len(rec),
		}

		if opts.ExportedAtField != "" {
			if s, ok := payload[opts.ExportedAtField].(string); ok {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					doc.ExportedAt = ts.UTC()
				}
			}
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// sourceID renders an id field as an opaque string. Document stores commonly
// export ids either as strings, numbers or {"$oid": "..."} wrappers.
func sourceID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case map[string]any:
		if oid, ok := id["$oid"].(string); ok {
			return oid
		}
	}

	return ""
}
