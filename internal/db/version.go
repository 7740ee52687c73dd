package db

import (
	"strings"

	"github.com/persistorai/docmigrate/internal/db/migrations"
)

// SchemaVersion returns the number of embedded SQL migrations. It is recorded
// in every run report so audit output can be matched to the bookkeeping schema.
func SchemaVersion() int {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return 0
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			count++
		}
	}

	return count
}
