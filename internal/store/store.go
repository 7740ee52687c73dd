// Package store provides focused, single-concern data access stores for the
// migration engine and the backup verification service.
//
// Each store owns one concern (destination tables, the backup ledger, run
// bookkeeping, disposable restore databases, invariant queries) and embeds
// shared helpers via the Base struct. Stores never import each other; shared
// logic lives in this file or in errors.go.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/dbpool"
)

const defaultQueryTimeout = 30 * time.Second

// Base contains shared dependencies for all stores.
// Embed this in each store struct.
type Base struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// tableIdent splits an optionally schema-qualified table name.
func tableIdent(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func quoteCol(column string) string {
	return pgx.Identifier{column}.Sanitize()
}
