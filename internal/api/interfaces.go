package api

import (
	"context"
)

// HealthChecker reports whether the bookkeeping database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
