// Package domain defines the interfaces shared across packages. Consumers
// depend on these rather than on the concrete pgx-backed store.
package domain

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/persistorai/docmigrate/internal/models"
)

// LoadTx is the part of a pgx.Tx the batch importer uses.
type LoadTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LoadBeginner opens one load transaction against the destination.
type LoadBeginner interface {
	BeginLoad(ctx context.Context) (LoadTx, error)
}

// BackupVerifier runs the backup verification pipeline.
type BackupVerifier interface {
	VerifyArtifact(ctx context.Context, artifactID string) (*models.VerificationResult, error)
	VerifyLatest(ctx context.Context) ([]*models.VerificationResult, error)
}

// VerificationHistory reads previously recorded verification outcomes.
type VerificationHistory interface {
	LatestVerification(ctx context.Context) (*models.VerificationResult, error)
}
