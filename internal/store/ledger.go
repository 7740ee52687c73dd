package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/persistorai/docmigrate/internal/models"
)

const artifactColumns = `id, kind, storage_key, checksum, size_bytes, encrypted, compressed, created_at`

// LedgerStore reads the backup metadata ledger and records verification outcomes.
type LedgerStore struct {
	Base
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(base Base) *LedgerStore {
	return &LedgerStore{Base: base}
}

func scanArtifact(scan func(dest ...any) error) (*models.BackupArtifact, error) {
	var a models.BackupArtifact

	var kind string

	if err := scan(&a.ID, &kind, &a.StorageKey, &a.Checksum, &a.SizeBytes, &a.Encrypted, &a.Compressed, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.Kind = models.BackupKind(kind)

	return &a, nil
}

// RecordArtifact inserts or replaces a ledger entry.
func (s *LedgerStore) RecordArtifact(ctx context.Context, a *models.BackupArtifact) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO backup_metadata (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			storage_key = EXCLUDED.storage_key,
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			encrypted = EXCLUDED.encrypted,
			compressed = EXCLUDED.compressed,
			created_at = EXCLUDED.created_at`,
		a.ID, string(a.Kind), a.StorageKey, a.Checksum, a.SizeBytes, a.Encrypted, a.Compressed, created,
	)
	if err != nil {
		return fmt.Errorf("recording backup artifact %s: %w", a.ID, err)
	}

	return nil
}

// GetArtifact returns one ledger entry or models.ErrArtifactNotFound.
func (s *LedgerStore) GetArtifact(ctx context.Context, id string) (*models.BackupArtifact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanArtifact(s.Pool.QueryRow(ctx,
		"SELECT "+artifactColumns+" FROM backup_metadata WHERE id = $1", id).Scan)
	if errNoRows(err) {
		return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("getting backup artifact %s: %w", id, err)
	}

	return a, nil
}

// LatestFull returns the most recent full backup or models.ErrArtifactNotFound.
func (s *LedgerStore) LatestFull(ctx context.Context) (*models.BackupArtifact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanArtifact(s.Pool.QueryRow(ctx,
		"SELECT "+artifactColumns+" FROM backup_metadata WHERE kind = 'full' ORDER BY created_at DESC, id DESC LIMIT 1").Scan)
	if errNoRows(err) {
		return nil, fmt.Errorf("%w: no full backup recorded", models.ErrArtifactNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest full backup: %w", err)
	}

	return a, nil
}

// LatestIncrementalSince returns the most recent incremental backup created
// after since, or nil when there is none.
func (s *LedgerStore) LatestIncrementalSince(ctx context.Context, since time.Time) (*models.BackupArtifact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	a, err := scanArtifact(s.Pool.QueryRow(ctx,
		"SELECT "+artifactColumns+` FROM backup_metadata
		 WHERE kind = 'incremental' AND created_at > $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, since).Scan)
	if errNoRows(err) {
		return nil, nil //nolint:nilnil // no incremental backup is not an error.
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest incremental backup: %w", err)
	}

	return a, nil
}

// SaveVerification records a terminal verification result.
func (s *LedgerStore) SaveVerification(ctx context.Context, res *models.VerificationResult) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling verification result: %w", err)
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO backup_verifications
			(artifact_id, status, integrity, restorable, data_consistency, encryption, result, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		res.ArtifactID, res.Status(), res.Integrity, res.Restorable, res.DataConsistency, res.Encryption,
		data, res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("saving verification of %s: %w", res.ArtifactID, err)
	}

	return nil
}

// LatestVerification returns the most recently finished verification, or nil
// when none has been recorded.
func (s *LedgerStore) LatestVerification(ctx context.Context) (*models.VerificationResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var data []byte

	err := s.Pool.QueryRow(ctx,
		"SELECT result FROM backup_verifications ORDER BY finished_at DESC, id DESC LIMIT 1").Scan(&data)
	if errNoRows(err) {
		return nil, nil //nolint:nilnil // empty history is not an error.
	}

	if err != nil {
		return nil, fmt.Errorf("getting latest verification: %w", err)
	}

	var res models.VerificationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshaling verification result: %w", err)
	}

	return &res, nil
}
