// Package backup verifies that backups of the destination store are actually
// restorable. Each artifact moves through a fixed sequence of stages:
//
//	downloaded -> integrity_checked -> decrypted -> decompressed
//	-> restored_to_scratch -> consistency_checked -> reported
//
// Decryption and decompression are skipped for artifacts that are not
// encrypted or compressed. The four checks (integrity, encryption,
// restorability and data consistency) are independent: a failing check is
// recorded and the remaining checks still run, so every report is complete.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/crypto"
	"github.com/persistorai/docmigrate/internal/metrics"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/objstore"
	"github.com/persistorai/docmigrate/internal/store"
)

// Ledger is the backup metadata the service reads and writes.
type Ledger interface {
	GetArtifact(ctx context.Context, id string) (*models.BackupArtifact, error)
	LatestFull(ctx context.Context) (*models.BackupArtifact, error)
	LatestIncrementalSince(ctx context.Context, since time.Time) (*models.BackupArtifact, error)
	SaveVerification(ctx context.Context, res *models.VerificationResult) error
}

// RestoreTarget is a disposable database a dump is replayed into.
type RestoreTarget interface {
	Replay(ctx context.Context, r io.Reader) error
	CountRows(ctx context.Context, table string) (int64, error)
}

// Provisioner creates a RestoreTarget and returns the function that destroys it.
type Provisioner interface {
	Provision(ctx context.Context) (RestoreTarget, func(context.Context) error, error)
}

// InvariantChecker runs invariant queries against the live destination.
type InvariantChecker interface {
	Check(ctx context.Context, invariants []store.Invariant) []models.InvariantResult
}

// Options configures the service.
type Options struct {
	EncryptionKey     []byte // nil when no key is configured
	RequireEncryption bool
	SmokeTables       []string
	Invariants        []store.Invariant
	WorkDir           string // temp files; os.TempDir() when empty
}

// Service runs backup verifications.
type Service struct {
	ledger      Ledger
	objects     objstore.Store
	provisioner Provisioner
	checker     InvariantChecker
	alerter     Alerter
	opts        Options
	log         *logrus.Logger
	now         func() time.Time
}

// NewService creates a Service.
func NewService(
	ledger Ledger,
	objects objstore.Store,
	provisioner Provisioner,
	checker InvariantChecker,
	alerter Alerter,
	opts Options,
	log *logrus.Logger,
) *Service {
	return &Service{
		ledger:      ledger,
		objects:     objects,
		provisioner: provisioner,
		checker:     checker,
		alerter:     alerter,
		opts:        opts,
		log:         log,
		now:         time.Now,
	}
}

// VerifyArtifact verifies one ledger entry. The error is non-nil only when the
// artifact cannot be found in the ledger; check failures live in the result.
func (s *Service) VerifyArtifact(ctx context.Context, artifactID string) (*models.VerificationResult, error) {
	art, err := s.ledger.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	return s.Verify(ctx, art), nil
}

// VerifyLatest verifies the most recent full backup and the most recent
// incremental backup taken after it, if any. When the incremental lookup
// fails the full backup's result is still returned alongside the error.
func (s *Service) VerifyLatest(ctx context.Context) ([]*models.VerificationResult, error) {
	full, err := s.ledger.LatestFull(ctx)
	if err != nil {
		return nil, err
	}

	results := []*models.VerificationResult{s.Verify(ctx, full)}

	inc, err := s.ledger.LatestIncrementalSince(ctx, full.CreatedAt)
	if err != nil {
		return results, fmt.Errorf("finding incremental backup since %s: %w", full.ID, err)
	}

	if inc != nil {
		results = append(results, s.Verify(ctx, inc))
	}

	return results, nil
}

// run carries the state of one verification through its stages.
type run struct {
	art    *models.BackupArtifact
	res    *models.VerificationResult
	log    *logrus.Entry
	dir    string
	raw    string // downloaded artifact
	plain  string // decrypted artifact, or raw when not encrypted
	failed map[models.VerificationCheck]bool
}

func (r *run) stage(st models.VerificationStage) {
	r.res.Stages = append(r.res.Stages, st)
	r.log.WithField("stage", st).Debug("verification stage reached")
}

func (r *run) fail(check models.VerificationCheck, err error) {
	r.failed[check] = true
	r.res.Errors = append(r.res.Errors, string(check)+": "+err.Error())
	r.log.WithField("check", check).WithError(err).Warn("backup check failed")
}

// Verify runs every check against art and always returns a terminal result.
func (s *Service) Verify(ctx context.Context, art *models.BackupArtifact) *models.VerificationResult {
	r := &run{
		art: art,
		res: &models.VerificationResult{
			ArtifactID: art.ID,
			Kind:       art.Kind,
			StartedAt:  s.now().UTC(),
		},
		log:    s.log.WithFields(logrus.Fields{"artifact_id": art.ID, "kind": art.Kind}),
		failed: make(map[models.VerificationCheck]bool),
	}

	r.log.Info("backup verification started")

	dir, err := os.MkdirTemp(s.opts.WorkDir, "docmigrate-verify-")
	if err != nil {
		r.fail(models.CheckIntegrity, fmt.Errorf("creating work dir: %w", err))
		r.fail(models.CheckEncryption, errors.New("not attempted: no work dir"))
		r.fail(models.CheckRestorable, errors.New("not attempted: no work dir"))
	} else {
		r.dir = dir
		defer os.RemoveAll(dir) //nolint:errcheck // temp files.

		s.download(ctx, r)
		s.decrypt(r)
		s.restore(ctx, r)
	}

	s.consistency(ctx, r)

	r.res.Integrity = !r.failed[models.CheckIntegrity]
	r.res.Encryption = !r.failed[models.CheckEncryption]
	r.res.Restorable = !r.failed[models.CheckRestorable]
	r.res.DataConsistency = !r.failed[models.CheckDataConsistency]
	r.res.FinishedAt = s.now().UTC()
	r.stage(models.StageReported)

	s.report(ctx, r)

	return r.res
}

// download fetches the artifact while hashing it, then compares the digest
// with the checksum recorded in the ledger.
func (s *Service) download(ctx context.Context, r *run) {
	r.raw = filepath.Join(r.dir, "artifact")

	f, err := os.Create(r.raw)
	if err != nil {
		r.raw = ""
		r.fail(models.CheckIntegrity, fmt.Errorf("creating download file: %w", err))

		return
	}

	h := sha256.New()
	n, err := s.objects.Download(ctx, r.art.StorageKey, io.MultiWriter(f, h))
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		r.raw = ""
		r.fail(models.CheckIntegrity, fmt.Errorf("downloading: %w", err))

		return
	}

	r.stage(models.StageDownloaded)
	r.log.WithField("bytes", n).Info("artifact downloaded")

	sum := hex.EncodeToString(h.Sum(nil))

	switch {
	case !strings.EqualFold(sum, r.art.Checksum):
		r.fail(models.CheckIntegrity, fmt.Errorf("%w: recorded %s, computed %s", models.ErrChecksumMismatch, r.art.Checksum, sum))
	case r.art.SizeBytes > 0 && n != r.art.SizeBytes:
		r.fail(models.CheckIntegrity, fmt.Errorf("size mismatch: recorded %d bytes, downloaded %d", r.art.SizeBytes, n))
	}

	r.stage(models.StageIntegrityChecked)
}

// decrypt handles the encryption check. An unencrypted artifact passes unless
// encryption is required.
func (s *Service) decrypt(r *run) {
	if r.raw == "" {
		r.fail(models.CheckEncryption, errors.New("not attempted: artifact not downloaded"))
		return
	}

	if !r.art.Encrypted {
		r.plain = r.raw

		if s.opts.RequireEncryption {
			r.fail(models.CheckEncryption, models.ErrUnencryptedBackup)
		}

		return
	}

	if len(s.opts.EncryptionKey) == 0 {
		r.fail(models.CheckEncryption, models.ErrEncryptionKey)
		return
	}

	in, err := os.Open(r.raw)
	if err != nil {
		r.fail(models.CheckEncryption, err)
		return
	}
	defer in.Close()

	path := filepath.Join(r.dir, "artifact.dec")

	out, err := os.Create(path)
	if err != nil {
		r.fail(models.CheckEncryption, err)
		return
	}

	_, err = crypto.Decrypt(s.opts.EncryptionKey, in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		r.fail(models.CheckEncryption, fmt.Errorf("decrypting: %w", err))
		return
	}

	r.plain = path
	r.stage(models.StageDecrypted)
}

// restore replays the dump into a disposable database and runs the smoke
// queries. The database is destroyed on every path once provisioned.
func (s *Service) restore(ctx context.Context, r *run) {
	if r.plain == "" {
		r.fail(models.CheckRestorable, errors.New("not attempted: no readable artifact"))
		return
	}

	f, err := os.Open(r.plain)
	if err != nil {
		r.fail(models.CheckRestorable, err)
		return
	}
	defer f.Close()

	var dump io.Reader = f

	if r.art.Compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			r.fail(models.CheckRestorable, fmt.Errorf("opening gzip stream: %w", err))
			return
		}
		defer gz.Close()

		dump = gz
		r.stage(models.StageDecompressed)
	}

	target, teardown, err := s.provisioner.Provision(ctx)
	if err != nil {
		r.fail(models.CheckRestorable, fmt.Errorf("provisioning scratch database: %w", err))
		return
	}

	defer func() {
		if err := teardown(ctx); err != nil {
			r.fail(models.CheckRestorable, fmt.Errorf("destroying scratch database: %w", err))
		}
	}()

	defer func() {
		if p := recover(); p != nil {
			r.fail(models.CheckRestorable, fmt.Errorf("restore panicked: %v", p))
		}
	}()

	if err := target.Replay(ctx, dump); err != nil {
		r.fail(models.CheckRestorable, fmt.Errorf("replaying dump: %w", err))
		return
	}

	r.stage(models.StageRestoredToScratch)

	r.res.SmokeCounts = make(map[string]int64, len(s.opts.SmokeTables))

	for _, table := range s.opts.SmokeTables {
		n, err := target.CountRows(ctx, table)
		if err != nil {
			r.fail(models.CheckRestorable, fmt.Errorf("smoke query on %s: %w", table, err))
			continue
		}

		r.res.SmokeCounts[table] = n
	}
}

// consistency runs the invariant battery against the live destination.
func (s *Service) consistency(ctx context.Context, r *run) {
	r.res.Invariants = s.checker.Check(ctx, s.opts.Invariants)

	for _, inv := range r.res.Invariants {
		switch {
		case inv.Error != "":
			r.fail(models.CheckDataConsistency, fmt.Errorf("%s: %s", inv.Name, inv.Error))
		case inv.Violations > 0:
			r.fail(models.CheckDataConsistency, fmt.Errorf("%s: %d violations", inv.Name, inv.Violations))
		}
	}

	r.stage(models.StageConsistencyChecked)
}

// report records the outcome, updates metrics and alerts on failure.
func (s *Service) report(ctx context.Context, r *run) {
	metrics.ObserveVerification(r.res)

	if err := s.ledger.SaveVerification(ctx, r.res); err != nil {
		r.log.WithError(err).Error("saving verification result failed")
	}

	fields := logrus.Fields{
		"integrity":        r.res.Integrity,
		"encryption":       r.res.Encryption,
		"restorable":       r.res.Restorable,
		"data_consistency": r.res.DataConsistency,
	}

	if r.res.Passed() {
		r.log.WithFields(fields).Info("backup verification passed")
		return
	}

	r.log.WithFields(fields).WithField("failed_checks", r.res.FailedChecks()).Warn("backup verification failed")

	if s.alerter != nil {
		if err := s.alerter.Alert(ctx, r.res); err != nil {
			r.log.WithError(err).Error("raising alert failed")
		}
	}
}
