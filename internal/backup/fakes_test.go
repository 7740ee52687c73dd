package backup_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/persistorai/docmigrate/internal/backup"
	"github.com/persistorai/docmigrate/internal/models"
	"github.com/persistorai/docmigrate/internal/store"
)

type fakeLedger struct {
	artifacts map[string]*models.BackupArtifact
	saved     []*models.VerificationResult
	incErr    error
}

func (l *fakeLedger) GetArtifact(_ context.Context, id string) (*models.BackupArtifact, error) {
	a, ok := l.artifacts[id]
	if !ok {
		return nil, models.ErrArtifactNotFound
	}

	return a, nil
}

func (l *fakeLedger) LatestFull(_ context.Context) (*models.BackupArtifact, error) {
	var latest *models.BackupArtifact

	for _, a := range l.artifacts {
		if a.Kind == models.BackupFull && (latest == nil || a.CreatedAt.After(latest.CreatedAt)) {
			latest = a
		}
	}

	if latest == nil {
		return nil, models.ErrArtifactNotFound
	}

	return latest, nil
}

func (l *fakeLedger) LatestIncrementalSince(_ context.Context, since time.Time) (*models.BackupArtifact, error) {
	if l.incErr != nil {
		return nil, l.incErr
	}

	var latest *models.BackupArtifact

	for _, a := range l.artifacts {
		if a.Kind == models.BackupIncremental && a.CreatedAt.After(since) && (latest == nil || a.CreatedAt.After(latest.CreatedAt)) {
			latest = a
		}
	}

	return latest, nil
}

func (l *fakeLedger) SaveVerification(_ context.Context, res *models.VerificationResult) error {
	l.saved = append(l.saved, res)
	return nil
}

type fakeObjects map[string][]byte

func (f fakeObjects) Ping(context.Context) error { return nil }

func (f fakeObjects) Download(_ context.Context, key string, dst io.Writer) (int64, error) {
	data, ok := f[key]
	if !ok {
		return 0, models.ErrArtifactNotFound
	}

	return io.Copy(dst, bytes.NewReader(data))
}

type fakeTarget struct {
	replayed   string
	replayErr  error
	panicOnRun bool
	counts     map[string]int64
}

func (t *fakeTarget) Replay(_ context.Context, r io.Reader) error {
	if t.panicOnRun {
		panic("driver exploded")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	t.replayed = string(data)

	return t.replayErr
}

func (t *fakeTarget) CountRows(_ context.Context, table string) (int64, error) {
	n, ok := t.counts[table]
	if !ok {
		return 0, errors.New(`relation "` + table + `" does not exist`)
	}

	return n, nil
}

type fakeProvisioner struct {
	target       *fakeTarget
	provisionErr error
	mu           sync.Mutex
	teardowns    int
}

func (p *fakeProvisioner) Provision(context.Context) (backup.RestoreTarget, func(context.Context) error, error) {
	if p.provisionErr != nil {
		return nil, nil, p.provisionErr
	}

	return p.target, func(context.Context) error {
		p.mu.Lock()
		p.teardowns++
		p.mu.Unlock()

		return nil
	}, nil
}

type fakeChecker struct {
	violations map[string]int64
	calls      int
}

func (c *fakeChecker) Check(_ context.Context, invs []store.Invariant) []models.InvariantResult {
	c.calls++

	out := make([]models.InvariantResult, 0, len(invs))
	for _, inv := range invs {
		out = append(out, models.InvariantResult{Name: inv.Name, Violations: c.violations[inv.Name]})
	}

	return out
}

type recordingAlerter struct {
	alerts []*models.VerificationResult
}

func (a *recordingAlerter) Alert(_ context.Context, res *models.VerificationResult) error {
	a.alerts = append(a.alerts, res)
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
