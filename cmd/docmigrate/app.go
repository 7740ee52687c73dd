package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/backup"
	"github.com/persistorai/docmigrate/internal/config"
	"github.com/persistorai/docmigrate/internal/crypto"
	"github.com/persistorai/docmigrate/internal/db"
	"github.com/persistorai/docmigrate/internal/db/migrations"
	"github.com/persistorai/docmigrate/internal/dbpool"
	"github.com/persistorai/docmigrate/internal/metrics"
	"github.com/persistorai/docmigrate/internal/objstore"
	"github.com/persistorai/docmigrate/internal/rules"
	"github.com/persistorai/docmigrate/internal/store"
)

// app holds state shared by every command.
type app struct {
	rulesPath string
	format    string

	cfg *config.Config
	log *logrus.Logger
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(dataDir, outputDir, databaseURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return usage(err)
	}

	if err := cfg.Override(dataDir, outputDir, databaseURL); err != nil {
		return usage(fmt.Errorf("config validation: %w", err))
	}

	if a.rulesPath != "" {
		cfg.RulesFile = a.rulesPath
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return usage(err)
	}

	a.cfg = cfg
	a.log = log

	return nil
}

func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log, nil
}

func (a *app) rules() (*rules.Set, error) {
	if a.cfg.RulesFile == "" {
		return rules.Default()
	}

	return rules.Load(a.cfg.RulesFile)
}

// openPool connects to Postgres and brings the bookkeeping schema up to date.
func (a *app) openPool(ctx context.Context, databaseURL string, migrate bool) (*dbpool.Pool, error) {
	pool, err := dbpool.NewPool(ctx, databaseURL, a.cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", redactURL(databaseURL), err)
	}

	if migrate {
		if err := db.RunMigrations(ctx, pool, a.log, migrations.FS); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return pool, nil
}

func (a *app) objectStore() (objstore.Store, error) {
	if a.cfg.BackupStore == config.BackupStoreS3 {
		return objstore.NewS3Client(objstore.S3Config{
			Endpoint:  a.cfg.S3Endpoint,
			AccessKey: a.cfg.S3AccessKey.Value(),
			SecretKey: a.cfg.S3SecretKey.Value(),
			Bucket:    a.cfg.S3Bucket,
			Region:    a.cfg.S3Region,
			UseSSL:    a.cfg.S3UseSSL,
		})
	}

	return objstore.NewLocalStore(a.cfg.BackupLocalDir), nil
}

func (a *app) alerter() backup.Alerter {
	alerters := backup.MultiAlerter{backup.LogAlerter{Log: a.log}}
	if a.cfg.AlertWebhookURL != "" {
		alerters = append(alerters, backup.NewWebhookAlerter(a.cfg.AlertWebhookURL, a.log))
	}

	return alerters
}

// backupDeps is a wired backup verification service and what it holds open.
type backupDeps struct {
	service *backup.Service
	ledger  *store.LedgerStore
	pools   []*dbpool.Pool
}

func (d *backupDeps) Close() {
	for _, p := range d.pools {
		p.Close()
	}
}

func (a *app) backupService(ctx context.Context) (*backupDeps, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, usage(err)
	}

	set, err := a.rules()
	if err != nil {
		return nil, err
	}

	objects, err := a.objectStore()
	if err != nil {
		return nil, err
	}

	var key []byte
	if k := a.cfg.BackupEncryptionKey.Value(); k != "" {
		if key, err = crypto.ParseKey(k); err != nil {
			return nil, err
		}
	}

	pool, err := a.openPool(ctx, a.cfg.DatabaseURL.Value(), true)
	if err != nil {
		return nil, err
	}

	deps := &backupDeps{pools: []*dbpool.Pool{pool}}

	admin := pool
	if a.cfg.BackupAdminURL.Value() != a.cfg.DatabaseURL.Value() {
		if admin, err = a.openPool(ctx, a.cfg.BackupAdminURL.Value(), false); err != nil {
			deps.Close()
			return nil, err
		}

		deps.pools = append(deps.pools, admin)
	}

	base := store.Base{Pool: pool, Log: a.log}
	deps.ledger = store.NewLedgerStore(base)
	deps.service = backup.NewService(
		deps.ledger,
		objects,
		backup.ScratchProvisioner{Store: store.NewScratchStore(store.Base{Pool: admin, Log: a.log})},
		store.NewInvariantStore(base),
		a.alerter(),
		backup.Options{
			EncryptionKey:     key,
			RequireEncryption: a.cfg.BackupRequireEncryption,
			SmokeTables:       a.cfg.BackupSmokeTables,
			Invariants:        backup.Invariants(set),
		},
		a.log,
	)

	return deps, nil
}

// pushMetrics sends the run's metrics to the Pushgateway when one is set.
// Failure is logged and never changes the exit code.
func (a *app) pushMetrics(ctx context.Context, job string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}

	if err := metrics.Push(context.WithoutCancel(ctx), a.cfg.PushgatewayURL, job); err != nil {
		a.log.WithError(err).Warn("pushing metrics failed")
	}
}

// redactURL removes credentials from a connection string for display.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable URL]"
	}

	u.User = nil

	return u.String()
}
