package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"kittycore/internal/archive"
	"kittycore/internal/blob"
	"kittycore/internal/config"
	"kittycore/internal/core"
	"kittycore/internal/dispatch"
	"kittycore/internal/ledger"
	"kittycore/internal/logging"
	"kittycore/internal/observability/prom"
	"kittycore/internal/randomness"
)

const (
	ledgerKey = "state/ledger.json"
	chainKey  = "state/chain.json"
)

// app is everything one kittyctl invocation works with.
type app struct {
	cfg        config.Config
	logger     *logging.Logger
	store      core.PersistentStore
	closeStore func() error
	blobs      blob.Store
	book       *ledger.Ledger
	chain      *dispatch.Dispatcher
	svc        *core.Service
	registry   *prometheus.Registry
	archiver   *archive.Archiver

	// dirty marks ledger or chain changes that must be saved on close.
	dirty bool
}

func openApp(ctx context.Context, configPath string, logOut io.Writer) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: logOut,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closeStore: func() error { return nil }}
	defer func() {
		if err != nil {
			_ = a.closeStore()
		}
	}()

	store, closeStore, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	a.store, a.closeStore = store, closeStore
	a.blobs, err = blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          cfg.Blob.S3.Region,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			SessionToken:    cfg.Blob.S3.SessionToken,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	if err := a.loadLedger(ctx); err != nil {
		return nil, err
	}
	if err := a.loadChain(ctx); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	recorder, err := prom.NewRecorder(a.registry)
	if err != nil {
		return nil, err
	}
	a.svc = core.NewService(a.store, a.book, a.chain.Randomness(),
		core.WithDeposit(core.Balance(cfg.Deposit)),
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
		core.WithEventSink(recorder),
		core.WithEventSink(core.EventSinkFunc(a.checkpoint)),
		core.WithAuditRecorder(auditLog{logger: logger}),
	)
	a.archiver = archive.New(a.blobs, a.svc, archive.WithLogger(logger))
	return a, nil
}

func (a *app) loadLedger(ctx context.Context) error {
	a.book = ledger.New()
	var accounts map[core.AccountID]ledger.Account
	switch err := blob.GetJSON(ctx, a.blobs, ledgerKey, &accounts); {
	case errors.Is(err, blob.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load ledger: %w", err)
	}
	a.book.Restore(accounts)
	return nil
}

// loadChain restores the dispatcher, seeding block 1 on first use.
func (a *app) loadChain(ctx context.Context) error {
	var state dispatch.State
	err := blob.GetJSON(ctx, a.blobs, chainKey, &state)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		seed, err := randomness.NewSeed()
		if err != nil {
			return err
		}
		a.chain = dispatch.New(randomness.NewBlockSource(seed, 1))
		a.dirty = true
		return nil
	case err != nil:
		return fmt.Errorf("load chain state: %w", err)
	}
	a.chain = dispatch.Restore(state)
	return nil
}

func (a *app) saveLedger(ctx context.Context) error {
	if _, err := blob.PutJSON(ctx, a.blobs, ledgerKey, a.book.Snapshot(), true); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// checkpoint runs after every committed call that emitted events, so the
// reservations behind a registry commit reach the blob store without waiting
// for close. It runs inside Dispatch and must not touch the dispatcher; the
// chain state is saved by close. A failure is retried by close.
func (a *app) checkpoint(ctx context.Context, _ []core.Event) {
	if err := a.saveLedger(ctx); err != nil {
		a.logger.Warn("ledger checkpoint failed", "error", err)
	}
}

// close saves dirty state, archives new events, writes the metrics textfile
// and releases the registry store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.dirty {
		if err := a.saveLedger(ctx); err != nil {
			errs = append(errs, err)
		}
		if _, err := blob.PutJSON(ctx, a.blobs, chainKey, a.chain.State(), true); err != nil {
			errs = append(errs, fmt.Errorf("save chain state: %w", err))
		}
		if _, err := a.archiver.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archive events: %w", err))
		}
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if _, err := prom.WriteTextfile(path, a.registry); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close registry store: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// auditLog writes audit entries to the structured log.
type auditLog struct {
	logger core.Logger
}

func (l auditLog) Record(_ context.Context, e core.AuditEntry) {
	l.logger.Debug("audit",
		"operation", e.Operation,
		"status", e.Status,
		"caller", e.Caller,
		"kitty", e.EntityID,
		"duration", e.Duration,
		"error", e.Error,
	)
}
