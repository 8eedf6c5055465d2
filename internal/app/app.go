// Package app wires configuration into the stores, services and clients
// shared by the HTTP server, the MCP server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/auth"
	"github.com/raphaelgruber/assetcheck/internal/config"
	"github.com/raphaelgruber/assetcheck/internal/db"
	"github.com/raphaelgruber/assetcheck/internal/drive"
	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/sheets"
	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/storage/sqlite"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

// App holds every long-lived component.
type App struct {
	Config      config.Config
	KV          storage.KV
	Metrics     *metrics.Collector
	Creds       remote.CredentialProvider
	Auth        *auth.Provider
	Tabular     remote.TabularStore
	Blobs       remote.BlobStore
	Attachments *attachments.Cache
	Sessions    *session.Store
	Coordinator *syncer.Coordinator
	Catalog     *service.CatalogService
	Tests       *service.TestService
	Jobs        *service.JobManager

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Option configures New.
type Option func(*options)

type options struct {
	kv      storage.KV
	tabular remote.TabularStore
	blobs   remote.BlobStore
	creds   remote.CredentialProvider
	consent auth.ConsentFunc
}

// WithKV replaces the SQLite store, e.g. with storage.NewMemory in tests.
func WithKV(kv storage.KV) Option {
	return func(o *options) { o.kv = kv }
}

// WithTabular replaces the configured tabular backend.
func WithTabular(t remote.TabularStore) Option {
	return func(o *options) { o.tabular = t }
}

// WithBlobs replaces the Drive client.
func WithBlobs(b remote.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithCredentials replaces the credential provider.
func WithCredentials(c remote.CredentialProvider) Option {
	return func(o *options) { o.creds = c }
}

// WithConsent sets the interactive consent step of the OAuth provider.
func WithConsent(fn auth.ConsentFunc) Option {
	return func(o *options) { o.consent = fn }
}

// New builds the application from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Metrics: metrics.NewCollector(), logger: logger}

	a.KV = o.kv
	if a.KV == nil {
		store, err := sqlite.Open(ctx, cfg.LocalDB)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		a.KV = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}

	a.Creds = o.creds
	if a.Creds == nil {
		switch {
		case cfg.AccessToken != "":
			a.Creds = auth.Static(cfg.AccessToken)
		case cfg.ClientID != "":
			providerOpts := []auth.Option{auth.WithLogger(logger)}
			if o.consent != nil {
				providerOpts = append(providerOpts, auth.WithConsent(o.consent))
			}
			a.Auth = auth.NewProvider(cfg.ClientID, cfg.ClientSecret, cfg.TokenScopes, a.KV, providerOpts...)
			a.Creds = a.Auth
		default:
			a.Creds = auth.Static("")
		}
	}

	a.Tabular = o.tabular
	if a.Tabular == nil {
		tabular, err := a.openTabular(ctx)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.Tabular = tabular
	}

	a.Blobs = o.blobs
	if a.Blobs == nil && cfg.RemoteBackend == config.BackendSheets {
		blobs, err := drive.New(ctx, a.Creds,
			drive.WithBaseURL(cfg.DriveBaseURL),
			drive.WithMetrics(a.Metrics),
			drive.WithLogger(logger),
		)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.Blobs = blobs
	}

	a.Attachments = attachments.New(ctx, a.KV,
		attachments.WithMaxDimension(cfg.ImageMaxDimension),
		attachments.WithQuality(cfg.ImageQuality),
		attachments.WithMaxPixels(cfg.ImageMaxPixels),
		attachments.WithLogger(logger),
	)
	a.Sessions = session.NewStore(a.KV, session.WithTTL(cfg.SessionTTL), session.WithLogger(logger))

	coordOpts := []syncer.Option{
		syncer.WithAttachments(a.Attachments),
		syncer.WithFolderCache(a.KV),
		syncer.WithResultsRange(cfg.ResultsRange()),
		syncer.WithRootFolder(cfg.DriveRoot),
		syncer.WithDedupe(cfg.DedupeOnDrain),
		syncer.WithUploadConcurrency(cfg.UploadConcurrency),
		syncer.WithMetrics(a.Metrics),
		syncer.WithLogger(logger),
	}
	if a.Blobs != nil {
		coordOpts = append(coordOpts, syncer.WithBlobStore(a.Blobs))
	}
	queue := syncer.NewQueue(a.KV, syncer.WithQueueLogger(logger))
	a.Coordinator = syncer.New(a.Tabular, a.Creds, queue, coordOpts...)

	a.Catalog = service.NewCatalogService(a.Tabular, service.CatalogRanges{
		Assets:      cfg.AssetsRange(),
		Procedures:  cfg.ProceduresRange(),
		Contractors: cfg.ContractorsRange(),
		History:     cfg.HistoryRange(),
	}, service.WithProceduresFile(cfg.ProceduresFile), service.WithCatalogLogger(logger))

	a.Tests = service.NewTestService(a.Catalog, a.Sessions, a.Attachments, a.Coordinator,
		service.WithAutosaveInterval(cfg.AutosaveInterval),
		service.WithTestMetrics(a.Metrics),
		service.WithTestLogger(logger),
	)

	a.Jobs = service.NewJobManager(a.KV, logger)
	if err := a.Jobs.ResumeIncompleteJobs(ctx); err != nil {
		logger.Warn("failed to resume incomplete jobs", "error", err)
	}
	return a, nil
}

func (a *App) openTabular(ctx context.Context) (remote.TabularStore, error) {
	cfg := a.Config
	switch cfg.RemoteBackend {
	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	default:
		opts := []sheets.Option{
			sheets.WithBaseURL(cfg.SheetsBaseURL),
			sheets.WithMetrics(a.Metrics),
			sheets.WithLogger(a.logger),
		}
		if cfg.APIKey != "" {
			opts = append(opts, sheets.WithAPIKey(cfg.APIKey))
		}
		client, err := sheets.New(ctx, cfg.SpreadsheetID, a.Creds, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Close flushes live sessions and releases connections.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Tests != nil {
		if err := a.Tests.Close(ctx); err != nil {
			a.logger.Warn("failed to flush sessions", "error", err)
		}
	}
	if a.Jobs != nil {
		a.Jobs.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
