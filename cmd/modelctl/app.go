package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/modelctl/internal/config"
	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/auditlog"
	platformstore "github.com/animus-labs/modelctl/internal/platform/objectstore"
	"github.com/animus-labs/modelctl/internal/platform/postgres"
	"github.com/animus-labs/modelctl/internal/repo"
	"github.com/animus-labs/modelctl/internal/repo/mlflow"
	pgrepo "github.com/animus-labs/modelctl/internal/repo/postgres"
	"github.com/animus-labs/modelctl/internal/service/artifacts"
	"github.com/animus-labs/modelctl/internal/service/promotion"
	"github.com/animus-labs/modelctl/internal/service/runs"
	store "github.com/animus-labs/modelctl/internal/storage/objectstore"
)

// registry is what the commands need from a run registry.
type registry interface {
	repo.RunRegistry
	repo.RunReader
	repo.ExperimentReader
}

// app carries the configuration and lazily opened clients of one
// invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	logger *slog.Logger

	openRegistry func(ctx context.Context) (registry, repo.AuditEventAppender, error)
	openStore    func(ctx context.Context, ensureBucket bool) (store.Store, error)
	openDB       func(ctx context.Context) (*sql.DB, error)

	reg     registry
	audit   repo.AuditEventAppender
	db      *sql.DB
	closers []func() error
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	a := &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		cfg:    config.Default(),
		logger: slog.New(slog.NewTextHandler(stderr, nil)),
	}
	a.openRegistry = a.defaultRegistry
	a.openStore = a.defaultStore
	a.openDB = a.defaultDB
	return a
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (a *app) registry(ctx context.Context) (registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	reg, audit, err := a.openRegistry(ctx)
	if err != nil {
		return nil, err
	}
	a.reg, a.audit = reg, audit
	return reg, nil
}

func (a *app) defaultRegistry(ctx context.Context) (registry, repo.AuditEventAppender, error) {
	switch a.cfg.Registry {
	case config.RegistryPostgres:
		db, err := a.database(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pgrepo.NewRunStore(db), auditlog.NewAppender(db), nil
	default:
		client, err := mlflow.NewClient(a.cfg.TrackingURI, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("tracking client: %w", err)
		}
		return client, nil, nil
	}
}

func (a *app) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) defaultDB(ctx context.Context) (*sql.DB, error) {
	db, err := postgres.Open(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) defaultStore(ctx context.Context, ensureBucket bool) (store.Store, error) {
	client, err := platformstore.NewMinIOClient(a.cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	if ensureBucket {
		err = platformstore.EnsureBucket(ctx, client, a.cfg.ObjectStore)
	} else {
		err = platformstore.CheckBucket(ctx, client, a.cfg.ObjectStore)
	}
	if err != nil {
		return nil, fmt.Errorf("object store unavailable: %w", err)
	}
	return store.NewMinioStoreWithClient(client)
}

func (a *app) resolver(ctx context.Context) (*runs.Resolver, error) {
	reg, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}
	return runs.NewResolver(reg, a.logger, runs.WithTags(a.cfg.LiveTag, a.cfg.CandidateTag))
}

func (a *app) promotion(ctx context.Context) (*promotion.Service, *runs.Resolver, error) {
	resolver, err := a.resolver(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := []promotion.Option{
		promotion.WithTags(a.cfg.LiveTag, a.cfg.CandidateTag),
		promotion.WithLiveRunFinder(resolver),
	}
	if a.audit != nil {
		opts = append(opts, promotion.WithAudit(a.audit, a.cfg.Actor))
	}
	svc, err := promotion.NewService(a.reg, a.logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, resolver, nil
}

// artifactOptions opens only what the configured deployment mode needs:
// LOCAL touches neither the registry nor the object store.
func (a *app) artifactOptions(ctx context.Context, ensureBucket bool) (artifacts.Options, error) {
	mode, err := a.cfg.Mode()
	if err != nil {
		return artifacts.Options{}, err
	}
	opts := artifacts.Options{
		Mode: mode,
		Files: artifacts.Files{
			FeatureEngineering: a.cfg.FeatureEngineeringFile,
			Classifier:         a.cfg.ClassifierFile,
		},
		LocalDir:       a.cfg.LocalArtifactDir,
		CacheDir:       a.cfg.CacheDir,
		Bucket:         a.cfg.ObjectStore.Bucket,
		StorePrefix:    a.cfg.StorePrefix,
		ExperimentID:   a.cfg.ExperimentID,
		ExperimentName: strings.TrimSpace(a.cfg.ExperimentName),
		Logger:         a.logger,
	}
	if !mode.Remote() {
		return opts, nil
	}
	objects, err := a.openStore(ctx, ensureBucket)
	if err != nil {
		return artifacts.Options{}, err
	}
	opts.Store = objects
	if mode == domain.DeploymentRemoteTracked {
		resolver, err := a.resolver(ctx)
		if err != nil {
			return artifacts.Options{}, err
		}
		opts.Runs = resolver
		opts.Experiments = a.reg
	}
	return opts, nil
}
