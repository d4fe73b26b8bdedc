package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/audit"
	"github.com/m0rphlin/operetta/internal/browser"
	"github.com/m0rphlin/operetta/internal/config"
	"github.com/m0rphlin/operetta/internal/credentials"
	"github.com/m0rphlin/operetta/internal/identity"
	"github.com/m0rphlin/operetta/internal/identityservice"
	"github.com/m0rphlin/operetta/internal/orchestrator"
	"github.com/m0rphlin/operetta/internal/platform"
	"github.com/m0rphlin/operetta/internal/scheduler"
	"github.com/m0rphlin/operetta/internal/store"
	"github.com/m0rphlin/operetta/internal/textgen"
)

// ComponentFactory builds the full component graph from configuration.
// The abstraction exists so command-level tests can substitute the graph.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create performs the full dependency injection in order. A failure midway
// shuts the partially built graph back down before returning.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components",
				zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// Database pool and store.
	if cfg.Database().URL == "" {
		initializationErr = fmt.Errorf("database URL is not configured (hint: check OPERETTA_DATABASE_URL)")
		return nil, initializationErr
	}
	dbPool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
		return nil, initializationErr
	}
	components.DBPool = dbPool

	dbStore, err := store.New(ctx, dbPool, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize store: %w", err)
		return nil, initializationErr
	}
	components.Store = dbStore
	logger.Debug("Store initialized")

	// Scheduler backend and scheduler.
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Backend = backend
	components.Scheduler = scheduler.New(cfg.Scheduler(), backend, logger)
	logger.Debug("Scheduler initialized", zap.String("backend", cfg.Scheduler().Backend))

	// Identity provisioning.
	idsvc, err := identityservice.NewClient(cfg.Identity(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize identity service client: %w", err)
		return nil, initializationErr
	}
	components.IdentitySvc = idsvc
	components.IdentityMgr = identity.NewManager(dbStore, idsvc, cfg.Identity(), logger)

	// Credential store.
	creds, err := credentials.NewClient(cfg.CredentialStore(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize credential store client: %w", err)
		return nil, initializationErr
	}
	components.Credentials = creds

	// Browser engine, text generation, audit.
	components.Browser = browser.NewEngine(logger)

	gen, err := textgen.NewGenerator(cfg.LLM(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize text generator: %w", err)
		return nil, initializationErr
	}
	components.Textgen = gen
	components.Recorder = audit.NewRecorder(dbStore, logger)

	// Orchestrator and queue handlers.
	adapters := func(p schemas.Platform) (schemas.PlatformAdapter, error) {
		return platform.New(p, cfg.Platform(p), logger)
	}
	components.Orchestrator = orchestrator.New(
		cfg,
		dbStore,
		components.Scheduler,
		components.IdentityMgr,
		idsvc,
		creds,
		components.Browser,
		gen,
		components.Recorder,
		adapters,
		logger,
	)
	components.Scheduler.Register(schemas.QueueSessions, components.Orchestrator.HandleSessionJob)
	components.Scheduler.Register(schemas.QueueScenarios, components.Orchestrator.HandleScenarioJob)

	logger.Info("Component graph initialized")
	return components, nil
}

// newBackend selects the scheduler backend from configuration. Redis is
// the production choice; memory serves single-process and test runs.
func newBackend(ctx context.Context, cfg config.Interface) (scheduler.Backend, error) {
	switch cfg.Scheduler().Backend {
	case "redis":
		backend, err := scheduler.NewRedisBackend(ctx, cfg.Redis().Addr, cfg.Redis().Password, cfg.Redis().DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect scheduler redis backend: %w", err)
		}
		return backend, nil
	case "memory":
		return scheduler.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown scheduler backend %q", cfg.Scheduler().Backend)
	}
}
