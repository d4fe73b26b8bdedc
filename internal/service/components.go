// Package service is the composition root. It wires configuration into the
// full component graph and owns the ordered shutdown sequence.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/audit"
	"github.com/m0rphlin/operetta/internal/identity"
	"github.com/m0rphlin/operetta/internal/orchestrator"
	"github.com/m0rphlin/operetta/internal/scheduler"
)

// Components holds every initialized service the engine runs on. The
// factory fills it in dependency order; Shutdown releases in reverse.
type Components struct {
	DBPool       *pgxpool.Pool
	Store        schemas.Store
	Backend      scheduler.Backend
	Scheduler    *scheduler.Scheduler
	IdentitySvc  schemas.IdentityService
	IdentityMgr  *identity.Manager
	Credentials  schemas.CredentialSource
	Browser      schemas.BrowserEngine
	Textgen      schemas.TextGenerator
	Recorder     *audit.Recorder
	Orchestrator *orchestrator.Orchestrator

	logger *zap.Logger

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

// Start brings the worker side up: the scheduler's queue workers and the
// job event watcher. The components must have been built by the factory.
func (c *Components) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	c.watchWG.Add(1)
	go func() {
		defer c.watchWG.Done()
		c.Orchestrator.WatchJobEvents(watchCtx, c.Scheduler.Events())
	}()

	c.Scheduler.Start(ctx)
	c.logger.Info("Engine components started")
}

// Shutdown releases every component in reverse dependency order. Workers
// stop first so nothing produces new browser or database work while the
// resources under it close.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning component shutdown sequence")

	if c.Scheduler != nil {
		c.Scheduler.Stop()
		logger.Debug("Scheduler stopped")
	}

	if c.watchCancel != nil {
		c.watchCancel()
		c.watchWG.Wait()
		logger.Debug("Job event watcher stopped")
	}

	if c.Browser != nil {
		// Shutdown runs on its own deadline so a cancelled main context
		// cannot leave browser sessions attached.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser engine shutdown", zap.Error(err))
		}
		cancel()
		logger.Debug("Browser engine shut down")
	}

	if c.Recorder != nil {
		c.Recorder.Close()
		logger.Debug("Audit recorder drained")
	}

	if c.Textgen != nil {
		if err := c.Textgen.Close(); err != nil {
			logger.Warn("Error closing text generator", zap.Error(err))
		}
	}

	if c.Backend != nil {
		if err := c.Backend.Close(); err != nil {
			logger.Warn("Error closing scheduler backend", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed")
	}

	logger.Info("All components shut down")
}
