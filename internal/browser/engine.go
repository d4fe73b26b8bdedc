// Package browser drives remote Chrome instances over the DevTools
// protocol. The engine never launches browsers itself; the anti-detect
// identity provider owns the processes and hands us websocket endpoints to
// attach to.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/m0rphlin/operetta/api/schemas"
)

const connectTimeout = 30 * time.Second

// Engine creates and tracks attached browser sessions.
type Engine struct {
	logger *zap.Logger

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewEngine creates a browser engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger.Named("browser"),
		sessions: make(map[string]*Session),
	}
}

// Open attaches to the CDP websocket endpoint of an already running browser
// and returns a driving session.
func (e *Engine) Open(ctx context.Context, endpoint string) (schemas.BrowserSession, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("browser endpoint is required")
	}

	// The allocator hangs off the background context so a cancelled opener
	// does not tear down an established session.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), endpoint, chromedp.NoModifyURL)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	// Run a no-op to force the websocket connection and surface attach
	// failures here instead of on the first navigation.
	connectCtx, connectCancel := context.WithTimeout(taskCtx, connectTimeout)
	defer connectCancel()
	if err := chromedp.Run(connectCtx); err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to attach to browser at %s: %w", endpoint, err)
	}

	session := newSession(taskCtx, e.logger)
	session.onClose = func() {
		taskCancel()
		allocCancel()
		e.mu.Lock()
		delete(e.sessions, session.ID())
		e.mu.Unlock()
		e.logger.Debug("Session removed from engine.", zap.String("browser_session_id", session.ID()))
	}

	e.mu.Lock()
	e.sessions[session.ID()] = session
	e.mu.Unlock()

	e.logger.Info("Attached to remote browser.",
		zap.String("browser_session_id", session.ID()),
		zap.String("endpoint", endpoint))
	return session, nil
}

// Shutdown closes all attached sessions and waits for them, bounded by the
// caller's context.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("Shutting down browser engine.")

	e.mu.RLock()
	sessionsToClose := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	e.mu.RUnlock()

	var g errgroup.Group
	for _, s := range sessionsToClose {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				e.logger.Warn("Error during session close in shutdown.",
					zap.String("browser_session_id", s.ID()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.logger.Info("All browser sessions closed gracefully.")
	return nil
}

var _ schemas.BrowserEngine = (*Engine)(nil)
