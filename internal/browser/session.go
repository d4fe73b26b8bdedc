package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
)

const (
	navigateTimeout = 45 * time.Second
	actionTimeout   = 20 * time.Second
)

// Session drives one attached browser tab. All operations run against the
// chromedp task context with their own deadline; the caller's context only
// gates whether an operation starts.
type Session struct {
	id      string
	taskCtx context.Context
	logger  *zap.Logger

	closeOnce sync.Once
	onClose   func()
}

func newSession(taskCtx context.Context, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:      id,
		taskCtx: taskCtx,
		logger:  logger.With(zap.String("browser_session_id", id)),
	}
}

// ID returns the session's engine-local identifier.
func (s *Session) ID() string { return s.id }

// Navigate loads a URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, navigateTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Click clicks the first visible element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	err := s.run(ctx, actionTimeout,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// Type sends keystrokes to the first element matching the selector.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	err := s.run(ctx, actionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

// Text returns the inner text of the first element matching the selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := s.run(ctx, actionTimeout,
		chromedp.Text(selector, &out, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return out, nil
}

// Links returns the absolute href of every anchor under elements matching
// the selector.
func (s *Session) Links(ctx context.Context, selector string) ([]string, error) {
	script := fmt.Sprintf(`
		(() => {
			const links = [];
			document.querySelectorAll(%q).forEach(el => {
				const anchors = el.matches('a[href]') ? [el] : el.querySelectorAll('a[href]');
				anchors.forEach(a => { if (a.href) links.push(a.href); });
			});
			return links;
		})()
	`, selector)

	var hrefs []string
	err := s.run(ctx, actionTimeout, chromedp.Evaluate(script, &hrefs))
	if err != nil {
		return nil, fmt.Errorf("failed to extract links under %q: %w", selector, err)
	}
	return hrefs, nil
}

// CurrentURL returns the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, actionTimeout, chromedp.Location(&url))
	if err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// Cookies returns the browser's cookie jar.
func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []schemas.Cookie
	err := s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = convertCookies(raw)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// Close detaches from the browser tab. The remote browser process itself
// stays up; stopping it is the identity provider's job.
func (s *Session) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// run executes chromedp actions on the task context with a bounded
// deadline, refusing to start once the caller's context is dead.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.taskCtx.Err(); err != nil {
		return fmt.Errorf("browser session is closed: %w", err)
	}

	opCtx, cancel := context.WithTimeout(s.taskCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

var _ schemas.BrowserSession = (*Session)(nil)
