package platform

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// twitterAdapter drives x.com. Login is the staged flow: username, next,
// password, submit.
type twitterAdapter struct {
	cfg    config.PlatformConfig
	logger *zap.Logger
}

func newTwitterAdapter(cfg config.PlatformConfig, logger *zap.Logger) *twitterAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://x.com"
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "https://x.com/i/flow/login"
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://x.com/search?q="
	}
	return &twitterAdapter{
		cfg:    cfg,
		logger: logger.Named("platform.twitter"),
	}
}

func (a *twitterAdapter) Platform() schemas.Platform { return schemas.PlatformTwitter }

func (a *twitterAdapter) Login(ctx context.Context, sess schemas.BrowserSession, creds *schemas.Credentials) error {
	a.logger.Info("Logging in", zap.String("username", creds.Username))

	steps := []struct {
		op   func() error
		desc string
	}{
		{func() error { return sess.Navigate(ctx, a.cfg.LoginURL) }, "open login page"},
		{func() error {
			return sess.Type(ctx, a.sel("login_username", `input[autocomplete="username"]`), creds.Username)
		}, "enter username"},
		{func() error {
			return sess.Click(ctx, a.sel("login_next", `button[data-testid="LoginForm_Login_Button_Next"]`))
		}, "advance to password"},
		{func() error {
			return sess.Type(ctx, a.sel("login_password", `input[autocomplete="current-password"]`), creds.Password)
		}, "enter password"},
		{func() error {
			return sess.Click(ctx, a.sel("login_submit", `button[data-testid="LoginForm_Login_Button"]`))
		}, "submit login"},
	}
	for _, step := range steps {
		if err := step.op(); err != nil {
			return actionError(a.Platform(), "login", fmt.Errorf("%w: %s: %v", schemas.ErrAuthenticationFailed, step.desc, err))
		}
	}

	loggedIn, err := a.IsLoggedIn(ctx, sess)
	if err != nil {
		return actionError(a.Platform(), "login", fmt.Errorf("%w: post-login check: %v", schemas.ErrAuthenticationFailed, err))
	}
	if !loggedIn {
		return actionError(a.Platform(), "login", schemas.ErrAuthenticationFailed)
	}
	return nil
}

func (a *twitterAdapter) IsLoggedIn(ctx context.Context, sess schemas.BrowserSession) (bool, error) {
	// The account switcher only renders for authenticated users.
	_, err := sess.Text(ctx, a.sel("logged_in_marker", `div[data-testid="SideNav_AccountSwitcher_Button"]`))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (a *twitterAdapter) Search(ctx context.Context, sess schemas.BrowserSession, query string) ([]schemas.Post, error) {
	target := a.cfg.SearchURL + url.QueryEscape(query)
	if err := sess.Navigate(ctx, target); err != nil {
		return nil, actionError(a.Platform(), schemas.ActionSearch, err)
	}
	links, err := sess.Links(ctx, a.sel("search_result", `article[data-testid="tweet"] a[href*="/status/"]`))
	if err != nil {
		return nil, actionError(a.Platform(), schemas.ActionSearch, err)
	}

	posts := searchResultsToPosts(links)
	a.logger.Info("Search complete", zap.String("query", query), zap.Int("results", len(posts)))
	return posts, nil
}

func (a *twitterAdapter) Like(ctx context.Context, sess schemas.BrowserSession, post schemas.Post) error {
	if err := sess.Navigate(ctx, post.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionLike, err)
	}
	if err := sess.Click(ctx, a.sel("like_button", `button[data-testid="like"]`)); err != nil {
		return actionError(a.Platform(), schemas.ActionLike, err)
	}
	return nil
}

func (a *twitterAdapter) Comment(ctx context.Context, sess schemas.BrowserSession, post schemas.Post, text string) error {
	if err := sess.Navigate(ctx, post.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionComment, err)
	}
	if err := a.composeReply(ctx, sess, text); err != nil {
		return actionError(a.Platform(), schemas.ActionComment, err)
	}
	return nil
}

func (a *twitterAdapter) Reply(ctx context.Context, sess schemas.BrowserSession, parent schemas.Comment, text string) error {
	if err := sess.Navigate(ctx, parent.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	if err := a.composeReply(ctx, sess, text); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	return nil
}

// composeReply fills and sends the inline reply composer. On x.com a
// top-level comment on a post and a reply to a reply use the same widget.
func (a *twitterAdapter) composeReply(ctx context.Context, sess schemas.BrowserSession, text string) error {
	if err := sess.Click(ctx, a.sel("reply_button", `button[data-testid="reply"]`)); err != nil {
		return err
	}
	if err := sess.Type(ctx, a.sel("reply_input", `div[data-testid="tweetTextarea_0"]`), text); err != nil {
		return err
	}
	return sess.Click(ctx, a.sel("reply_submit", `button[data-testid="tweetButton"]`))
}

func (a *twitterAdapter) Report(ctx context.Context, sess schemas.BrowserSession, entityURL string) error {
	if err := sess.Navigate(ctx, entityURL); err != nil {
		return actionError(a.Platform(), schemas.ActionReport, err)
	}
	steps := []string{
		a.sel("post_menu", `button[data-testid="caret"]`),
		a.sel("report_option", `div[data-testid="report"]`),
		a.sel("report_confirm", `button[data-testid="ChoiceSelectionNextButton"]`),
	}
	for _, selector := range steps {
		if err := sess.Click(ctx, selector); err != nil {
			return actionError(a.Platform(), schemas.ActionReport, err)
		}
	}
	return nil
}

func (a *twitterAdapter) sel(name, fallback string) string {
	return a.cfg.Selector(name, fallback)
}

var _ schemas.PlatformAdapter = (*twitterAdapter)(nil)
