package platform

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// redditAdapter drives old.reddit.com, whose single-page login form and
// stable markup make it far friendlier to selector automation than the
// redesign.
type redditAdapter struct {
	cfg    config.PlatformConfig
	logger *zap.Logger
}

func newRedditAdapter(cfg config.PlatformConfig, logger *zap.Logger) *redditAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://old.reddit.com"
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = "https://old.reddit.com/login"
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://old.reddit.com/search?q="
	}
	return &redditAdapter{
		cfg:    cfg,
		logger: logger.Named("platform.reddit"),
	}
}

func (a *redditAdapter) Platform() schemas.Platform { return schemas.PlatformReddit }

func (a *redditAdapter) Login(ctx context.Context, sess schemas.BrowserSession, creds *schemas.Credentials) error {
	a.logger.Info("Logging in", zap.String("username", creds.Username))

	if err := sess.Navigate(ctx, a.cfg.LoginURL); err != nil {
		return actionError(a.Platform(), "login", fmt.Errorf("%w: open login page: %v", schemas.ErrAuthenticationFailed, err))
	}
	if err := sess.Type(ctx, a.sel("login_username", `#login_login-main input[name="user"]`), creds.Username); err != nil {
		return actionError(a.Platform(), "login", fmt.Errorf("%w: enter username: %v", schemas.ErrAuthenticationFailed, err))
	}
	if err := sess.Type(ctx, a.sel("login_password", `#login_login-main input[name="passwd"]`), creds.Password); err != nil {
		return actionError(a.Platform(), "login", fmt.Errorf("%w: enter password: %v", schemas.ErrAuthenticationFailed, err))
	}
	if err := sess.Click(ctx, a.sel("login_submit", `#login_login-main button[type="submit"]`)); err != nil {
		return actionError(a.Platform(), "login", fmt.Errorf("%w: submit login: %v", schemas.ErrAuthenticationFailed, err))
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

func (a *redditAdapter) IsLoggedIn(ctx context.Context, sess schemas.BrowserSession) (bool, error) {
	_, err := sess.Text(ctx, a.sel("logged_in_marker", `#header-bottom-right .user a`))
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (a *redditAdapter) Search(ctx context.Context, sess schemas.BrowserSession, query string) ([]schemas.Post, error) {
	target := a.cfg.SearchURL + url.QueryEscape(query)
	if err := sess.Navigate(ctx, target); err != nil {
		return nil, actionError(a.Platform(), schemas.ActionSearch, err)
	}
	links, err := sess.Links(ctx, a.sel("search_result", `.search-result-link a.search-title`))
	if err != nil {
		return nil, actionError(a.Platform(), schemas.ActionSearch, err)
	}

	posts := searchResultsToPosts(links)
	a.logger.Info("Search complete", zap.String("query", query), zap.Int("results", len(posts)))
	return posts, nil
}

func (a *redditAdapter) Like(ctx context.Context, sess schemas.BrowserSession, post schemas.Post) error {
	if err := sess.Navigate(ctx, post.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionLike, err)
	}
	if err := sess.Click(ctx, a.sel("upvote_button", `.sitetable .thing .arrow.up`)); err != nil {
		return actionError(a.Platform(), schemas.ActionLike, err)
	}
	return nil
}

func (a *redditAdapter) Comment(ctx context.Context, sess schemas.BrowserSession, post schemas.Post, text string) error {
	if err := sess.Navigate(ctx, post.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionComment, err)
	}
	if err := sess.Type(ctx, a.sel("comment_input", `.commentarea textarea[name="text"]`), text); err != nil {
		return actionError(a.Platform(), schemas.ActionComment, err)
	}
	if err := sess.Click(ctx, a.sel("comment_submit", `.commentarea .usertext-buttons button[type="submit"]`)); err != nil {
		return actionError(a.Platform(), schemas.ActionComment, err)
	}
	return nil
}

func (a *redditAdapter) Reply(ctx context.Context, sess schemas.BrowserSession, parent schemas.Comment, text string) error {
	if err := sess.Navigate(ctx, parent.URL); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	// The permalink view highlights the parent comment; reply opens its
	// inline form.
	if err := sess.Click(ctx, a.sel("reply_button", `.commentarea .thing.comment a[data-event-action="comment"]`)); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	if err := sess.Type(ctx, a.sel("reply_input", `.child .usertext textarea[name="text"]`), text); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	if err := sess.Click(ctx, a.sel("reply_submit", `.child .usertext-buttons button[type="submit"]`)); err != nil {
		return actionError(a.Platform(), schemas.ActionReply, err)
	}
	return nil
}

func (a *redditAdapter) Report(ctx context.Context, sess schemas.BrowserSession, entityURL string) error {
	if err := sess.Navigate(ctx, entityURL); err != nil {
		return actionError(a.Platform(), schemas.ActionReport, err)
	}
	if err := sess.Click(ctx, a.sel("report_option", `.thing .report-button`)); err != nil {
		return actionError(a.Platform(), schemas.ActionReport, err)
	}
	if err := sess.Click(ctx, a.sel("report_confirm", `.thing .report-frame button[type="submit"]`)); err != nil {
		return actionError(a.Platform(), schemas.ActionReport, err)
	}
	return nil
}

func (a *redditAdapter) sel(name, fallback string) string {
	return a.cfg.Selector(name, fallback)
}

var _ schemas.PlatformAdapter = (*redditAdapter)(nil)
