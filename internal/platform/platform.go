// Package platform holds the per-site automation adapters. Each adapter
// translates the engine's abstract actions (search, like, comment, reply,
// report) into concrete selector-driven browser steps for one platform.
// Selectors ship with sane defaults and can be overridden in config, since
// they rot faster than code.
package platform

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// maxSearchResults caps how many posts a search step harvests.
const maxSearchResults = 10

// New returns the adapter for a platform.
func New(p schemas.Platform, cfg config.PlatformConfig, logger *zap.Logger) (schemas.PlatformAdapter, error) {
	switch p {
	case schemas.PlatformTwitter:
		return newTwitterAdapter(cfg, logger), nil
	case schemas.PlatformReddit:
		return newRedditAdapter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", p)
	}
}

// actionError wraps an adapter failure so callers can tell platform
// breakage apart from engine bugs.
func actionError(p schemas.Platform, action schemas.ActionKind, err error) error {
	if err == nil {
		return nil
	}
	return &schemas.PlatformActionError{Platform: p, Action: action, Err: err}
}

// postIDFromURL extracts the trailing path segment as the platform's post
// ID. Platforms that encode IDs differently override this at the call site.
func postIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// searchResultsToPosts converts harvested result links into posts, capped
// and deduplicated.
func searchResultsToPosts(links []string) []schemas.Post {
	posts := make([]schemas.Post, 0, maxSearchResults)
	seen := make(map[string]bool, maxSearchResults)
	for _, link := range links {
		if seen[link] {
			continue
		}
		seen[link] = true
		posts = append(posts, schemas.Post{
			ID:  postIDFromURL(link),
			URL: link,
		})
		if len(posts) == maxSearchResults {
			break
		}
	}
	return posts
}
