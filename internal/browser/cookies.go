package browser

import (
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/m0rphlin/operetta/api/schemas"
)

// convertCookies maps CDP cookies to the engine's schema. A negative
// Expires means a session cookie; those keep a zero expiry time.
func convertCookies(raw []*network.Cookie) []schemas.Cookie {
	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		cookie := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
			cookie.Expires = time.Unix(sec, nsec).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}
