package unifi

import (
	"net/http"
	"time"
)

// Session is the controller's authentication state. A Session is never
// mutated after it is published; refreshes build a new value.
type Session struct {
	Cookies    []*http.Cookie
	CSRFToken  string
	IssuedAt   time.Time
	generation uint64 // bumped on every login
}

// withUpdates returns a copy carrying rotated cookies and CSRF token from a
// response, or nil when the response changed nothing.
func (s *Session) withUpdates(resp *http.Response) *Session {
	csrf := resp.Header.Get(headerUpdatedCSRF)
	fresh := resp.Cookies()
	if (csrf == "" || csrf == s.CSRFToken) && len(fresh) == 0 {
		return nil
	}
	next := &Session{
		Cookies:    mergeCookies(s.Cookies, fresh),
		CSRFToken:  s.CSRFToken,
		IssuedAt:   s.IssuedAt,
		generation: s.generation,
	}
	if csrf != "" {
		next.CSRFToken = csrf
	}
	return next
}

func mergeCookies(old, fresh []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(old)+len(fresh))
	replaced := make(map[string]bool, len(fresh))
	for _, c := range fresh {
		replaced[c.Name] = true
	}
	for _, c := range old {
		if !replaced[c.Name] {
			out = append(out, c)
		}
	}
	for _, c := range fresh {
		if c.MaxAge >= 0 && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}
