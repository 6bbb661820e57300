package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/service"
)

// sessionCookie names the cookie carrying the session token.
const sessionCookie = "sid"

// sessionToken extracts the presented token from the sid cookie or an
// Authorization bearer header. The cookie wins when both are present.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}

// resolveCaller turns the request's token into an identity. Anonymous
// requests resolve to nil; only store failures error.
func resolveCaller(r *http.Request, sessions *service.SessionService) (*domain.Identity, error) {
	return sessions.Resolve(r.Context(), sessionToken(r))
}

// parseQuery lifts URL query parameters into a typed match map. Values are
// decoded as JSON so `reputation=3` matches a stored number and `$all=true`
// reaches permission hooks as a bool; anything undecodable stays a string.
func parseQuery(r *http.Request) map[string]any {
	values := r.URL.Query()
	if len(values) == 0 {
		return map[string]any{}
	}

	query := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(vals[0]), &v); err != nil {
			v = vals[0]
		}
		query[key] = v
	}
	return query
}
