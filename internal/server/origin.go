package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// originPolicy decides which browser origins may open a chat session or
// post an upload. Origins are compared as lower-cased scheme://host.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		switch raw {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		key, ok := originKey(raw)
		if !ok {
			log.Warn().Str("origin", raw).Msg("[chat] ignoring invalid allowed origin")
			continue
		}
		p.allowed[key] = struct{}{}
	}
	return p
}

// originKey reduces an Origin value to scheme://host.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// allows reports whether a non-empty Origin header value is acceptable.
func (p *originPolicy) allows(origin string) bool {
	key, ok := originKey(origin)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	_, ok = p.allowed[key]
	return ok
}

// checkOrigin is the WebSocket upgrader hook. Handshakes without an Origin
// header are refused.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" && p.allows(origin) {
		return true
	}
	log.Warn().Str("origin", origin).Str("addr", r.RemoteAddr).Msg("[chat] blocked WebSocket handshake")
	return false
}

// guardUploads rejects cross-site upload posts. Requests without an Origin
// header come from non-browser clients and pass.
func (p *originPolicy) guardUploads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !p.allows(origin) {
			log.Warn().Str("origin", origin).Str("addr", r.RemoteAddr).Msg("[upload] blocked cross-origin upload")
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "来源不被允许"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
