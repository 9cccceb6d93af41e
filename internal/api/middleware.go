package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/mapbox/hecate-go/internal/auth"
)

type contextKey int

const identityContextKey contextKey = iota

// tokenSegmentMiddleware strips a URL-embedded token segment
// (`/token/{token}/...`) before routing and stashes it on the request
// context "Requests may authenticate by... a URL-embedded
// token segment".
func (h *Handler) tokenSegmentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/api/token/"
		if strings.HasPrefix(r.URL.Path, prefix) {
			rest := r.URL.Path[len(prefix):]
			slash := strings.IndexByte(rest, '/')
			if slash > 0 {
				token := rest[:slash]
				r.URL.Path = "/api" + rest[slash:]
				ctx := context.WithValue(r.Context(), tokenContextKey, token)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

const tokenContextKey contextKey = iota + 100

// identityMiddleware resolves (a) Basic auth, (b) a `session` cookie, or
// (c) the URL-embedded token stashed by tokenSegmentMiddleware into an
// auth.Identity attached to the request context. Unauthenticated
// requests proceed with the zero Identity; per-route scope checks happen
// in each handler via requireScope.
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := h.resolveIdentity(r)
		if err == nil {
			ctx = context.WithValue(ctx, identityContextKey, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) resolveIdentity(r *http.Request) (auth.Identity, error) {
	if h.Directory == nil {
		return auth.Identity{}, nil
	}
	ctx := r.Context()

	if username, password, ok := r.BasicAuth(); ok && password != "" {
		u, err := h.Directory.LookupUsername(ctx, username)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{Authenticated: true, UID: u.ID, Access: u.Access, TokenScope: auth.TokenFull}, nil
	}

	if cookie, err := r.Cookie("session"); err == nil && cookie.Value != "" {
		id, err := h.Directory.Identity(ctx, cookie.Value)
		if err != nil {
			return auth.Identity{}, err
		}
		id.TokenScope = auth.TokenFull // cookie sessions always carry full scope
		return id, nil
	}

	if token, ok := r.Context().Value(tokenContextKey).(string); ok && token != "" {
		return h.Directory.Identity(ctx, token)
	}

	return auth.Identity{}, errNoCredentials
}

var errNoCredentials = httpNoCredentialsErr{}

type httpNoCredentialsErr struct{}

func (httpNoCredentialsErr) Error() string { return "no credentials presented" }

// identityFromContext reads the Identity middleware attached, or the
// zero (unauthenticated) value.
func identityFromContext(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(identityContextKey).(auth.Identity)
	return id
}

// requireScope runs the auth tree evaluation for leafPath against the
// request's resolved identity.
func (h *Handler) requireScope(r *http.Request, leafPath string, rw auth.RW) error {
	if h.AuthConfig == nil {
		return nil
	}
	return h.AuthConfig.Evaluate(leafPath, rw, identityFromContext(r))
}
