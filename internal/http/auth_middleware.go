package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type authContextKey string

type authInfo struct {
	Subject string
}

const contextKeyAuth authContextKey = "memtimeline-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth checks the bearer token against the configured API token.
// With no token configured every request passes as anonymous.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.apiToken == "" {
			next(w, req)
			return
		}
		ctx, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		// Browsers cannot set headers on EventSource or WebSocket requests.
		token = strings.TrimSpace(req.URL.Query().Get("access_token"))
		if token == "" {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return req.Context(), false
		}
	}
	if len(token) != len(r.apiToken) || subtle.ConstantTimeCompare([]byte(token), []byte(r.apiToken)) != 1 {
		r.logger.Warn("api token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), false
	}
	return withAuthInfo(req.Context(), authInfo{Subject: "api-token"}), true
}

func withAuthInfo(ctx context.Context, info authInfo) context.Context {
	return context.WithValue(ctx, contextKeyAuth, info)
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
