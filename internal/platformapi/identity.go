package platformapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/driftlane/driftlane/internal/apierr"
)

// principalCtxKey is the unexported context key for the authenticated
// API-key principal, adapted from the corpus's identity-in-context pattern.
type principalCtxKey struct{}

// Principal is the API-key owner that authenticated a platform request.
type Principal struct {
	KeyID string
	Owner string
}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the Principal set by apiKeyMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// apiKeyMiddleware authenticates every platform route against X-API-Key (or
// a bearer Authorization header carrying the same token shape), per §4.J.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" {
			writeError(w, apierr.Newf(apierr.AuthMissing, "missing API key"))
			return
		}

		keyID, secret, ok := parseApiKey(token)
		if !ok {
			writeError(w, apierr.Newf(apierr.AuthInvalid, "malformed API key"))
			return
		}

		rec, err := s.store.GetApiKey(keyID)
		if err != nil {
			writeError(w, apierr.New(apierr.Internal, err))
			return
		}
		if rec == nil || rec.RevokedAt != nil || !verifyApiKey(secret, rec) {
			writeError(w, apierr.Newf(apierr.AuthInvalid, "invalid API key"))
			return
		}
		if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now()) {
			writeError(w, apierr.Newf(apierr.AuthInvalid, "API key expired"))
			return
		}

		if err := s.store.TouchApiKey(rec.ID); err != nil {
			s.log.Warn("failed to update api key last_used_at", "key_id", rec.ID, "error", err)
		}

		ctx := WithPrincipal(r.Context(), Principal{KeyID: rec.ID, Owner: rec.Owner})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
