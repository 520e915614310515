package servicerouter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftlane/driftlane/internal/apierr"
	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/platformdb"
	"github.com/driftlane/driftlane/internal/token"
)

// Handler is a fake service registered under a name (e.g. "slack",
// "jira"). It receives a session already bound to the caller's environment
// namespace and the remaining path suffix after …/services/{svc}.
type Handler interface {
	ServeService(w http.ResponseWriter, r *http.Request, sess *dbstore.Session, pathSuffix string)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, sess *dbstore.Session, pathSuffix string)

func (f HandlerFunc) ServeService(w http.ResponseWriter, r *http.Request, sess *dbstore.Session, pathSuffix string) {
	f(w, r, sess, pathSuffix)
}

// Dispatcher routes agent requests at …/env/{envId}/services/{svc}/… to a
// registered fake service Handler, bound to a session scoped to the
// caller's environment for the lifetime of the call.
type Dispatcher struct {
	store    *platformdb.Store
	router   *dbstore.Router
	tokens   *token.Service
	handlers map[string]Handler
	log      *slog.Logger
}

// New creates a Dispatcher over store/router, verifying bearer tokens with
// tokens.
func New(store *platformdb.Store, router *dbstore.Router, tokens *token.Service, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, router: router, tokens: tokens, handlers: map[string]Handler{}, log: log}
}

// Register binds name (the {svc} path segment) to handler. Call before
// MountRoutes.
func (d *Dispatcher) Register(name string, handler Handler) {
	d.handlers[name] = handler
}

// MountRoutes wires the …/env/{envId}/services/{svc}/* route onto r. Routed
// as a sub-chain so callers can Mount this alongside other routers without
// chi rejecting a late top-level Use() call.
func (d *Dispatcher) MountRoutes(r chi.Router) {
	handler := middleware.Recoverer(middleware.RequestID(http.HandlerFunc(d.handle)))
	r.Handle("/env/{envId}/services/{svc}/*", handler)
	r.Handle("/env/{envId}/services/{svc}", handler)
}

// handle implements the six §4.K steps (readiness is checked first so an
// expired environment fails with environment_not_found rather than
// whatever the token happens to say): confirm env readiness, decode token,
// confirm path/token agreement, bind a session, dispatch, release.
//
// The environment's own liveness (existence, status, TTL) is checked before
// the token is even decoded: per spec.md's "once past expires_at, new
// requests to that environment fail with environment_not_found even before
// the reaper runs", an expired-but-not-yet-reaped environment must yield
// environment_not_found regardless of whether its issued token also happens
// to have expired (the two expiries are set equal, so either can trip
// first) or whatever else is wrong with the request.
func (d *Dispatcher) handle(w http.ResponseWriter, r *http.Request) {
	envID := chi.URLParam(r, "envId")
	svc := chi.URLParam(r, "svc")

	env, err := d.store.GetEnvironment(envID)
	if err != nil {
		writeErr(w, apierr.New(apierr.Internal, err))
		return
	}
	if env == nil || env.Status != platformdb.EnvReady || time.Now().After(env.ExpiresAt) {
		writeErrCode(w, http.StatusNotFound, "environment_not_found", "environment "+envID+" not found")
		return
	}

	claims, err := d.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if claims.EnvironmentID != envID {
		writeErrCode(w, http.StatusBadRequest, "invalid_environment_path",
			"token is scoped to environment "+claims.EnvironmentID+", not "+envID)
		return
	}

	handler, ok := d.handlers[svc]
	if !ok {
		writeErr(w, apierr.Newf(apierr.NotFound, "no service registered under %q", svc))
		return
	}

	sess, err := d.router.SessionFor(r.Context(), env.NamespaceName)
	if err != nil {
		writeErr(w, apierr.New(apierr.StoreUnavailable, err))
		return
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			d.log.Warn("failed to release service-dispatcher session", "environment_id", envID, "error", cerr)
		}
	}()

	ctx := WithEnv(r.Context(), EnvContext{
		EnvironmentID:        envID,
		Namespace:            env.NamespaceName,
		ImpersonatedIdentity: claims.ImpersonatedIdentity,
	})
	r = r.WithContext(ctx)

	suffix := chi.URLParam(r, "*")
	handler.ServeService(w, r, sess, suffix)
}

func (d *Dispatcher) authenticate(r *http.Request) (token.Claims, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return token.Claims{}, apierr.Newf(apierr.AuthMissing, "missing bearer token")
	}
	raw := strings.TrimPrefix(auth, "Bearer ")
	claims, err := d.tokens.Verify(raw)
	if err != nil {
		return token.Claims{}, apierr.Newf(apierr.AuthInvalid, "invalid token: %v", err)
	}
	return claims, nil
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := apierr.WriteHTTP(w, err)
	writeErrCode(w, status, code, err.Error())
}

// writeErrCode renders a specific wire code that isn't derivable purely
// from an apierr.Kind (e.g. environment_not_found vs a generic not_found,
// or invalid_environment_path, which has no dedicated Kind of its own).
func writeErrCode(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierr.NewEnvelope(code, detail))
}
