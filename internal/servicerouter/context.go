// Package servicerouter implements the Service Dispatcher: the agent-facing
// surface at …/env/{envId}/services/{svc}/…, per §4.K. Bearer-token
// decoding binds each request to its environment's namespace for the
// duration of the call, then hands off to a registered fake service
// handler.
package servicerouter

import "context"

// envCtxKey is the unexported context key for EnvContext, mirroring the
// corpus's tenant-in-context pattern with environment in place of tenant.
type envCtxKey struct{}

// EnvContext carries the token-derived identity of an agent request through
// its handler chain.
type EnvContext struct {
	EnvironmentID        string
	Namespace            string
	ImpersonatedIdentity string
}

// WithEnv returns a new context carrying ec.
func WithEnv(ctx context.Context, ec EnvContext) context.Context {
	return context.WithValue(ctx, envCtxKey{}, ec)
}

// EnvFromContext retrieves the EnvContext set by Dispatcher's middleware.
func EnvFromContext(ctx context.Context) (EnvContext, bool) {
	ec, ok := ctx.Value(envCtxKey{}).(EnvContext)
	return ec, ok
}

// IdentityFromContext is a convenience accessor for the impersonated
// identity a fake service handler may want to act as.
func IdentityFromContext(ctx context.Context) string {
	ec, ok := EnvFromContext(ctx)
	if !ok {
		return ""
	}
	return ec.ImpersonatedIdentity
}
