package apierr_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/apierr"
)

func TestAsExtractsKind(t *testing.T) {
	err := apierr.Newf(apierr.NotFound, "run %s not found", "run-1")
	require.Equal(t, apierr.NotFound, apierr.As(err))
}

func TestAsDefaultsToInternalForPlainErrors(t *testing.T) {
	require.Equal(t, apierr.Internal, apierr.As(errors.New("boom")))
}

func TestAsUnwrapsWrappedErrors(t *testing.T) {
	inner := apierr.New(apierr.Conflict, errors.New("already exists"))
	wrapped := &wrapper{inner}
	require.Equal(t, apierr.Conflict, apierr.As(wrapped))
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestWithPathIncludesPathInMessage(t *testing.T) {
	err := apierr.WithPath(apierr.DSLInvalid, "$.assertions[0]", errors.New("bad field"))
	require.Contains(t, err.Error(), "$.assertions[0]")
	require.Contains(t, err.Error(), "bad field")
}

func TestWriteHTTPMapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind apierr.Kind
		want int
	}{
		{apierr.AuthMissing, http.StatusUnauthorized},
		{apierr.AuthInvalid, http.StatusUnauthorized},
		{apierr.NotFound, http.StatusNotFound},
		{apierr.PreconditionFailed, http.StatusPreconditionFailed},
		{apierr.Conflict, http.StatusConflict},
		{apierr.DSLInvalid, http.StatusBadRequest},
		{apierr.StoreUnavailable, http.StatusServiceUnavailable},
		{apierr.Timeout, http.StatusGatewayTimeout},
		{apierr.Internal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		status, _ := apierr.WriteHTTP(rec, apierr.New(tc.kind, errors.New("x")))
		require.Equal(t, tc.want, status)
	}
}

func TestWriteHTTPUnknownKindDefaultsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	status, code := apierr.WriteHTTP(rec, errors.New("plain"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "internal_error", code)
}

func TestNewEnvelopeShape(t *testing.T) {
	env := apierr.NewEnvelope("environment_not_found", "no such environment")
	require.False(t, env.OK)
	require.Equal(t, "environment_not_found", env.Error)
	require.Equal(t, "no such environment", env.Detail)
}
