package platformapi

import (
	"encoding/json"
	"net/http"

	"github.com/driftlane/driftlane/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as the platform's error envelope, inferring
// status and wire code from its apierr.Kind.
func writeError(w http.ResponseWriter, err error) {
	status, code := apierr.WriteHTTP(w, err)
	writeJSON(w, status, apierr.NewEnvelope(code, err.Error()))
}

// writeErrorCode renders a specific wire code that isn't derivable purely
// from an apierr.Kind (e.g. environment_not_found vs a generic not_found).
func writeErrorCode(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, apierr.NewEnvelope(code, detail))
}

// decodeJSON decodes r's body into dst. Callers render decode failures with
// writeErrorCode(..., "invalid_request", ...) rather than an apierr.Kind,
// since a malformed body isn't any of apierr's abstract kinds.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
