package platformapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftlane/driftlane/internal/platformdb"
)

type initEnvRequest struct {
	TemplateService   string `json:"templateService,omitempty"`
	TemplateName      string `json:"templateName,omitempty"`
	TemplateID        string `json:"templateId,omitempty"`
	TestID            string `json:"testId,omitempty"`
	TTLSeconds        *int   `json:"ttlSeconds,omitempty"`
	ImpersonateUserID string `json:"impersonateUserId,omitempty"`
	ImpersonateEmail  string `json:"impersonateEmail,omitempty"`
}

type initEnvResponse struct {
	EnvironmentID string    `json:"environmentId"`
	EnvironmentURL string   `json:"environmentUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
	SchemaName    string    `json:"schemaName"`
	Service       string    `json:"service"`
	Token         string    `json:"token,omitempty"`
}

// handleInitEnv resolves a template reference (by id, or by service+name),
// clones it into a fresh namespace via the Isolation Engine, and issues a
// bearer token scoped to the new environment.
func (s *Server) handleInitEnv(w http.ResponseWriter, r *http.Request) {
	var req initEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var tmpl *platformdb.Template
	var err error
	switch {
	case req.TemplateID != "":
		tmpl, err = s.store.GetTemplate(req.TemplateID)
	case req.TemplateService != "" && req.TemplateName != "":
		tmpl, err = s.store.FindTemplate(req.TemplateService, req.TemplateName)
	default:
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "templateId or templateService+templateName is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tmpl == nil {
		writeErrorCode(w, http.StatusNotFound, "template_not_found", "no matching template")
		return
	}

	ttl := s.defTTL
	if req.TTLSeconds != nil {
		requested := time.Duration(*req.TTLSeconds) * time.Second
		if requested > s.maxTTL {
			requested = s.maxTTL
		}
		if requested > 0 {
			ttl = requested
		}
	}

	impersonate := req.ImpersonateUserID
	if impersonate == "" {
		impersonate = req.ImpersonateEmail
	}

	env, err := s.engine.CreateEnvironment(r.Context(), tmpl.ID, ttl, principalOwner(r), impersonate)
	if err != nil {
		writeError(w, err)
		return
	}

	var signed string
	if s.tokens != nil {
		now := time.Now()
		signed, err = s.tokens.Issue(env.Owner, env.EnvironmentID, env.ImpersonatedIdentity, now, env.ExpiresAt)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, initEnvResponse{
		EnvironmentID:  env.EnvironmentID,
		EnvironmentURL: "/env/" + env.EnvironmentID,
		ExpiresAt:      env.ExpiresAt,
		SchemaName:     env.NamespaceName,
		Service:        tmpl.ServiceName,
		Token:          signed,
	})
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "envId")
	if err := s.engine.DeleteEnvironment(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environmentId": id, "status": "deleted"})
}

func principalOwner(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Owner
	}
	return ""
}
