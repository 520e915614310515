package platformapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/isolation"
	"github.com/driftlane/driftlane/internal/platformdb"
)

type templateView struct {
	ID          string `json:"id"`
	Service     string `json:"service"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func toTemplateView(t platformdb.Template) templateView {
	return templateView{ID: t.ID, Service: t.ServiceName, Name: t.TemplateName, Description: t.Description}
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]templateView, len(templates))
	for i, t := range templates {
		out[i] = toTemplateView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "templateId")
	t, err := s.store.GetTemplate(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if t == nil {
		writeErrorCode(w, http.StatusNotFound, "template_not_found", "template "+id+" not found")
		return
	}
	writeJSON(w, http.StatusOK, toTemplateView(*t))
}

type createTemplateFromEnvRequest struct {
	EnvironmentID string `json:"environmentId"`
	Service       string `json:"service"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Visibility    string `json:"visibility,omitempty"`
	Version       string `json:"version,omitempty"`
}

// handleCreateTemplateFromEnv freezes a live environment's current
// namespace shape + contents into a reusable Template: the Reflector
// supplies the structural_definition, a full row scan of each user table
// becomes the seed_bundle.
func (s *Server) handleCreateTemplateFromEnv(w http.ResponseWriter, r *http.Request) {
	var req createTemplateFromEnvRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.EnvironmentID == "" || req.Service == "" || req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "environmentId, service, and name are required")
		return
	}

	env, err := s.store.GetEnvironment(req.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if env == nil || env.Status != platformdb.EnvReady {
		writeErrorCode(w, http.StatusNotFound, "environment_not_found", "environment "+req.EnvironmentID+" not found or not ready")
		return
	}

	structural, seed, err := s.captureTemplateBody(r.Context(), env.NamespaceName)
	if err != nil {
		writeError(w, err)
		return
	}

	structuralJSON, err := json.Marshal(structural)
	if err != nil {
		writeError(w, err)
		return
	}
	seedJSON, err := json.Marshal(seed)
	if err != nil {
		writeError(w, err)
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	tmpl := &platformdb.Template{
		ID:                   newTemplateID(),
		ServiceName:          req.Service,
		TemplateName:         req.Name,
		Version:              req.Version,
		StructuralDefinition: string(structuralJSON),
		SeedBundle:           string(seedJSON),
		Visibility:           visibility,
		Description:          req.Description,
	}
	if err := s.store.CreateTemplate(tmpl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateView(*tmpl))
}

func newTemplateID() string { return uuid.NewString() }

func quoteIdent(dialect dbstore.Dialect, name string) string {
	if dialect == dbstore.MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// captureTemplateBody reflects namespace's current tables and rows into a
// StructuralDefinition + SeedBundle pair suitable for stamping fresh
// environments later.
func (s *Server) captureTemplateBody(ctx context.Context, namespace string) (isolation.StructuralDefinition, isolation.SeedBundle, error) {
	sess, err := s.router.SessionFor(ctx, namespace)
	if err != nil {
		return nil, nil, fmt.Errorf("bind session to %s: %w", namespace, err)
	}
	defer sess.Close()

	tables, err := s.reflector.Tables(ctx, sess, "")
	if err != nil {
		return nil, nil, fmt.Errorf("reflect tables in %s: %w", namespace, err)
	}

	structural := make(isolation.StructuralDefinition, 0, len(tables))
	seed := make(isolation.SeedBundle, 0, len(tables))
	for _, t := range tables {
		cols := make([]isolation.Column, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = isolation.Column{Name: c.Name, Type: c.Type}
		}
		structural = append(structural, isolation.TableDef{Name: t.Name, Columns: cols, PrimaryKey: t.PK})

		rows, err := scanTableRows(ctx, sess, t)
		if err != nil {
			return nil, nil, fmt.Errorf("scan rows of %s: %w", t.Name, err)
		}
		if len(rows) > 0 {
			seed = append(seed, isolation.SeedTable{Table: t.Name, Rows: rows})
		}
	}
	return structural, seed, nil
}

func scanTableRows(ctx context.Context, sess *dbstore.Session, t dbstore.Table) ([]map[string]any, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY 1", quoteIdent(sess.Dialect, t.Name))
	rows, err := sess.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		ptrs := make([]any, len(cols))
		vals := make([]any, len(cols))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
