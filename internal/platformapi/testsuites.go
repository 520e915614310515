package platformapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftlane/driftlane/internal/dsl"
	"github.com/driftlane/driftlane/internal/platformdb"
)

// testSuiteView and testView shape the wire response for test suites and
// tests the way templateView does for templates: camelCase keys over the
// GORM row's column-tagged fields, so external callers never see the
// PascalCase Go field names encoding/json would otherwise emit.
type testSuiteView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

func toTestSuiteView(ts platformdb.TestSuite) testSuiteView {
	return testSuiteView{
		ID:          ts.ID,
		Name:        ts.Name,
		Description: ts.Description,
		Owner:       ts.Owner,
		Visibility:  ts.Visibility,
	}
}

type testView struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Prompt         string          `json:"prompt,omitempty"`
	Type           string          `json:"type"`
	ExpectedOutput json.RawMessage `json:"expectedOutput"`
	TemplateSchema string          `json:"templateSchema,omitempty"`
}

func toTestView(t platformdb.Test) testView {
	return testView{
		ID:             t.ID,
		Name:           t.Name,
		Prompt:         t.Prompt,
		Type:           string(t.Type),
		ExpectedOutput: json.RawMessage(t.ExpectedOutput),
		TemplateSchema: t.TemplateSchema,
	}
}

func (s *Server) handleListTestSuites(w http.ResponseWriter, r *http.Request) {
	suites, err := s.store.ListTestSuites(principalOwner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]testSuiteView, len(suites))
	for i, ts := range suites {
		out[i] = toTestSuiteView(ts)
	}
	writeJSON(w, http.StatusOK, map[string]any{"testSuites": out})
}

func (s *Server) handleGetTestSuite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "suiteId")
	suite, err := s.store.GetTestSuite(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if suite == nil {
		writeErrorCode(w, http.StatusNotFound, "not_found", "test suite "+id+" not found")
		return
	}
	tests, err := s.store.ListTestsForSuite(id)
	if err != nil {
		writeError(w, err)
		return
	}
	testViews := make([]testView, len(tests))
	for i, t := range tests {
		testViews[i] = toTestView(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"testSuite": toTestSuiteView(*suite), "tests": testViews})
}

type createTestSuiteRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
}

func (s *Server) handleCreateTestSuite(w http.ResponseWriter, r *http.Request) {
	var req createTestSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	suite := &platformdb.TestSuite{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Owner:       principalOwner(r),
		Visibility:  visibility,
	}
	if err := s.store.CreateTestSuite(suite); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTestSuiteView(*suite))
}

type createTestsRequest struct {
	Tests []createTestEntry `json:"tests"`
}

type createTestEntry struct {
	Name           string          `json:"name"`
	Prompt         string          `json:"prompt"`
	Type           string          `json:"type"`
	ExpectedOutput json.RawMessage `json:"expectedOutput"`
	TemplateSchema string          `json:"templateSchema,omitempty"`
}

// handleCreateTests validates and compiles each test's expected_output DSL
// document before persisting, so a malformed assertion spec is rejected at
// authoring time rather than surfacing only at evaluate_run.
func (s *Server) handleCreateTests(w http.ResponseWriter, r *http.Request) {
	suiteID := chi.URLParam(r, "suiteId")
	suite, err := s.store.GetTestSuite(suiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	if suite == nil {
		writeErrorCode(w, http.StatusNotFound, "not_found", "test suite "+suiteID+" not found")
		return
	}

	var req createTestsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	created := make([]*platformdb.Test, 0, len(req.Tests))
	for _, entry := range req.Tests {
		if _, err := dsl.Compile(entry.ExpectedOutput); err != nil {
			writeError(w, err)
			return
		}

		t := &platformdb.Test{
			ID:             uuid.NewString(),
			Name:           entry.Name,
			Prompt:         entry.Prompt,
			Type:           platformdb.TestType(entry.Type),
			ExpectedOutput: string(entry.ExpectedOutput),
			TemplateSchema: entry.TemplateSchema,
		}
		if err := s.store.CreateTest(t); err != nil {
			writeError(w, err)
			return
		}
		if err := s.store.CreateTestMembership(&platformdb.TestMembership{TestID: t.ID, TestSuiteID: suiteID}); err != nil {
			writeError(w, err)
			return
		}
		created = append(created, t)
	}

	out := make([]testView, len(created))
	for i, t := range created {
		out[i] = toTestView(*t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": out})
}
