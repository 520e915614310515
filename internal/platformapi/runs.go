package platformapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftlane/driftlane/internal/apierr"
	"github.com/driftlane/driftlane/internal/assertion"
	"github.com/driftlane/driftlane/internal/differ"
	"github.com/driftlane/driftlane/internal/dsl"
	"github.com/driftlane/driftlane/internal/platformdb"
)

type startRunRequest struct {
	EnvironmentID string `json:"envId"`
	TestID        string `json:"testId,omitempty"`
}

// handleStartRun implements start_run: verify the environment is ready and
// has no other running run, snapshot it as before_<run_id>, and persist the
// Run. Per §4.J, this never touches assertions.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.EnvironmentID == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "envId is required")
		return
	}

	env, err := s.store.GetEnvironment(req.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if env == nil || env.Status != platformdb.EnvReady {
		writeErrorCode(w, http.StatusNotFound, "environment_not_found", "environment not found or not ready")
		return
	}

	running, err := s.store.HasRunningRun(env.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if running {
		writeError(w, apierr.Newf(apierr.Conflict, "environment %s already has a running run", env.EnvironmentID))
		return
	}

	if req.TestID != "" {
		test, err := s.store.GetTest(req.TestID)
		if err != nil {
			writeError(w, err)
			return
		}
		if test == nil {
			writeErrorCode(w, http.StatusNotFound, "not_found", "test "+req.TestID+" not found")
			return
		}
	}

	runID := uuid.NewString()
	beforeSuffix := "before_" + runID

	sess, err := s.router.SessionFor(r.Context(), env.NamespaceName)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Close()

	if err := s.differ.Snapshot(r.Context(), sess, beforeSuffix); err != nil {
		writeError(w, err)
		return
	}

	run := &platformdb.Run{
		RunID:                runID,
		EnvironmentID:        env.EnvironmentID,
		BeforeSnapshotSuffix: beforeSuffix,
		Status:               platformdb.RunRunning,
	}
	if req.TestID != "" {
		run.TestID = &req.TestID
	}
	if err := s.store.CreateRun(run); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":          run.RunID,
		"status":         string(run.Status),
		"beforeSnapshot": beforeSuffix,
	})
}

// handleDiffRun implements diff_run: take (or reuse) the after_<run_id>
// snapshot and compute the Diff, without touching any assertion.
func (s *Server) handleDiffRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.store.GetRun(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeErrorCode(w, http.StatusNotFound, "run_not_found", "run "+runID+" not found")
		return
	}

	env, err := s.store.GetEnvironment(run.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if env == nil {
		writeErrorCode(w, http.StatusNotFound, "environment_not_found", "environment "+run.EnvironmentID+" not found")
		return
	}

	sess, err := s.router.SessionFor(r.Context(), env.NamespaceName)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Close()

	if run.AfterSnapshotSuffix == nil {
		afterSuffix := "after_" + run.RunID
		if err := s.differ.Snapshot(r.Context(), sess, afterSuffix); err != nil {
			writeError(w, err)
			return
		}
		run.AfterSnapshotSuffix = &afterSuffix
		if err := s.store.UpdateRun(run); err != nil {
			writeError(w, err)
			return
		}
	}

	diff, err := s.differ.Diff(r.Context(), sess, run.BeforeSnapshotSuffix, *run.AfterSnapshotSuffix, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"beforeSnapshot": run.BeforeSnapshotSuffix,
		"afterSnapshot":  *run.AfterSnapshotSuffix,
		"diff":           diff,
	})
}

// handleEvaluateRun implements evaluate_run: ensure the after snapshot
// exists, compile the Run's test spec, diff, evaluate, and persist the
// verdict, marking the Run evaluated. Diverges deliberately from a combined
// diff+evaluate call: diff_run above never compiles or evaluates anything.
func (s *Server) handleEvaluateRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.store.GetRun(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeErrorCode(w, http.StatusNotFound, "run_not_found", "run "+runID+" not found")
		return
	}
	if run.Status == platformdb.RunEvaluated {
		writeError(w, apierr.Newf(apierr.PreconditionFailed, "run %s already evaluated", run.RunID))
		return
	}
	if run.TestID == nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_request", "run has no associated test to evaluate against")
		return
	}

	test, err := s.store.GetTest(*run.TestID)
	if err != nil {
		writeError(w, err)
		return
	}
	if test == nil {
		writeErrorCode(w, http.StatusNotFound, "not_found", "test "+*run.TestID+" not found")
		return
	}

	env, err := s.store.GetEnvironment(run.EnvironmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if env == nil {
		writeErrorCode(w, http.StatusNotFound, "environment_not_found", "environment "+run.EnvironmentID+" not found")
		return
	}

	spec, err := dsl.Compile([]byte(test.ExpectedOutput))
	if err != nil {
		writeError(w, err)
		return
	}

	diff, err := s.ensureDiff(r.Context(), env, run, spec)
	if err != nil {
		writeError(w, err)
		return
	}

	result := assertion.Evaluate(spec, diff)

	failuresJSON, err := json.Marshal(result.Failures)
	if err != nil {
		writeError(w, err)
		return
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		writeError(w, err)
		return
	}

	failuresStr := string(failuresJSON)
	diffStr := string(diffJSON)
	run.Passed = &result.Passed
	run.ScorePassed = &result.Score.Passed
	run.ScoreTotal = &result.Score.Total
	run.ScorePercent = &result.Score.Percent
	run.Failures = &failuresStr
	run.Diff = &diffStr
	run.Status = platformdb.RunEvaluated
	if err := s.store.UpdateRun(run); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":  run.RunID,
		"status": string(run.Status),
		"passed": result.Passed,
		"score":  result.Score,
	})
}

// ensureDiff takes the after snapshot if one doesn't exist yet, then always
// recomputes the Diff against spec's masks — evaluate_run never trusts a
// diff computed before masks were known.
func (s *Server) ensureDiff(ctx context.Context, env *platformdb.Environment, run *platformdb.Run, spec *dsl.Spec) (*differ.Diff, error) {
	sess, err := s.router.SessionFor(ctx, env.NamespaceName)
	if err != nil {
		return nil, fmt.Errorf("bind session to %s: %w", env.NamespaceName, err)
	}
	defer sess.Close()

	if run.AfterSnapshotSuffix == nil {
		afterSuffix := "after_" + run.RunID
		if err := s.differ.Snapshot(ctx, sess, afterSuffix); err != nil {
			return nil, err
		}
		run.AfterSnapshotSuffix = &afterSuffix
		if err := s.store.UpdateRun(run); err != nil {
			return nil, err
		}
	}

	ignore := make(map[string]bool, len(spec.Masks))
	for _, m := range spec.Masks {
		ignore[m] = true
	}

	return s.differ.Diff(ctx, sess, run.BeforeSnapshotSuffix, *run.AfterSnapshotSuffix, ignore)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.store.GetRun(runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeErrorCode(w, http.StatusNotFound, "run_not_found", "run "+runID+" not found")
		return
	}

	resp := map[string]any{
		"runId":     run.RunID,
		"status":    string(run.Status),
		"createdAt": run.CreatedAt,
	}
	if run.Passed != nil {
		resp["passed"] = *run.Passed
	}
	if run.ScorePassed != nil && run.ScoreTotal != nil && run.ScorePercent != nil {
		resp["score"] = map[string]any{
			"passed":  *run.ScorePassed,
			"total":   *run.ScoreTotal,
			"percent": *run.ScorePercent,
		}
	}
	if run.Failures != nil {
		var failures []assertion.Failure
		if err := json.Unmarshal([]byte(*run.Failures), &failures); err == nil {
			resp["failures"] = failures
		}
	}
	if run.Diff != nil {
		// Diff is stored pre-serialized (it was marshaled once at evaluate_run
		// time, through differ.Row's flattening MarshalJSON); re-emit the raw
		// JSON rather than round-tripping back through the Go struct, since
		// Row intentionally has no UnmarshalJSON counterpart.
		resp["diff"] = json.RawMessage(*run.Diff)
	}

	writeJSON(w, http.StatusOK, resp)
}
