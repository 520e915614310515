package platformdb_test

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/driftlane/driftlane/internal/platformdb"
)

func newTestStore(t *testing.T) *platformdb.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store := platformdb.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestCreateAndGetTemplate(t *testing.T) {
	store := newTestStore(t)
	tmpl := &platformdb.Template{
		ID:          "tmpl-1",
		ServiceName: "slack",
		TemplateName: "default",
		Version:      "v1",
		Visibility:   "public",
	}
	require.NoError(t, store.CreateTemplate(tmpl))
	require.False(t, tmpl.CreatedAt.IsZero())

	got, err := store.GetTemplate("tmpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "slack", got.ServiceName)
}

func TestGetTemplateReturnsNilWhenMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetTemplate("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFindTemplatePicksMostRecentVersion(t *testing.T) {
	store := newTestStore(t)
	older := &platformdb.Template{ID: "t1", ServiceName: "slack", TemplateName: "default"}
	require.NoError(t, store.CreateTemplate(older))
	time.Sleep(time.Millisecond)
	newer := &platformdb.Template{ID: "t2", ServiceName: "slack", TemplateName: "default"}
	require.NoError(t, store.CreateTemplate(newer))

	got, err := store.FindTemplate("slack", "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "t2", got.ID)
}

func TestListTemplatesOrdersNewestFirst(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTemplate(&platformdb.Template{ID: "a", ServiceName: "slack"}))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.CreateTemplate(&platformdb.Template{ID: "b", ServiceName: "jira"}))

	list, err := store.ListTemplates()
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].ID)
}

func TestEnvironmentLifecycle(t *testing.T) {
	store := newTestStore(t)
	env := &platformdb.Environment{
		EnvironmentID: "env-1",
		NamespaceName: "state_aaaa",
		Owner:         "alice",
		Status:        platformdb.EnvReady,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateEnvironment(env))

	got, err := store.GetEnvironment("env-1")
	require.NoError(t, err)
	require.Equal(t, platformdb.EnvReady, got.Status)

	require.NoError(t, store.UpdateEnvironmentStatus("env-1", platformdb.EnvDeleting))
	got, err = store.GetEnvironment("env-1")
	require.NoError(t, err)
	require.Equal(t, platformdb.EnvDeleting, got.Status)
}

func TestListExpiredExcludesDeletedAndFutureExpiry(t *testing.T) {
	store := newTestStore(t)
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, store.CreateEnvironment(&platformdb.Environment{
		EnvironmentID: "expired", NamespaceName: "state_a", Status: platformdb.EnvReady, ExpiresAt: past,
	}))
	require.NoError(t, store.CreateEnvironment(&platformdb.Environment{
		EnvironmentID: "already-deleted", NamespaceName: "state_b", Status: platformdb.EnvDeleted, ExpiresAt: past,
	}))
	require.NoError(t, store.CreateEnvironment(&platformdb.Environment{
		EnvironmentID: "alive", NamespaceName: "state_c", Status: platformdb.EnvReady, ExpiresAt: future,
	}))

	expired, err := store.ListExpired(time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "expired", expired[0].EnvironmentID)
}

func TestHasRunningRunReflectsStatus(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateEnvironment(&platformdb.Environment{
		EnvironmentID: "env-1", NamespaceName: "state_a", Status: platformdb.EnvReady, ExpiresAt: time.Now().Add(time.Hour),
	}))

	running, err := store.HasRunningRun("env-1")
	require.NoError(t, err)
	require.False(t, running)

	require.NoError(t, store.CreateRun(&platformdb.Run{
		RunID: "run-1", EnvironmentID: "env-1", Status: platformdb.RunRunning,
		BeforeSnapshotSuffix: "before_run-1",
	}))

	running, err = store.HasRunningRun("env-1")
	require.NoError(t, err)
	require.True(t, running)
}

func TestUpdateRunPersistsEvaluationResult(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(&platformdb.Run{
		RunID: "run-1", EnvironmentID: "env-1", Status: platformdb.RunRunning,
		BeforeSnapshotSuffix: "before_run-1",
	}))

	run, err := store.GetRun("run-1")
	require.NoError(t, err)

	passed := true
	diffJSON := `{"inserts":[],"updates":[],"deletes":[]}`
	run.Status = platformdb.RunEvaluated
	run.Passed = &passed
	run.Diff = &diffJSON
	require.NoError(t, store.UpdateRun(run))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, platformdb.RunEvaluated, got.Status)
	require.NotNil(t, got.Passed)
	require.True(t, *got.Passed)
	require.Equal(t, diffJSON, *got.Diff)
}

func TestTestSuiteVisibilityFiltering(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTestSuite(&platformdb.TestSuite{ID: "public-1", Owner: "alice", Visibility: "public"}))
	require.NoError(t, store.CreateTestSuite(&platformdb.TestSuite{ID: "private-alice", Owner: "alice", Visibility: "private"}))
	require.NoError(t, store.CreateTestSuite(&platformdb.TestSuite{ID: "private-bob", Owner: "bob", Visibility: "private"}))

	visible, err := store.ListTestSuites("alice")
	require.NoError(t, err)
	ids := make([]string, len(visible))
	for i, ts := range visible {
		ids[i] = ts.ID
	}
	require.ElementsMatch(t, []string{"public-1", "private-alice"}, ids)
}

func TestListTestsForSuiteJoinsMembership(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateTestSuite(&platformdb.TestSuite{ID: "suite-1", Owner: "alice"}))
	require.NoError(t, store.CreateTest(&platformdb.Test{ID: "test-1", Name: "t1", Type: platformdb.TestActionEval, ExpectedOutput: "{}"}))
	require.NoError(t, store.CreateTest(&platformdb.Test{ID: "test-2", Name: "t2", Type: platformdb.TestActionEval, ExpectedOutput: "{}"}))
	require.NoError(t, store.CreateTestMembership(&platformdb.TestMembership{TestID: "test-1", TestSuiteID: "suite-1"}))

	tests, err := store.ListTestsForSuite("suite-1")
	require.NoError(t, err)
	require.Len(t, tests, 1)
	require.Equal(t, "test-1", tests[0].ID)
}

func TestApiKeyTouchUpdatesLastUsedAt(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateApiKey(&platformdb.ApiKey{ID: "key-1", KeyHash: "h", KeySalt: "s", Owner: "alice"}))

	got, err := store.GetApiKey("key-1")
	require.NoError(t, err)
	require.Nil(t, got.LastUsedAt)

	require.NoError(t, store.TouchApiKey("key-1"))
	got, err = store.GetApiKey("key-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
}
