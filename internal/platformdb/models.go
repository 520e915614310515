// Package platformdb holds the GORM-mapped platform metadata tables
// (templates, environments, runs, test suites, tests, api keys) and the
// versioned migrations that create them.
package platformdb

import "time"

// Template is an immutable, frozen structural + seed definition used to
// stamp new environments.
type Template struct {
	ID                   string `gorm:"column:id;primaryKey"`
	ServiceName          string `gorm:"column:service_name"`
	TemplateName         string `gorm:"column:template_name"`
	Version              string `gorm:"column:version"`
	StructuralDefinition string `gorm:"column:structural_definition"` // JSON: []TableDef
	SeedBundle           string `gorm:"column:seed_bundle"`           // JSON: ordered list of {table, rows}, inserted in list order
	Visibility           string `gorm:"column:visibility"`
	Description          string `gorm:"column:description"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Template) TableName() string { return "templates" }

// EnvironmentStatus is the lifecycle state of a live replica.
type EnvironmentStatus string

const (
	EnvReady    EnvironmentStatus = "ready"
	EnvDeleting EnvironmentStatus = "deleting"
	EnvDeleted  EnvironmentStatus = "deleted"
)

// Environment is the mutable record of a live replica.
type Environment struct {
	EnvironmentID        string `gorm:"column:environment_id;primaryKey"`
	NamespaceName        string `gorm:"column:namespace_name;uniqueIndex"`
	TemplateID           string `gorm:"column:template_id"`
	Owner                string `gorm:"column:owner"`
	ImpersonatedIdentity string `gorm:"column:impersonated_identity"`
	Status               EnvironmentStatus `gorm:"column:status"`
	CreatedAt            time.Time         `gorm:"column:created_at"`
	ExpiresAt            time.Time         `gorm:"column:expires_at;index"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
}

func (Environment) TableName() string { return "environments" }

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunEvaluated RunStatus = "evaluated"
)

// Run is a single start→mutate→diff→evaluate cycle anchored to an
// environment.
type Run struct {
	RunID                string  `gorm:"column:run_id;primaryKey"`
	EnvironmentID         string  `gorm:"column:environment_id;index"`
	TestID                *string `gorm:"column:test_id"`
	TestSuiteID           *string `gorm:"column:test_suite_id"`
	BeforeSnapshotSuffix  string  `gorm:"column:before_snapshot_suffix"`
	AfterSnapshotSuffix   *string `gorm:"column:after_snapshot_suffix"`
	Status                RunStatus `gorm:"column:status"`
	Passed                *bool     `gorm:"column:passed"`
	ScorePassed           *int      `gorm:"column:score_passed"`
	ScoreTotal            *int      `gorm:"column:score_total"`
	ScorePercent          *float64  `gorm:"column:score_percent"`
	Failures              *string   `gorm:"column:failures"` // JSON array of assertion failures (assertion_index, message)
	Diff                  *string   `gorm:"column:diff"`     // JSON-encoded Diff, persisted on evaluate_run
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

func (Run) TableName() string { return "runs" }

// TestSuite groups Tests for shared authoring/visibility.
type TestSuite struct {
	ID          string `gorm:"column:id;primaryKey"`
	Name        string `gorm:"column:name"`
	Description string `gorm:"column:description"`
	Owner       string `gorm:"column:owner"`
	Visibility  string `gorm:"column:visibility"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TestSuite) TableName() string { return "test_suites" }

// TestType enumerates the evaluation styles a Test can carry.
type TestType string

const (
	TestActionEval    TestType = "actionEval"
	TestRetriEval     TestType = "retriEval"
	TestCompositeEval TestType = "compositeEval"
)

// Test is a named prompt + expected-diff specification.
type Test struct {
	ID             string   `gorm:"column:id;primaryKey"`
	Name           string   `gorm:"column:name"`
	Prompt         string   `gorm:"column:prompt"`
	Type           TestType `gorm:"column:type"`
	ExpectedOutput string   `gorm:"column:expected_output"` // DSL JSON as submitted; compiled again at evaluate_run
	TemplateSchema string   `gorm:"column:template_schema"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Test) TableName() string { return "tests" }

// TestMembership links a Test into a TestSuite.
type TestMembership struct {
	TestID      string `gorm:"column:test_id;primaryKey"`
	TestSuiteID string `gorm:"column:test_suite_id;primaryKey"`
}

func (TestMembership) TableName() string { return "test_memberships" }

// ApiKey is an issued platform API key. The plaintext secret is never
// stored; only its PBKDF2 hash and salt are.
type ApiKey struct {
	ID         string `gorm:"column:id;primaryKey"`
	KeyHash    string `gorm:"column:key_hash"`
	KeySalt    string `gorm:"column:key_salt"`
	Owner      string `gorm:"column:owner"`
	ExpiresAt  *time.Time `gorm:"column:expires_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

func (ApiKey) TableName() string { return "api_keys" }
