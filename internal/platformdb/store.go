package platformdb

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store wraps a *gorm.DB with the CRUD operations the rest of the system
// needs against platform metadata. It deliberately stays a thin layer over
// GORM rather than a repository-per-model hierarchy, mirroring the single
// generic-repository shape used elsewhere in this corpus.
type Store struct {
	db *gorm.DB
}

// NewStore wraps db.
func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// AutoMigrate exists for test setups (glebarez/sqlite) that don't carry a
// golang-migrate driver; production migration is Migrate() in migrate.go.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Template{}, &Environment{}, &Run{}, &TestSuite{}, &Test{}, &TestMembership{}, &ApiKey{})
}

// --- Templates ---

func (s *Store) CreateTemplate(t *Template) error {
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.db.Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(id string) (*Template, error) {
	var t Template
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (s *Store) FindTemplate(service, name string) (*Template, error) {
	var t Template
	err := s.db.Where("service_name = ? AND template_name = ?", service, name).
		Order("created_at DESC").First(&t).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find template: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTemplates() ([]Template, error) {
	var out []Template
	if err := s.db.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// --- Environments ---

func (s *Store) CreateEnvironment(e *Environment) error {
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	if err := s.db.Create(e).Error; err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	return nil
}

func (s *Store) GetEnvironment(id string) (*Environment, error) {
	var e Environment
	if err := s.db.First(&e, "environment_id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get environment: %w", err)
	}
	return &e, nil
}

func (s *Store) UpdateEnvironmentStatus(id string, status EnvironmentStatus) error {
	res := s.db.Model(&Environment{}).Where("environment_id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("update environment status: %w", res.Error)
	}
	return nil
}

// ListExpired returns environments whose expires_at has passed and which
// are not already deleted, for the TTL reaper.
func (s *Store) ListExpired(now time.Time) ([]Environment, error) {
	var out []Environment
	err := s.db.Where("expires_at < ? AND status != ?", now, EnvDeleted).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list expired environments: %w", err)
	}
	return out, nil
}

// --- Runs ---

func (s *Store) CreateRun(r *Run) error {
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	if err := s.db.First(&r, "run_id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// HasRunningRun reports whether environmentID already has a Run in the
// "running" state, enforcing the at-most-one-running-run invariant.
func (s *Store) HasRunningRun(environmentID string) (bool, error) {
	var count int64
	err := s.db.Model(&Run{}).Where("environment_id = ? AND status = ?", environmentID, RunRunning).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check running run: %w", err)
	}
	return count > 0, nil
}

func (s *Store) UpdateRun(r *Run) error {
	r.UpdatedAt = time.Now()
	if err := s.db.Save(r).Error; err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// --- Test suites / tests ---

func (s *Store) CreateTestSuite(ts *TestSuite) error {
	now := time.Now()
	ts.CreatedAt, ts.UpdatedAt = now, now
	if err := s.db.Create(ts).Error; err != nil {
		return fmt.Errorf("create test suite: %w", err)
	}
	return nil
}

func (s *Store) GetTestSuite(id string) (*TestSuite, error) {
	var ts TestSuite
	if err := s.db.First(&ts, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get test suite: %w", err)
	}
	return &ts, nil
}

// ListTestSuites returns suites visible to owner: public suites plus the
// caller's own private ones.
func (s *Store) ListTestSuites(owner string) ([]TestSuite, error) {
	var out []TestSuite
	err := s.db.Where("visibility = ? OR owner = ?", "public", owner).
		Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list test suites: %w", err)
	}
	return out, nil
}

func (s *Store) CreateTest(t *Test) error {
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := s.db.Create(t).Error; err != nil {
		return fmt.Errorf("create test: %w", err)
	}
	return nil
}

func (s *Store) GetTest(id string) (*Test, error) {
	var t Test
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateTestMembership(m *TestMembership) error {
	if err := s.db.Create(m).Error; err != nil {
		return fmt.Errorf("create test membership: %w", err)
	}
	return nil
}

func (s *Store) ListTestsForSuite(suiteID string) ([]Test, error) {
	var out []Test
	err := s.db.Joins("JOIN test_memberships ON test_memberships.test_id = tests.id").
		Where("test_memberships.test_suite_id = ?", suiteID).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list tests for suite: %w", err)
	}
	return out, nil
}

// --- API keys ---

func (s *Store) CreateApiKey(k *ApiKey) error {
	k.CreatedAt = time.Now()
	if err := s.db.Create(k).Error; err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *Store) GetApiKey(id string) (*ApiKey, error) {
	var k ApiKey
	if err := s.db.First(&k, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

func (s *Store) TouchApiKey(id string) error {
	now := time.Now()
	return s.db.Model(&ApiKey{}).Where("id = ?", id).Update("last_used_at", now).Error
}
