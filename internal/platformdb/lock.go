package platformdb

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes migration runs across replicas of the
// platform service so that two processes never run golang-migrate's Up
// concurrently against the same database.
type MigrationLocker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// LockOptions bounds how long WithLock is willing to wait for the lock and
// at what cadence it polls, plus how old a table-fallback lock row can get
// before a competing replica reclaims it. Zero values fall back to
// config.Defaults()'s migration-lock settings.
type LockOptions struct {
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	StaleAfter     time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	return o
}

// NewMigrationLocker picks a locking strategy appropriate to db's dialect:
// a postgres advisory lock polled non-blockingly so a stuck holder can
// never wedge a replica past opts.AcquireTimeout, or a table-based
// insert-or-fail fallback for mysql/sqlite. scope namespaces the lock so
// distinct migration sets sharing one database (platform metadata today;
// template-stamping migrations if driftlane ever grows versioned
// per-namespace schema changes) never block each other.
func NewMigrationLocker(db *gorm.DB, scope string, opts LockOptions) MigrationLocker {
	if db == nil {
		return &noopMigrationLock{}
	}
	if scope == "" {
		scope = "default"
	}
	opts = opts.withDefaults()

	if db.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte("driftlane-migration:" + scope))),
			opts:   opts,
		}
	}
	lock := &fallbackMigrationLock{db: db, rowID: "migration:" + scope, opts: opts}
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// pollUntilAcquired repeatedly calls tryAcquire, doubling the wait between
// attempts (capped at 5s) until it reports success, ctx is cancelled, or
// deadline elapses. It never blocks the caller past that deadline, unlike
// a bare blocking acquire call.
func pollUntilAcquired(ctx context.Context, deadline time.Duration, start time.Duration, tryAcquire func() (bool, error)) error {
	const maxBackoff = 5 * time.Second
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	wait := start
	for {
		ok, err := tryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire migration lock within %s: %w", deadline, ctx.Err())
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// pgAdvisoryLock uses pg_try_advisory_lock rather than the blocking
// pg_advisory_lock, so a wedged holder times out a waiting replica instead
// of hanging its startup indefinitely.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
	opts   LockOptions
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	tryAcquire := func() (bool, error) {
		var acquired bool
		if err := l.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", l.lockID).Scan(&acquired).Error; err != nil {
			return false, fmt.Errorf("try migration advisory lock: %w", err)
		}
		return acquired, nil
	}
	if err := pollUntilAcquired(ctx, l.opts.AcquireTimeout, l.opts.PollInterval, tryAcquire); err != nil {
		return err
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// fallbackMigrationLock backs non-postgres dialects (mysql, sqlite in
// tests) with a lock row keyed by rowID, claimed by insert-or-fail so only
// one replica ever holds it, reaping rows older than opts.StaleAfter so a
// crashed holder doesn't wedge the lock forever.
type fallbackMigrationLock struct {
	db    *gorm.DB
	rowID string
	opts  LockOptions
}

func (l *fallbackMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	tryAcquire := func() (bool, error) {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.rowID, time.Now().Add(-l.opts.StaleAfter)).
			Delete(&migrationLockRecord{})

		row := migrationLockRecord{ID: l.rowID, LockedAt: time.Now(), LockedBy: hostname}
		result := l.db.WithContext(ctx).Create(&row)
		return result.Error == nil, nil
	}
	if err := pollUntilAcquired(ctx, l.opts.AcquireTimeout, l.opts.PollInterval, tryAcquire); err != nil {
		return err
	}

	defer func() {
		l.db.Where("id = ?", l.rowID).Delete(&migrationLockRecord{})
	}()
	return fn()
}
