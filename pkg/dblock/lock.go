// Package dblock serializes schema migrations across server replicas
// sharing one database.
package dblock

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker runs a migration function while holding an exclusive
// lock, so concurrent AutoMigrate calls from multiple replicas cannot
// interleave.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock. It blocks
	// until the lock is acquired and releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locking strategy for the database dialect.
// PostgreSQL uses an advisory lock; SQLite and MySQL fall back to a lock
// table with INSERT-or-fail semantics. The lock table is created eagerly
// so the first WithLock never races table creation.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return noopLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte("dashboard-server-migration"))),
		}
	}
	lock := &tableLock{db: db}
	_ = db.AutoMigrate(&lockRecord{})
	return lock
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock uses pg_advisory_lock, which is session scoped and
// released automatically if the connection dies.
type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type lockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (lockRecord) TableName() string { return "migration_lock" }

// tableLock holds the lock as a single well-known row. A stale row older
// than staleLockAge is treated as a crashed holder and cleared.
type tableLock struct {
	db *gorm.DB
}

const (
	lockRowID     = "migration"
	maxAttempts   = 30
	retryInterval = time.Second
	staleLockAge  = 5 * time.Minute
)

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	acquired := false
	for i := 0; i < maxAttempts; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockRowID, time.Now().Add(-staleLockAge)).
			Delete(&lockRecord{})

		row := lockRecord{ID: lockRowID, LockedAt: time.Now(), LockedBy: hostname}
		result := l.db.WithContext(ctx).Create(&row)
		if result.Error == nil {
			acquired = true
			break
		}
		if i == maxAttempts-1 {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", maxAttempts, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", lockRowID).Delete(&lockRecord{})
	}()
	return fn()
}
