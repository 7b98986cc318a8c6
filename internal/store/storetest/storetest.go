// Package storetest provides test harnesses for the store package: a
// Postgres-DSN-gated integration harness for SKIP LOCKED-dependent tests,
// and an in-memory SQLite harness for store logic that doesn't depend on
// Postgres locking semantics.
package storetest

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/lprior-repo/nuoc-sub001/internal/store"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error
)

// Postgres returns a shared Postgres-backed *gorm.DB, skipping the test if
// TEST_POSTGRES_DSN is unset.
func Postgres(tb testing.TB) *gorm.DB {
	tb.Helper()
	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			pgErr = err
			return
		}
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			pgErr = err
			return
		}
		if err := store.AutoMigrate(db); err != nil {
			pgErr = err
			return
		}
		pgDB = db
	})
	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run store integration tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test postgres db: %v", pgErr)
	}
	return pgDB
}

// SQLite returns a fresh in-memory SQLite *gorm.DB per call, migrated and
// ready to use. It's the fast default for store tests that don't exercise
// Postgres-specific SKIP LOCKED semantics.
func SQLite(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// Tx begins a transaction on db and registers rollback cleanup.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() { _ = tx.Rollback().Error })
	return tx
}

// New builds a *store.Store directly over db (no logger ceremony needed in
// tests).
func New(db *gorm.DB) *store.Store {
	return store.FromDB(db)
}
