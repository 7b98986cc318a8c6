// Package store is the engine's persistence layer: transactional access to
// jobs, tasks, journal entries, awakeables, entities/locks/workflow runs,
// workers, queued tasks, and the event ledger, all over GORM. Mutations
// that enforce an invariant take a row lock and run inside one
// transaction; lease claims use SKIP LOCKED so concurrent workers never
// block each other on the same queue.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/config"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
)

// Store wraps a *gorm.DB with the engine's component methods. All
// mutations that enforce an invariant run inside db.Transaction(...).
type Store struct {
	db      *gorm.DB
	log     *logger.Logger
	onEvent func(domain.Event)
}

// OnEvent registers a callback invoked after every committed job/task
// transition, with the domain.Event row as written to the ledger. Used to
// fan transitions out to the event bus and metrics without coupling the
// store to either.
func (s *Store) OnEvent(fn func(domain.Event)) {
	s.onEvent = fn
}

func (s *Store) emit(evt domain.Event) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(evt)
}

// Open connects to Postgres when cfg.StorageDSN is set, otherwise to a
// file-backed SQLite database under cfg.StorageDir — the "storage
// directory" environment variable and runs AutoMigrate.
func Open(cfg config.Config, baseLog *logger.Logger) (*Store, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	var (
		db  *gorm.DB
		err error
	)
	if cfg.StorageDSN != "" {
		db, err = gorm.Open(postgres.Open(cfg.StorageDSN), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger: gormLog,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			return nil, fmt.Errorf("enable uuid-ossp: %w", err)
		}
	} else {
		if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		path := filepath.Join(cfg.StorageDir, "engine.db")
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, log: baseLog.With("component", "store")}, nil
}

// AutoMigrate creates/updates every table the engine owns. Schema upgrades
// are additive .
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Job{},
		&domain.Task{},
		&domain.JournalEntry{},
		&domain.Awakeable{},
		&domain.Entity{},
		&domain.ObjectStateRow{},
		&domain.ObjectLock{},
		&domain.WorkflowRun{},
		&domain.Worker{},
		&domain.QueuedTask{},
		&domain.Event{},
	)
}

// DB exposes the underlying handle; cmd/main.go passes it to the storage
// and job-queue metrics collectors.
func (s *Store) DB() *gorm.DB { return s.db }

// FromDB builds a Store directly over an already-open *gorm.DB — used by
// tests and by callers composing a Store inside a transaction they began
// themselves.
func FromDB(db *gorm.DB) *Store {
	return &Store{db: db}
}
