package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/domain"
	applog "github.com/timmy/docpipe/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database, applies pool settings and, when enabled, migrates the schema.
// Parameters:
//   - cfg: database settings (driver, DSN parts or path, pool, log level).
// Returns:
//   - *gorm.DB: ready-to-use database handle.
//   - error: non-nil if connecting or migrating fails.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}

	var db *gorm.DB
	var err error

	applog.Info("[DB] Initializing database with driver: %q", cfg.Driver)

	switch cfg.Driver {
	case "postgres":
		db, err = initPostgres(cfg, gormConfig)
	default:
		db, err = initSQLite(cfg, gormConfig)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Migrate creates or updates the users, documents and ingestion_logs tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Document{},
		&domain.IngestionLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Ping checks that the database answers within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// HealthChecker exposes Ping for the health endpoint.
type HealthChecker struct {
	db *gorm.DB
}

func NewHealthChecker(db *gorm.DB) *HealthChecker {
	return &HealthChecker{db: db}
}

func (h *HealthChecker) Ping(ctx context.Context) error {
	return Ping(ctx, h.db)
}

func initPostgres(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// PreferSimpleProtocol keeps transaction poolers (pgbouncer, Supabase 6543) working.
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

func initSQLite(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	if cfg.Path != "" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")
	db.Exec("PRAGMA busy_timeout=5000")

	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Transactor runs a function inside a database transaction.
type Transactor struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewTransactor creates a Transactor. A zero timeout leaves deadlines to the caller's context.
// Parameters:
//   - db: GORM database handle.
//   - timeout: per-transaction deadline; zero disables it.
// Returns:
//   - *Transactor: transaction runner bound to db.
func NewTransactor(db *gorm.DB, timeout time.Duration) *Transactor {
	return &Transactor{db: db, timeout: timeout}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
// Once begun, the transaction runs to commit or rollback; cancellation of ctx only applies via the timeout.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - fn: work to run with the transaction handle.
// Returns:
//   - error: fn's error, or the commit error.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	txCtx := context.WithoutCancel(ctx)
	if t.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(txCtx, t.timeout)
		defer cancel()
	}
	return t.db.WithContext(txCtx).Transaction(fn)
}

// scoped returns tx when running inside a transaction (it already carries the
// transaction's context), otherwise db bound to ctx.
func scoped(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}
