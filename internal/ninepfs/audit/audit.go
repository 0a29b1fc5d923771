// Package audit persists a durable record of every terminated session —
// cause, duration, bytes moved — the way the teacher's
// pkg/controlplane/store.GORMStore persists control-plane entities, via
// GORM over either SQLite or Postgres.
//
// The two backends bootstrap their schema differently, each grounded on a
// distinct teacher file: SQLite uses GORM's own AutoMigrate exactly as
// pkg/controlplane/store/gorm.go does, while Postgres runs the embedded
// golang-migrate migrations the same way
// pkg/store/metadata/postgres/migrate.go does. Postgres gets the explicit
// migration path because its schema needs to be reviewable and
// rollback-capable in a way a single-writer SQLite file does not.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ninep-go/ninepd/internal/logger"
	"github.com/ninep-go/ninepd/internal/ninepfs/audit/migrations"
)

// Record is one terminated session, as written to the audit store. The ID
// is a client-opaque UUID rather than an autoincrement integer, matching
// the teacher's control-plane models convention of string primary keys
// minted with uuid.New().
type Record struct {
	ID           string    `gorm:"primaryKey;size:36"`
	ClientAddr   string    `gorm:"not null"`
	AttachName   string    `gorm:"not null"`
	Cause        string    `gorm:"not null"`
	OpenedAt     time.Time `gorm:"not null"`
	ClosedAt     time.Time `gorm:"not null;index"`
	DurationMS   int64     `gorm:"not null"`
	BytesRead    int64     `gorm:"not null;default:0"`
	BytesWritten int64     `gorm:"not null;default:0"`
}

// TableName pins the table name so the Postgres migration and the GORM
// model never drift apart.
func (Record) TableName() string { return "audit_records" }

// Config selects and configures the backing database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
}

// Store is a GORM-backed audit log.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database, bootstraps its schema, and
// returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg.DSN)
	case "postgres":
		return openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", cfg.Driver)
	}
}

func openSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: failed to create database directory: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: failed to run automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	if err := runPostgresMigrations(ctx, dsn); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect to postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func runPostgresMigrations(ctx context.Context, dsn string) error {
	logger.Info("running audit store migrations")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("audit: failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("audit: failed to ping database: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable: "audit_schema_migrations",
		DatabaseName:    "ninepd_audit",
	})
	if err != nil {
		return fmt.Errorf("audit: failed to create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("audit: failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("audit: migration failed: %w", err)
	}
	return nil
}

// Record writes one terminated-session entry.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("audit: failed to record session: %w", err)
	}
	return nil
}

// Recent returns the most recently closed sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("closed_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: failed to query recent records: %w", err)
	}
	return records, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
