// Package v2 opens the storefront database and owns the marketing schema.
package v2

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const pingTimeout = 5 * time.Second

// Manager owns the gorm connection.
type Manager struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// Config carries connection settings for the manager constructors.
type Config struct {
	Path               string // sqlite file path, ":memory:" for tests
	DSN                string // mysql DSN
	MaxOpenConns       int
	SlowQueryThreshold time.Duration
	Logger             logger.Logger
}

// Open builds a manager from settings, choosing the driver.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	cfg := Config{
		Path:               settings.Path,
		DSN:                settings.MySQL.DSN(),
		MaxOpenConns:       settings.MaxOpenConns,
		SlowQueryThreshold: settings.SlowQueryThreshold.Std(),
		Logger:             log,
	}
	switch settings.Driver {
	case "mysql":
		return NewMySQLManager(cfg)
	case "sqlite":
		return NewSQLiteManager(cfg)
	default:
		return nil, errors.Newf("unsupported database driver %q", settings.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewSQLiteManager opens a SQLite database with foreign keys and WAL enabled.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	}
	m, err := open("sqlite", sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn and keeps in-memory databases coherent.
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return m, nil
}

// NewMySQLManager opens a MySQL database.
func NewMySQLManager(cfg Config) (*Manager, error) {
	m, err := open("mysql", mysql.Open(cfg.DSN), cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := m.db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return m, nil
}

func open(driver string, dialector gorm.Dialector, cfg Config) (*Manager, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Module("datastore")

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(log, cfg.SlowQueryThreshold),
	})
	if err != nil {
		return nil, errors.Newf("failed to open %s database: %w", driver, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &Manager{db: db, driver: driver, log: log}, nil
}

// Initialize migrates the marketing tables. Storefront tables are owned by
// the storefront and are only migrated when includeStorefront is set, which
// standalone deployments and tests use.
func (m *Manager) Initialize(includeStorefront bool) error {
	models := []any{&entities.Trigger{}, &entities.TriggerExecution{}}
	if includeStorefront {
		models = append([]any{&entities.User{}, &entities.Order{}}, models...)
	}
	if err := m.db.AutoMigrate(models...); err != nil {
		return errors.Newf("failed to migrate marketing schema: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", m.driver).
			Build()
	}
	m.log.Info("database schema ready", logger.String("driver", m.driver))
	return nil
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns "sqlite" or "mysql".
func (m *Manager) Driver() string {
	return m.driver
}

// Ping checks that the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Newf("database ping failed: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
