// Package datastore is the relational record store of the image catalog.
//
// It supports SQLite (the default, a single file) and MySQL. A Manager
// owns the connection and schema; ImageRepository and TagRepository wrap
// the queries the ingestion, sync and reindex jobs need.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/logger"
)

// Database types accepted in Config.Type.
const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
)

const defaultSlowQueryThreshold = 500 * time.Millisecond

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location for display.
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL reports whether the backend is MySQL.
	IsMySQL() bool
}

// Config holds database configuration.
type Config struct {
	Type string

	// SQLitePath is the database file, or ":memory:" for tests.
	SQLitePath string

	MySQL MySQLConfig

	// SlowQueryThreshold logs statements slower than this as warnings.
	SlowQueryThreshold time.Duration
}

// Open creates the manager for cfg.Type and initializes the schema.
func Open(cfg *Config, log logger.Logger) (Manager, error) {
	var (
		m   Manager
		err error
	)
	switch cfg.Type {
	case "", TypeSQLite:
		m, err = NewSQLiteManager(cfg, log)
	case TypeMySQL:
		m, err = NewMySQLManager(&cfg.MySQL, cfg.SlowQueryThreshold, log)
	default:
		return nil, dbError(fmt.Errorf("unsupported database type %q", cfg.Type), "open")
	}
	if err != nil {
		return nil, err
	}

	if err := m.Initialize(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// gormConfig returns the shared gorm configuration. TranslateError maps
// driver unique violations to gorm.ErrDuplicatedKey.
func gormConfig(log logger.Logger, slow time.Duration) *gorm.Config {
	if slow == 0 {
		slow = defaultSlowQueryThreshold
	}
	return &gorm.Config{
		Logger:                 logger.NewGormLoggerAdapter(log, slow),
		TranslateError:         true,
		SkipDefaultTransaction: true,
	}
}

// migrate runs AutoMigrate for every entity.
func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.Image{}, &entities.Tag{}); err != nil {
		return dbError(err, "migrate")
	}
	return nil
}

// SQLiteManager handles a SQLite database file.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens the SQLite database at cfg.SQLitePath.
func NewSQLiteManager(cfg *Config, log logger.Logger) (*SQLiteManager, error) {
	dbPath := cfg.SQLitePath
	if dbPath == "" {
		dbPath = "imageledger.db"
	}

	// An in-memory database lives as long as its single pooled connection.
	dsn := dbPath
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, dbError(err, "create_data_dir", "path", dir)
			}
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(log, cfg.SlowQueryThreshold))
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open sqlite database: %w", err), "open", "path", dbPath)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between concurrent sync lanes.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open")
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize creates the schema.
func (m *SQLiteManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}
