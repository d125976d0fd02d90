package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"blingsync/internal/logger"
	"blingsync/internal/models"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type Database struct {
	DB      *gorm.DB
	Dialect string
}

type Options struct {
	AutoMigrate bool
	Logger      *logger.Logger
}

func New(databaseURL string, opts Options) (*Database, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: newGormLogger(opts.Logger)}
	dialect := DialectFromURL(databaseURL)

	switch dialect {
	case DialectSQLite:
		// SQLite for development and tests
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		db, err = gorm.Open(sqlite.Open(dbPath), gormCfg)
	case DialectMySQL:
		// MySQL for production
		db, err = gorm.Open(mysql.Open(strings.TrimPrefix(databaseURL, "mysql://")), gormCfg)
	default:
		db, err = gorm.Open(postgres.Open(databaseURL), gormCfg)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == DialectSQLite {
		// One writer at a time; concurrent sqlite writers fail with SQLITE_BUSY.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	d := &Database{DB: db, Dialect: dialect}

	if opts.AutoMigrate {
		if err := d.Migrate(); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Migrate creates the sync tables. Production tables are owned elsewhere, so
// this only runs when DB_AUTO_MIGRATE is set or from tests.
func (d *Database) Migrate() error {
	err := d.DB.AutoMigrate(
		&models.Product{},
		&models.Customer{},
		&models.APISetting{},
		&models.SyncRun{},
	)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DialectFromURL picks the driver from the URL scheme; bare DSNs are postgres.
func DialectFromURL(databaseURL string) string {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite
	case strings.HasPrefix(databaseURL, "mysql://"):
		return DialectMySQL
	default:
		return DialectPostgres
	}
}

func newGormLogger(l *logger.Logger) gormlogger.Interface {
	if l == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	// Parameterized queries keep token values out of the SQL that gets logged.
	return gormlogger.New(l, gormlogger.Config{
		SlowThreshold:             2 * time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}
