package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cinemabooking/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite3 and mysql.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// DB is the booking store. It implements domain.BookingRepository.
type DB struct {
	*sql.DB
	driver string
	path   string
	logger *zerolog.Logger
}

// Open connects using cfg.Driver and creates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var (
		dsn  string
		path string
	)
	switch cfg.Driver {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		path = cfg.Path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on"
	case DriverMySQL:
		dsn = mysqlDSN(cfg.MySQL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == DriverMySQL {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, driver: cfg.Driver, path: path, logger: logger}
	if err := db.createTables(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Database initialized")
	return db, nil
}

// NewDB opens a sqlite database at path.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, Path: path}, logger)
}

func mysqlDSN(cfg config.MySQLConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	// rows affected must count matched rows so unchanged updates are not reported as missing
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func (db *DB) Driver() string {
	return db.driver
}

// Path is the sqlite file, empty for mysql.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables(ctx context.Context) error {
	queries := sqliteSchema
	if db.driver == DriverMySQL {
		queries = mysqlSchema
	}
	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		screening_id INTEGER NOT NULL,
		user_email TEXT NOT NULL,
		seats INTEGER NOT NULL,
		total_price_cents INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		movie_title TEXT NOT NULL DEFAULT '',
		screening_time DATETIME,
		created_at DATETIME NOT NULL,
		confirmed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type TEXT NOT NULL,
		booking_id INTEGER NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		processed_at DATETIME,
		next_retry_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user_email ON bookings(user_email)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_screening_status ON bookings(screening_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		screening_id BIGINT NOT NULL,
		user_email VARCHAR(255) NOT NULL,
		seats INT NOT NULL,
		total_price_cents BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		movie_title VARCHAR(255) NOT NULL DEFAULT '',
		screening_time DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		confirmed_at DATETIME(6) NULL,
		INDEX idx_bookings_user_email (user_email),
		INDEX idx_bookings_screening_status (screening_id, status),
		INDEX idx_bookings_status_created (status, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sync_queue (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		task_type VARCHAR(32) NOT NULL,
		booking_id BIGINT NOT NULL,
		payload TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		processed_at DATETIME(6) NULL,
		next_retry_at DATETIME(6) NULL,
		INDEX idx_sync_queue_status (status, next_retry_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
