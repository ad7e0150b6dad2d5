package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cinemabooking/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Lock       LockConfig       `yaml:"lock"`
	Booking    BookingConfig    `yaml:"booking"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Events     EventsConfig     `yaml:"events"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver       string      `yaml:"driver"` // sqlite3 or mysql
	Path         string      `yaml:"path"`
	MySQL        MySQLConfig `yaml:"mysql"`
	MaxOpenConns int         `yaml:"max_open_conns"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// LockConfig tunes the per-screening distributed lock.
type LockConfig struct {
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
	// Strict rejects callers with a retryable error once attempts are exhausted
	// instead of running the work without the lock.
	Strict         bool          `yaml:"strict"`
	LocalFallback  bool          `yaml:"local_fallback"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type BookingConfig struct {
	MaxSeats           int           `yaml:"max_seats"`
	BookingCutoff      time.Duration `yaml:"booking_cutoff"`
	CancellationCutoff time.Duration `yaml:"cancellation_cutoff"`
	DefaultPriceCents  int64         `yaml:"default_price_cents"`
	FetchAttempts      int           `yaml:"fetch_attempts"`
	PersistAttempts    int           `yaml:"persist_attempts"`
	RetryStep          time.Duration `yaml:"retry_step"`
	PendingExpiry      time.Duration `yaml:"pending_expiry"`
}

type CatalogConfig struct {
	BaseURL    string             `yaml:"base_url"`
	Timeout    time.Duration      `yaml:"timeout"`
	APIKey     string             `yaml:"api_key"`
	APIExtra   string             `yaml:"api_extra"`
	RPS        float64            `yaml:"rps"`
	Burst      int                `yaml:"burst"`
	Screenings []models.Screening `yaml:"screenings"`
}

type EventsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RabbitMQURL string `yaml:"rabbitmq_url"`
	Exchange    string `yaml:"exchange"`
}

type WorkerConfig struct {
	PoolSize         int           `yaml:"pool_size"`
	QueueSize        int           `yaml:"queue_size"`
	SyncMaxRetries   int           `yaml:"sync_max_retries"`
	SyncInitialDelay time.Duration `yaml:"sync_initial_delay"`
	SyncMaxDelay     time.Duration `yaml:"sync_max_delay"`
	SyncPollInterval time.Duration `yaml:"sync_poll_interval"`
	SyncEnabled      bool          `yaml:"sync_enabled"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "mysql":
		if c.Database.MySQL.Host == "" || c.Database.MySQL.DBName == "" {
			return errors.New("mysql host and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Lock.MaxAttempts <= 0 {
		return errors.New("lock.max_attempts must be positive")
	}
	if c.Lock.TTL <= 0 {
		return errors.New("lock.ttl must be positive")
	}
	if c.Booking.MaxSeats <= 0 || c.Booking.MaxSeats > models.MaxSeatsPerBooking {
		return fmt.Errorf("booking.max_seats must be between 1 and %d", models.MaxSeatsPerBooking)
	}
	if c.Events.Enabled && c.Events.RabbitMQURL == "" {
		return errors.New("events.rabbitmq_url is required when events are enabled")
	}

	return ValidateScreenings(c.Catalog.Screenings)
}

func ValidateScreenings(screenings []models.Screening) error {
	ids := make(map[int64]bool)
	for _, s := range screenings {
		if s.ID <= 0 {
			return fmt.Errorf("screening '%s' has invalid ID %d", s.MovieTitle, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate screening ID found: %d", s.ID)
		}
		if s.TotalSeats < 0 {
			return fmt.Errorf("screening %d has negative total_seats", s.ID)
		}
		ids[s.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.MySQL.Port == 0 {
		c.Database.MySQL.Port = 3306
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	// Lock defaults
	if c.Lock.Prefix == "" {
		c.Lock.Prefix = models.DefaultLockPrefix
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = models.DefaultLockTTL
	}
	if c.Lock.MaxAttempts == 0 {
		c.Lock.MaxAttempts = 5
	}
	if c.Lock.BaseDelay == 0 {
		c.Lock.BaseDelay = 100 * time.Millisecond
	}
	if c.Lock.MaxDelay == 0 {
		c.Lock.MaxDelay = 2 * time.Second
	}
	if c.Lock.Jitter == 0 {
		c.Lock.Jitter = 100 * time.Millisecond
	}
	if c.Lock.HealthInterval == 0 {
		c.Lock.HealthInterval = 10 * time.Second
	}

	// Booking defaults
	if c.Booking.MaxSeats == 0 {
		c.Booking.MaxSeats = models.MaxSeatsPerBooking
	}
	if c.Booking.BookingCutoff == 0 {
		c.Booking.BookingCutoff = models.BookingCutoff
	}
	if c.Booking.CancellationCutoff == 0 {
		c.Booking.CancellationCutoff = models.CancellationCutoff
	}
	if c.Booking.DefaultPriceCents == 0 {
		c.Booking.DefaultPriceCents = models.DefaultPriceCents
	}
	if c.Booking.FetchAttempts == 0 {
		c.Booking.FetchAttempts = 3
	}
	if c.Booking.PersistAttempts == 0 {
		c.Booking.PersistAttempts = 3
	}
	if c.Booking.RetryStep == 0 {
		c.Booking.RetryStep = 100 * time.Millisecond
	}
	if c.Booking.PendingExpiry == 0 {
		c.Booking.PendingExpiry = models.DefaultPendingExpiry
	}

	if c.Catalog.Timeout == 0 {
		c.Catalog.Timeout = 5 * time.Second
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "cinema.bookings"
	}

	// Worker defaults
	if c.Worker.PoolSize == 0 {
		c.Worker.PoolSize = 16
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = models.WorkerQueueSize
	}
	if c.Worker.SyncMaxRetries == 0 {
		c.Worker.SyncMaxRetries = 5
	}
	if c.Worker.SyncInitialDelay == 0 {
		c.Worker.SyncInitialDelay = 2 * time.Second
	}
	if c.Worker.SyncMaxDelay == 0 {
		c.Worker.SyncMaxDelay = time.Minute
	}
	if c.Worker.SyncPollInterval == 0 {
		c.Worker.SyncPollInterval = 2 * time.Second
	}
}
