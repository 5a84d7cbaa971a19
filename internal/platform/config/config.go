package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	strutil "trainflow/pkg/platform/strings"
)

// Storage backends selectable through STORAGE.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Scan     ScanConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string `env:"TRAINFLOW_ADDR" envDefault:":8080"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	Storage       string `env:"STORAGE" envDefault:"memory"`
	SeedDemoData  bool   `env:"SEED_DEMO_DATA" envDefault:"true"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"DATABASE_TX_TIMEOUT" envDefault:"5s"`
}

// RedisConfig is optional; an empty URL disables the distributed scan lease.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig is optional; without brokers audit events go to the database or memory.
type KafkaConfig struct {
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic     string        `env:"KAFKA_AUDIT_TOPIC" envDefault:"trainflow.workflow-audit"`
	ProduceTimeout time.Duration `env:"KAFKA_PRODUCE_TIMEOUT" envDefault:"5s"`
}

type ScanConfig struct {
	Enabled        bool          `env:"EXPIRY_SCAN_ENABLED" envDefault:"true"`
	InitialDelay   time.Duration `env:"EXPIRY_SCAN_INITIAL_DELAY" envDefault:"10s"`
	Interval       time.Duration `env:"EXPIRY_SCAN_INTERVAL" envDefault:"24h"`
	Thresholds     []int         `env:"EXPIRY_WARNING_DAYS" envSeparator:"," envDefault:"30,14,7,1"`
	TimeZone       string        `env:"EXPIRY_SCAN_TIMEZONE" envDefault:"UTC"`
	LeaseTTL       time.Duration `env:"EXPIRY_SCAN_LEASE_TTL" envDefault:"10m"`
	ItemTimeout    time.Duration `env:"EXPIRY_SCAN_ITEM_TIMEOUT" envDefault:"10s"`
	EscalateWithin int           `env:"ESCALATION_WINDOW_DAYS" envDefault:"7"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = strutil.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Server.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
		}
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Server.Storage)
	}
	if len(c.Scan.Thresholds) == 0 {
		return fmt.Errorf("EXPIRY_WARNING_DAYS must list at least one threshold")
	}
	for _, d := range c.Scan.Thresholds {
		if d <= 0 {
			return fmt.Errorf("EXPIRY_WARNING_DAYS entries must be positive, got %d", d)
		}
	}
	if c.Scan.Interval <= 0 {
		return fmt.Errorf("EXPIRY_SCAN_INTERVAL must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the time zone used for calendar-day dedupe.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scan.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load EXPIRY_SCAN_TIMEZONE %q: %w", c.Scan.TimeZone, err)
	}
	return loc, nil
}
