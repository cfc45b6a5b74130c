package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	JWT      JWTConfig
	Booking  BookingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	GinMode        string
	RequestTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	Driver string
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
	Migrate  bool
}

// DSN builds a pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

// RedisConfig is disabled when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AMQPConfig is disabled when URL is empty.
type AMQPConfig struct {
	URL      string
	Exchange string
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

type JWTConfig struct {
	Secret string
	Issuer string
}

type BookingConfig struct {
	MaxSeats         int
	PendingTTL       time.Duration
	ExpiryInterval   time.Duration
	AvailabilityTTL  time.Duration
	ReserveRateLimit int
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var (
		cfg Config
		err error
	)

	cfg.Server.Host = getenv("SERVER_HOST", "localhost")
	if cfg.Server.Port, err = getInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Server.GinMode = getenv("GIN_MODE", "release")
	if cfg.Server.RequestTimeout, err = getSeconds("REQUEST_TIMEOUT_SEC", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Log.Level = getenv("LOG_LEVEL", "info")
	cfg.Log.Format = getenv("LOG_FORMAT", "text")

	cfg.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", DriverPostgres))
	switch cfg.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return nil, fmt.Errorf("%s: invalid STORE_DRIVER: %q", op, cfg.Store.Driver)
	}

	if cfg.Postgres, err = loadPostgres(cfg.Store.Driver == DriverPostgres); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.AMQP.URL = os.Getenv("AMQP_URL")
	cfg.AMQP.Exchange = getenv("AMQP_EXCHANGE", "cinebook.bookings")

	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("%s: missing JWT_SECRET", op)
	}
	cfg.JWT.Issuer = os.Getenv("JWT_ISSUER")

	if cfg.Booking, err = loadBooking(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func loadPostgres(required bool) (PostgresConfig, error) {
	var (
		c   PostgresConfig
		err error
	)

	c.Host = getenv("POSTGRES_HOST", "localhost")
	if c.Port, err = getInt("POSTGRES_PORT", 5432); err != nil {
		return c, err
	}

	c.User = os.Getenv("POSTGRES_USER")
	c.Password = os.Getenv("POSTGRES_PASSWORD")
	c.Name = os.Getenv("POSTGRES_DB")
	if required {
		for name, v := range map[string]string{
			"POSTGRES_USER":     c.User,
			"POSTGRES_PASSWORD": c.Password,
			"POSTGRES_DB":       c.Name,
		} {
			if v == "" {
				return c, fmt.Errorf("missing %s", name)
			}
		}
	}

	c.SSLMode = getenv("POSTGRES_SSLMODE", "disable")

	maxConns, err := getInt("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return c, err
	}
	c.MaxConns = int32(maxConns)

	if c.Migrate, err = getBool("POSTGRES_MIGRATE", true); err != nil {
		return c, err
	}

	return c, nil
}

func loadBooking() (BookingConfig, error) {
	var (
		c   BookingConfig
		err error
	)

	if c.MaxSeats, err = getInt("BOOKING_MAX_SEATS", 10); err != nil {
		return c, err
	}

	ttl, err := getInt("BOOKING_PENDING_TTL_MIN", 15)
	if err != nil {
		return c, err
	}
	c.PendingTTL = time.Duration(ttl) * time.Minute

	if c.ExpiryInterval, err = getSeconds("BOOKING_EXPIRY_INTERVAL_SEC", 60); err != nil {
		return c, err
	}

	if c.AvailabilityTTL, err = getSeconds("AVAILABILITY_CACHE_TTL_SEC", 5); err != nil {
		return c, err
	}

	if c.ReserveRateLimit, err = getInt("RESERVE_RATE_LIMIT", 20); err != nil {
		return c, err
	}

	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}

	return n, nil
}

func getSeconds(key string, def int) (time.Duration, error) {
	n, err := getInt(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func getBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return b, nil
}
