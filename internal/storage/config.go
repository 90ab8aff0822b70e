package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/conveyor-io/conveyor/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultQueryTimeout    = 30 * time.Second
	defaultConnectTimeout  = 10 * time.Second
)

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is unset or blank.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrTimeoutNotPositive is returned when a configured timeout is zero or negative.
	ErrTimeoutNotPositive = errors.New("timeout must be greater than zero")
)

// Config holds the warehouse connection settings. Every statement the
// warehouse executes is bounded by QueryTimeout; the initial connect and ping
// by ConnectTimeout. The URL stays unexported so it cannot leak into logs
// unmasked.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
	ConnectTimeout  time.Duration
}

// LoadConfig reads warehouse settings from the environment, falling back to
// pool defaults sized for a single pipeline process.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		QueryTimeout:    config.GetEnvDuration("DATABASE_QUERY_TIMEOUT", defaultQueryTimeout),
		ConnectTimeout:  config.GetEnvDuration("DATABASE_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// Validate rejects configurations the connection layer cannot honor.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.QueryTimeout <= 0 || c.ConnectTimeout <= 0 {
		return ErrTimeoutNotPositive
	}

	return nil
}

// MaskDatabaseURL returns the connection URL with its password replaced,
// safe for logging. Parsing is manual because warehouse passwords routinely
// contain characters net/url rejects.
func (c *Config) MaskDatabaseURL() string {
	return maskURL(c.databaseURL)
}

func maskURL(raw string) string {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return raw
	}

	// Userinfo ends at the last @; passwords may themselves contain @.
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return raw
	}

	user, password, found := strings.Cut(rest[:at], ":")
	if !found || password == "" {
		return raw
	}

	return scheme + "://" + user + ":***" + rest[at:]
}
