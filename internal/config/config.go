// Package config parses process configuration from flags and
// environment variables, and builds the root zerolog logger.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapbox/hecate-go/internal/auth"
)

// Config is every process-wide setting read from flags or environment.
type Config struct {
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBReadHosts []string

	WebhookSecretLen int
	AuthConfigPath   string
	SchemaPath       string
	TokenMaxAge      time.Duration
}

// Load parses flags, falling back to environment variables, falling
// back to defaults.
func Load() *Config {
	var (
		port       = flag.String("port", getEnv("PORT", "8080"), "HTTP listen port")
		dbHost     = flag.String("db-host", getEnv("DB_HOST", "localhost"), "Database host")
		dbPort     = flag.String("db-port", getEnv("DB_PORT", "5432"), "Database port")
		dbUser     = flag.String("db-user", getEnv("DB_USER", "hecate"), "Database user")
		dbPassword = flag.String("db-password", getEnv("DB_PASSWORD", ""), "Database password")
		dbName     = flag.String("db-name", getEnv("DB_NAME", "hecate"), "Database name")
		dbSSLMode  = flag.String("db-sslmode", getEnv("DB_SSLMODE", "disable"), "Database sslmode")
		dbReadHosts = flag.String("db-read-hosts", getEnv("DB_READ_HOSTS", ""), "Comma-separated read-replica hosts")
		webhookLen = flag.Int("webhook-secret-len", getEnvInt("WEBHOOK_SECRET_LEN", 30), "Webhook secret length stored in Config (webhook creation always generates 30-character secrets)")
		authPath   = flag.String("auth-config", getEnv("AUTH_CONFIG_PATH", ""), "Path to the authorization scope tree JSON")
		schemaPath = flag.String("schema", getEnv("SCHEMA_PATH", ""), "Path to the properties JSON-Schema")
		tokenMaxHr = flag.Int("auth-token-max-hours", getEnvInt("AUTH_TOKEN_MAX_HOURS", 168), "Maximum token lifetime in hours")
	)
	flag.Parse()

	var reads []string
	for _, h := range strings.Split(*dbReadHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			reads = append(reads, h)
		}
	}

	return &Config{
		Port:             *port,
		DBHost:           *dbHost,
		DBPort:           *dbPort,
		DBUser:           *dbUser,
		DBPassword:       *dbPassword,
		DBName:           *dbName,
		DBSSLMode:        *dbSSLMode,
		DBReadHosts:      reads,
		WebhookSecretLen: *webhookLen,
		AuthConfigPath:   *authPath,
		SchemaPath:       *schemaPath,
		TokenMaxAge:      time.Duration(*tokenMaxHr) * time.Hour,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// WriteDSN builds the lib/pq connection string for the write/sandbox
// pools.
func (c *Config) WriteDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// ReadDSNs builds one DSN per configured read-replica host, reusing the
// write pool's credentials and database name.
func (c *Config) ReadDSNs() []string {
	dsns := make([]string, len(c.DBReadHosts))
	for i, host := range c.DBReadHosts {
		dsns[i] = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
	}
	return dsns
}

// NewLogger builds the root structured logger every package derives its
// package-level logger from.
func NewLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// LoadAuthConfig parses the authorization scope tree from AuthConfigPath,
// validating it before returning.
func LoadAuthConfig(path string) (*auth.Config, error) {
	if path == "" {
		return &auth.Config{Default: auth.ValuePublic, Leaves: map[string]auth.Leaf{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth config: %w", err)
	}

	var raw struct {
		Default string                     `json:"default"`
		Server  string                     `json:"server"`
		Leaves  map[string]json.RawMessage `json:"leaves"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse auth config: %w", err)
	}

	leaves := make(map[string]auth.Leaf, len(raw.Leaves))
	for path, body := range raw.Leaves {
		var l struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(body, &l); err != nil {
			return nil, fmt.Errorf("parse auth leaf %q: %w", path, err)
		}
		leaves[path] = auth.Leaf{Path: path, Kind: auth.Kind(l.Kind), Value: auth.Value(l.Value)}
	}

	cfg := &auth.Config{
		Default: auth.Value(raw.Default),
		Server:  auth.Value(raw.Server),
		Leaves:  leaves,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
