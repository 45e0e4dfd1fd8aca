package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigFile names an optional TOML file applied before the environment.
const EnvConfigFile = "JT808_CONFIG"

// Config holds all configuration for the gateway
type Config struct {
	GatewayID   string
	GatewayPort int
	HTTPPort    int
	RedisURL    string
	NATSURL     string
	DatabaseURL string

	// JetStream persists uplinks in a stream instead of plain publishes
	JetStream bool

	// AdminSecret is the HS256 key for admin API bearer tokens. Empty
	// leaves the admin API open.
	AdminSecret string

	CommandTimeout time.Duration
	SessionTTL     time.Duration
	ReadTimeout    time.Duration
	AssemblyTTL    time.Duration
	ChecksumStrict bool
}

// Default returns the values used when neither file nor environment set one.
func Default() *Config {
	return &Config{
		GatewayID:      "node-01",
		GatewayPort:    8080,
		HTTPPort:       8081,
		RedisURL:       "localhost:6379",
		NATSURL:        "nats://localhost:4222",
		CommandTimeout: 30 * time.Second,
		SessionTTL:     300 * time.Second,
		ReadTimeout:    5 * time.Minute,
		AssemblyTTL:    2 * time.Minute,
		ChecksumStrict: true,
	}
}

// fileConfig is the TOML key mapping.
type fileConfig struct {
	GatewayID      string `toml:"gateway_id"`
	GatewayPort    int    `toml:"gateway_port"`
	HTTPPort       int    `toml:"http_port"`
	RedisURL       string `toml:"redis_url"`
	NATSURL        string `toml:"nats_url"`
	DatabaseURL    string `toml:"database_url"`
	AdminSecret    string `toml:"admin_jwt_secret"`
	JetStream      bool   `toml:"nats_jetstream"`
	CommandTimeout string `toml:"command_timeout"`
	SessionTTL     string `toml:"session_ttl"`
	ReadTimeout    string `toml:"read_timeout"`
	AssemblyTTL    string `toml:"assembly_ttl"`
	ChecksumStrict bool   `toml:"checksum_strict"`
}

// Load loads configuration: defaults, then the file named by JT808_CONFIG,
// then environment variables
func Load() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("gateway_id") {
		c.GatewayID = strings.TrimSpace(raw.GatewayID)
	}
	if meta.IsDefined("gateway_port") {
		c.GatewayPort = raw.GatewayPort
	}
	if meta.IsDefined("http_port") {
		c.HTTPPort = raw.HTTPPort
	}
	if meta.IsDefined("redis_url") {
		c.RedisURL = strings.TrimSpace(raw.RedisURL)
	}
	if meta.IsDefined("nats_url") {
		c.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("database_url") {
		c.DatabaseURL = strings.TrimSpace(raw.DatabaseURL)
	}
	if meta.IsDefined("nats_jetstream") {
		c.JetStream = raw.JetStream
	}
	if meta.IsDefined("admin_jwt_secret") {
		c.AdminSecret = raw.AdminSecret
	}
	if meta.IsDefined("checksum_strict") {
		c.ChecksumStrict = raw.ChecksumStrict
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"command_timeout", raw.CommandTimeout, &c.CommandTimeout},
		{"session_ttl", raw.SessionTTL, &c.SessionTTL},
		{"read_timeout", raw.ReadTimeout, &c.ReadTimeout},
		{"assembly_ttl", raw.AssemblyTTL, &c.AssemblyTTL},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("load config %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	c.GatewayID = getEnv("GATEWAY_ID", c.GatewayID)
	c.GatewayPort = getEnvAsInt("GATEWAY_PORT", c.GatewayPort)
	c.HTTPPort = getEnvAsInt("HTTP_PORT", c.HTTPPort)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.AdminSecret = getEnv("ADMIN_JWT_SECRET", c.AdminSecret)
	c.JetStream = getEnvAsBool("NATS_JETSTREAM", c.JetStream)
	c.CommandTimeout = getEnvAsDuration("COMMAND_TIMEOUT", c.CommandTimeout)
	c.SessionTTL = getEnvAsDuration("SESSION_TTL", c.SessionTTL)
	c.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", c.ReadTimeout)
	c.AssemblyTTL = getEnvAsDuration("ASSEMBLY_TTL", c.AssemblyTTL)
	c.ChecksumStrict = getEnvAsBool("CHECKSUM_STRICT", c.ChecksumStrict)
}

// Validate rejects values the gateway cannot start with.
func (c *Config) Validate() error {
	if c.GatewayID == "" {
		return fmt.Errorf("config: gateway id is empty")
	}
	for name, port := range map[string]int{"gateway port": c.GatewayPort, "http port": c.HTTPPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("config: %s %d out of range", name, port)
		}
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("config: command timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
