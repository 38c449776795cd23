package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	DBFile         string
	APIAddr        string
	OpsAddr        string
	APIURL         string // where CLI commands reach a running server
	UploadsPath    string
	JWTSecret      string
	TokenExpiry    time.Duration
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "720h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}
	pingInterval, err := time.ParseDuration(getEnv("PING_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("PING_INTERVAL: %w", err)
	}
	pongWait, err := time.ParseDuration(getEnv("PONG_WAIT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("PONG_WAIT: %w", err)
	}

	cfg := &Config{
		DBFile:         getEnv("MECHAT_DB", "mechat.db"),
		APIAddr:        getEnv("API_ADDR", ":5000"),
		OpsAddr:        getEnv("OPS_ADDR", "localhost:9090"),
		APIURL:         getEnv("API_URL", "http://localhost:5000"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenExpiry:    tokenExpiry,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		PingInterval:   pingInterval,
		PongWait:       pongWait,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config. CLI commands talk to a running server and
// never sign tokens, so they run without a secret.
func (c *Config) Validate(cliMode bool) error {
	if c.JWTSecret == "" && !cliMode {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.PingInterval <= 0 || c.PongWait <= 0 {
		return fmt.Errorf("PING_INTERVAL and PONG_WAIT must be greater than 0")
	}

	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("PONG_WAIT (%s) must be longer than PING_INTERVAL (%s)", c.PongWait, c.PingInterval)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
