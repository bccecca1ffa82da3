// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server configures the coordinator.
type Server struct {
	Addr           string        `env:"SERVER_ADDR" envDefault:":8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	Dev            bool          `env:"DEV" envDefault:"false"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	PingInterval   time.Duration `env:"PING_INTERVAL" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	OutboxSize     int           `env:"OUTBOX_SIZE" envDefault:"16"`
}

// Client configures a terminal participant.
type Client struct {
	ServerURL      string        `env:"CHESS_SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"warn"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"3s"`
	NoticeTTL      time.Duration `env:"NOTICE_TTL" envDefault:"3s"`
}

// LoadDotenv reads .env style files into the environment if present.
// Existing variables win. It reports whether anything was loaded.
func LoadDotenv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

func LoadServer() (*Server, error) {
	var cfg Server
	if err := parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func LoadClient() (*Client, error) {
	var cfg Client
	if err := parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Server) Validate() error {
	if c.Addr == "" {
		return errors.New("SERVER_ADDR cannot be empty")
	}
	if c.SessionIdleTTL <= 0 {
		return errors.New("SESSION_IDLE_TTL must be > 0")
	}
	if c.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be > 0")
	}
	if c.OutboxSize <= 0 {
		return errors.New("OUTBOX_SIZE must be > 0")
	}
	return nil
}

func (c *Client) Validate() error {
	if c.ServerURL == "" {
		return errors.New("CHESS_SERVER_URL cannot be empty")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be > 0")
	}
	if c.NoticeTTL <= 0 {
		return errors.New("NOTICE_TTL must be > 0")
	}
	return nil
}
