package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL   string `env:"SERVER_URL" envDefault:"ws://localhost:8000"`
	RoomCode    string `env:"ROOM_CODE"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8000"`
	DatabaseURL string `env:"DATABASE_URL"`
	CatalogFile string `env:"CATALOG_FILE" envDefault:"internal/catalog/testdata/catalog.yaml"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	ReconnectBaseDelay     time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay      time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"10s"`
	ReconnectMaxAttempts   int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"10"`
	HeartbeatCheckInterval time.Duration `env:"HEARTBEAT_CHECK_INTERVAL" envDefault:"15s"`
	HeartbeatMaxMissed     int           `env:"HEARTBEAT_MAX_MISSED" envDefault:"3"`
	DialTimeout            time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`

	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"5s"`

	GraceTicks      int           `env:"GRACE_TICKS" envDefault:"10"`
	TickInterval    time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	CompletionDelay time.Duration `env:"COMPLETION_DELAY" envDefault:"1s"`
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect delays: base %v, max %v", c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.HeartbeatCheckInterval <= c.PingInterval {
		return fmt.Errorf("heartbeat check interval %v must exceed ping interval %v", c.HeartbeatCheckInterval, c.PingInterval)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}

// CompletionTicks converts CompletionDelay to whole ticks, at least one.
func (c Config) CompletionTicks() int {
	n := int((c.CompletionDelay + c.TickInterval - 1) / c.TickInterval)
	return max(n, 1)
}
