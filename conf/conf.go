// Package conf loads client configuration from .env files and the
// environment. Command line flags override it in main.
package conf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	SocketURL   string `env:"CHAT_SOCKET_URL"`
	APIURL      string `env:"CHAT_API_URL"`
	RoomArn     string `env:"CHAT_ROOM_ARN"`
	StreamURL   string `env:"CHAT_STREAM_URL"`
	SettingsDB  string `env:"CHAT_SETTINGS_PATH" envDefault:"bulletchat.db"`
	MetricsAddr string `env:"CHAT_METRICS_ADDR"`

	Moderator  bool `env:"CHAT_MODERATOR" envDefault:"false"`
	BulletRows int  `env:"CHAT_BULLET_ROWS" envDefault:"5"`

	HistorySize     int           `env:"CHAT_HISTORY_SIZE" envDefault:"20"`
	MessageTTL      time.Duration `env:"CHAT_MESSAGE_TTL" envDefault:"20s"`
	SweepInterval   time.Duration `env:"CHAT_SWEEP_INTERVAL" envDefault:"500ms"`
	RefreshInterval time.Duration `env:"CHAT_TOKEN_REFRESH" envDefault:"55m"`
	TokenMinutes    int           `env:"CHAT_TOKEN_MINUTES" envDefault:"55"`
	DeleteSpacing   time.Duration `env:"CHAT_DELETE_SPACING" envDefault:"300ms"`
	AuthTimeout     time.Duration `env:"CHAT_AUTH_TIMEOUT" envDefault:"30s"`
	SocketTimeout   time.Duration `env:"CHAT_SOCKET_TIMEOUT" envDefault:"30s"`
}

// Load reads the given .env files, default ".env", then parses the
// environment. Missing files are skipped; variables already set win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges. Endpoints are checked by the caller, since flags
// may still fill them.
func (c *Config) Validate() error {
	switch {
	case c.BulletRows < 0:
		return fmt.Errorf("bullet rows must be >= 0, got %d", c.BulletRows)
	case c.HistorySize <= 0:
		return fmt.Errorf("history size must be > 0, got %d", c.HistorySize)
	case c.MessageTTL <= 0:
		return fmt.Errorf("message ttl must be > 0, got %s", c.MessageTTL)
	case c.SweepInterval <= 0:
		return fmt.Errorf("sweep interval must be > 0, got %s", c.SweepInterval)
	case c.RefreshInterval < time.Minute:
		return fmt.Errorf("token refresh must be >= 1m, got %s", c.RefreshInterval)
	case c.TokenMinutes <= 0:
		return fmt.Errorf("token minutes must be > 0, got %d", c.TokenMinutes)
	case c.DeleteSpacing < 0:
		return fmt.Errorf("delete spacing must be >= 0, got %s", c.DeleteSpacing)
	case c.AuthTimeout <= 0 || c.SocketTimeout <= 0:
		return errors.New("timeouts must be > 0")
	}
	return nil
}
