package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr         string        `env:"HOS_ADDR"`
	APIBaseURL   string        `env:"HOS_API_URL"       envDefault:"https://hack-or-snooze-v3.herokuapp.com"`
	DBPath       string        `env:"HOS_DB"            envDefault:"hackorsnooze.db"`
	HashSecret   string        `env:"HOS_HASH_SECRET"   envDefault:"dev-hash-secret"`
	SessionTTL   time.Duration `env:"HOS_SESSION_TTL"   envDefault:"168h"`
	APITimeout   time.Duration `env:"HOS_API_TIMEOUT"   envDefault:"15s"`
	PageSize     int           `env:"HOS_PAGE_SIZE"     envDefault:"25"`
	SecureCookie bool          `env:"HOS_SECURE_COOKIE"`
	LogLevel     string        `env:"HOS_LOG_LEVEL"     envDefault:"info"`
	LogFormat    string        `env:"HOS_LOG_FORMAT"    envDefault:"text"`
	RateLimits   RateLimits    `envPrefix:"HOS_RL_"`
	// Peers whose X-Forwarded-For is believed, as addresses or CIDRs.
	TrustedProxies []string `env:"HOS_TRUSTED_PROXIES"`

	Version string `env:"-"`
}

type RateLimits struct {
	SubmitPerMinute   int `env:"SUBMIT_PER_MIN"   envDefault:"10"`
	DeletePerMinute   int `env:"DELETE_PER_MIN"   envDefault:"30"`
	FavoritePerMinute int `env:"FAVORITE_PER_MIN" envDefault:"120"`
	LoginPerMinute    int `env:"LOGIN_PER_MIN"    envDefault:"10"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Addr = ":" + port
		} else {
			cfg.Addr = ":8080"
		}
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return cfg, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	var h slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
