// Package config loads Inkstone's environment-variable configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full set of INKSTONE_* / Douban env vars from spec.md §6.
type Config struct {
	HTTPAddr string

	IndexDir      string
	FeedURL       string
	ValidPathsURL string
	DatabasePath  string

	PollInterval       time.Duration
	DoubanPollInterval time.Duration
	RequestTimeout     time.Duration
	MaxSearchLimit     int
	KudosFlushInterval time.Duration

	CookieSecret        string
	StatsSecret         string
	GitHubWebhookSecret string

	CORSAllowOrigins []string

	DoubanUID       string
	DoubanCookie    string
	DoubanUserAgent string
	DoubanMaxPages  int

	GitHubAppID            int64
	GitHubAppSlug          string
	GitHubInstallationID   int64
	GitHubPrivateKeyPEM    string
	CommentsRepo           string // owner/repo to mirror discussions from

	DebugEndpoints bool
}

// Load reads .env (if present, never overriding a real process env var) then
// populates Config from the environment, validating required fields.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:      env("INKSTONE_HTTP_ADDR", ":8080"),
		IndexDir:      env("INKSTONE_INDEX_DIR", "data/index"),
		FeedURL:       env("INKSTONE_FEED_URL", ""),
		ValidPathsURL: env("INKSTONE_VALID_PATHS_URL", ""),
		DatabasePath:  env("INKSTONE_DATABASE_URL", "data/inkstone.sqlite"),

		CookieSecret:        env("INKSTONE_COOKIE_SECRET", ""),
		StatsSecret:         env("INKSTONE_STATS_SECRET", ""),
		GitHubWebhookSecret: env("INKSTONE_GITHUB_WEBHOOK_SECRET", ""),

		DoubanUID:       env("UID", ""),
		DoubanCookie:    env("COOKIE", ""),
		DoubanUserAgent: env("USER_AGENT", "Mozilla/5.0 (compatible; InkstoneBot/1.0)"),

		GitHubAppSlug:       env("GITHUB_APP_SLUG", ""),
		GitHubPrivateKeyPEM: env("GITHUB_APP_PRIVATE_KEY_PEM", ""),
		CommentsRepo:        env("INKSTONE_COMMENTS_REPO", ""),

		DebugEndpoints: env("INKSTONE_DEBUG_ENDPOINTS", "") == "1",
	}

	var err error
	if cfg.PollInterval, err = envDuration("INKSTONE_POLL_INTERVAL_SECS", 300); err != nil {
		return Config{}, err
	}
	if cfg.DoubanPollInterval, err = envDuration("INKSTONE_DOUBAN_POLL_INTERVAL_SECS", 3600); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = envDuration("INKSTONE_REQUEST_TIMEOUT_SECS", 15); err != nil {
		return Config{}, err
	}
	if cfg.KudosFlushInterval, err = envDuration("INKSTONE_KUDOS_FLUSH_SECS", 30); err != nil {
		return Config{}, err
	}
	if cfg.MaxSearchLimit, err = envInt("INKSTONE_MAX_SEARCH_LIMIT", 50); err != nil {
		return Config{}, err
	}
	if cfg.DoubanMaxPages, err = envInt("MAX_PAGES", 0); err != nil {
		return Config{}, err
	}

	if v := strings.TrimSpace(env("GITHUB_APP_ID", "")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("GITHUB_APP_ID: %w", err)
		}
		cfg.GitHubAppID = n
	}
	if v := strings.TrimSpace(env("GITHUB_APP_INSTALLATION_ID", "")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("GITHUB_APP_INSTALLATION_ID: %w", err)
		}
		cfg.GitHubInstallationID = n
	}
	if cfg.GitHubPrivateKeyPEM == "" {
		if path := strings.TrimSpace(env("GITHUB_APP_PRIVATE_KEY_PATH", "")); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return Config{}, err
			}
			cfg.GitHubPrivateKeyPEM = string(b)
		}
	}

	if origins := strings.TrimSpace(env("INKSTONE_CORS_ALLOW_ORIGINS", "")); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowOrigins = append(cfg.CORSAllowOrigins, o)
			}
		}
	}

	if cfg.FeedURL == "" {
		return Config{}, errors.New("missing INKSTONE_FEED_URL")
	}
	if cfg.ValidPathsURL == "" {
		return Config{}, errors.New("missing INKSTONE_VALID_PATHS_URL")
	}
	if strings.TrimSpace(cfg.CookieSecret) == "" {
		return Config{}, errors.New("missing INKSTONE_COOKIE_SECRET")
	}
	if strings.TrimSpace(cfg.StatsSecret) == "" {
		return Config{}, errors.New("missing INKSTONE_STATS_SECRET")
	}
	if strings.TrimSpace(cfg.GitHubWebhookSecret) == "" {
		return Config{}, errors.New("missing INKSTONE_GITHUB_WEBHOOK_SECRET")
	}
	if cfg.MaxSearchLimit < 1 {
		return Config{}, errors.New("INKSTONE_MAX_SEARCH_LIMIT must be >= 1")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, defSeconds int) (time.Duration, error) {
	n, err := envInt(key, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
