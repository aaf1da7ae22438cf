// Package config handles application configuration from environment variables and an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read when no explicit env file is given. A missing file is not an error.
const DefaultEnvFile = ".env"

// Config holds the application configuration.
type Config struct {
	DatabaseURL string
	LogLevel    string
	Timezone    *time.Location

	RSSListPath     string
	FeedURLTemplate string
	FeedTimeout     time.Duration
	FeedMaxEntries  int

	DigestMaxItems      int
	DigestFallbackLimit int

	ExportDir string

	TelegramBotToken string
	TelegramChatIDs  []string
	NotifyRetries    int
	NotifyBackoff    time.Duration

	ScheduleInterval time.Duration
}

var defaults = map[string]any{
	"database_url":          "./data/news.db",
	"log_level":             "info",
	"timezone":              "Local",
	"rss_list_path":         "./rss_list.xlsx",
	"feed_url_template":     "http://finance.yahoo.com/rss/headline?s={ticker}",
	"feed_timeout":          "10s",
	"feed_max_entries":      3,
	"digest_max_items":      3,
	"digest_fallback_limit": 3,
	"export_dir":            "./output",
	"notify_retries":        2,
	"notify_backoff":        "1s",
	"schedule_interval":     "24h",
}

// Load reads configuration from envFile (when present) overlaid by the process environment.
// An empty envFile means DefaultEnvFile.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}

	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat env file %s: %w", envFile, err)
	}

	v.AutomaticEnv()

	cfg := &Config{
		DatabaseURL:      strings.TrimSpace(v.GetString("database_url")),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		RSSListPath:      strings.TrimSpace(v.GetString("rss_list_path")),
		FeedURLTemplate:  strings.TrimSpace(v.GetString("feed_url_template")),
		ExportDir:        strings.TrimSpace(v.GetString("export_dir")),
		TelegramBotToken: strings.TrimSpace(v.GetString("tg_bot_token")),
		TelegramChatIDs:  splitList(v.GetString("tg_chat_id")),
	}

	var err error
	if cfg.Timezone, err = loadLocation(v.GetString("timezone")); err != nil {
		return nil, err
	}
	if cfg.FeedTimeout, err = positiveDuration(v, "feed_timeout"); err != nil {
		return nil, err
	}
	if cfg.NotifyBackoff, err = positiveDuration(v, "notify_backoff"); err != nil {
		return nil, err
	}
	if cfg.ScheduleInterval, err = positiveDuration(v, "schedule_interval"); err != nil {
		return nil, err
	}
	if cfg.FeedMaxEntries, err = positiveInt(v, "feed_max_entries"); err != nil {
		return nil, err
	}
	if cfg.DigestMaxItems, err = positiveInt(v, "digest_max_items"); err != nil {
		return nil, err
	}
	if cfg.DigestFallbackLimit, err = positiveInt(v, "digest_fallback_limit"); err != nil {
		return nil, err
	}
	if cfg.NotifyRetries, err = intValue(v, "notify_retries"); err != nil {
		return nil, err
	}
	if cfg.NotifyRetries < 0 {
		return nil, fmt.Errorf("NOTIFY_RETRIES must not be negative, got %d", cfg.NotifyRetries)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.Contains(cfg.FeedURLTemplate, "{ticker}") {
		return nil, fmt.Errorf("FEED_URL_TEMPLATE %q must contain {ticker}", cfg.FeedURLTemplate)
	}

	return cfg, nil
}

// TelegramConfigured reports whether delivery credentials are present.
func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && len(c.TelegramChatIDs) > 0
}

// Today returns the current calendar date in the configured timezone.
func (c *Config) Today() time.Time {
	now := time.Now().In(c.Timezone)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(key), raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", strings.ToUpper(key), raw)
	}
	return d, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToUpper(key), raw, err)
	}
	return n, nil
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n, err := intValue(v, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", strings.ToUpper(key), n)
	}
	return n, nil
}
