// Package config loads service settings from defaults, an optional YAML
// file, HUBVIEW_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "HUBVIEW_"

type Config struct {
	Addr string `koanf:"addr"`

	DocumentAPIURL   string `koanf:"document_api_url"`
	DerivativeAPIURL string `koanf:"derivative_api_url"`
	UserAPIURL       string `koanf:"user_api_url"`
	LoginURL         string `koanf:"login_url"`
	// ViewerHostURL is optional. Without it docking and loads are tracked
	// in process and surfaced to the browser through the panel status.
	ViewerHostURL string `koanf:"viewer_host_url"`

	SessionSecret string        `koanf:"session_secret"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	RedisURL      string        `koanf:"redis_url"`
	DatabaseURL   string        `koanf:"database_url"`
	MigrationsDir string        `koanf:"migrations_dir"`
	MeiliURL      string        `koanf:"meili_url"`
	MeiliKey      string        `koanf:"meili_master_key"`
	CORSOrigin    string        `koanf:"cors_origin"`

	RequestTimeout         time.Duration `koanf:"request_timeout"`
	MaxAttempts            int           `koanf:"max_attempts"`
	MaxInflightEnrichments int           `koanf:"max_inflight_enrichments"`
	ThumbnailSize          int           `koanf:"thumbnail_size"`

	ViewerEnv      string `koanf:"viewer_env"`
	ViewerDatabase string `koanf:"viewer_database"`
	ViewerProxy    string `koanf:"viewer_proxy"`
	OwnerID        string `koanf:"owner_id"`

	DeclineRedirect   string        `koanf:"decline_redirect"`
	LoginPollInterval time.Duration `koanf:"login_poll_interval"`
	DockingPolicy     string        `koanf:"docking_policy"`
	PanelWidth        int           `koanf:"panel_width"`
	PanelHeight       int           `koanf:"panel_height"`

	LogLevel string `koanf:"log_level"`
}

// Defaults returns the built-in settings, lowest precedence.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"addr":                     ":8787",
		"document_api_url":         "https://developer.api.autodesk.com/data/v1",
		"derivative_api_url":       "https://developer.api.autodesk.com/modelderivative/v2/designdata",
		"user_api_url":             "https://developer.api.autodesk.com/userprofile/v1",
		"login_url":                "/auth/login",
		"viewer_host_url":          "",
		"session_secret":           "hubview-dev-secret",
		"session_ttl":              time.Hour,
		"redis_url":                "",
		"database_url":             "",
		"migrations_dir":           "./db/migrations",
		"meili_url":                "",
		"meili_master_key":         "",
		"cors_origin":              "*",
		"request_timeout":          30 * time.Second,
		"max_attempts":             3,
		"max_inflight_enrichments": 8,
		"thumbnail_size":           200,
		"viewer_env":               "AutodeskProduction",
		"viewer_database":          "configurator",
		"viewer_proxy":             "lmv-proxy-3legged",
		"owner_id":                 "",
		"decline_redirect":         "/",
		"login_poll_interval":      5 * time.Second,
		"docking_policy":           "queue",
		"panel_width":              350,
		"panel_height":             250,
		"log_level":                "info",
	}
}

// Load builds the configuration. Precedence, highest first: explicitly set
// flags, HUBVIEW_* environment variables, the YAML file at path (when
// non-empty), defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// HUBVIEW_DOCUMENT_API_URL -> document_api_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	for key, raw := range map[string]string{
		"document_api_url":   c.DocumentAPIURL,
		"derivative_api_url": c.DerivativeAPIURL,
		"user_api_url":       c.UserAPIURL,
	} {
		if err := checkURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if c.ViewerHostURL != "" {
		if err := checkURL(c.ViewerHostURL); err != nil {
			errs = append(errs, fmt.Errorf("viewer_host_url: %w", err))
		}
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if c.MaxInflightEnrichments < 0 {
		errs = append(errs, errors.New("max_inflight_enrichments must not be negative"))
	}
	if c.ThumbnailSize <= 0 {
		errs = append(errs, errors.New("thumbnail_size must be positive"))
	}
	if c.LoginPollInterval <= 0 {
		errs = append(errs, errors.New("login_poll_interval must be positive"))
	}
	if c.PanelWidth <= 0 || c.PanelHeight <= 0 {
		errs = append(errs, errors.New("panel_width and panel_height must be positive"))
	}
	switch c.DockingPolicy {
	case "queue", "reject":
	default:
		errs = append(errs, fmt.Errorf("docking_policy must be queue or reject, got %q", c.DockingPolicy))
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("session_secret is required"))
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}
