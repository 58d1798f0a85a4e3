// Package config loads the process configuration: defaults, then an
// optional YAML file, then COINPULSE_* environment overrides (a .env file
// is honored first when present), then any caller overrides. Validation
// failures are fatal at startup and nowhere else.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override, e.g. COINPULSE_DB_DSN.
const EnvPrefix = "COINPULSE_"

// DefaultPath is tried when no --config flag is given.
const DefaultPath = "config.yaml"

// Config carries every recognized option as a flat key, mirroring the
// YAML file and the environment names.
type Config struct {
	BucketMs     int64   `yaml:"bucket_ms"`
	PagesPerTick int     `yaml:"pages_per_tick"`
	PageSize     int     `yaml:"page_size"`
	PageCap      int     `yaml:"page_cap"`
	Concurrency  int     `yaml:"concurrency"`
	Retries      int     `yaml:"retries"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	PollIntervalS int `yaml:"poll_interval_s"`
	SafetyDelayS  int `yaml:"safety_delay_s"`
	MaxCatchup    int `yaml:"max_catchup"`

	SubBatch                   int     `yaml:"sub_batch"`
	MaxConsecutivePageFailures int     `yaml:"max_consecutive_page_failures"`
	MinMarketCap               float64 `yaml:"min_market_cap"`

	HTTPTimeoutS      int `yaml:"http_timeout_s"`
	StatementTimeoutS int `yaml:"statement_timeout_s"`
	WebhookTimeoutS   int `yaml:"webhook_timeout_s"`

	QuoteCurrency string   `yaml:"quote_currency"`
	ServiceName   string   `yaml:"service_name"`
	OpsListenAddr string   `yaml:"ops_listen_addr"`
	DBDSN         string   `yaml:"db_dsn"`
	APIBaseURL    string   `yaml:"api_base_url"`
	APIKey        string   `yaml:"api_key"`
	WebhookURLs   []string `yaml:"webhook_urls"`
	LogLevel      string   `yaml:"log_level"`
}

// Override mutates the config after file and environment are applied;
// the CLI uses these for flag values the operator set explicitly.
type Override func(*Config)

// Default returns the built-in configuration. DBDSN and APIKey are empty
// on purpose; Validate requires the DSN.
func Default() *Config {
	return &Config{
		BucketMs:                   180_000,
		PagesPerTick:               0,
		PageSize:                   250,
		PageCap:                    20,
		Concurrency:                4,
		Retries:                    3,
		RateLimitRPS:               2.0,
		PollIntervalS:              3,
		SafetyDelayS:               5,
		MaxCatchup:                 20,
		SubBatch:                   1000,
		MaxConsecutivePageFailures: 3,
		MinMarketCap:               0,
		HTTPTimeoutS:               30,
		StatementTimeoutS:          60,
		WebhookTimeoutS:            10,
		QuoteCurrency:              "usd",
		ServiceName:                "coinpulse",
		OpsListenAddr:              "127.0.0.1:8090",
		APIBaseURL:                 "https://pro-api.coingecko.com/api/v3",
		LogLevel:                   "info",
	}
}

// Load builds the effective configuration. An explicitly named file must
// exist; the default path is skipped silently when absent.
func Load(path string, overrides ...Override) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// no file, defaults + environment only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	integer64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*dst = out
		}
	}

	integer64("BUCKET_MS", &c.BucketMs)
	integer("PAGES_PER_TICK", &c.PagesPerTick)
	integer("PAGE_SIZE", &c.PageSize)
	integer("PAGE_CAP", &c.PageCap)
	integer("CONCURRENCY", &c.Concurrency)
	integer("RETRIES", &c.Retries)
	float("RATE_LIMIT_RPS", &c.RateLimitRPS)
	integer("POLL_INTERVAL_S", &c.PollIntervalS)
	integer("SAFETY_DELAY_S", &c.SafetyDelayS)
	integer("MAX_CATCHUP", &c.MaxCatchup)
	integer("SUB_BATCH", &c.SubBatch)
	integer("MAX_CONSECUTIVE_PAGE_FAILURES", &c.MaxConsecutivePageFailures)
	float("MIN_MARKET_CAP", &c.MinMarketCap)
	integer("HTTP_TIMEOUT_S", &c.HTTPTimeoutS)
	integer("STATEMENT_TIMEOUT_S", &c.StatementTimeoutS)
	integer("WEBHOOK_TIMEOUT_S", &c.WebhookTimeoutS)
	str("QUOTE_CURRENCY", &c.QuoteCurrency)
	str("SERVICE_NAME", &c.ServiceName)
	str("OPS_LISTEN_ADDR", &c.OpsListenAddr)
	str("DB_DSN", &c.DBDSN)
	str("API_BASE_URL", &c.APIBaseURL)
	str("API_KEY", &c.APIKey)
	list("WEBHOOK_URLS", &c.WebhookURLs)
	str("LOG_LEVEL", &c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate ensures the configuration is usable. It is called once at
// startup; a failure here is the only fatal error class.
func (c *Config) Validate() error {
	if c.BucketMs <= 0 {
		return fmt.Errorf("bucket_ms must be positive, got %d", c.BucketMs)
	}
	if c.PagesPerTick < 0 {
		return fmt.Errorf("pages_per_tick cannot be negative, got %d", c.PagesPerTick)
	}
	if c.PageSize < 1 || c.PageSize > 250 {
		return fmt.Errorf("page_size must be in 1..250, got %d", c.PageSize)
	}
	if c.PageCap < 1 {
		return fmt.Errorf("page_cap must be positive, got %d", c.PageCap)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be positive, got %d", c.Retries)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be positive, got %g", c.RateLimitRPS)
	}
	if c.PollIntervalS < 1 {
		return fmt.Errorf("poll_interval_s must be positive, got %d", c.PollIntervalS)
	}
	if c.SafetyDelayS < 0 {
		return fmt.Errorf("safety_delay_s cannot be negative, got %d", c.SafetyDelayS)
	}
	if c.MaxCatchup < 1 {
		return fmt.Errorf("max_catchup must be positive, got %d", c.MaxCatchup)
	}
	if c.SubBatch < 1 || c.SubBatch > 2000 {
		return fmt.Errorf("sub_batch must be in 1..2000, got %d", c.SubBatch)
	}
	if c.MaxConsecutivePageFailures < 1 {
		return fmt.Errorf("max_consecutive_page_failures must be positive, got %d", c.MaxConsecutivePageFailures)
	}
	if c.MinMarketCap < 0 {
		return fmt.Errorf("min_market_cap cannot be negative, got %g", c.MinMarketCap)
	}
	if c.HTTPTimeoutS < 1 {
		return fmt.Errorf("http_timeout_s must be positive, got %d", c.HTTPTimeoutS)
	}
	if c.StatementTimeoutS < 1 {
		return fmt.Errorf("statement_timeout_s must be positive, got %d", c.StatementTimeoutS)
	}
	if c.WebhookTimeoutS < 1 {
		return fmt.Errorf("webhook_timeout_s must be positive, got %d", c.WebhookTimeoutS)
	}
	if c.QuoteCurrency == "" {
		return fmt.Errorf("quote_currency cannot be empty")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}
	if c.DBDSN == "" {
		return fmt.Errorf("db_dsn is required")
	}
	if err := checkURL("api_base_url", c.APIBaseURL); err != nil {
		return err
	}
	for _, u := range c.WebhookURLs {
		if err := checkURL("webhook_urls", u); err != nil {
			return err
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

func checkURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q: %w", key, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q: scheme must be http or https", key, raw)
	}
	return nil
}

// Duration getters keep call sites free of unit mistakes.

func (c *Config) BucketDuration() time.Duration { return time.Duration(c.BucketMs) * time.Millisecond }

// TickDeadline is the wall-clock budget for one ingest tick.
func (c *Config) TickDeadline() time.Duration { return 2 * c.BucketDuration() }

func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalS) * time.Second }

func (c *Config) SafetyDelay() time.Duration { return time.Duration(c.SafetyDelayS) * time.Second }

func (c *Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutS) * time.Second }

func (c *Config) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutS) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutS) * time.Second
}

// PoolSize is the database connection pool bound shared by the fetcher
// and the indicator engine.
func (c *Config) PoolSize() int {
	if c.Concurrency > 4 {
		return c.Concurrency
	}
	return 4
}

// Level returns the parsed zerolog level. Validate has already checked it.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

var pwPattern = regexp.MustCompile(`password=\S+`)

// RedactedDSN masks credentials for logging and the startup health event.
func (c *Config) RedactedDSN() string {
	if u, err := url.Parse(c.DBDSN); err == nil && u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			return u.String()
		}
	}
	return pwPattern.ReplaceAllString(c.DBDSN, "password=xxxxx")
}

// RedactedAPIKey keeps only a short prefix for identification.
func (c *Config) RedactedAPIKey() string {
	if len(c.APIKey) <= 4 {
		if c.APIKey == "" {
			return ""
		}
		return "xxxx"
	}
	return c.APIKey[:4] + "..."
}
