// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. The worker reads the
// browser, portal, challenge, otp, slots and board sections; the board server
// reads server, database and otp.ttl.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Portal    PortalConfig    `mapstructure:"portal" yaml:"portal"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	OTP       OTPConfig       `mapstructure:"otp" yaml:"otp"`
	Slots     SlotsConfig     `mapstructure:"slots" yaml:"slots"`
	Board     BoardConfig     `mapstructure:"board" yaml:"board"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots" yaml:"snapshots"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig defines all the settings for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// PortalConfig points the worker at the appointment service entry page.
type PortalConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ContinueID is the element id of the "continue to appointment" control
	// on the service info page.
	ContinueID string `mapstructure:"continue_id" yaml:"continue_id"`
	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// BrowserConfig configures the automated browser and its fingerprint.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent    string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform     string   `mapstructure:"platform" yaml:"platform"`
	Languages    []string `mapstructure:"languages" yaml:"languages"`
	ProfileRoot  string   `mapstructure:"profile_root" yaml:"profile_root"`
	KeepProfiles bool     `mapstructure:"keep_profiles" yaml:"keep_profiles"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Args         []string `mapstructure:"args" yaml:"args"`
}

// ChallengeConfig bounds the wait for the anti-bot interstitial to clear.
type ChallengeConfig struct {
	HeadlessTimeout time.Duration `mapstructure:"headless_timeout" yaml:"headless_timeout"`
	VisibleTimeout  time.Duration `mapstructure:"visible_timeout" yaml:"visible_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// OTPConfig holds the timing of the out-of-band code relay.
type OTPConfig struct {
	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout"`
	// TTL is how long a submitted code stays visible to the latest query.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SlotsConfig controls availability discovery after the filters are applied.
type SlotsConfig struct {
	Scan    bool `mapstructure:"scan" yaml:"scan"`
	Deep    bool `mapstructure:"deep" yaml:"deep"`
	MaxDays int  `mapstructure:"max_days" yaml:"max_days"`
}

// BoardConfig is the worker's view of the board API.
type BoardConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	OTPTimeout    time.Duration `mapstructure:"otp_timeout" yaml:"otp_timeout"`
	ReportTimeout time.Duration `mapstructure:"report_timeout" yaml:"report_timeout"`
	IdlePoll      time.Duration `mapstructure:"idle_poll" yaml:"idle_poll"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// ServerConfig configures the board HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Token           string        `mapstructure:"token" yaml:"token"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SnapshotConfig controls failure screenshots.
type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// MetricsConfig exposes the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultUserAgent matches the platform reported by the stealth overrides.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux aarch64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// legacyEnv maps config keys to the environment names used by earlier
// deployments of the worker and board. They are consulted after the
// OTPBOARD_ prefixed names.
var legacyEnv = map[string]string{
	"board.base_url":     "OTP_API",
	"board.token":        "ADMIN_TOKEN",
	"server.token":       "ADMIN_TOKEN",
	"portal.url":         "GOV_URL",
	"browser.headless":   "HEADLESS",
	"browser.user_agent": "USER_AGENT",
	"browser.exec_path":  "CHROME_BIN",
	"slots.scan":         "SLOTS_SCAN",
	"slots.deep":         "SLOTS_DEEP",
	"slots.max_days":     "SLOTS_MAX_DAYS",
	"database.url":       "DATABASE_URL",
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "otpboard")
	v.SetDefault("logger.log_file", "otpboard.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Portal --
	v.SetDefault("portal.url", "https://govisit.gov.il/he/app/appointment/29/1870/info")
	v.SetDefault("portal.continue_id", "continue_1870_29")
	v.SetDefault("portal.navigation_timeout", "60s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.platform", "Linux aarch64")
	v.SetDefault("browser.languages", []string{"he-IL", "he", "en-US", "en"})
	v.SetDefault("browser.profile_root", os.TempDir())
	v.SetDefault("browser.keep_profiles", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)

	// -- Challenge --
	v.SetDefault("challenge.headless_timeout", "45s")
	v.SetDefault("challenge.visible_timeout", "90s")
	v.SetDefault("challenge.poll_interval", "2500ms")

	// -- OTP --
	v.SetDefault("otp.wait_timeout", "240s")
	v.SetDefault("otp.poll_interval", "2s")
	v.SetDefault("otp.entry_timeout", "45s")
	v.SetDefault("otp.ttl", "600s")

	// -- Slots --
	v.SetDefault("slots.scan", true)
	v.SetDefault("slots.deep", false)
	v.SetDefault("slots.max_days", 10)

	// -- Board client --
	v.SetDefault("board.base_url", "http://127.0.0.1:8080")
	v.SetDefault("board.fetch_timeout", "20s")
	v.SetDefault("board.otp_timeout", "12s")
	v.SetDefault("board.report_timeout", "10s")
	v.SetDefault("board.idle_poll", "1s")
	v.SetDefault("board.retry_backoff", "800ms")

	// -- Board server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Snapshots --
	v.SetDefault("snapshots.enabled", true)
	v.SetDefault("snapshots.dir", os.TempDir())

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
}

// BindLegacyEnv binds every key to its prefixed environment name followed by
// the legacy name, so either spelling configures the same setting.
func BindLegacyEnv(v *viper.Viper, prefix string) error {
	for key, legacy := range legacyEnv {
		prefixed := strings.ToUpper(prefix + "_" + strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	return nil
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Browser.ProfileRoot, &c.Snapshots.Dir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Portal.URL); err != nil {
		return fmt.Errorf("portal.url must be an absolute URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Board.BaseURL); err != nil {
		return fmt.Errorf("board.base_url must be an absolute URL: %w", err)
	}
	if c.Slots.MaxDays < 0 {
		return fmt.Errorf("slots.max_days must not be negative")
	}
	if c.Challenge.PollInterval <= 0 {
		return fmt.Errorf("challenge.poll_interval must be positive")
	}
	if c.OTP.PollInterval <= 0 {
		return fmt.Errorf("otp.poll_interval must be positive")
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("otp.ttl must be positive")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive")
	}
	return nil
}

// ValidateWorker checks the settings only the worker needs.
func (c *Config) ValidateWorker() error {
	if c.Board.Token == "" {
		return fmt.Errorf("board.token is required (OTPBOARD_BOARD_TOKEN or ADMIN_TOKEN)")
	}
	// A zero idle poll turns an empty queue into a hot loop against the board.
	for key, d := range map[string]time.Duration{
		"board.idle_poll":     c.Board.IdlePoll,
		"board.fetch_timeout": c.Board.FetchTimeout,
		"otp.entry_timeout":   c.OTP.EntryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

// ValidateServer checks the settings only the board server needs.
func (c *Config) ValidateServer() error {
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required (OTPBOARD_SERVER_TOKEN or ADMIN_TOKEN)")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	return nil
}
