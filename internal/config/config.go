package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Security selects how a mail connection is protected.
type Security string

const (
	SecurityNone     Security = "none"
	SecurityStartTLS Security = "starttls"
	SecurityTLS      Security = "tls"
)

// Valid reports whether s is a known security mode.
func (s Security) Valid() bool {
	switch s {
	case SecurityNone, SecurityStartTLS, SecurityTLS:
		return true
	}
	return false
}

// Config is the complete mailmirror configuration.
type Config struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Debug    bool   `mapstructure:"debug"`

	SMTP      SMTPConfig      `mapstructure:"smtp"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Query     QueryConfig     `mapstructure:"query"`
	Mutation  MutationConfig  `mapstructure:"mutation"`
	Keyring   KeyringConfig   `mapstructure:"keyring"`
}

// SMTPConfig configures outbound delivery.
type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Security Security `mapstructure:"security"`
	// From overrides the sender address; defaults to Username.
	From          string        `mapstructure:"from"`
	SkipTLSVerify bool          `mapstructure:"skip_tls_verify"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// IMAPConfig configures the remote mailbox session.
type IMAPConfig struct {
	Host          string   `mapstructure:"host"`
	Port          int      `mapstructure:"port"`
	Security      Security `mapstructure:"security"`
	SkipTLSVerify bool     `mapstructure:"skip_tls_verify"`
	// ExcludeFolders are not mirrored. Children ("Labels/x") of an
	// excluded folder are excluded as well.
	ExcludeFolders []string `mapstructure:"exclude_folders"`
	// RateLimit is the sustained command rate per second.
	RateLimit float64     `mapstructure:"rate_limit"`
	RateBurst int         `mapstructure:"rate_burst"`
	OAuth     OAuthConfig `mapstructure:"oauth"`
}

// OAuthConfig enables SASL OAUTHBEARER login when RefreshToken is set.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// Enabled reports whether OAUTHBEARER should be used instead of LOGIN.
func (o OAuthConfig) Enabled() bool {
	return o.RefreshToken != "" && o.TokenURL != ""
}

// SyncConfig configures background synchronization.
type SyncConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	AutoSync          bool          `mapstructure:"auto_sync"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// CacheConfig bounds the local cache and locates its snapshot.
type CacheConfig struct {
	MaxMessages int   `mapstructure:"max_messages"`
	MaxBytes    int64 `mapstructure:"max_bytes"`
	// SnapshotPath is the SQLite file used to persist the cache. Empty
	// disables persistence.
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// AnalyticsConfig configures the aggregate statistics.
type AnalyticsConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	WindowDays  int      `mapstructure:"window_days"`
	SentFolders []string `mapstructure:"sent_folders"`
}

// QueryConfig holds pagination limits.
type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// MutationConfig configures the mutation reconciler.
type MutationConfig struct {
	WaitBudget time.Duration `mapstructure:"wait_budget"`
}

// KeyringConfig selects where the account password is stored.
type KeyringConfig struct {
	// Backend forces one keyring backend ("file", "keychain",
	// "secret-service", "wincred", "pass"). Empty tries them in order.
	Backend string `mapstructure:"backend"`
	FileDir string `mapstructure:"file_dir"`
}

// envAliases are the environment variables of earlier Proton Mail MCP
// servers. MAILMIRROR_* always takes precedence.
var envAliases = map[string]string{
	"username":  "PROTONMAIL_USERNAME",
	"password":  "PROTONMAIL_PASSWORD",
	"smtp.host": "PROTONMAIL_SMTP_HOST",
	"smtp.port": "PROTONMAIL_SMTP_PORT",
	"imap.host": "PROTONMAIL_IMAP_HOST",
	"imap.port": "PROTONMAIL_IMAP_PORT",
	"debug":     "DEBUG",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("debug", false)

	v.SetDefault("smtp.host", "smtp.protonmail.ch")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.security", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.skip_tls_verify", false)
	v.SetDefault("smtp.timeout", 30*time.Second)

	v.SetDefault("imap.host", "localhost")
	v.SetDefault("imap.port", 1143)
	v.SetDefault("imap.security", string(SecurityNone))
	v.SetDefault("imap.skip_tls_verify", false)
	v.SetDefault("imap.exclude_folders", []string{"All Mail", "Starred", "Labels"})
	v.SetDefault("imap.rate_limit", 10.0)
	v.SetDefault("imap.rate_burst", 5)
	v.SetDefault("imap.oauth.client_id", "")
	v.SetDefault("imap.oauth.client_secret", "")
	v.SetDefault("imap.oauth.token_url", "")
	v.SetDefault("imap.oauth.refresh_token", "")

	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.auto_sync", true)
	v.SetDefault("sync.fetch_timeout", 30*time.Second)
	v.SetDefault("sync.backoff_initial", 10*time.Second)
	v.SetDefault("sync.backoff_max", 5*time.Minute)
	v.SetDefault("sync.backoff_multiplier", 2.0)

	v.SetDefault("cache.max_messages", 50000)
	v.SetDefault("cache.max_bytes", int64(256<<20))
	v.SetDefault("cache.snapshot_path", DefaultSnapshotPath())

	v.SetDefault("analytics.enabled", true)
	v.SetDefault("analytics.window_days", 90)
	v.SetDefault("analytics.sent_folders", []string{"Sent"})

	v.SetDefault("query.default_limit", 50)
	v.SetDefault("query.max_limit", 100)

	v.SetDefault("mutation.wait_budget", 10*time.Second)

	v.SetDefault("keyring.backend", "")
	v.SetDefault("keyring.file_dir", "")
}

// DefaultConfigPath returns ~/.config/mailmirror/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "mailmirror", "config.yaml")
}

// DefaultSnapshotPath returns the cache snapshot location under the user
// cache directory.
func DefaultSnapshotPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mailmirror", "cache.db")
}

// Load builds the configuration from, in increasing precedence, defaults,
// the YAML file at path and the environment (a .env file in the working
// directory is loaded first). An empty path reads DefaultConfigPath when
// it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MAILMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		native := "MAILMIRROR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, native, alias); err != nil {
			return nil, fmt.Errorf("binding %s: %w", alias, err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Username = strings.TrimSpace(c.Username)
	c.SMTP.Security = Security(strings.ToLower(string(c.SMTP.Security)))
	c.IMAP.Security = Security(strings.ToLower(string(c.IMAP.Security)))
	if c.SMTP.Security == "" {
		c.SMTP.Security = SecurityStartTLS
		if c.SMTP.Port == 465 {
			c.SMTP.Security = SecurityTLS
		}
	}
	if c.IMAP.Security == "" {
		c.IMAP.Security = SecurityNone
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.Username
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required (PROTONMAIL_USERNAME)"))
	}
	for name, port := range map[string]int{"smtp.port": c.SMTP.Port, "imap.port": c.IMAP.Port} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range", name, port))
		}
	}
	if !c.SMTP.Security.Valid() {
		errs = append(errs, fmt.Errorf("unknown smtp.security %q", c.SMTP.Security))
	}
	if !c.IMAP.Security.Valid() {
		errs = append(errs, fmt.Errorf("unknown imap.security %q", c.IMAP.Security))
	}
	if c.Analytics.WindowDays <= 0 {
		errs = append(errs, fmt.Errorf("analytics.window_days must be positive, got %d", c.Analytics.WindowDays))
	}
	if c.Query.DefaultLimit <= 0 || c.Query.MaxLimit <= 0 {
		errs = append(errs, errors.New("query limits must be positive"))
	} else if c.Query.DefaultLimit > c.Query.MaxLimit {
		errs = append(errs, fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit))
	}
	if c.Cache.MaxMessages < 0 || c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache limits must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	return errors.Join(errs...)
}

// IMAPAddr returns host:port of the IMAP server.
func (c *Config) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", c.IMAP.Host, c.IMAP.Port)
}

// SMTPAddr returns host:port of the SMTP server.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTP.Host, c.SMTP.Port)
}
