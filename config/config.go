// Package config loads onboarding settings from an optional config file,
// a .env file and ONBOARDING_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g.
// ONBOARDING_DATABASE_DSN or ONBOARDING_TOKENS_APP_USER_TTL.
const EnvPrefix = "ONBOARDING"

type Config struct {
	Environment string          `mapstructure:"environment"`
	Frontend    FrontendConfig  `mapstructure:"frontend"`
	Tokens      TokenConfig     `mapstructure:"tokens"`
	Otp         OtpConfig       `mapstructure:"otp"`
	Onboarding  LobbyConfig     `mapstructure:"onboarding"`
	Directory   DirectoryConfig `mapstructure:"directory"`
	Security    SecurityConfig  `mapstructure:"security"`
	Sweeper     SweeperConfig   `mapstructure:"sweeper"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Auth0       Auth0Config     `mapstructure:"auth0"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type FrontendConfig struct {
	URL              string `mapstructure:"url"`
	VerificationPath string `mapstructure:"verification_path"`
}

type TokenConfig struct {
	SelfRegTTL        time.Duration `mapstructure:"self_reg_ttl"`
	InvitedTTL        time.Duration `mapstructure:"invited_ttl"`
	AppUserTTL        time.Duration `mapstructure:"app_user_ttl"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
}

type OtpConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	AttemptsPerMin int           `mapstructure:"attempts_per_minute"`
	AttemptsBurst  int           `mapstructure:"attempts_burst"`
}

type LobbyConfig struct {
	DefaultGroupPath string `mapstructure:"default_group_path"`
}

type DirectoryConfig struct {
	Provider string        `mapstructure:"provider"` // "auth0" or "memory"
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	PasswordSecret string `mapstructure:"password_secret"`
}

type SweeperConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PendingGrace time.Duration `mapstructure:"pending_grace"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN          string `mapstructure:"dsn"`
	Debug        bool   `mapstructure:"debug"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`

	// Development switches to the console encoder.
	Development bool `mapstructure:"development"`

	// File enables a rotating log file next to stdout when set.
	File         string        `mapstructure:"file"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

type Auth0Config struct {
	Domain        string        `mapstructure:"domain"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	Connection    string        `mapstructure:"connection"`
	GroupCacheTTL time.Duration `mapstructure:"group_cache_ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var _ onboarding.Config = (*Config)(nil)

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("frontend.url", "http://localhost:3000")
	v.SetDefault("frontend.verification_path", onboarding.DefaultVerificationPath)

	v.SetDefault("tokens.self_reg_ttl", onboarding.DefaultSelfRegTokenTTL)
	v.SetDefault("tokens.invited_ttl", onboarding.DefaultInvitedTokenTTL)
	v.SetDefault("tokens.app_user_ttl", onboarding.DefaultAppUserTokenTTL)
	v.SetDefault("tokens.rate_limit_cooldown", onboarding.DefaultCooldown)

	v.SetDefault("otp.ttl", onboarding.DefaultOtpTTL)
	v.SetDefault("otp.cooldown", onboarding.DefaultOtpCooldown)
	v.SetDefault("otp.attempts_per_minute", 0)
	v.SetDefault("otp.attempts_burst", 5)

	v.SetDefault("onboarding.default_group_path", onboarding.DefaultGroupPath)

	v.SetDefault("directory.provider", "memory")
	v.SetDefault("directory.timeout", onboarding.DefaultDirectoryTimeout)

	v.SetDefault("security.password_secret", "")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", onboarding.DefaultSweepInterval)
	v.SetDefault("sweeper.timeout", onboarding.DefaultSweepTimeout)
	v.SetDefault("sweeper.pending_grace", onboarding.DefaultPendingGrace)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:onboarding.db?cache=shared")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "noreply@localhost")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.rotation_time", 24*time.Hour)
	v.SetDefault("logging.max_age", 7*24*time.Hour)

	v.SetDefault("auth0.domain", "")
	v.SetDefault("auth0.client_id", "")
	v.SetDefault("auth0.client_secret", "")
	v.SetDefault("auth0.connection", "")
	v.SetDefault("auth0.group_cache_ttl", 5*time.Minute)

	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. path may be empty, in which case only
// defaults, .env and the environment apply. A missing .env is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Frontend.URL) == "" {
		errs = append(errs, errors.New("frontend.url is required"))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	switch c.Directory.Provider {
	case "memory":
	case "auth0":
		if c.Auth0.Domain == "" || c.Auth0.ClientID == "" || c.Auth0.ClientSecret == "" {
			errs = append(errs, errors.New("auth0.domain, auth0.client_id and auth0.client_secret are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.provider %q is not supported", c.Directory.Provider))
	}

	if c.Environment == "production" && len(c.Security.PasswordSecret) < 32 {
		errs = append(errs, errors.New("security.password_secret must be at least 32 characters in production"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetFrontendURL() string {
	return c.Frontend.URL
}

func (c *Config) GetVerificationPath() string {
	return c.Frontend.VerificationPath
}

func (c *Config) GetSelfRegTokenTTL() time.Duration {
	return c.Tokens.SelfRegTTL
}

func (c *Config) GetInvitedTokenTTL() time.Duration {
	return c.Tokens.InvitedTTL
}

func (c *Config) GetAppUserTokenTTL() time.Duration {
	return c.Tokens.AppUserTTL
}

func (c *Config) GetOtpTTL() time.Duration {
	return c.Otp.TTL
}

func (c *Config) GetOtpCooldown() time.Duration {
	return c.Otp.Cooldown
}

func (c *Config) GetRateLimitCooldown() time.Duration {
	return c.Tokens.RateLimitCooldown
}

func (c *Config) GetDefaultGroupPath() string {
	return c.Onboarding.DefaultGroupPath
}

func (c *Config) GetDirectoryTimeout() time.Duration {
	return c.Directory.Timeout
}

func (c *Config) GetPasswordSecret() string {
	return c.Security.PasswordSecret
}
