// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// envPrefix namespaces all environment variables for this service,
// e.g. ZTA_JWT__SECRET_KEY, ZTA_REDIS__ADDR, ZTA_LOG_LEVEL.
const envPrefix = "ZTA_"

// Config holds all gateway configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Gateway    GatewayConfig    `koanf:"gateway"`
	JWT        JWTConfig        `koanf:"jwt"`
	Encryption EncryptionConfig `koanf:"encryption"`
	MFA        MFAConfig        `koanf:"mfa"`
	Lockout    LockoutConfig    `koanf:"lockout"`
	Session    SessionConfig    `koanf:"session"`
	Device     DeviceConfig     `koanf:"device"`
	Risk       RiskConfig       `koanf:"risk"`
	Audit      AuditConfig      `koanf:"audit"`
	Policies   PoliciesConfig   `koanf:"policies"`

	// Infrastructure configurations
	Redis RedisConfig `koanf:"redis"`
	OTEL  OTELConfig  `koanf:"otel"`
}

// GatewayConfig holds the gateway process configuration.
type GatewayConfig struct {
	HTTPPort int `koanf:"http_port"`

	// UpstreamURL is the base URL the protected resource tree proxies to.
	// Empty disables the protected routes; the auth surface still serves.
	UpstreamURL string `koanf:"upstream_url"`

	// Per-client-address request throttling.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
	RateLimitPerHour   int `koanf:"rate_limit_per_hour"`
}

// JWTConfig holds token signing configuration.
type JWTConfig struct {
	// SecretKey signs and verifies HS256 tokens. Required outside local.
	SecretKey        domain.SecretString `koanf:"secret_key"`
	Issuer           string              `koanf:"issuer"`
	AccessTTLMinutes int                 `koanf:"access_ttl_minutes"`
	RefreshTTLDays   int                 `koanf:"refresh_ttl_days"`
}

// AccessTTL returns the access token lifetime.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// EncryptionConfig holds the bootstrap data-encryption key.
type EncryptionConfig struct {
	// Key is the base64 encoding of 32 bytes. When empty in local
	// environments an ephemeral key is generated at startup.
	Key domain.SecretString `koanf:"key"`
}

// DecodeKey returns the raw key bytes, validating length.
func (c EncryptionConfig) DecodeKey() (domain.SecretBytes, error) {
	if c.Key.IsEmpty() {
		return nil, fmt.Errorf("%w: encryption.key", domain.ErrConfigRequired)
	}
	raw, err := base64.StdEncoding.DecodeString(c.Key.Expose())
	if err != nil {
		return nil, fmt.Errorf("encryption.key is not valid base64: %w", domain.ErrInvalidInput)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption.key must decode to 32 bytes, got %d: %w", len(raw), domain.ErrInvalidInput)
	}
	return domain.SecretBytes(raw), nil
}

// MFAConfig holds TOTP configuration.
type MFAConfig struct {
	Issuer   string `koanf:"issuer"`
	Required bool   `koanf:"required"`
}

// LockoutConfig holds login throttling configuration.
type LockoutConfig struct {
	MaxFailedAttempts int `koanf:"max_failed_attempts"`
	DurationMinutes   int `koanf:"duration_minutes"`
}

// Duration returns the lockout window.
func (c LockoutConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	TimeoutMinutes int `koanf:"timeout_minutes"`
}

// Timeout returns the session inactivity timeout.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// DeviceConfig holds device trust configuration.
type DeviceConfig struct {
	// FingerprintRequired makes a missing device identifier a risk
	// indicator instead of a silent pass.
	FingerprintRequired bool `koanf:"fingerprint_required"`
	RecordTTLDays       int  `koanf:"record_ttl_days"`
}

// RecordTTL returns the device record lifetime.
func (c DeviceConfig) RecordTTL() time.Duration {
	return time.Duration(c.RecordTTLDays) * 24 * time.Hour
}

// RiskConfig holds risk scoring thresholds.
type RiskConfig struct {
	ThresholdLow    int `koanf:"threshold_low"`
	ThresholdMedium int `koanf:"threshold_medium"`
	ThresholdHigh   int `koanf:"threshold_high"`

	// AnonymizerCIDRs lists networks treated as Tor exits or VPN egress
	// points for the tor_or_vpn indicator.
	AnonymizerCIDRs []string `koanf:"anonymizer_cidrs"`

	// SuspiciousCIDRs lists networks with a bad reputation for the
	// suspicious_ip indicator.
	SuspiciousCIDRs []string `koanf:"suspicious_cidrs"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	RetentionDays int  `koanf:"retention_days"`
	Encryption    bool `koanf:"encryption"`
}

// Retention returns how long daily audit streams are kept.
func (c AuditConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// PoliciesConfig locates the access policy document.
type PoliciesConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig holds key/value store configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
// These match the normative limits in the domain package.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Gateway: GatewayConfig{
			HTTPPort:           8080,
			RateLimitPerMinute: domain.RateLimitPerMinute,
			RateLimitPerHour:   domain.RateLimitPerHour,
		},
		JWT: JWTConfig{
			Issuer:           "zta-finance",
			AccessTTLMinutes: int(domain.AccessTokenTTL / time.Minute),
			RefreshTTLDays:   int(domain.RefreshTokenTTL / (24 * time.Hour)),
		},
		MFA: MFAConfig{
			Issuer:   "ZTA-Finance",
			Required: true,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: domain.MaxFailedLoginAttempts,
			DurationMinutes:   int(domain.AccountLockoutDuration / time.Minute),
		},
		Session: SessionConfig{
			TimeoutMinutes: int(domain.SessionTimeout / time.Minute),
		},
		Device: DeviceConfig{
			FingerprintRequired: false,
			RecordTTLDays:       int(domain.DeviceRecordTTL / (24 * time.Hour)),
		},
		Risk: RiskConfig{
			ThresholdLow:    domain.RiskThresholdLow,
			ThresholdMedium: domain.RiskThresholdMedium,
			ThresholdHigh:   domain.RiskThresholdHigh,
		},
		Audit: AuditConfig{
			RetentionDays: int(domain.AuditRetention / (24 * time.Hour)),
			Encryption:    false,
		},
		Policies: PoliciesConfig{
			Path: "config/policies.json",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		OTEL: OTELConfig{
			ServiceName: "zta-gateway",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables with the ZTA_ prefix (highest)
// 2. Compiled defaults (lowest)
//
// Nesting uses a double underscore: ZTA_REDIS__ADDR sets redis.addr while
// ZTA_LOG_LEVEL stays the flat key log_level.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
// Required key failure → startup failure; never limp along with a
// guessable signing key.
func validateRequired(cfg *Config) error {
	// In local environment, setup generates ephemeral secrets
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.JWT.SecretKey.IsEmpty() {
		return fmt.Errorf("%w: jwt.secret_key", domain.ErrConfigRequired)
	}
	if len(cfg.JWT.SecretKey.Expose()) < 32 {
		return fmt.Errorf("jwt.secret_key must be at least 32 bytes: %w", domain.ErrInvalidInput)
	}
	if _, err := cfg.Encryption.DecodeKey(); err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
