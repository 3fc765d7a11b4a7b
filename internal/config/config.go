package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL        string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	AccessEvalTimeout  time.Duration `mapstructure:"ACCESS_EVAL_TIMEOUT"`
	GrantTxIsolation   string        `mapstructure:"GRANT_TX_ISOLATION"`
	EmergencyDefault   int           `mapstructure:"EMERGENCY_DEFAULT_MINUTES"`
	EmergencyMin       int           `mapstructure:"EMERGENCY_MIN_MINUTES"`
	EmergencyMax       int           `mapstructure:"EMERGENCY_MAX_MINUTES"`
	EmergencyPerHour   int           `mapstructure:"EMERGENCY_MAX_PER_HOUR"`
	AuditKafkaBrokers  []string      `mapstructure:"AUDIT_KAFKA_BROKERS"`
	AuditKafkaTopic    string        `mapstructure:"AUDIT_KAFKA_TOPIC"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("ACCESS_EVAL_TIMEOUT", "2s")
	v.SetDefault("GRANT_TX_ISOLATION", "serializable")
	v.SetDefault("EMERGENCY_DEFAULT_MINUTES", 60)
	v.SetDefault("EMERGENCY_MIN_MINUTES", 15)
	v.SetDefault("EMERGENCY_MAX_MINUTES", 480)
	v.SetDefault("EMERGENCY_MAX_PER_HOUR", 10)
	v.SetDefault("AUDIT_KAFKA_TOPIC", "dossier.audit")
	v.SetDefault("MIGRATIONS_DIR", "")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "REQUEST_TIMEOUT", "ACCESS_EVAL_TIMEOUT", "GRANT_TX_ISOLATION",
		"EMERGENCY_DEFAULT_MINUTES", "EMERGENCY_MIN_MINUTES", "EMERGENCY_MAX_MINUTES",
		"EMERGENCY_MAX_PER_HOUR", "AUDIT_KAFKA_BROKERS", "AUDIT_KAFKA_TOPIC", "MIGRATIONS_DIR",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.AuditKafkaBrokers = splitList(cfg.AuditKafkaBrokers, v.GetString("AUDIT_KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: accessd is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Identity is taken from X-User-ID / X-User-Role headers.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList turns a comma separated env value into a slice when viper could
// not decode it directly.
func splitList(current []string, raw string) []string {
	if len(current) > 1 || raw == "" {
		return current
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// an issuer or a signing key must be configured so that identities are
// verified, and the emergency duration bounds must be coherent.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey != "" {
		if _, err := hex.DecodeString(c.AuthSigningKey); err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
	}

	switch c.GrantTxIsolation {
	case "serializable", "repeatable_read", "read_committed":
	default:
		return fmt.Errorf("GRANT_TX_ISOLATION must be serializable, repeatable_read or read_committed, got %q", c.GrantTxIsolation)
	}

	if c.EmergencyMin <= 0 || c.EmergencyMax < c.EmergencyMin {
		return fmt.Errorf("emergency duration bounds invalid: min=%d max=%d", c.EmergencyMin, c.EmergencyMax)
	}
	if c.EmergencyDefault < c.EmergencyMin || c.EmergencyDefault > c.EmergencyMax {
		return fmt.Errorf("EMERGENCY_DEFAULT_MINUTES=%d outside [%d, %d]", c.EmergencyDefault, c.EmergencyMin, c.EmergencyMax)
	}
	if c.AccessEvalTimeout <= 0 {
		return fmt.Errorf("ACCESS_EVAL_TIMEOUT must be positive")
	}

	return nil
}
