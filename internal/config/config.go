package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultAIAssistantID is the well-known identity the AI assistant sends and
// receives messages as. Every deployment shares it unless AI_ASSISTANT_ID
// overrides it.
const DefaultAIAssistantID = "00d1201a-ca68-49f4-be4a-37ebb492a022"

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	TokenTTL       time.Duration `mapstructure:"TOKEN_TTL"`
	AIAssistantID  string        `mapstructure:"AI_ASSISTANT_ID"`
	AIAPIURL       string        `mapstructure:"AI_API_URL"`
	AIAPIKey       string        `mapstructure:"AI_API_KEY"`
	AIModel        string        `mapstructure:"AI_MODEL"`
	PollInterval   time.Duration `mapstructure:"POLL_INTERVAL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
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
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("AI_ASSISTANT_ID", DefaultAIAssistantID)
	v.SetDefault("AI_MODEL", "gemini-1.5-flash")
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SIGNING_KEY")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("AI_ASSISTANT_ID")
	v.BindEnv("AI_API_URL")
	v.BindEnv("AI_API_KEY")
	v.BindEnv("AI_MODEL")
	v.BindEnv("POLL_INTERVAL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AssistantUserID parses AI_ASSISTANT_ID. Load validation guarantees it
// parses, so callers may treat an error here as a programming bug.
func (c *Config) AssistantUserID() (uuid.UUID, error) {
	return uuid.Parse(c.AIAssistantID)
}

// Validate checks that the configuration is safe to run. The poll interval is
// clamped to the 10s..30s band the mobile clients were tuned for: anything
// shorter hammers the database, anything longer makes the dashboard feel dead.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.AIAssistantID); err != nil {
		return fmt.Errorf("AI_ASSISTANT_ID is not a valid UUID: %w", err)
	}
	if c.PollInterval < 10*time.Second || c.PollInterval > 30*time.Second {
		return fmt.Errorf("POLL_INTERVAL must be between 10s and 30s, got %s", c.PollInterval)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.IsProduction() {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required in production")
		}
		if c.AIAPIURL == "" {
			return fmt.Errorf("AI_API_URL is required in production")
		}
		if c.AIAPIKey == "" {
			return fmt.Errorf("AI_API_KEY is required in production")
		}
	}
	return nil
}
