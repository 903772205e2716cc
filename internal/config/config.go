// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Port      int    `yaml:"port" validate:"gte=1,lte=65535"`
	ServerURL string `yaml:"server_url" validate:"required,url"` // public base for notify_url
	ClientURL string `yaml:"client_url" validate:"required,url"` // public base for return/cancel urls
	Version   string `yaml:"version"`
	Commit    string `yaml:"commit"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json console"`
	Sampling bool   `yaml:"sampling"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" validate:"required"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables cache, lock and rate limiting
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	GeminiKey       string        `yaml:"gemini_key"`
	DefaultModel    string        `yaml:"default_model"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent AI calls
	Timeout         time.Duration `yaml:"timeout"`
}

type PayFastConfig struct {
	MerchantID  string        `yaml:"merchant_id" validate:"required"`
	MerchantKey string        `yaml:"merchant_key" validate:"required"`
	Passphrase  string        `yaml:"passphrase"` // empty is valid; the signature then has no passphrase clause
	Sandbox     bool          `yaml:"sandbox"`
	Timeout     time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	PayFast  PayFastConfig `yaml:"payfast"`
	Currency string        `yaml:"currency" validate:"len=3"`

	// Reconciler re-verifies pending payments with a known gateway id. 0 disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileAfter    time.Duration `yaml:"reconcile_after"`
	ReconcileBatch    int           `yaml:"reconcile_batch"`
}

type ProposalConfig struct {
	MaxInputTokens  int           `yaml:"max_input_tokens" validate:"gte=1"`
	RateLimit       int           `yaml:"rate_limit"` // per account per window; 0 disables
	RateWindow      time.Duration `yaml:"rate_window"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

type WorkerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Payment  PaymentConfig  `yaml:"payment"`
	Proposal ProposalConfig `yaml:"proposal"`
	Worker   WorkerConfig   `yaml:"worker"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads path (optional when missing), then a .env file next to the
// working directory, then the process environment, fills defaults and validates once.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployments
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PAYFAST_MERCHANT_ID", &cfg.Payment.PayFast.MerchantID)
	str("PAYFAST_MERCHANT_KEY", &cfg.Payment.PayFast.MerchantKey)
	str("PAYFAST_PASSPHRASE", &cfg.Payment.PayFast.Passphrase)
	str("SERVER_URL", &cfg.App.ServerURL)
	str("CLIENT_URL", &cfg.App.ClientURL)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("OPENAI_API_KEY", &cfg.AI.OpenAIKey)
	str("GEMINI_API_KEY", &cfg.AI.GeminiKey)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := os.LookupEnv("PAYFAST_SANDBOX"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PAYFAST_SANDBOX: %w", err)
		}
		cfg.Payment.PayFast.Sandbox = b
	}
	if v, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(v) != "" {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.App.Port = p
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "propulse"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8080
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.App.RequestTimeout <= 0 {
		cfg.App.RequestTimeout = 60 * time.Second
	}
	cfg.App.ServerURL = strings.TrimRight(cfg.App.ServerURL, "/")
	cfg.App.ClientURL = strings.TrimRight(cfg.App.ClientURL, "/")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 45 * time.Second
	}

	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "ZAR"
	}
	if cfg.Payment.PayFast.Timeout <= 0 {
		cfg.Payment.PayFast.Timeout = 10 * time.Second
	}
	if cfg.Payment.ReconcileAfter <= 0 {
		cfg.Payment.ReconcileAfter = 15 * time.Minute
	}
	if cfg.Payment.ReconcileBatch <= 0 {
		cfg.Payment.ReconcileBatch = 50
	}

	if cfg.Proposal.MaxInputTokens <= 0 {
		cfg.Proposal.MaxInputTokens = 6000
	}
	if cfg.Proposal.RateWindow <= 0 {
		cfg.Proposal.RateWindow = time.Minute
	}
	if cfg.Proposal.GenerateTimeout <= 0 {
		cfg.Proposal.GenerateTimeout = 60 * time.Second
	}

	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 4
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 64
	}
}

var validate = validator.New()

// Validate reports every missing or malformed field at once.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
