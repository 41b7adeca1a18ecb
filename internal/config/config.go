// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds all application configuration. The env tag names the
// variable each field is read from and is used in validation errors.
type Config struct {
	Port                string   `env:"PORT" validate:"required"`
	GRPCPort            string   `env:"GRPC_PORT"` // empty disables the gRPC health server
	DBPath              string   `env:"DB_PATH" validate:"required"`
	LogLevel            string   `env:"LOG_LEVEL"`
	AllowedOrigins      []string `env:"ALLOWED_ORIGINS"`
	QuestionsFile       string   `env:"QUESTIONS_FILE"`
	ExportPath          string   `env:"EXPORT_PATH" validate:"required"`
	ProjectionQueueSize int      `env:"PROJECTION_QUEUE_SIZE" validate:"gt=0"`
	MaxConcurrentEvents int      `env:"MAX_CONCURRENT_EVENTS" validate:"gt=0"`
	Telegram            TelegramConfig
	Admin               AdminConfig
	NATS                NATSConfig
}

// TelegramConfig controls the Bot API transport.
type TelegramConfig struct {
	Token         string        `env:"TELEGRAM_BOT_TOKEN" validate:"required"`
	APIURL        string        `env:"TELEGRAM_API_URL" validate:"required,url"`
	Mode          string        `env:"TELEGRAM_MODE" validate:"oneof=polling webhook"`
	WebhookSecret string        `env:"TELEGRAM_WEBHOOK_SECRET"`
	PollTimeout   time.Duration `env:"TELEGRAM_POLL_TIMEOUT" validate:"gte=0"`
}

// AdminConfig lists who may run admin operations.
type AdminConfig struct {
	IDs      []int64 `env:"ADMIN_IDS"`
	APIToken string  `env:"ADMIN_API_TOKEN"`
}

// NATSConfig controls change publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	adminIDs, err := parseIDs(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: ADMIN_IDS: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		GRPCPort:            getEnv("GRPC_PORT", ""),
		DBPath:              getEnv("DB_PATH", "./data/interview.db"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:      getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		QuestionsFile:       getEnv("QUESTIONS_FILE", ""),
		ExportPath:          getEnv("EXPORT_PATH", "./data/export/candidates.csv"),
		ProjectionQueueSize: getEnvInt("PROJECTION_QUEUE_SIZE", 256),
		MaxConcurrentEvents: getEnvInt("MAX_CONCURRENT_EVENTS", 64),
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			Mode:          strings.ToLower(getEnv("TELEGRAM_MODE", ModePolling)),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			PollTimeout:   getEnvDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		},
		Admin: AdminConfig{
			IDs:      adminIDs,
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "interview"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describe(fieldErrs[0])
		}
		return err
	}
	if c.Telegram.Mode == ModeWebhook && c.Telegram.WebhookSecret == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_SECRET is required in webhook mode")
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX cannot be empty when NATS_URL is set")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

func describe(fe validator.FieldError) error {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "oneof":
		return fmt.Errorf("%s must be one of %q, got %q", name, strings.Fields(fe.Param()), fe.Value())
	case "gt":
		return fmt.Errorf("%s must be > %s", name, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", name, fe.Param())
	case "url":
		return fmt.Errorf("%s must be a valid URL", name)
	default:
		return fmt.Errorf("%s failed %q validation", name, fe.Tag())
	}
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a valid level", s)
	}
	return level, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric telegram id", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
