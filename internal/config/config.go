// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/integrations/twilio"
	"shop-assistant/internal/recommend"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	PublicBaseURL string
	LogLevel      string
	MessagesFile  string
	ParamPrefix   string
	StoreName     string

	Catalog  CatalogConfig
	Store    StoreConfig
	Turn     TurnConfig
	OpenAI   OpenAIConfig
	WhatsApp WhatsAppConfig
}

// CatalogConfig locates the product catalog.
type CatalogConfig struct {
	Path  string
	Limit int
}

// StoreConfig selects and sizes the session and delivery backends.
type StoreConfig struct {
	Backend       string
	StateTable    string
	DeliveryTable string
	SQLitePath    string
	HistoryWindow int
	SessionTTL    time.Duration
	SessionMax    int
	DeliveryTTL   time.Duration
	DeliveryMax   int
}

// TurnConfig tunes the turn controller.
type TurnConfig struct {
	MaxMessageLength  int
	SendDelay         time.Duration
	ModelTimeout      time.Duration
	TypingDelayMax    time.Duration
	MaxQuestionLength int
	ModerationEnabled bool
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type WhatsAppConfig struct {
	AccountSID        string
	AuthToken         string
	From              string
	VerifyToken       string
	ValidateSignature bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	sendDelay := getEnvDuration("SEND_DELAY", time.Second)
	if sendDelay == 0 {
		// zero disables pacing; the controller treats 0 as "use the default"
		sendDelay = -1
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MessagesFile:  getEnv("MESSAGES_FILE", ""),
		ParamPrefix:   strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		StoreName:     getEnv("STORE_NAME", ""),
		Catalog: CatalogConfig{
			Path:  getEnv("CATALOG_PATH", "data/products.csv"),
			Limit: getEnvInt("CATALOG_LIMIT", recommend.DefaultCatalogLimit),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			StateTable:    getEnv("STATE_TABLE", ""),
			DeliveryTable: getEnv("DELIVERY_TABLE", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "./data/shop-assistant.db"),
			HistoryWindow: getEnvInt("HISTORY_WINDOW", 10),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			SessionMax:    getEnvInt("SESSION_MAX", 10000),
			DeliveryTTL:   getEnvDuration("DELIVERY_TTL", 72*time.Hour),
			DeliveryMax:   getEnvInt("DELIVERY_MAX", 50000),
		},
		Turn: TurnConfig{
			MaxMessageLength:  getEnvInt("MAX_MESSAGE_LENGTH", 4000),
			SendDelay:         sendDelay,
			ModelTimeout:      getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
			TypingDelayMax:    getEnvDuration("TYPING_DELAY_MAX", 0),
			MaxQuestionLength: getEnvInt("MAX_QUESTION_LENGTH", 1000),
			ModerationEnabled: getEnvBool("MODERATION_ENABLED", false),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", recommend.DefaultModel),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		WhatsApp: WhatsAppConfig{
			AccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			From:              getEnv("TWILIO_WHATSAPP_NUMBER", twilio.DefaultFrom),
			VerifyToken:       getEnv("WEBHOOK_VERIFY_TOKEN", ""),
			ValidateSignature: getEnvBool("VALIDATE_TWILIO_SIGNATURE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.Store.StateTable == "" {
			return errors.New("STATE_TABLE is required for the dynamodb backend")
		}
		if c.Store.DeliveryTable == "" {
			return errors.New("DELIVERY_TABLE is required for the dynamodb backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, dynamodb, sqlite (got %q)", c.Store.Backend)
	}
	if c.Store.HistoryWindow <= 0 {
		return errors.New("HISTORY_WINDOW must be > 0")
	}
	if c.Turn.MaxMessageLength <= 0 || c.Turn.MaxMessageLength > 4096 {
		return errors.New("MAX_MESSAGE_LENGTH must be between 1 and 4096")
	}
	if c.Turn.ModelTimeout <= 0 {
		return errors.New("MODEL_TIMEOUT must be > 0")
	}
	if c.Turn.MaxQuestionLength <= 0 {
		return errors.New("MAX_QUESTION_LENGTH must be > 0")
	}
	if c.Catalog.Limit <= 0 {
		return errors.New("CATALOG_LIMIT must be > 0")
	}
	if c.WhatsApp.ValidateSignature && c.PublicBaseURL == "" {
		return errors.New("PUBLIC_BASE_URL is required when VALIDATE_TWILIO_SIGNATURE is set")
	}
	if c.OpenAI.APIKey == "" && c.ParamPrefix == "" {
		return errors.New("one of OPENAI_API_KEY or PARAM_PREFIX must be set")
	}
	return nil
}

// TwilioParameter is the SSM parameter holding the Twilio credentials.
func (c *Config) TwilioParameter() string {
	if c.ParamPrefix == "" {
		return ""
	}
	return c.ParamPrefix + "/twilio"
}

// ControllerConfig maps the turn settings onto the controller's knobs.
func (c *Config) ControllerConfig() conversation.Config {
	return conversation.Config{
		MaxMessageLength:   c.Turn.MaxMessageLength,
		SendDelay:          c.Turn.SendDelay,
		ModelTimeout:       c.Turn.ModelTimeout,
		TypingDelayMax:     c.Turn.TypingDelayMax,
		MaxUtteranceLength: c.Turn.MaxQuestionLength,
	}
}

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
// Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}

// LoadMessages reads a YAML message-policy file and layers it over the
// built-in texts. An empty path returns the defaults.
func LoadMessages(path string) (conversation.Messages, error) {
	defaults := conversation.DefaultMessages()
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return conversation.Messages{}, fmt.Errorf("config: read messages file: %w", err)
	}

	var overrides conversation.Messages
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &overrides); err != nil {
		return conversation.Messages{}, fmt.Errorf("config: parse messages file %s: %w", path, err)
	}
	return defaults.Merge(overrides), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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

// getEnvDuration accepts Go durations ("1500ms", "24h") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
