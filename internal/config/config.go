// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/zapito/internal/textnorm"
)

// Environment names.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	DBPath   string
	AppEnv   string
	LogLevel slog.Level

	// AppSecret signs webhook deliveries (X-Hub-Signature-256).
	AppSecret   string
	VerifyToken string
	AdminToken  string

	WhatsApp WhatsAppConfig
	Bot      BotConfig

	SendRateLimit   RateLimitConfig
	CORSOrigins     []string
	MonitorOrigins  []string
	MonitorHistory  int
	Dedupe          DedupeConfig
	Retention       RetentionConfig
	Timeout         TimeoutConfig
	ConversationLog ConversationLogConfig
}

// WhatsAppConfig holds Cloud API credentials.
type WhatsAppConfig struct {
	Token      string
	PhoneID    string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration
}

// BotConfig controls the conversation engine.
type BotConfig struct {
	RestartKeys []string
	Language    string
	Timezone    string
}

// RateLimitConfig is a token bucket per client IP.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// DedupeConfig bounds the processed message ID cache.
type DedupeConfig struct {
	TTL     time.Duration
	MaxSize int
}

// RetentionConfig controls the janitor. Zero durations disable a sweep.
type RetentionConfig struct {
	Interval       time.Duration
	Outbound       time.Duration
	SessionIdleTTL time.Duration
}

// TimeoutConfig holds HTTP server timeouts.
type TimeoutConfig struct {
	Read        time.Duration
	Write       time.Duration
	Idle        time.Duration
	Shutdown    time.Duration
	HealthCheck time.Duration
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		DBPath:      getEnv("DB_PATH", "./data/zapito.db"),
		AppEnv:      strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		AppSecret:   getEnv("APP_SECRET", ""),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		WhatsApp: WhatsAppConfig{
			Token:      getEnv("WHATSAPP_TOKEN", ""),
			PhoneID:    getEnv("WHATSAPP_PHONE_ID", ""),
			APIVersion: getEnv("WHATSAPP_API_VERSION", "v19.0"),
			BaseURL:    getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
			Timeout:    getEnvDuration("WHATSAPP_TIMEOUT", 15*time.Second),
		},
		Bot: BotConfig{
			RestartKeys: textnorm.List(getEnv("RESTART_KEYS", "")),
			Language:    getEnv("DEFAULT_LANGUAGE", "pt_BR"),
			Timezone:    getEnv("BOT_TIMEZONE", "America/Sao_Paulo"),
		},
		SendRateLimit: RateLimitConfig{
			// 100 requests per 15 minutes.
			RPS:   getEnvFloat("SEND_RATE_LIMIT_RPS", 100.0/(15*60)),
			Burst: getEnvInt("SEND_RATE_LIMIT_BURST", 100),
		},
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		MonitorOrigins: splitList(getEnv("MONITOR_ALLOWED_ORIGINS", "")),
		MonitorHistory: getEnvInt("MONITOR_HISTORY_SIZE", 100),
		Dedupe: DedupeConfig{
			TTL:     getEnvDuration("DEDUPE_TTL", 10*time.Minute),
			MaxSize: getEnvInt("DEDUPE_MAX_SIZE", 10000),
		},
		Retention: RetentionConfig{
			Interval:       getEnvDuration("JANITOR_INTERVAL", time.Hour),
			Outbound:       getEnvDuration("OUTBOUND_RETENTION", 30*24*time.Hour),
			SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 0),
		},
		Timeout: TimeoutConfig{
			Read:        getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			Write:       getEnvDuration("HTTP_WRITE_TIMEOUT", 0), // 0 keeps monitor websockets open
			Idle:        getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			Shutdown:    getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
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
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AppEnv != EnvProduction && c.AppEnv != EnvDevelopment {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.AppEnv)
	}
	if c.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN cannot be empty")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("APP_SECRET cannot be empty")
	}
	if c.WhatsApp.Token == "" {
		return fmt.Errorf("WHATSAPP_TOKEN cannot be empty")
	}
	if c.WhatsApp.PhoneID == "" {
		return fmt.Errorf("WHATSAPP_PHONE_ID cannot be empty")
	}
	if c.Bot.Language == "" {
		return fmt.Errorf("DEFAULT_LANGUAGE cannot be empty")
	}
	if c.Dedupe.MaxSize <= 0 {
		return fmt.Errorf("DEDUPE_MAX_SIZE must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsProduction returns true when APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
