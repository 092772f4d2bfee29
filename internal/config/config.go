// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	// AdapterToken authenticates chat adapters that pass X-Companion-User.
	// Empty disables header identities.
	AdapterToken string
	LogLevel     string

	CandidateTTL           time.Duration
	CandidateSweepInterval time.Duration
	RedisAddr              string
	RedisPassword          string
	RedisDB                int

	LLM     LLMConfig
	Policy  PolicyConfig
	Photo   PhotoConfig
	Message MessageConfig

	ConversationLog ConversationLogConfig
}

// LLMConfig selects the text-generation backend.
type LLMConfig struct {
	Provider     string // "gemini" or "openai"
	APIKey       string
	BaseURL      string
	ModelPrimary string
	ModelCheap   string
	Timeout      time.Duration
}

// PolicyConfig holds conversation tuning knobs.
type PolicyConfig struct {
	HistoryLimit  int
	ContextWindow int
	StartAffinity int
	PositiveDelta int
	NegativeDelta int
	MinAge        int
	MaxAge        int
	Language      string
}

// PhotoConfig controls persona photo links.
type PhotoConfig struct {
	// URLTemplate may contain {prompt} and {seed}. Empty disables photos.
	URLTemplate string
}

// MessageConfig controls per-user message rate limiting.
type MessageConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
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

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "gemini"))
	primary, cheap := defaultModels(provider)

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/companion.db"),
		AdapterToken: getEnv("ADAPTER_TOKEN", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		CandidateTTL:           getEnvDuration("CANDIDATE_TTL", 30*time.Minute),
		CandidateSweepInterval: getEnvDuration("CANDIDATE_SWEEP_INTERVAL", 5*time.Minute),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnvInt("REDIS_DB", 0),

		LLM: LLMConfig{
			Provider:     provider,
			APIKey:       llmAPIKey(provider),
			BaseURL:      getEnv("LLM_BASE_URL", ""),
			ModelPrimary: getEnv("LLM_MODEL_PRIMARY", primary),
			ModelCheap:   getEnv("LLM_MODEL_CHEAP", cheap),
			Timeout:      getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Policy: PolicyConfig{
			HistoryLimit:  getEnvInt("HISTORY_LIMIT", 10),
			ContextWindow: getEnvInt("CONTEXT_WINDOW", 10),
			StartAffinity: getEnvInt("START_AFFINITY", 15),
			PositiveDelta: getEnvInt("TRUST_POSITIVE_DELTA", 5),
			NegativeDelta: getEnvInt("TRUST_NEGATIVE_DELTA", 10),
			MinAge:        getEnvInt("PERSONA_MIN_AGE", 18),
			MaxAge:        getEnvInt("PERSONA_MAX_AGE", 25),
			Language:      getEnv("REPLY_LANGUAGE", "English"),
		},
		Photo: PhotoConfig{
			URLTemplate: getEnv("PHOTO_URL_TEMPLATE", "https://image.pollinations.ai/prompt/{prompt}?seed={seed}&nologo=true"),
		},
		Message: MessageConfig{
			RateLimit:  getEnvInt("MESSAGE_RATE_LIMIT", 20),
			RateWindow: getEnvDuration("MESSAGE_RATE_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
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

func defaultModels(provider string) (primary, cheap string) {
	if provider == "openai" {
		return "llama-3.3-70b-versatile", "llama-3.1-8b-instant"
	}
	return "gemini-2.5-flash", "gemini-2.5-flash-lite"
}

func llmAPIKey(provider string) string {
	if key := getEnv("LLM_API_KEY", ""); key != "" {
		return key
	}
	if provider == "openai" {
		if key := getEnv("GROQ_API_KEY", ""); key != "" {
			return key
		}
		return getEnv("OPENAI_API_KEY", "")
	}
	return getEnv("GEMINI_API_KEY", "")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("an API key is required for LLM_PROVIDER=%s", c.LLM.Provider)
	}
	if c.Policy.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Policy.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	// Turns are stored in user/persona pairs.
	if c.Policy.HistoryLimit%2 != 0 || c.Policy.ContextWindow%2 != 0 {
		return fmt.Errorf("HISTORY_LIMIT and CONTEXT_WINDOW must be even")
	}
	if c.Policy.StartAffinity < 0 || c.Policy.StartAffinity > 100 {
		return fmt.Errorf("START_AFFINITY must be within 0..100")
	}
	if c.Policy.PositiveDelta < 0 || c.Policy.NegativeDelta < 0 {
		return fmt.Errorf("TRUST_POSITIVE_DELTA and TRUST_NEGATIVE_DELTA must be >= 0")
	}
	if c.Policy.MinAge <= 0 || c.Policy.MaxAge < c.Policy.MinAge {
		return fmt.Errorf("PERSONA_MIN_AGE/PERSONA_MAX_AGE form an invalid range")
	}
	if c.CandidateSweepInterval <= 0 {
		return fmt.Errorf("CANDIDATE_SWEEP_INTERVAL must be > 0")
	}
	if c.Message.RateLimit <= 0 || c.Message.RateWindow <= 0 {
		return fmt.Errorf("MESSAGE_RATE_LIMIT and MESSAGE_RATE_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

// getEnvDuration accepts Go durations ("90s") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
