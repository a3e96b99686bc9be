// Package config provides environment configuration for the relay server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Conversation scopes.
const (
	ScopeRequest = "request"
	ScopeSession = "session"
)

// Image policies.
const (
	ImagePolicyInline = "inline"
	ImagePolicyRehost = "rehost"
)

// Session stores.
const (
	SessionStoreMemory = "memory"
	SessionStoreBolt   = "bolt"
	SessionStoreNATS   = "nats"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	MaxBodyBytes       int64

	// Assistant settings
	OpenAIAPIKey       string
	OpenAIAssistantID  string
	OpenAIBaseURL      string
	OpenAIBetaHeader   string
	RunPollInterval    time.Duration
	RunPollMaxAttempts int
	RunPollTimeout     time.Duration
	DefaultImagePrompt string

	// Conversation scope
	ConversationScope string
	SessionStore      string
	SessionBoltPath   string
	SessionTTL        time.Duration

	// Images
	ImagePolicy         string
	PublicBaseURL       string
	UploadDir           string
	UploadDeleteAfter   time.Duration
	UploadRetention     time.Duration
	UploadSweepSchedule string
	ImageFetchTimeout   time.Duration
	ImageFetchUserAgent string
	ImageFetchReferer   string
	ImageFetchFallbacks []string
	MaxImageBytes       int64

	// Vision
	VisionProvider  string
	VisionModel     string
	VisionMaxTokens int
	AnthropicAPIKey string

	// Auth
	AuthEnabled bool
	JWTSecret   string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	// ExchangeRetention bounds how long recorded exchanges are kept.
	ExchangeRetention time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment values win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "3000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 150*time.Second),
		MaxBodyBytes:       getInt64Env("MAX_BODY_BYTES", 20<<20),

		// Assistant
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIAssistantID:  getEnv("OPENAI_ASSISTANT_ID", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIBetaHeader:   getEnv("OPENAI_BETA_HEADER", "assistants=v2"),
		RunPollInterval:    getDurationEnv("RUN_POLL_INTERVAL", time.Second),
		RunPollMaxAttempts: getIntEnv("RUN_POLL_MAX_ATTEMPTS", 60),
		RunPollTimeout:     getDurationEnv("RUN_POLL_TIMEOUT", 90*time.Second),
		DefaultImagePrompt: getEnv("DEFAULT_IMAGE_PROMPT", "What do you see in this image?"),

		// Conversation scope
		ConversationScope: strings.ToLower(getEnv("CONVERSATION_SCOPE", ScopeRequest)),
		SessionStore:      strings.ToLower(getEnv("SESSION_STORE", SessionStoreMemory)),
		SessionBoltPath:   getEnv("SESSION_BOLT_PATH", filepath.Join("data", "sessions.bolt")),
		SessionTTL:        getDurationEnv("SESSION_TTL", 24*time.Hour),

		// Images
		ImagePolicy:         strings.ToLower(getEnv("IMAGE_POLICY", ImagePolicyInline)),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		UploadDir:           getEnv("UPLOAD_DIR", filepath.Join(os.TempDir(), "assistant-relay-uploads")),
		UploadDeleteAfter:   getDurationEnv("UPLOAD_DELETE_AFTER", 0),
		UploadRetention:     getDurationEnv("UPLOAD_RETENTION", 24*time.Hour),
		UploadSweepSchedule: getEnv("UPLOAD_SWEEP_SCHEDULE", "@every 15m"),
		ImageFetchTimeout:   getDurationEnv("IMAGE_FETCH_TIMEOUT", 20*time.Second),
		ImageFetchUserAgent: getEnv("IMAGE_FETCH_USER_AGENT", defaultUserAgent),
		ImageFetchReferer:   getEnv("IMAGE_FETCH_REFERER", ""),
		ImageFetchFallbacks: getListEnv("IMAGE_FETCH_FALLBACKS"),
		MaxImageBytes:       getInt64Env("MAX_IMAGE_BYTES", 15<<20),

		// Vision
		VisionProvider:  strings.ToLower(getEnv("VISION_PROVIDER", "openai")),
		VisionModel:     getEnv("VISION_MODEL", ""),
		VisionMaxTokens: getIntEnv("VISION_MAX_TOKENS", 1024),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		// Auth
		AuthEnabled: getBoolEnv("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		ExchangeRetention: getDurationEnv("EXCHANGE_RETENTION", 7*24*time.Hour),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate returns a fatal error for settings the server cannot run with,
// and warnings for settings that only disable the assistant.
func (c *Config) Validate() (warnings []string, err error) {
	if c.OpenAIAPIKey == "" {
		warnings = append(warnings, "OPENAI_API_KEY is not set; assistant requests will fail")
	}
	if c.OpenAIAssistantID == "" {
		warnings = append(warnings, "OPENAI_ASSISTANT_ID is not set; assistant requests will fail")
	}
	if c.VisionProvider == "anthropic" && c.AnthropicAPIKey == "" {
		warnings = append(warnings, "ANTHROPIC_API_KEY is not set; image requests will fail")
	}

	var errs []error
	switch c.ConversationScope {
	case ScopeRequest, ScopeSession:
	default:
		errs = append(errs, fmt.Errorf("CONVERSATION_SCOPE must be %q or %q, got %q", ScopeRequest, ScopeSession, c.ConversationScope))
	}
	switch c.SessionStore {
	case SessionStoreMemory, SessionStoreBolt:
	case SessionStoreNATS:
		if !c.NATSEnabled {
			errs = append(errs, errors.New("SESSION_STORE=nats requires NATS_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore))
	}
	switch c.ImagePolicy {
	case ImagePolicyInline, ImagePolicyRehost:
	default:
		errs = append(errs, fmt.Errorf("IMAGE_POLICY must be %q or %q, got %q", ImagePolicyInline, ImagePolicyRehost, c.ImagePolicy))
	}
	if c.RunPollMaxAttempts < 1 {
		errs = append(errs, errors.New("RUN_POLL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RunPollInterval <= 0 || c.RunPollTimeout <= 0 {
		errs = append(errs, errors.New("RUN_POLL_INTERVAL and RUN_POLL_TIMEOUT must be positive"))
	}

	return warnings, errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
