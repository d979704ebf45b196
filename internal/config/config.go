package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// LockBackend selects the per-lead lock: "memory" or "redis".
	LockBackend string
	LockTTL     time.Duration

	SMSProvider              string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioWebhookSecret      string
	TwilioFromNumber         string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxFromNumber         string

	LLMProvider         string
	LLMFallbackProvider string
	OpenAIAPIKey        string
	OpenAIModel         string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CompletionTimeout time.Duration
	DispatchTimeout   time.Duration

	ProfileCacheTTL       time.Duration
	DefaultPhoneRegion    string
	DefaultCompanyName    string
	DefaultAssistantName  string
	DefaultSchedulingLink string

	AdminJWTSecret        string
	CORSAllowedOrigins    []string
	WebhookRateLimitRPS   float64
	WebhookRateLimitBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		LockBackend: strings.ToLower(strings.TrimSpace(getEnv("LOCK_BACKEND", "memory"))),
		LockTTL:     getEnvAsDuration("LOCK_TTL", 45*time.Second),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret:      getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		AWSRegion:           getEnv("AWS_REGION", "eu-west-3"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CompletionTimeout: getEnvAsDuration("COMPLETION_TIMEOUT", 15*time.Second),
		DispatchTimeout:   getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),

		ProfileCacheTTL:       getEnvAsDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		DefaultPhoneRegion:    strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "FR")),
		DefaultCompanyName:    getEnv("DEFAULT_COMPANY_NAME", "SolarFlash"),
		DefaultAssistantName:  getEnv("DEFAULT_ASSISTANT_NAME", "Sarah"),
		DefaultSchedulingLink: getEnv("DEFAULT_SCHEDULING_LINK", ""),

		AdminJWTSecret:        getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimitRPS:   getEnvAsFloat("WEBHOOK_RATE_LIMIT_RPS", 20),
		WebhookRateLimitBurst: getEnvAsInt("WEBHOOK_RATE_LIMIT_BURST", 40),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
