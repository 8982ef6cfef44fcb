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

	// Carrier integrations
	TwilioAccountSID    string
	TwilioAuthToken     string
	TelnyxAPIKey        string
	TelnyxWebhookSecret string
	MessagingProfileID  string
	OptOutReply         string
	OptInReply          string

	// Voice webhooks
	VoiceWebhookSecret string
	StaleInitiatedTTL  time.Duration
	StaleRingingTTL    time.Duration
	CallUnitCostCents  int

	// Payments
	StripeWebhookSecret string
	BillingGraceDays    int

	// Speech-to-text
	AssemblyAIAPIKey   string
	DeepgramAPIKey     string
	OpenAIAPIKey       string
	TranscriptBucket   string
	AnalysisWebhookURL string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookRateBurst   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TelnyxAPIKey:        getEnv("TELNYX_API_KEY", ""),
		TelnyxWebhookSecret: getEnv("TELNYX_WEBHOOK_SECRET", ""),
		MessagingProfileID:  getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		OptOutReply:         getEnv("OPT_OUT_REPLY", "You have been unsubscribed and will receive no further messages. Reply START to resubscribe."),
		OptInReply:          getEnv("OPT_IN_REPLY", "You have been resubscribed. Reply STOP to unsubscribe at any time."),

		VoiceWebhookSecret: getEnv("VOICE_WEBHOOK_SECRET", ""),
		StaleInitiatedTTL:  getEnvAsDuration("STALE_INITIATED_TTL", 3*time.Minute),
		StaleRingingTTL:    getEnvAsDuration("STALE_RINGING_TTL", 2*time.Minute),
		CallUnitCostCents:  getEnvAsInt("CALL_UNIT_COST_CENTS", 2),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		BillingGraceDays:    getEnvAsInt("BILLING_GRACE_DAYS", 7),

		AssemblyAIAPIKey:   getEnv("ASSEMBLYAI_API_KEY", ""),
		DeepgramAPIKey:     getEnv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		TranscriptBucket:   getEnv("TRANSCRIPT_BUCKET", ""),
		AnalysisWebhookURL: getEnv("ANALYSIS_WEBHOOK_URL", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Call Helm"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 100),
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
