package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/425732441/OpenAI-Realtime-API-Twilio-Phone-Call-Assistant/internal/logger"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogDev      bool

	// Public base URL used when rendering the media-stream URL into TwiML.
	// Empty means derive it from the webhook request host.
	PublicBaseURL   string
	TwilioAuthToken string
	Greeting        string

	// Realtime backend.
	RealtimeURL        string
	RealtimeAuthMode   string // "azure" or "openai"
	RealtimeAPIKey     string // overrides the store lookup when set
	RealtimeAPIKeyName string // system config key holding the backend credential
	Voice              string
	InputAudioFormat   string
	OutputAudioFormat  string
	Temperature        float64

	// Knowledge service behind the call_kofe tool.
	KnowledgeURL       string
	KnowledgeAPIKey    string
	KnowledgeSessionID string
	KnowledgeUser      string

	// Bounded waits.
	ConnectTimeout time.Duration
	SetupTimeout   time.Duration
	SettleDelay    time.Duration
	ToolTimeout    time.Duration
	WriteTimeout   time.Duration

	// Persistence collaborator.
	StoreBackend           string // "supabase" or "redis"
	SupabaseURL            string
	SupabaseServiceRoleKey string
	RedisURL               string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogDev:      getBool("LOG_DEV", false),

		PublicBaseURL:   strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		Greeting:        os.Getenv("CALL_GREETING"),

		RealtimeURL:        getEnv("REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
		RealtimeAuthMode:   strings.ToLower(getEnv("REALTIME_AUTH_MODE", "openai")),
		RealtimeAPIKey:     os.Getenv("REALTIME_API_KEY"),
		RealtimeAPIKeyName: getEnv("REALTIME_API_KEY_NAME", "openai_api_key"),
		Voice:              getEnv("REALTIME_VOICE", "alloy"),
		InputAudioFormat:   getEnv("REALTIME_INPUT_AUDIO_FORMAT", "g711_ulaw"),
		OutputAudioFormat:  getEnv("REALTIME_OUTPUT_AUDIO_FORMAT", "g711_ulaw"),
		Temperature:        getFloat("REALTIME_TEMPERATURE", 0.8),

		KnowledgeURL:       getEnv("KNOWLEDGE_URL", "https://demo.kofe.ai/v1/chat-messages"),
		KnowledgeAPIKey:    os.Getenv("KNOWLEDGE_API_KEY"),
		KnowledgeSessionID: getEnv("KNOWLEDGE_SESSION_ID", "test_session"),
		KnowledgeUser:      getEnv("KNOWLEDGE_USER", "test_user"),

		ConnectTimeout: getDuration("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		SetupTimeout:   getDuration("SETUP_TIMEOUT", 10*time.Second),
		SettleDelay:    getDuration("SETTLE_DELAY", 250*time.Millisecond),
		ToolTimeout:    getDuration("TOOL_TIMEOUT", 20*time.Second),
		WriteTimeout:   getDuration("WS_WRITE_TIMEOUT", 5*time.Second),

		StoreBackend:           strings.ToLower(getEnv("STORE_BACKEND", "supabase")),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
	}

	if cfg.KnowledgeAPIKey == "" {
		logger.Warn("KNOWLEDGE_API_KEY not set - tool calls will return an error marker")
	}
	if cfg.StoreBackend == "supabase" && (cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "") {
		logger.Warn("SUPABASE_URL / SUPABASE_SERVICE_ROLE_KEY not set - call lookups will fail")
	}
	if cfg.TwilioAuthToken == "" {
		logger.Warn("TWILIO_AUTH_TOKEN not set - webhook signatures are not verified")
	}

	logger.Info("config loaded",
		zap.String("http_address", cfg.HTTPAddress),
		zap.String("realtime_auth_mode", cfg.RealtimeAuthMode),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Duration("settle_delay", cfg.SettleDelay),
	)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		logger.Warn("invalid duration, using default", zap.String("key", key), zap.String("value", raw))
		return defaultValue
	}
	return d
}

func getFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("invalid float, using default", zap.String("key", key), zap.String("value", raw))
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return b
}
