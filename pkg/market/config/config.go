package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ChatProvider string

const (
	ChatProviderOpenAI ChatProvider = "openai"
	ChatProviderGemini ChatProvider = "gemini"
)

type Config struct {
	Addr          string
	PublicBaseURL string
	StaticDir     string

	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL string
	DBMaxConns  int32

	// Empty RedisURL keeps login sessions in process memory.
	RedisURL string

	SeedDemoData bool

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	CookieSecure bool
	SessionTTL   time.Duration

	MaxBodyBytes   int64
	UploadDir      string
	MaxUploadBytes int64

	BiddingDefaultDuration time.Duration
	BiddingSweepInterval   time.Duration

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int
	WSMaxConnsPerPrincipal     int

	// Voice WebSocket (/ws).
	WSPingInterval          time.Duration
	WSWriteTimeout          time.Duration
	WSMaxPayloadBytes       int64
	WSMaxMessagesPerMinute  int
	WSVoiceCooldown         time.Duration
	WSMaxQueueSize          int
	WSMaxQueueAge           time.Duration
	WSAckTimeout            time.Duration
	WSMaxDeliveryAttempts   int
	WSOutboundQueue         int
	WSReconnectStateTimeout time.Duration

	// Assistant backends. No keys => local simulation.
	OpenAIAPIKey           string
	OpenAIBaseURL          string
	GeminiAPIKey           string
	ChatProvider           ChatProvider
	ChatModel              string
	TranscriptionModel     string
	TTSModel               string
	ImageModel             string
	AssistantMaxTokens     int
	AssistantTimeout       time.Duration
	AssistantSessionTTL    time.Duration
	AssistantDefaultLang   string
	AssistantImagesEnabled bool

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
	LogLevel            string
	LogFormat           string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("AGRI_ADDR", ":5000"),
		PublicBaseURL:              strings.TrimRight(envOr("AGRI_PUBLIC_BASE_URL", ""), "/"),
		StaticDir:                  envOr("AGRI_STATIC_DIR", "client/dist"),
		DatabaseURL:                envOr("AGRI_DATABASE_URL", os.Getenv("DATABASE_URL")),
		DBMaxConns:                 int32(envIntOr("AGRI_DB_MAX_CONNS", 10)),
		RedisURL:                   envOr("AGRI_REDIS_URL", ""),
		SeedDemoData:               envBoolOr("AGRI_SEED_DEMO_DATA", true),
		CORSAllowedOrigins:         make(map[string]struct{}),
		CookieSecure:               envBoolOr("AGRI_COOKIE_SECURE", false),
		SessionTTL:                 envDurationOr("AGRI_SESSION_TTL", 24*time.Hour),
		MaxBodyBytes:               envInt64Or("AGRI_MAX_BODY_BYTES", 1<<20),
		UploadDir:                  envOr("AGRI_UPLOAD_DIR", "uploads"),
		MaxUploadBytes:             envInt64Or("AGRI_MAX_UPLOAD_BYTES", 100<<20),
		BiddingDefaultDuration:     envDurationOr("AGRI_BIDDING_DEFAULT_DURATION", 24*time.Hour),
		BiddingSweepInterval:       envDurationOr("AGRI_BIDDING_SWEEP_INTERVAL", time.Minute),
		LimitRPS:                   envFloat64Or("AGRI_RATE_LIMIT_RPS", 10),
		LimitBurst:                 envIntOr("AGRI_RATE_LIMIT_BURST", 20),
		LimitMaxConcurrentRequests: envIntOr("AGRI_MAX_CONCURRENT_REQUESTS", 32),
		WSMaxConnsPerPrincipal:     envIntOr("AGRI_WS_MAX_CONNS_PER_PRINCIPAL", 4),
		WSPingInterval:             envDurationOr("AGRI_WS_PING_INTERVAL", 30*time.Second),
		WSWriteTimeout:             envDurationOr("AGRI_WS_WRITE_TIMEOUT", 10*time.Second),
		WSMaxPayloadBytes:          envInt64Or("AGRI_WS_MAX_PAYLOAD_BYTES", 50<<20),
		WSMaxMessagesPerMinute:     envIntOr("AGRI_WS_MAX_MESSAGES_PER_MINUTE", 60),
		WSVoiceCooldown:            envDurationOr("AGRI_WS_VOICE_COOLDOWN", 2*time.Second),
		WSMaxQueueSize:             envIntOr("AGRI_WS_MAX_QUEUE_SIZE", 100),
		WSMaxQueueAge:              envDurationOr("AGRI_WS_MAX_QUEUE_AGE", 24*time.Hour),
		WSAckTimeout:               envDurationOr("AGRI_WS_ACK_TIMEOUT", 30*time.Second),
		WSMaxDeliveryAttempts:      envIntOr("AGRI_WS_MAX_DELIVERY_ATTEMPTS", 3),
		WSOutboundQueue:            envIntOr("AGRI_WS_OUTBOUND_QUEUE", 64),
		WSReconnectStateTimeout:    envDurationOr("AGRI_WS_RECONNECT_STATE_TIMEOUT", 24*time.Hour),
		OpenAIAPIKey:               envOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:              envOr("OPENAI_BASE_URL", ""),
		GeminiAPIKey:               envOr("GEMINI_API_KEY", ""),
		ChatProvider:               ChatProvider(strings.ToLower(envOr("AGRI_CHAT_PROVIDER", string(ChatProviderOpenAI)))),
		ChatModel:                  envOr("AGRI_CHAT_MODEL", ""),
		TranscriptionModel:         envOr("AGRI_TRANSCRIPTION_MODEL", "whisper-1"),
		TTSModel:                   envOr("AGRI_TTS_MODEL", "tts-1"),
		ImageModel:                 envOr("AGRI_IMAGE_MODEL", "dall-e-3"),
		AssistantMaxTokens:         envIntOr("AGRI_ASSISTANT_MAX_TOKENS", 500),
		AssistantTimeout:           envDurationOr("AGRI_ASSISTANT_TIMEOUT", 60*time.Second),
		AssistantSessionTTL:        envDurationOr("AGRI_ASSISTANT_SESSION_TTL", 30*time.Minute),
		AssistantDefaultLang:       envOr("AGRI_DEFAULT_LANGUAGE", "te"),
		AssistantImagesEnabled:     envBoolOr("AGRI_ASSISTANT_IMAGES", true),
		ReadHeaderTimeout:          envDurationOr("AGRI_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("AGRI_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod:        envDurationOr("AGRI_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogLevel:                   strings.ToLower(envOr("AGRI_LOG_LEVEL", "info")),
		LogFormat:                  strings.ToLower(envOr("AGRI_LOG_FORMAT", "json")),
	}

	origins := splitCSV(os.Getenv("AGRI_CORS_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	for _, origin := range origins {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.ChatProvider {
	case ChatProviderOpenAI:
		if cfg.ChatModel == "" {
			cfg.ChatModel = "gpt-4o"
		}
	case ChatProviderGemini:
		if cfg.ChatModel == "" {
			cfg.ChatModel = "gemini-2.0-flash"
		}
	default:
		return Config{}, fmt.Errorf("AGRI_CHAT_PROVIDER must be one of openai|gemini")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("AGRI_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("AGRI_LOG_FORMAT must be one of json|text")
	}

	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("AGRI_DB_MAX_CONNS must be > 0")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AGRI_SESSION_TTL must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("AGRI_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return Config{}, fmt.Errorf("AGRI_UPLOAD_DIR must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("AGRI_MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.BiddingDefaultDuration <= 0 {
		return Config{}, fmt.Errorf("AGRI_BIDDING_DEFAULT_DURATION must be > 0")
	}
	if cfg.BiddingSweepInterval <= 0 {
		return Config{}, fmt.Errorf("AGRI_BIDDING_SWEEP_INTERVAL must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("AGRI_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("AGRI_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("AGRI_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.WSMaxConnsPerPrincipal < 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_CONNS_PER_PRINCIPAL must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxPayloadBytes <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_PAYLOAD_BYTES must be > 0")
	}
	if cfg.WSMaxMessagesPerMinute < 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_MESSAGES_PER_MINUTE must be >= 0")
	}
	if cfg.WSVoiceCooldown < 0 {
		return Config{}, fmt.Errorf("AGRI_WS_VOICE_COOLDOWN must be >= 0")
	}
	if cfg.WSMaxQueueSize <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_QUEUE_SIZE must be > 0")
	}
	if cfg.WSMaxQueueAge <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_QUEUE_AGE must be > 0")
	}
	if cfg.WSAckTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_ACK_TIMEOUT must be > 0")
	}
	if cfg.WSMaxDeliveryAttempts <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_MAX_DELIVERY_ATTEMPTS must be > 0")
	}
	if cfg.WSOutboundQueue <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.WSReconnectStateTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_WS_RECONNECT_STATE_TIMEOUT must be > 0")
	}
	if cfg.AssistantMaxTokens <= 0 {
		return Config{}, fmt.Errorf("AGRI_ASSISTANT_MAX_TOKENS must be > 0")
	}
	if cfg.AssistantTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_ASSISTANT_TIMEOUT must be > 0")
	}
	if cfg.AssistantSessionTTL <= 0 {
		return Config{}, fmt.Errorf("AGRI_ASSISTANT_SESSION_TTL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("AGRI_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("AGRI_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.ChatProvider == ChatProviderGemini && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when AGRI_CHAT_PROVIDER=gemini")
	}

	return cfg, nil
}

// SimulateAssistant reports whether no AI vendor is configured.
func (c Config) SimulateAssistant() bool {
	return c.OpenAIAPIKey == "" && (c.ChatProvider != ChatProviderGemini || c.GeminiAPIKey == "")
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
