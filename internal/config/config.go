package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// LLM providers understood by the generative content service factory.
const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Config holds the configuration for the application.
type Config struct {
	DatabasePath string
	LogMode      string
	Port         string

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqModel    string
	GroqBaseURL  string

	// Program calendar
	ProgramsFile    string
	ProgramTimezone *time.Location

	// Generation engine
	GenerationTimeout time.Duration
	ResolveWait       time.Duration
	RecipeFanout      int
	RedisAddr         string

	JWTSecret string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))

	cfg := &Config{
		DatabasePath: getEnv("DATABASE_PATH", "data/ikonga.db"),
		LogMode:      getEnv("LOG_MODE", "dev"),
		Port:         getEnv("PORT", "8080"),
		LLMProvider:  provider,
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GroqModel:    getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqBaseURL:  os.Getenv("GROQ_BASE_URL"),
		ProgramsFile: os.Getenv("PROGRAMS_FILE"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}

	switch provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set")
	}

	loc, err := time.LoadLocation(getEnv("PROGRAM_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRAM_TIMEZONE: %w", err)
	}
	cfg.ProgramTimezone = loc

	if cfg.GenerationTimeout, err = durationEnv("GENERATION_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResolveWait, err = durationEnv("RESOLVE_WAIT", 20*time.Second); err != nil {
		return nil, err
	}

	cfg.RecipeFanout = 4
	if v := os.Getenv("RECIPE_FANOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid RECIPE_FANOUT %q", v)
		}
		cfg.RecipeFanout = n
	}

	// Telegram Config (Optional for the API server, required for the bot)
	if v := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q", part)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}
	if v := os.Getenv("ADMIN_TELEGRAM_ID"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.AdminTelegramID)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
