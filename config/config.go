package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string
	GatewayAddr   string

	// Market data
	FeedURL          string
	InstrumentURL    string
	InstrumentTTL    time.Duration
	HubBuffer        int
	LiveSentiment    bool
	SentimentTimeout time.Duration

	// Sessions
	StrategiesPath string
	ReplayDelay    time.Duration
	MaxTradesDay   int
	MaxLossesDay   int
	ExtraHolidays  []string

	// Control surface
	ControlTOTPSecret string
	AllowedOrigins    []string

	// Notifications
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first when
// present; variables already set in the environment win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		FeedURL:          getEnv("FEED_URL", "ws://localhost:9001/ws"),
		InstrumentURL:    getEnv("INSTRUMENT_URL", ""),
		InstrumentTTL:    getDuration("INSTRUMENT_TTL", 12*time.Hour),
		HubBuffer:        getInt("HUB_BUFFER", 1024),
		LiveSentiment:    getBool("LIVE_SENTIMENT", true),
		SentimentTimeout: getDuration("SENTIMENT_TIMEOUT", 500*time.Millisecond),

		StrategiesPath: getEnv("STRATEGIES_PATH", "config/strategies.yaml"),
		ReplayDelay:    getDuration("REPLAY_DELAY", time.Second),
		MaxTradesDay:   getInt("MAX_TRADES_PER_DAY", 0),
		MaxLossesDay:   getInt("MAX_LOSSES_PER_DAY", 0),
		ExtraHolidays:  getList("EXTRA_HOLIDAYS"),

		ControlTOTPSecret: getEnv("CONTROL_TOTP_SECRET", ""),
		AllowedOrigins:    getList("ALLOWED_ORIGINS"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("750ms") or bare milliseconds ("750").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] %s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] %s=%q is not a bool, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
