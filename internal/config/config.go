package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port                 string
	StoreDriver          string
	DatabaseURL          string
	SQLitePath           string
	BoltPath             string
	RedisURL             string
	LogLevel             string
	LogFormat            string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	OpenAIAPIKey         string
	LocalTimezone        *time.Location
	ShutdownTimeout      time.Duration
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		logrus.Warnf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:                 getenvDefault("PORT", "8080"),
		StoreDriver:          getenvDefault("STORE_DRIVER", "sql"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           getenvDefault("SQLITE_PATH", "healthReminderDB.db"),
		BoltPath:             getenvDefault("BOLT_PATH", "healthReminderDB.bolt"),
		RedisURL:             os.Getenv("REDIS_URL"),
		LogLevel:             getenvDefault("LOG_LEVEL", "info"),
		LogFormat:            getenvDefault("LOG_FORMAT", "text"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber: os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		LocalTimezone:        location,
		ShutdownTimeout:      time.Duration(ParseIntEnv("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}
