package config

import (
	"os"
	"strconv"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	JWTSecret   string
	// CredentialKey is the hex-encoded 32-byte master key used to encrypt
	// AI provider API keys at rest.
	CredentialKey string
	LogFile       string
	LogLevel      string
	Production    bool

	// Daily limits used to seed the runtime settings store on first boot;
	// admin edits in the settings API take precedence afterwards.
	GuestDailyLimit int
	UserDailyLimit  int
}

func Load() *Config {
	return &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", "toolhub.db"),
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		CredentialKey:   getEnv("CREDENTIAL_KEY", ""),
		LogFile:         getEnv("LOG_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Production:      getEnv("APP_ENV", "development") == "production",
		GuestDailyLimit: getEnvInt("GUEST_DAILY_LIMIT", 10),
		UserDailyLimit:  getEnvInt("USER_DAILY_LIMIT", 50),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
