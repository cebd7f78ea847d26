package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Socket    SocketConfig
	Storage   StorageConfig
	Reconnect ReconnectConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type SocketConfig struct {
	URL          string
	WriteTimeout time.Duration
	PongTimeout  time.Duration
}

type StorageConfig struct {
	Path string
}

type ReconnectConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	return &Config{
		API: APIConfig{
			BaseURL: getEnvOrDefault("API_BASE_URL", "http://localhost:3000"),
			Timeout: getDurationOrDefault("REQUEST_TIMEOUT", "10s"),
		},
		Socket: SocketConfig{
			URL:          getEnvOrDefault("SOCKET_URL", "ws://localhost:3000/ws"),
			WriteTimeout: getDurationOrDefault("SOCKET_WRITE_TIMEOUT", "10s"),
			PongTimeout:  getDurationOrDefault("SOCKET_PONG_TIMEOUT", "60s"),
		},
		Storage: StorageConfig{
			Path: getEnvOrDefault("STATE_DB_PATH", defaultStatePath()),
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: getIntOrDefault("RECONNECT_MAX_ATTEMPTS", 10),
			BaseDelay:   getDurationOrDefault("RECONNECT_BASE_DELAY", "1s"),
			MaxDelay:    getDurationOrDefault("RECONNECT_MAX_DELAY", "30s"),
		},
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatcord.db"
	}
	return filepath.Join(home, ".config", "chatcord", "state.db")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
