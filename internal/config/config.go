package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the client core.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Environment string
	// UID is the signed-in identity; when empty it is derived from the
	// token's subject claim.
	UID       string
	API       APIConfig
	Transport TransportConfig
	Store     StoreConfig
	Redis     RedisConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
}

type TransportConfig struct {
	WsURL string
}

type StoreConfig struct {
	// DataDir is the directory holding the per-identity pebble databases.
	DataDir string
}

type RedisConfig struct {
	// Addr is optional; an empty addr disables the shared directory cache.
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables, loading a .env
// file first when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		UID:         getEnv("GLIDE_UID", ""),
		API: APIConfig{
			BaseURL: getEnv("GLIDE_API_BASE_URL", "http://localhost:8081/api"),
			Token:   getEnv("GLIDE_TOKEN", ""),
		},
		Transport: TransportConfig{
			WsURL: getEnv("GLIDE_WS_URL", "ws://localhost:8080/ws"),
		},
		Store: StoreConfig{
			DataDir: getEnv("GLIDE_DATA_DIR", "./data"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
