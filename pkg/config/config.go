package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	JWTSecret       string
	CORSOrigins     string
	MaxUploadSize   int64
	FileStoragePath string
	RedisAddr       string
	PresenceTTL     int
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

// Load reads configuration from the environment. An env file named by
// GOFTAR_ENV_FILE (or ./.env) is loaded first; real environment variables
// always win over file values.
func Load() *Config {
	if path, exists := os.LookupEnv("GOFTAR_ENV_FILE"); exists && path != "" {
		_ = godotenv.Load(path)
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/goftar.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:   parseInt64(getEnv("MAX_UPLOAD_SIZE", "10485760")), // 10MB default
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		RedisAddr:       getEnv("REDIS_ADDR", ""), // empty disables the presence mirror
		PresenceTTL:     parseInt(getEnv("PRESENCE_TTL_SECONDS", "60")),
		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 10485760 // 10MB default
	}
	return val
}

func parseInt(s string) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 60
	}
	return val
}
