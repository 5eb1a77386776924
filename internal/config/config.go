package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	JWTSecret        string
	MongoURI         string
	DBName           string
	SkipAuth         bool
	Environment      string
	AppId            string
	GridColumns      int // Fixed column count for every layout grid
	SaveDebounceMS   int // Coalescing window for debounced region commits
	HeartbeatSeconds int // Tenant-wide liveness broadcast interval
	VersionRetention int // Unlabeled versions kept per layout before pruning
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:           getEnv("DB_NAME", "go-gridboard"),
		SkipAuth:         getEnv("SKIP_AUTH", "false") == "true",
		Environment:      getEnv("ENVIRONMENT", "development"),
		AppId:            getEnv("APP_ID", "go-gridboard"),
		GridColumns:      getEnvInt("GRID_COLUMNS", 12),
		SaveDebounceMS:   getEnvInt("SAVE_DEBOUNCE_MS", 500),
		HeartbeatSeconds: getEnvInt("HEARTBEAT_SECONDS", 30),
		VersionRetention: getEnvInt("VERSION_RETENTION", 50),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid integer for %s, using default %d", key, fallback)
	}
	return fallback
}
