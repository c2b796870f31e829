package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKeys   []string
	GenerationModel string
	EmbeddingModel  string
	TitleModel      string
	ChunkSize       int
	ChunkOverlap    int
	RetrievalTopK   int
	DatabaseURL     string
	VectorDir       string
	HTTPPort        string
	LogLevel        string
	JWTSecret       string
	WebSearch       bool
}

// Load reads configuration from a .env file (if present) and the
// environment. An empty GEMINI_API_KEYS list or a missing JWT_SECRET is an
// unrecoverable startup error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		GeminiAPIKeys:   splitKeys(getEnv("GEMINI_API_KEYS", "")),
		GenerationModel: getEnv("GENERATION_MODEL", "gemini-2.5-flash-lite"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		TitleModel:      getEnv("TITLE_MODEL", "gemini-2.5-flash-lite"),
		ChunkSize:       getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:    getEnvAsInt("CHUNK_OVERLAP", 200),
		RetrievalTopK:   getEnvAsInt("RETRIEVAL_TOP_K", 4),
		DatabaseURL:     getEnv("DATABASE_URL", "gemini_chatbot.db"),
		VectorDir:       getEnv("VECTOR_DIR", "vectorstores"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		WebSearch:       getEnvAsBool("WEB_SEARCH", true),
	}

	if len(cfg.GeminiAPIKeys) == 0 {
		return nil, fmt.Errorf("GEMINI_API_KEYS environment variable is required (comma-separated list)")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool understands strconv.ParseBool's vocabulary plus the on/off
// and yes/no forms operators tend to write.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	switch strings.ToLower(strings.TrimSpace(valueStr)) {
	case "on", "yes":
		return true
	case "off", "no":
		return false
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
