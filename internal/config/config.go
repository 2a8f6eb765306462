package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Policies PolicyConfig
	RAG      RAGConfig
	LLM      LLMConfig
	Events   EventsConfig
	Ops      OpsConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	ShadowLogPath      string
	CorsAllowedOrigins string
	BuildID            string
}

type DatabaseConfig struct {
	// Connection is the read-only DSN of the tabular store.
	Connection       string
	StatementTimeout time.Duration
	// AnalyticsConnection is optional; empty disables event persistence.
	AnalyticsConnection string
	MaxOpenConns        int
}

type CacheConfig struct {
	// RedisURL empty selects the in-process backend.
	RedisURL string
}

type PolicyConfig struct {
	DataDir string
	Watch   bool
}

type RAGConfig struct {
	VectorStoreURL      string
	EmbeddingProvider   string // "ollama", "gemini" or "jina"
	EmbeddingServiceURL string // empty selects the provider's default endpoint
	EmbeddingModel      string
	EmbeddingAPIKey     string
}

type LLMConfig struct {
	Provider string // "ollama", "openai" or "none"
	BaseURL  string
	Model    string
	APIKey   string
}

type EventsConfig struct {
	NatsURL        string
	AnalyticsTopic string
}

type OpsConfig struct {
	Token        string
	OtelEnabled  bool
	OtelEndpoint string
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "8000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/araquem.log"),
			ShadowLogPath:      getEnv("SHADOW_LOG_PATH", "logs/narrator_shadow.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			BuildID:            getEnv("BUILD_ID", "dev"),
		},
		Database: DatabaseConfig{
			Connection:          getEnv("DATABASE_URL", ""),
			StatementTimeout:    getEnvAsDuration("DB_STATEMENT_TIMEOUT", 15*time.Second),
			AnalyticsConnection: getEnv("ANALYTICS_DATABASE_URL", ""),
			MaxOpenConns:        getEnvAsInt("ANALYTICS_DB_MAX_OPEN_CONNS", 5),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Policies: PolicyConfig{
			DataDir: getEnv("DATA_DIR", "data"),
			Watch:   getEnvAsBool("POLICY_WATCH", true),
		},
		RAG: RAGConfig{
			VectorStoreURL:      getEnv("VECTOR_STORE_URL", "file://data/embeddings/store.jsonl"),
			EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingServiceURL: getEnv("EMBEDDING_SERVICE_URL", ""),
			EmbeddingModel:      getEnv("EMBEDDING_MODEL", ""),
			EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", ""),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", "ollama"),
			BaseURL:  getEnv("LLM_BASE_URL", "http://localhost:11434"),
			Model:    getEnv("LLM_MODEL", "llama3"),
			APIKey:   getEnv("LLM_API_KEY", ""),
		},
		Events: EventsConfig{
			NatsURL:        getEnv("NATS_URL", ""),
			AnalyticsTopic: getEnv("ANALYTICS_TOPIC", "araquem.analytics"),
		},
		Ops: OpsConfig{
			Token:        getEnv("OPS_TOKEN", ""),
			OtelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
			OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}
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

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
