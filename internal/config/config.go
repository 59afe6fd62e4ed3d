// Package config resolves runtime configuration for the verification
// pipeline from a .env file (if present) and the process environment.
//
// Every setting has a default so that a bare environment still yields a
// working pipeline: retrieval falls back to a local SQLite index, job state
// to an in-process store, and the translation stage to Gemini when no Groq
// key is configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// RAG backend names accepted in RAG_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPgvector = "pgvector"
	BackendDataAPI  = "dataapi"
)

// Embedding providers accepted in RAG_EMBEDDER.
const (
	EmbedderGemini  = "gemini"
	EmbedderBedrock = "bedrock"
)

// Job store names accepted in JOB_STORE.
const (
	JobStoreMemory = "memory"
	JobStoreDynamo = "dynamo"
	JobStoreRedis  = "redis"
)

// Config is the fully resolved configuration.
type Config struct {
	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string

	// SSM parameter paths consulted when the matching key is not in the environment.
	GeminiKeyParam string
	GroqKeyParam   string

	RAG      RAGConfig
	Database DatabaseConfig
	Jobs     JobsConfig
	AWS      AWSConfig
	Retry    RetryConfig

	ConcurrentVisual bool
	UploadFolder     string
	HTTPAddr         string
	// OriginVerifySecret, when set, must arrive in the x-origin-verify header.
	OriginVerifySecret string
}

// RAGConfig configures the case retrieval index.
type RAGConfig struct {
	Enabled          bool
	TopK             int
	Collection       string
	Backend          string
	Path             string // sqlite file path
	DSN              string // postgres DSN for pgvector
	ClusterARN       string // Aurora cluster for the Data API backend
	SecretARN        string
	Database         string
	FilterByDistrict bool
	Embedder         string // gemini or bedrock
	BedrockModel     string
	EmbedDimensions  int // bedrock only
}

// DatabaseConfig addresses the MySQL database holding verification records.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Enabled reports whether enough is configured to open the records database.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" && d.Name != ""
}

// JobsConfig selects where submission locks and job state live.
type JobsConfig struct {
	Store    string
	Table    string // DynamoDB table
	RedisURL string
}

// AWSConfig holds AWS resource names.
type AWSConfig struct {
	Region          string
	Bucket          string
	EventBus        string
	WorkerLambdaARN string
}

// RetryConfig bounds retries of transient model errors.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// Load reads .env (ignored when absent) and resolves the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}
	return FromEnv()
}

// FromEnv resolves the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		EmbeddingModel: envOr("GEMINI_EMBED_MODEL", "text-embedding-004"),

		GroqAPIKey:  os.Getenv("GROQ_API_KEY"),
		GroqBaseURL: envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1/"),
		GroqModel:   envOr("GROQ_MODEL", "llama-3.3-70b-versatile"),

		GeminiKeyParam: os.Getenv("SSM_GEMINI_KEY_PARAM"),
		GroqKeyParam:   os.Getenv("SSM_GROQ_KEY_PARAM"),

		RAG: RAGConfig{
			Enabled:          envBool("RAG_ENABLED", true),
			TopK:             envInt("RAG_TOP_K", 5),
			Collection:       envOr("RAG_COLLECTION_NAME", "student_cases"),
			Backend:          strings.ToLower(envOr("RAG_BACKEND", BackendSQLite)),
			Path:             envOr("RAG_DB_PATH", "./rag_db/cases.db"),
			DSN:              os.Getenv("RAG_DSN"),
			ClusterARN:       os.Getenv("RAG_CLUSTER_ARN"),
			SecretARN:        os.Getenv("RAG_SECRET_ARN"),
			Database:         envOr("RAG_DATABASE", "verification"),
			FilterByDistrict: envBool("RAG_FILTER_BY_DISTRICT", false),
			Embedder:         strings.ToLower(envOr("RAG_EMBEDDER", EmbedderGemini)),
			BedrockModel:     envOr("RAG_BEDROCK_MODEL", "amazon.titan-embed-text-v2:0"),
			EmbedDimensions:  envInt("RAG_EMBED_DIMENSIONS", 1024),
		},

		Database: DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     envInt("DB_PORT", 3306),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
		},

		Jobs: JobsConfig{
			Store:    strings.ToLower(envOr("JOB_STORE", JobStoreMemory)),
			Table:    os.Getenv("JOBS_TABLE_NAME"),
			RedisURL: os.Getenv("REDIS_URL"),
		},

		AWS: AWSConfig{
			Region:          os.Getenv("AWS_REGION"),
			Bucket:          os.Getenv("AWS_BUCKET"),
			EventBus:        os.Getenv("EVENT_BUS_NAME"),
			WorkerLambdaARN: os.Getenv("WORKER_LAMBDA_ARN"),
		},

		Retry: RetryConfig{
			Attempts:  envInt("GEMINI_RETRY_ATTEMPTS", 3),
			BaseDelay: envDuration("GEMINI_RETRY_BASE_DELAY", 2*time.Second),
		},

		ConcurrentVisual:   envBool("PIPELINE_CONCURRENT_VISUAL", false),
		UploadFolder:       envOr("UPLOAD_FOLDER", os.TempDir()),
		HTTPAddr:           envOr("PV_HTTP_ADDR", ":8080"),
		OriginVerifySecret: os.Getenv("ORIGIN_VERIFY_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	switch c.RAG.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPgvector:
		if c.RAG.Enabled && c.RAG.DSN == "" {
			return fmt.Errorf("RAG_BACKEND=pgvector requires RAG_DSN")
		}
	case BackendDataAPI:
		if c.RAG.Enabled && (c.RAG.ClusterARN == "" || c.RAG.SecretARN == "") {
			return fmt.Errorf("RAG_BACKEND=dataapi requires RAG_CLUSTER_ARN and RAG_SECRET_ARN")
		}
	default:
		return fmt.Errorf("unknown RAG_BACKEND %q", c.RAG.Backend)
	}

	switch c.RAG.Embedder {
	case EmbedderGemini, EmbedderBedrock:
	default:
		return fmt.Errorf("unknown RAG_EMBEDDER %q", c.RAG.Embedder)
	}

	switch c.Jobs.Store {
	case JobStoreMemory:
		// The worker Lambda runs in another process and cannot see this store.
		if c.AWS.WorkerLambdaARN != "" {
			return fmt.Errorf("WORKER_LAMBDA_ARN requires a shared JOB_STORE (dynamo or redis), got memory")
		}
	case JobStoreDynamo:
		if c.Jobs.Table == "" {
			return fmt.Errorf("JOB_STORE=dynamo requires JOBS_TABLE_NAME")
		}
	case JobStoreRedis:
		if c.Jobs.RedisURL == "" {
			return fmt.Errorf("JOB_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.Jobs.Store)
	}

	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 5
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 1
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean, using default")
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return def
	}
	return d
}
