package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingRequired は必須設定が欠けている場合のエラー
var ErrMissingRequired = errors.New("required configuration is missing")

// VectorStore の種別
const (
	VectorStoreSQLite   = "sqlite"
	VectorStorePGVector = "pgvector"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// 文書・インデックスの保存先（いずれも必須）
	DocumentsPath   string
	VectorIndexPath string

	// ベクトルストア種別 ("sqlite" or "pgvector")
	VectorStore string

	// Database設定（pgvector 使用時のみ）
	Database DatabaseConfig

	// OpenAI設定（Embeddings + LLM）
	OpenAI OpenAIConfig

	// 取り込みジョブ設定
	Ingest IngestConfig

	// HTTP設定
	HTTP HTTPConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey                  string
	BaseURL                 string // OpenAI 互換エンドポイントを使う場合に指定
	EmbeddingModel          string
	EmbeddingDimension      int
	EmbeddingRequestsPerSec float64
	LLMModel                string
	LLMTemperature          float64
	Timeout                 time.Duration
}

// IngestConfig は取り込みジョブの設定
type IngestConfig struct {
	Workers           int
	MaxAttempts       int
	Timeout           time.Duration
	QueueSize         int
	TaskStorePath     string // 空の場合はメモリ上に保持
	TaskStoreCapacity int
	ChunkSize         int
	ChunkOverlap      int
}

// HTTPConfig はHTTPサーバ設定
type HTTPConfig struct {
	Port         int
	AllowOrigins []string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		DocumentsPath:   getEnv("DOCUMENTS_PATH", ""),
		VectorIndexPath: getEnv("VECTOR_INDEX_PATH", ""),
		VectorStore:     strings.ToLower(getEnv("VECTOR_STORE", VectorStoreSQLite)),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docqa"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docqa"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:                  getEnv("OPENAI_API_KEY", ""),
			BaseURL:                 getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:          getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension:      getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			EmbeddingRequestsPerSec: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 5),
			LLMModel:                getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			LLMTemperature:          getEnvAsFloat("OPENAI_LLM_TEMPERATURE", 0.7),
			Timeout:                 getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Ingest: IngestConfig{
			Workers:           getEnvAsInt("INGEST_WORKERS", 1),
			MaxAttempts:       getEnvAsInt("INGEST_MAX_ATTEMPTS", 1),
			Timeout:           getEnvAsDuration("INGEST_TIMEOUT", 30*time.Minute),
			QueueSize:         getEnvAsInt("INGEST_QUEUE_SIZE", 100),
			TaskStorePath:     getEnv("TASK_STORE_PATH", ""),
			TaskStoreCapacity: getEnvAsInt("TASK_STORE_CAPACITY", 1000),
			ChunkSize:         getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap:      getEnvAsInt("CHUNK_OVERLAP", 200),
		},
		HTTP: HTTPConfig{
			Port:         getEnvAsInt("PORT", 8000),
			AllowOrigins: getEnvAsList("CORS_ALLOW_ORIGINS", []string{"http://localhost:8501", "http://127.0.0.1:8501"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は必須項目と値の範囲を検証します
func (c *Config) Validate() error {
	var missing []string
	if c.DocumentsPath == "" {
		missing = append(missing, "DOCUMENTS_PATH")
	}
	if c.VectorIndexPath == "" {
		missing = append(missing, "VECTOR_INDEX_PATH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	switch c.VectorStore {
	case VectorStoreSQLite, VectorStorePGVector:
	default:
		return fmt.Errorf("unknown VECTOR_STORE: %q", c.VectorStore)
	}

	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Ingest.Workers < 1 {
		c.Ingest.Workers = 1
	}
	if c.Ingest.MaxAttempts < 1 {
		c.Ingest.MaxAttempts = 1
	}
	return nil
}

// RequireOpenAI はプロバイダ呼び出しに必要なAPIキーを検証します
func (c *Config) RequireOpenAI() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
