package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the full typed configuration surface of the core. Every
// option is resolved once at startup; components receive the struct (or a
// slice of it) explicitly and never read the environment themselves.
type AppConfig struct {
	LogMode   string
	LogOutput bool // verbose retrieval logging

	HTTPAddr string

	// C1 / C3 storage roots.
	BlobStoragePath        string
	JournalBlobStoragePath string

	// C2 relational store.
	SessionDBPath string

	// Vector collections.
	LibraryCollectionName string
	JournalCollectionName string

	// Chunker parameters (W, O) per collection.
	LibraryChunkSize    int
	LibraryChunkOverlap int
	JournalChunkSize    int
	JournalChunkOverlap int

	// Context assembler flags and cutoffs.
	ChatContextEnabled             bool
	ChatLibraryEnabled             bool
	ChatJournalEnabled             bool
	ChatLibraryTopK                int
	ChatJournalTopK                int
	ChatLibrarySimilarityThreshold float64
	ChatJournalSimilarityThreshold float64
	ChatLibraryUseCache            bool

	// Vector store mode.
	StorageUsePersistent bool
	QdrantHost           string
	QdrantPort           int

	// Job queue.
	RedisHost               string
	RedisPort               int
	WorkerJobTimeout        time.Duration
	WorkerMaxConcurrentJobs int

	// Embedding backends, one per role.
	EmbeddingBaseURL     string
	EmbeddingAPIKey      string
	LibraryEmbedModel    string
	LibraryEmbeddingDim  int
	JournalEmbedModel    string
	JournalEmbeddingDim  int
	EmbeddingTimeoutSecs int
}

// Load resolves AppConfig from the environment with defaults suitable for
// a local single-user deployment.
func Load() AppConfig {
	cfg := AppConfig{
		LogMode:   getEnv("LOG_MODE", "development"),
		LogOutput: getEnvBool("LOG_OUTPUT", false),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		BlobStoragePath:        getEnv("BLOB_STORAGE_PATH", "./data/preindex_blob"),
		JournalBlobStoragePath: getEnv("JOURNAL_BLOB_STORAGE_PATH", "./data/journal_blob"),
		SessionDBPath:          getEnv("SESSION_DB_PATH", "./data/sessions.db"),

		LibraryCollectionName: getEnv("LIBRARY_COLLECTION_NAME", "library_docs"),
		JournalCollectionName: getEnv("JOURNAL_COLLECTION_NAME", "journal_sessions"),

		LibraryChunkSize:    getEnvInt("LIBRARY_CHUNK_SIZE", 1000),
		LibraryChunkOverlap: getEnvInt("LIBRARY_CHUNK_OVERLAP", 100),
		JournalChunkSize:    getEnvInt("JOURNAL_CHUNK_SIZE", 1500),
		JournalChunkOverlap: getEnvInt("JOURNAL_CHUNK_OVERLAP", 150),

		ChatContextEnabled:             getEnvBool("CHAT_CONTEXT_ENABLED", true),
		ChatLibraryEnabled:             getEnvBool("CHAT_LIBRARY_ENABLED", true),
		ChatJournalEnabled:             getEnvBool("CHAT_JOURNAL_ENABLED", true),
		ChatLibraryTopK:                getEnvInt("CHAT_LIBRARY_TOP_K", 3),
		ChatJournalTopK:                getEnvInt("CHAT_JOURNAL_TOP_K", 5),
		ChatLibrarySimilarityThreshold: getEnvFloat("CHAT_LIBRARY_SIMILARITY_THRESHOLD", 0.4),
		ChatLibraryUseCache:            getEnvBool("CHAT_LIBRARY_USE_CACHE", true),

		StorageUsePersistent: getEnvBool("STORAGE_USE_PERSISTENT", false),
		QdrantHost:           getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:           getEnvInt("QDRANT_PORT", 6333),

		RedisHost:               getEnv("REDIS_HOST", "localhost"),
		RedisPort:               getEnvInt("REDIS_PORT", 6379),
		WorkerJobTimeout:        time.Duration(getEnvInt("WORKER_JOB_TIMEOUT", 300)) * time.Second,
		WorkerMaxConcurrentJobs: getEnvInt("WORKER_MAX_CONCURRENT_JOBS", 4),

		EmbeddingBaseURL:     getEnv("EMBEDDING_BASE_URL", "https://api.openai.com"),
		EmbeddingAPIKey:      getEnv("EMBEDDING_API_KEY", ""),
		LibraryEmbedModel:    getEnv("LIBRARY_EMBED_MODEL", "text-embedding-3-small"),
		LibraryEmbeddingDim:  getEnvInt("LIBRARY_EMBEDDING_DIM", 1536),
		JournalEmbedModel:    getEnv("JOURNAL_EMBED_MODEL", "text-embedding-3-small"),
		JournalEmbeddingDim:  getEnvInt("JOURNAL_EMBEDDING_DIM", 1536),
		EmbeddingTimeoutSecs: getEnvInt("EMBEDDING_TIMEOUT_SECONDS", 60),
	}

	// The journal path reuses the library threshold unless set explicitly.
	cfg.ChatJournalSimilarityThreshold = getEnvFloat(
		"CHAT_JOURNAL_SIMILARITY_THRESHOLD",
		cfg.ChatLibrarySimilarityThreshold,
	)
	return cfg
}

func getEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
