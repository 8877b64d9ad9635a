package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/blobstore"
	"github.com/yungbote/mnemosyne-backend/internal/config"
	"github.com/yungbote/mnemosyne-backend/internal/embedder"
	"github.com/yungbote/mnemosyne-backend/internal/handlers"
	"github.com/yungbote/mnemosyne-backend/internal/journal"
	"github.com/yungbote/mnemosyne-backend/internal/journalblob"
	"github.com/yungbote/mnemosyne-backend/internal/library"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/queue"
	"github.com/yungbote/mnemosyne-backend/internal/sessionstore"
	"github.com/yungbote/mnemosyne-backend/internal/vectorstore"
)

func main() {
	cfg := config.Load()

	// Logger
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Storage
	log.Info("Setting up stores from worker main...")
	blobs, err := blobstore.New(cfg.BlobStoragePath, log)
	if err != nil {
		log.Fatal("Blob store init failed", "error", err)
	}
	exports, err := journalblob.New(cfg.JournalBlobStoragePath, log)
	if err != nil {
		log.Fatal("Journal blob store init failed", "error", err)
	}
	sessions, err := sessionstore.New(cfg.SessionDBPath, log)
	if err != nil {
		log.Fatal("Session store init failed", "error", err)
	}

	// Vector store
	vectors, err := vectorstore.New(cfg.StorageUsePersistent, cfg.QdrantHost, cfg.QdrantPort, log)
	if err != nil {
		log.Fatal("Vector store init failed", "error", err)
	}
	log.Info("Vector store ready", "mode", vectors.Mode())

	// Embedders
	libraryEmbed, err := embedder.NewOpenAI(embedder.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.LibraryEmbedModel,
		Dim:     cfg.LibraryEmbeddingDim,
		Timeout: time.Duration(cfg.EmbeddingTimeoutSecs) * time.Second,
	}, log)
	if err != nil {
		log.Fatal("Library embedder init failed", "error", err)
	}
	journalEmbed, err := embedder.NewOpenAI(embedder.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.JournalEmbedModel,
		Dim:     cfg.JournalEmbeddingDim,
		Timeout: time.Duration(cfg.EmbeddingTimeoutSecs) * time.Second,
	}, log)
	if err != nil {
		log.Fatal("Journal embedder init failed", "error", err)
	}

	// Services
	libraryService := library.New(library.Config{
		CollectionName: cfg.LibraryCollectionName,
		ChunkSize:      cfg.LibraryChunkSize,
		ChunkOverlap:   cfg.LibraryChunkOverlap,
	}, blobs, vectors, libraryEmbed, log)
	journalService := journal.New(journal.Config{
		CollectionName: cfg.JournalCollectionName,
		ChunkSize:      cfg.JournalChunkSize,
		ChunkOverlap:   cfg.JournalChunkOverlap,
	}, sessions, exports, vectors, journalEmbed, log)

	// Queue + registry
	jobs := queue.NewClient(cfg.RedisHost, cfg.RedisPort, log)
	if err := jobs.Ping(context.Background()); err != nil {
		log.Fatal("Redis unreachable", "error", err)
	}

	registry := queue.NewRegistry()
	mustRegister(log, registry, handlers.JobProcessDocument, func(ctx context.Context, args map[string]any) error {
		blobID, ok := args["blob_id"].(string)
		if !ok || blobID == "" {
			return apperr.Validation(handlers.JobProcessDocument, "blob_id argument is required")
		}
		var metadata map[string]any
		if m, ok := args["metadata"].(map[string]any); ok {
			metadata = m
		}
		_, err := libraryService.IngestBlob(ctx, blobID, metadata)
		return err
	})
	mustRegister(log, registry, handlers.JobIngestSession, func(ctx context.Context, args map[string]any) error {
		sessionID, ok := args["session_id"].(string)
		if !ok || sessionID == "" {
			return apperr.Validation(handlers.JobIngestSession, "session_id argument is required")
		}
		_, err := journalService.IngestSession(ctx, sessionID)
		return err
	})

	// Worker pool
	worker := queue.NewWorker(jobs, registry, cfg.WorkerMaxConcurrentJobs, cfg.WorkerJobTimeout, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	worker.Run(ctx)
}

func mustRegister(log *logger.Logger, registry *queue.Registry, function string, handler queue.HandlerFunc) {
	if err := registry.Register(function, handler); err != nil {
		log.Fatal("Job registration failed", "function", function, "error", err)
	}
}
