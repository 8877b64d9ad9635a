package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/blobstore"
	"github.com/yungbote/mnemosyne-backend/internal/chat"
	"github.com/yungbote/mnemosyne-backend/internal/config"
	"github.com/yungbote/mnemosyne-backend/internal/embedder"
	"github.com/yungbote/mnemosyne-backend/internal/handlers"
	"github.com/yungbote/mnemosyne-backend/internal/journal"
	"github.com/yungbote/mnemosyne-backend/internal/journalblob"
	"github.com/yungbote/mnemosyne-backend/internal/library"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/queue"
	"github.com/yungbote/mnemosyne-backend/internal/server"
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
	log.Info("Setting up stores from main...")
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

	// Queue
	jobs := queue.NewClient(cfg.RedisHost, cfg.RedisPort, log)
	if err := jobs.Ping(context.Background()); err != nil {
		log.Fatal("Redis unreachable", "error", err)
	}

	// Services
	log.Info("Setting up services from main...")
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
	chatService := chat.New(cfg, libraryService, journalService, log)

	if err := libraryService.EnsureCollection(context.Background()); err != nil {
		log.Fatal("Library collection setup failed", "error", err)
	}
	if err := journalService.EnsureCollection(context.Background()); err != nil {
		log.Fatal("Journal collection setup failed", "error", err)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	documentHandler := handlers.NewDocumentHandler(blobs, libraryService, jobs, log)
	sessionHandler := handlers.NewSessionHandler(sessions, journalService, jobs, log)
	chatHandler := handlers.NewChatHandler(chatService, log)

	// Router
	router := server.NewRouter(server.RouterConfig{
		DocumentHandler: documentHandler,
		SessionHandler:  sessionHandler,
		ChatHandler:     chatHandler,
	})

	log.Info("Server listening", "addr", cfg.HTTPAddr)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
