package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/blobstore"
	"github.com/yungbote/mnemosyne-backend/internal/docparse"
	"github.com/yungbote/mnemosyne-backend/internal/embedder"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/textproc"
	"github.com/yungbote/mnemosyne-backend/internal/vectorstore"
)

// Config holds the Library collection parameters.
type Config struct {
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int
}

// Service owns the document side of retrieval: blob ingestion into the
// Library collection plus similarity search over it.
type Service struct {
	log     *logger.Logger
	cfg     Config
	blobs   *blobstore.Store
	vectors vectorstore.Store
	embed   embedder.Embedder
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	BlobID           string `json:"blob_id"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
	PageCount        int    `json:"page_count,omitempty"`
	ChunksCreated    int    `json:"chunks_created"`
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

func New(cfg Config, blobs *blobstore.Store, vectors vectorstore.Store, embed embedder.Embedder, baseLog *logger.Logger) *Service {
	return &Service{
		log:     baseLog.With("component", "LibraryService"),
		cfg:     cfg,
		blobs:   blobs,
		vectors: vectors,
		embed:   embed,
	}
}

// EnsureCollection creates the Library collection if missing.
func (s *Service) EnsureCollection(ctx context.Context) error {
	return s.vectors.SetupCollection(ctx, s.cfg.CollectionName, s.embed.Dim())
}

// IngestBlob runs the full pipeline for one stored blob: parse, clean,
// chunk, embed, then replace any previous vectors for the same blob_id
// before upserting fresh ones. The replace step makes re-runs converge on
// a single copy, so the job is safe to retry.
func (s *Service) IngestBlob(ctx context.Context, blobID string, metadata map[string]any) (*IngestResult, error) {
	const op = "library_ingest"
	log := s.log.With("blob_id", blobID)

	path, err := s.blobs.Get(blobID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Permanent: retrying cannot make the blob appear.
			return nil, apperr.NotFound(op, fmt.Sprintf("blob %s does not exist", blobID))
		}
		return nil, err
	}
	info, err := s.blobs.GetInfo(blobID)
	if err != nil {
		return nil, err
	}

	parsed, err := docparse.Parse(path)
	if err != nil {
		return nil, err
	}

	text := textproc.Preprocess(parsed.Text)
	if text == "" {
		return nil, apperr.New(apperr.CodeParseFailure, op,
			fmt.Sprintf("blob %s (%s) contains no extractable text", blobID, info.OriginalFilename), nil)
	}

	chunks := textproc.Chunk(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.CodeParseFailure, op,
			fmt.Sprintf("blob %s produced no chunks", blobID), nil)
	}
	log.Info("document chunked", "filename", info.OriginalFilename, "chunks", len(chunks))

	vectors, err := s.embed.Encode(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	// Clear previous vectors for this blob so re-ingestion replaces
	// rather than duplicates.
	if err := s.vectors.DeleteByFilter(ctx, s.cfg.CollectionName, map[string]any{"blob_id": blobID}); err != nil {
		return nil, err
	}

	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			"text":              chunk,
			"doc_id":            i,
			"chunk_id":          i,
			"blob_id":           blobID,
			"original_filename": info.OriginalFilename,
			"ingested_at":       ingestedAt,
		}
		for k, v := range metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
		points = append(points, vectorstore.Point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	stored, err := s.vectors.AddPoints(ctx, s.cfg.CollectionName, points)
	if err != nil {
		return nil, err
	}
	log.Info("document ingested", "filename", info.OriginalFilename, "chunks_stored", stored)

	return &IngestResult{
		BlobID:           blobID,
		OriginalFilename: info.OriginalFilename,
		FileType:         parsed.FileType,
		PageCount:        parsed.PageCount,
		ChunksCreated:    stored,
	}, nil
}

// GetContextForChat embeds the query and returns chunks whose similarity
// meets the threshold, best first.
func (s *Service) GetContextForChat(ctx context.Context, query string, topK int, threshold float64) ([]Result, error) {
	const op = "library_search"
	if query == "" {
		return nil, apperr.Validation(op, "query is required")
	}
	if topK <= 0 {
		topK = 3
	}

	vectors, err := s.embed.Encode(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.QueryPoints(ctx, s.cfg.CollectionName, vectors[0], nil, topK)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		out = append(out, Result{Text: hit.Text, Score: hit.Score})
	}
	return out, nil
}

// DeleteBlob removes a document everywhere: its Library vectors first,
// then the stored blob.
func (s *Service) DeleteBlob(ctx context.Context, blobID string) (bool, error) {
	if err := s.vectors.DeleteByFilter(ctx, s.cfg.CollectionName, map[string]any{"blob_id": blobID}); err != nil {
		var opErr *vectorstore.OperationError
		if !errors.As(err, &opErr) || opErr.Code != vectorstore.OperationErrorNotFound {
			return false, err
		}
	}
	return s.blobs.Delete(blobID)
}

// BlobChunkCount reports how many Library vectors exist for a blob.
func (s *Service) BlobChunkCount(ctx context.Context, blobID string) (int, error) {
	count, err := s.vectors.Count(ctx, s.cfg.CollectionName, map[string]any{"blob_id": blobID})
	if err != nil {
		var opErr *vectorstore.OperationError
		if errors.As(err, &opErr) && opErr.Code == vectorstore.OperationErrorNotFound {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}
