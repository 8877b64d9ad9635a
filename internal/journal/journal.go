package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/embedder"
	"github.com/yungbote/mnemosyne-backend/internal/journalblob"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/sessionstore"
	"github.com/yungbote/mnemosyne-backend/internal/textproc"
	"github.com/yungbote/mnemosyne-backend/internal/vectorstore"
)

// Config holds the Journal collection parameters. Chunk windows are
// typically larger than the Library's because dialogue is denser.
type Config struct {
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int
}

// Service owns the conversation-history side of retrieval: exporting
// sessions, chunking them into the Journal collection, and searching it.
type Service struct {
	log      *logger.Logger
	cfg      Config
	sessions *sessionstore.Store
	exports  *journalblob.Store
	vectors  vectorstore.Store
	embed    embedder.Embedder
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Entry is the richer legacy shape for callers that need role and
// timestamp fields alongside the text.
type Entry struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	SessionID string  `json:"session_id"`
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
}

// IngestionStatus describes where a session stands relative to the
// Journal collection.
type IngestionStatus struct {
	Exists         bool       `json:"exists"`
	SessionID      string     `json:"session_id,omitempty"`
	Ingested       bool       `json:"ingested"`
	IngestedAt     *time.Time `json:"ingested_at,omitempty"`
	HasNewMessages bool       `json:"has_new_messages"`
	ChunkCount     int        `json:"chunk_count"`
	HasBlob        bool       `json:"has_blob"`
	MessageCount   int        `json:"message_count"`
}

func New(cfg Config, sessions *sessionstore.Store, exports *journalblob.Store, vectors vectorstore.Store, embed embedder.Embedder, baseLog *logger.Logger) *Service {
	return &Service{
		log:      baseLog.With("component", "JournalService"),
		cfg:      cfg,
		sessions: sessions,
		exports:  exports,
		vectors:  vectors,
		embed:    embed,
	}
}

func (s *Service) EnsureCollection(ctx context.Context) error {
	return s.vectors.SetupCollection(ctx, s.cfg.CollectionName, s.embed.Dim())
}

// IngestSession rebuilds the Journal vectors for one session. The
// watermark (ingested_at) is set only after the upsert succeeds, so a
// failure partway through leaves the session stale and the next run is a
// complete retry.
func (s *Service) IngestSession(ctx context.Context, sessionID string) (int, error) {
	const op = "journal_ingest"
	log := s.log.With("session_id", sessionID)

	data, err := s.sessions.GetSessionWithMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(data.Messages) == 0 {
		return 0, apperr.Validation(op, fmt.Sprintf("session %s has no messages", sessionID))
	}

	if _, err := s.exports.ExportSession(sessionID, data); err != nil {
		return 0, err
	}

	if err := s.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	if err := s.vectors.DeleteByFilter(ctx, s.cfg.CollectionName, map[string]any{"session_id": sessionID}); err != nil {
		return 0, err
	}

	text := journalblob.FormatConversation(data.Name, data.Messages)
	chunks := textproc.Chunk(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, apperr.Validation(op, fmt.Sprintf("session %s produced no chunks", sessionID))
	}
	log.Info("session chunked", "messages", len(data.Messages), "chunks", len(chunks))

	vectors, err := s.embed.Encode(ctx, chunks)
	if err != nil {
		return 0, err
	}

	ingestedAt := time.Now().UTC()
	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]any{
			"text":          chunk,
			"session_id":    sessionID,
			"chunk_index":   i,
			"total_chunks":  len(chunks),
			"message_count": len(data.Messages),
			"ingested_at":   ingestedAt.Format(time.RFC3339),
		}
		if data.Name != nil {
			payload["session_name"] = *data.Name
		}
		points = append(points, vectorstore.Point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	stored, err := s.vectors.AddPoints(ctx, s.cfg.CollectionName, points)
	if err != nil {
		return 0, err
	}

	if err := s.sessions.SetIngestedAt(ctx, sessionID, &ingestedAt); err != nil {
		return 0, err
	}
	log.Info("session ingested", "chunks_stored", stored)
	return stored, nil
}

// GetContextForChat searches the Journal collection, optionally scoped to
// one session, and filters by the similarity threshold.
func (s *Service) GetContextForChat(ctx context.Context, query string, topK int, threshold float64, sessionID string) ([]Result, error) {
	const op = "journal_search"
	if query == "" {
		return nil, apperr.Validation(op, "query is required")
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := s.embed.Encode(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	var filter map[string]any
	if sessionID != "" {
		filter = map[string]any{"session_id": sessionID}
	}

	hits, err := s.vectors.QueryPoints(ctx, s.cfg.CollectionName, vectors[0], filter, topK)
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

// GetRecentContext adapts search hits to the legacy entry shape. Chunked
// payloads carry no single role, so they report role=assistant with the
// ingestion time as their timestamp.
func (s *Service) GetRecentContext(ctx context.Context, query string, topK int, threshold float64, sessionID string) ([]Entry, error) {
	if query == "" {
		return nil, apperr.Validation("journal_recent_context", "query is required")
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := s.embed.Encode(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	var filter map[string]any
	if sessionID != "" {
		filter = map[string]any{"session_id": sessionID}
	}
	hits, err := s.vectors.QueryPoints(ctx, s.cfg.CollectionName, vectors[0], filter, topK)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		entry := Entry{Score: hit.Score}
		if text, ok := hit.Payload["text"].(string); ok && text != "" {
			entry.Role = "assistant"
			entry.Content = text
			entry.SessionID, _ = hit.Payload["session_id"].(string)
			entry.Timestamp, _ = hit.Payload["ingested_at"].(string)
		} else {
			entry.Role, _ = hit.Payload["role"].(string)
			entry.Content, _ = hit.Payload["content"].(string)
			entry.SessionID, _ = hit.Payload["session_id"].(string)
			entry.Timestamp, _ = hit.Payload["timestamp"].(string)
		}
		out = append(out, entry)
	}
	return out, nil
}

// SessionChunkCount reports how many Journal vectors exist for a session.
func (s *Service) SessionChunkCount(ctx context.Context, sessionID string) (int, error) {
	count, err := s.vectors.Count(ctx, s.cfg.CollectionName, map[string]any{"session_id": sessionID})
	if err != nil {
		var opErr *vectorstore.OperationError
		if errors.As(err, &opErr) && opErr.Code == vectorstore.OperationErrorNotFound {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Status reports a session's ingestion state across all three stores.
func (s *Service) Status(ctx context.Context, sessionID string) (*IngestionStatus, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return &IngestionStatus{Exists: false}, nil
		}
		return nil, err
	}

	chunkCount, err := s.SessionChunkCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	hasNew, err := s.sessions.HasNewMessagesSinceIngest(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &IngestionStatus{
		Exists:         true,
		SessionID:      sessionID,
		Ingested:       session.IngestedAt != nil,
		IngestedAt:     session.IngestedAt,
		HasNewMessages: hasNew,
		ChunkCount:     chunkCount,
		HasBlob:        s.exports.Exists(sessionID),
		MessageCount:   session.MessageCount,
	}, nil
}

// SessionsNeedingIngest surfaces the relational store's staleness query.
func (s *Service) SessionsNeedingIngest(ctx context.Context, limit int) ([]sessionstore.Session, error) {
	return s.sessions.GetSessionsNeedingIngest(ctx, limit)
}

// DeleteSession removes a session everywhere: Journal vectors, then the
// export blob, then the relational rows. Ordered so a partial failure
// never leaves vectors pointing at deleted rows.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	if err := s.vectors.DeleteByFilter(ctx, s.cfg.CollectionName, map[string]any{"session_id": sessionID}); err != nil {
		var opErr *vectorstore.OperationError
		if !errors.As(err, &opErr) || opErr.Code != vectorstore.OperationErrorNotFound {
			return false, err
		}
	}
	if _, err := s.exports.Delete(sessionID); err != nil {
		return false, err
	}
	return s.sessions.DeleteSession(ctx, sessionID)
}

// ClearAll drops and recreates the Journal collection.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.vectors.ClearCollection(ctx, s.cfg.CollectionName, s.embed.Dim())
}
