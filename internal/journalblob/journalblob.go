package journalblob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
	"github.com/yungbote/mnemosyne-backend/internal/sessionstore"
)

// Export is the JSON snapshot of one session, keyed by session_id. Exports
// are replaceable: last writer wins.
type Export struct {
	SessionID    string                 `json:"session_id"`
	Name         *string                `json:"name"`
	CreatedAt    time.Time              `json:"created_at"`
	ExportedAt   time.Time              `json:"exported_at"`
	MessageCount int                    `json:"message_count"`
	Messages     []sessionstore.Message `json:"messages"`
}

// Store keeps one JSON file per session under root. File names beginning
// with "_" are reserved for manifests and skipped by listings.
type Store struct {
	root string
	log  *logger.Logger
}

func New(root string, baseLog *logger.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, apperr.Validation("journalblob_init", "storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "journalblob_init", "create storage root failed", err)
	}
	return &Store{root: root, log: baseLog.With("component", "JournalBlobStore")}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.root, sessionID+".json")
}

// ExportSession writes the snapshot atomically (temp + rename),
// overwriting any previous export. It is the only mutator.
func (s *Store) ExportSession(sessionID string, data *sessionstore.SessionWithMessages) (string, error) {
	if data == nil {
		return "", apperr.Validation("journal_export", "session data is required")
	}
	export := Export{
		SessionID:    sessionID,
		Name:         data.Name,
		CreatedAt:    data.CreatedAt,
		ExportedAt:   time.Now().UTC(),
		MessageCount: len(data.Messages),
		Messages:     data.Messages,
	}
	raw, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", apperr.New(apperr.CodeStorageUnavailable, "journal_export", "encode export failed", err)
	}

	target := s.path(sessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", apperr.New(apperr.CodeStorageUnavailable, "journal_export", "write export temp failed", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", apperr.New(apperr.CodeStorageUnavailable, "journal_export", "rename export failed", err)
	}
	s.log.Debug("session exported", "session_id", sessionID, "path", target, "message_count", export.MessageCount)
	return target, nil
}

func (s *Store) GetExport(sessionID string) (*Export, error) {
	raw, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("journal_get", fmt.Sprintf("no export for session %s", sessionID))
		}
		return nil, apperr.New(apperr.CodeStorageUnavailable, "journal_get", "read export failed", err)
	}
	var export Export
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "journal_get", "decode export failed", err)
	}
	return &export, nil
}

// GetSessionText renders the export in the canonical conversation form
// used both for embedding and for direct context injection:
//
//	Session: <name>
//
//	[USER] ...
//
//	[ASSISTANT] ...
func (s *Store) GetSessionText(sessionID string) (string, error) {
	export, err := s.GetExport(sessionID)
	if err != nil {
		return "", err
	}
	return FormatConversation(export.Name, export.Messages), nil
}

// FormatConversation is the canonical text form shared with the journal
// ingestion pipeline. Message order is preserved from the input.
func FormatConversation(name *string, messages []sessionstore.Message) string {
	parts := make([]string, 0, len(messages)+1)
	if name != nil && strings.TrimSpace(*name) != "" {
		parts = append(parts, "Session: "+*name)
	}
	for _, msg := range messages {
		parts = append(parts, fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Role), msg.Content))
	}
	return strings.Join(parts, "\n\n")
}

func (s *Store) Exists(sessionID string) bool {
	_, err := os.Stat(s.path(sessionID))
	return err == nil
}

func (s *Store) Delete(sessionID string) (bool, error) {
	err := os.Remove(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperr.New(apperr.CodeStorageUnavailable, "journal_delete", "remove export failed", err)
	}
	return true, nil
}

// ListSessions returns all exports, newest first by exported_at.
func (s *Store) ListSessions() ([]Export, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "journal_list", "read storage root failed", err)
	}

	out := make([]Export, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		export, err := s.GetExport(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable export", "file", name, "error", err)
			continue
		}
		out = append(out, *export)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExportedAt.After(out[j].ExportedAt)
	})
	return out, nil
}
