package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

// Store persists sessions and per-message history in a single-file
// journaled SQLite database. Writes serialize at the database; readers
// are unconstrained.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(dbPath string, baseLog *logger.Logger) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, apperr.Validation("sessionstore_init", "db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "sessionstore_init", "create db directory failed", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeStorageUnavailable, "sessionstore_init", "open sqlite failed", err)
	}

	s := &Store{db: db, log: baseLog.With("component", "SessionStore")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	s.log.Info("session store initialized", "db_path", dbPath)
	return s, nil
}

// migrate creates the tables and applies additive schema changes guarded
// by a column-presence check.
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&Session{}, &Message{}); err != nil {
		return apperr.New(apperr.CodeStorageUnavailable, "sessionstore_migrate", "auto migration failed", err)
	}
	if !s.db.Migrator().HasColumn(&Session{}, "ingested_at") {
		if err := s.db.Migrator().AddColumn(&Session{}, "IngestedAt"); err != nil {
			return apperr.New(apperr.CodeStorageUnavailable, "sessionstore_migrate", "add ingested_at column failed", err)
		}
		s.log.Info("migrated sessions table", "added_column", "ingested_at")
	}
	return nil
}

// UpsertSession inserts the session if absent; otherwise it advances
// last_activity and optionally renames it.
func (s *Store) UpsertSession(ctx context.Context, sessionID string, name *string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperr.Validation("session_upsert", "session id is required")
	}
	now := time.Now().UTC()

	return s.wrap("session_upsert", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Session
		err := tx.Where("session_id = ?", sessionID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Session{
				SessionID:    sessionID,
				Name:         name,
				CreatedAt:    now,
				LastActivity: now,
				MessageCount: 0,
			}).Error
		}
		if err != nil {
			return err
		}
		updates := map[string]any{"last_activity": now}
		if name != nil && strings.TrimSpace(*name) != "" {
			updates["name"] = *name
		}
		return tx.Model(&Session{}).Where("session_id = ?", sessionID).Updates(updates).Error
	}))
}

func (s *Store) SetSessionName(ctx context.Context, sessionID, name string) error {
	return s.wrap("session_set_name", s.db.WithContext(ctx).
		Model(&Session{}).Where("session_id = ?", sessionID).
		Update("name", name).Error)
}

// AddMessage appends a message and updates the session counters in one
// transaction, so message_count always equals the row count.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string, timestamp *time.Time) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, apperr.Validation("message_add", "session id is required")
	}
	if role != "user" && role != "assistant" {
		return 0, apperr.Validation("message_add", fmt.Sprintf("invalid role %q", role))
	}
	ts := time.Now().UTC()
	if timestamp != nil {
		ts = timestamp.UTC()
	}

	msg := Message{SessionID: sessionID, Role: role, Content: content, Timestamp: ts}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := tx.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("message_add", fmt.Sprintf("session %s not found", sessionID))
			}
			return err
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).Where("session_id = ?", sessionID).Updates(map[string]any{
			"message_count": gorm.Expr("message_count + 1"),
			"last_activity": ts,
		}).Error
	})
	if err != nil {
		return 0, s.wrap("message_add", err)
	}
	return msg.ID, nil
}

// GetMessages returns the session history ordered by (timestamp, id);
// timestamp ties resolve in insertion order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, s.wrap("messages_get", err)
	}
	return out, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("session_get", fmt.Sprintf("session %s not found", sessionID))
	}
	if err != nil {
		return nil, s.wrap("session_get", err)
	}
	return &session, nil
}

func (s *Store) GetSessionWithMessages(ctx context.Context, sessionID string) (*SessionWithMessages, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionWithMessages{Session: *session, Messages: messages}, nil
}

// GetFirstUserMessage returns the earliest user message content; callers
// use it to auto-title sessions.
func (s *Store) GetFirstUserMessage(ctx context.Context, sessionID string) (string, error) {
	var msg Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND role = ?", sessionID, "user").
		Order("timestamp ASC, id ASC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("first_user_message", fmt.Sprintf("session %s has no user messages", sessionID))
	}
	if err != nil {
		return "", s.wrap("first_user_message", err)
	}
	return msg.Content, nil
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Session
	err := s.db.WithContext(ctx).
		Order("last_activity DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, s.wrap("sessions_list", err)
	}
	return out, nil
}

// DeleteSession removes the session and cascades to its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("session_id = ?", sessionID).Delete(&Session{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, s.wrap("session_delete", err)
	}
	return deleted, nil
}

// DeleteMessages clears the history but keeps the session row.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ?", sessionID).Delete(&Message{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Model(&Session{}).Where("session_id = ?", sessionID).
			Update("message_count", 0).Error
	})
	if err != nil {
		return 0, s.wrap("messages_delete", err)
	}
	return removed, nil
}

func (s *Store) SetIngestedAt(ctx context.Context, sessionID string, ts *time.Time) error {
	at := time.Now().UTC()
	if ts != nil {
		at = ts.UTC()
	}
	return s.wrap("ingested_at_set", s.db.WithContext(ctx).
		Model(&Session{}).Where("session_id = ?", sessionID).
		Update("ingested_at", at).Error)
}

func (s *Store) ClearIngestedAt(ctx context.Context, sessionID string) error {
	return s.wrap("ingested_at_clear", s.db.WithContext(ctx).
		Model(&Session{}).Where("session_id = ?", sessionID).
		Update("ingested_at", nil).Error)
}

// HasNewMessagesSinceIngest reports whether the session is stale for
// ingest: it has messages and was either never ingested or touched since.
func (s *Store) HasNewMessagesSinceIngest(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return false, nil
		}
		return false, err
	}
	if session.MessageCount == 0 {
		return false, nil
	}
	if session.IngestedAt == nil {
		return true, nil
	}
	return session.LastActivity.After(*session.IngestedAt), nil
}

// GetSessionsNeedingIngest lists stale sessions, most recently active
// first. Used for batch ingestion and startup checks.
func (s *Store) GetSessionsNeedingIngest(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Session
	err := s.db.WithContext(ctx).
		Where("message_count > 0 AND (ingested_at IS NULL OR last_activity > ingested_at)").
		Order("last_activity DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, s.wrap("sessions_needing_ingest", err)
	}
	return out, nil
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if code := apperr.CodeOf(err); code != "" {
		return err
	}
	return apperr.New(apperr.CodeStorageUnavailable, op, "", err)
}
