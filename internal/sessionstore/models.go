package sessionstore

import "time"

// Session is the authoritative record for one chat session. IngestedAt is
// the Journal watermark: nil until the first successful ingest, then the
// wall-clock time of the last one.
type Session struct {
	SessionID    string     `gorm:"primaryKey;column:session_id" json:"session_id"`
	Name         *string    `gorm:"column:name" json:"name"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	LastActivity time.Time  `gorm:"column:last_activity;not null;index:idx_sessions_last_activity" json:"last_activity"`
	MessageCount int        `gorm:"column:message_count;not null;default:0" json:"message_count"`
	IngestedAt   *time.Time `gorm:"column:ingested_at" json:"ingested_at"`
}

func (Session) TableName() string { return "sessions" }

// Message rows are append-only from the API perspective.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	SessionID string    `gorm:"column:session_id;not null;index:idx_messages_session;index:idx_messages_session_ts,priority:1" json:"session_id"`
	Role      string    `gorm:"column:role;not null" json:"role"`
	Content   string    `gorm:"column:content;not null" json:"content"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index:idx_messages_session_ts,priority:2" json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

// SessionWithMessages bundles a session and its ordered history.
type SessionWithMessages struct {
	Session
	Messages []Message `json:"messages"`
}
