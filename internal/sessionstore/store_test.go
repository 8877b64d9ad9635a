package sessionstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestAddMessageKeepsCountConsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, "s1", strPtr("First session")); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "user", "hello", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "assistant", "hi there", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	session, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.MessageCount != 2 {
		t.Fatalf("message_count: want=2 got=%d", session.MessageCount)
	}
	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != session.MessageCount {
		t.Fatalf("count mismatch: rows=%d counter=%d", len(messages), session.MessageCount)
	}
}

func TestAddMessageToUnknownSessionFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddMessage(context.Background(), "missing", "user", "hello", nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not-found, got %v", err)
	}
}

func TestAddMessageRejectsBadRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "system", "x", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestMessagesOrderedByTimestampThenID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Minute)

	// Insert out of chronological order, with a timestamp tie in the middle.
	if _, err := s.AddMessage(ctx, "s1", "user", "third", &later); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "user", "first", &base); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "assistant", "second", &base); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	got := []string{messages[0].Content, messages[1].Content, messages[2].Content}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: want=%v got=%v", want, got)
		}
	}
}

func TestGetFirstUserMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "assistant", "welcome", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "user", "the question", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	content, err := s.GetFirstUserMessage(ctx, "s1")
	if err != nil {
		t.Fatalf("GetFirstUserMessage: %v", err)
	}
	if content != "the question" {
		t.Fatalf("first user message: want=%q got=%q", "the question", content)
	}
}

func TestStalenessTracking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	// Empty session is never stale.
	stale, err := s.HasNewMessagesSinceIngest(ctx, "s1")
	if err != nil {
		t.Fatalf("HasNewMessagesSinceIngest: %v", err)
	}
	if stale {
		t.Fatal("empty session must not be stale")
	}

	// With messages and no watermark it is stale.
	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if _, err := s.AddMessage(ctx, "s1", "user", "hello", &ts); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	if err != nil {
		t.Fatalf("HasNewMessagesSinceIngest: %v", err)
	}
	if !stale {
		t.Fatal("unwatermarked session must be stale")
	}

	// Watermark after last activity clears staleness.
	mark := ts.Add(time.Minute)
	if err := s.SetIngestedAt(ctx, "s1", &mark); err != nil {
		t.Fatalf("SetIngestedAt: %v", err)
	}
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	if err != nil {
		t.Fatalf("HasNewMessagesSinceIngest: %v", err)
	}
	if stale {
		t.Fatal("watermarked session must not be stale")
	}

	// New activity after the watermark makes it stale again.
	newer := mark.Add(time.Minute)
	if _, err := s.AddMessage(ctx, "s1", "user", "more", &newer); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	stale, err = s.HasNewMessagesSinceIngest(ctx, "s1")
	if err != nil {
		t.Fatalf("HasNewMessagesSinceIngest: %v", err)
	}
	if !stale {
		t.Fatal("post-watermark activity must mark the session stale")
	}

	sessions, err := s.GetSessionsNeedingIngest(ctx, 10)
	if err != nil {
		t.Fatalf("GetSessionsNeedingIngest: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s1" {
		t.Fatalf("stale sessions: got=%+v", sessions)
	}
}

func TestUnknownSessionIsNotStale(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.HasNewMessagesSinceIngest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("HasNewMessagesSinceIngest: %v", err)
	}
	if stale {
		t.Fatal("unknown session must report false")
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", "user", "hello", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	deleted, err := s.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if !deleted {
		t.Fatal("delete: want=true")
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("session must be gone, got %v", err)
	}
	messages, err := s.GetMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages must cascade: got=%d", len(messages))
	}

	deleted, err = s.DeleteSession(ctx, "s1")
	if err != nil {
		t.Fatalf("repeat DeleteSession: %v", err)
	}
	if deleted {
		t.Fatal("repeat delete: want=false")
	}
}

func TestUpsertSessionRenames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertSession(ctx, "s1", nil); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := s.UpsertSession(ctx, "s1", strPtr("renamed")); err != nil {
		t.Fatalf("repeat UpsertSession: %v", err)
	}
	session, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Name == nil || *session.Name != "renamed" {
		t.Fatalf("name: got=%v", session.Name)
	}
}
