package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/mnemosyne-backend/internal/config"
	"github.com/yungbote/mnemosyne-backend/internal/journal"
	"github.com/yungbote/mnemosyne-backend/internal/library"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

type stubLibrary struct {
	calls   int
	results []library.Result
	err     error
}

func (s *stubLibrary) GetContextForChat(_ context.Context, _ string, _ int, _ float64) ([]library.Result, error) {
	s.calls++
	return s.results, s.err
}

type stubJournal struct {
	calls     int
	sessionID string
	results   []journal.Result
	err       error
}

func (s *stubJournal) GetContextForChat(_ context.Context, _ string, _ int, _ float64, sessionID string) ([]journal.Result, error) {
	s.calls++
	s.sessionID = sessionID
	return s.results, s.err
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		ChatContextEnabled:             true,
		ChatLibraryEnabled:             true,
		ChatJournalEnabled:             true,
		ChatLibraryTopK:                3,
		ChatJournalTopK:                5,
		ChatLibrarySimilarityThreshold: 0.4,
		ChatJournalSimilarityThreshold: 0.4,
		ChatLibraryUseCache:            false,
	}
}

func newTestService(cfg config.AppConfig, lib *stubLibrary, jrn *stubJournal) *Service {
	return New(cfg, lib, jrn, logger.NewNop())
}

func TestPrepareMergesBothSections(t *testing.T) {
	lib := &stubLibrary{results: []library.Result{{Text: "doc one", Score: 0.9}, {Text: "doc two", Score: 0.8}}}
	jrn := &stubJournal{results: []journal.Result{{Text: "past chat", Score: 0.7}}}
	svc := newTestService(testConfig(), lib, jrn)

	result, err := svc.PrepareMessage(context.Background(), "what do I know?", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}

	if result.LibraryContextText != "doc one\n\ndoc two" {
		t.Fatalf("library text: got=%q", result.LibraryContextText)
	}
	if result.JournalContextText != "past chat" {
		t.Fatalf("journal text: got=%q", result.JournalContextText)
	}

	msg := result.FormattedMessage
	libIdx := strings.Index(msg, libraryHeader)
	jrnIdx := strings.Index(msg, journalHeader)
	if libIdx < 0 || jrnIdx < 0 {
		t.Fatalf("headers missing: %q", msg)
	}
	if libIdx > jrnIdx {
		t.Fatal("library section must precede journal section")
	}
	if !strings.Contains(msg, "<CONTEXT_FOR_REFERENCE>") || !strings.Contains(msg, "</CONTEXT_FOR_REFERENCE>") {
		t.Fatalf("envelope missing: %q", msg)
	}
	if !strings.Contains(msg, "USER'S ACTUAL QUESTION (ANSWER THIS):") {
		t.Fatalf("question marker missing: %q", msg)
	}
	if !strings.HasSuffix(msg, "what do I know?") {
		t.Fatalf("user message must end the prompt: %q", msg)
	}
}

func TestPrepareOmitsEmptySections(t *testing.T) {
	lib := &stubLibrary{results: []library.Result{{Text: "only docs", Score: 0.9}}}
	jrn := &stubJournal{}
	svc := newTestService(testConfig(), lib, jrn)

	result, err := svc.PrepareMessage(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if !strings.Contains(result.FormattedMessage, libraryHeader) {
		t.Fatal("library header missing")
	}
	if strings.Contains(result.FormattedMessage, journalHeader) {
		t.Fatal("empty journal section must be omitted")
	}
}

func TestPrepareBothEmptyReturnsRawMessage(t *testing.T) {
	svc := newTestService(testConfig(), &stubLibrary{}, &stubJournal{})
	result, err := svc.PrepareMessage(context.Background(), "just the question", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if result.FormattedMessage != "just the question" {
		t.Fatalf("formatted: got=%q", result.FormattedMessage)
	}
}

func TestPrepareContextDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ChatContextEnabled = false
	lib := &stubLibrary{results: []library.Result{{Text: "ignored", Score: 1}}}
	svc := newTestService(cfg, lib, &stubJournal{})

	result, err := svc.PrepareMessage(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if result.FormattedMessage != "hello" {
		t.Fatalf("formatted: got=%q", result.FormattedMessage)
	}
	if lib.calls != 0 {
		t.Fatalf("library must not be queried: calls=%d", lib.calls)
	}
	if len(result.LibraryResults) != 0 || len(result.JournalResults) != 0 {
		t.Fatalf("results must be empty: %+v", result)
	}
}

func TestPrepareTemplateSubstitution(t *testing.T) {
	lib := &stubLibrary{results: []library.Result{{Text: "ctx", Score: 0.9}}}
	svc := newTestService(testConfig(), lib, &stubJournal{})

	result, err := svc.PrepareMessage(context.Background(), "the question", Options{
		PromptTemplate: "CTX:{rag_context}|Q:{user_message}",
	})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	want := "CTX:" + libraryHeader + "\nctx|Q:the question"
	if result.FormattedMessage != want {
		t.Fatalf("template output: want=%q got=%q", want, result.FormattedMessage)
	}
}

func TestPrepareLibraryFailureDegrades(t *testing.T) {
	lib := &stubLibrary{err: errors.New("vector store down")}
	jrn := &stubJournal{results: []journal.Result{{Text: "still here", Score: 0.8}}}
	svc := newTestService(testConfig(), lib, jrn)

	result, err := svc.PrepareMessage(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if len(result.LibraryResults) != 0 {
		t.Fatalf("library results: got=%+v", result.LibraryResults)
	}
	if !strings.Contains(result.FormattedMessage, "still here") {
		t.Fatalf("journal context lost: %q", result.FormattedMessage)
	}
}

func TestPrepareBothFailuresReturnsRawMessage(t *testing.T) {
	svc := newTestService(testConfig(),
		&stubLibrary{err: errors.New("down")},
		&stubJournal{err: errors.New("down")})

	result, err := svc.PrepareMessage(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if result.FormattedMessage != "question" {
		t.Fatalf("formatted: got=%q", result.FormattedMessage)
	}
}

func TestPreparePassesSessionFilter(t *testing.T) {
	jrn := &stubJournal{}
	svc := newTestService(testConfig(), &stubLibrary{}, jrn)
	if _, err := svc.PrepareMessage(context.Background(), "q", Options{SessionID: "s42"}); err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if jrn.sessionID != "s42" {
		t.Fatalf("session filter: want=s42 got=%q", jrn.sessionID)
	}
}

func TestPrepareFlagOverrides(t *testing.T) {
	lib := &stubLibrary{results: []library.Result{{Text: "doc", Score: 0.9}}}
	jrn := &stubJournal{results: []journal.Result{{Text: "chat", Score: 0.9}}}
	svc := newTestService(testConfig(), lib, jrn)

	off := false
	result, err := svc.PrepareMessage(context.Background(), "q", Options{UseJournal: &off})
	if err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if jrn.calls != 0 {
		t.Fatalf("journal must not be queried: calls=%d", jrn.calls)
	}
	if strings.Contains(result.FormattedMessage, journalHeader) {
		t.Fatal("journal section must be absent")
	}
	if lib.calls != 1 {
		t.Fatalf("library calls: want=1 got=%d", lib.calls)
	}
}

func TestCacheHitSkipsSecondSearch(t *testing.T) {
	cfg := testConfig()
	cfg.ChatLibraryUseCache = true
	lib := &stubLibrary{results: []library.Result{{Text: "cached doc", Score: 0.9}}}
	svc := newTestService(cfg, lib, &stubJournal{})
	ctx := context.Background()

	if _, err := svc.PrepareMessage(ctx, "how do goroutines work", Options{}); err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	// Near-duplicate: 3 of 4 tokens shared, Jaccard 3/5 > 0.5.
	result, err := svc.PrepareMessage(ctx, "how do goroutines sleep", Options{})
	if err != nil {
		t.Fatalf("repeat PrepareMessage: %v", err)
	}
	if lib.calls != 1 {
		t.Fatalf("library calls: want=1 got=%d", lib.calls)
	}
	if len(result.LibraryResults) != 1 || result.LibraryResults[0].Text != "cached doc" {
		t.Fatalf("cached results: got=%+v", result.LibraryResults)
	}
}

func TestCacheMissOnDissimilarQuery(t *testing.T) {
	cfg := testConfig()
	cfg.ChatLibraryUseCache = true
	lib := &stubLibrary{results: []library.Result{{Text: "doc", Score: 0.9}}}
	svc := newTestService(cfg, lib, &stubJournal{})
	ctx := context.Background()

	if _, err := svc.PrepareMessage(ctx, "how do goroutines work", Options{}); err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if _, err := svc.PrepareMessage(ctx, "recipe for sourdough bread", Options{}); err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if lib.calls != 2 {
		t.Fatalf("library calls: want=2 got=%d", lib.calls)
	}
}

func TestEmptyResultsAreNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.ChatLibraryUseCache = true
	lib := &stubLibrary{}
	svc := newTestService(cfg, lib, &stubJournal{})
	ctx := context.Background()

	if _, err := svc.PrepareMessage(ctx, "unknown topic entirely", Options{}); err != nil {
		t.Fatalf("PrepareMessage: %v", err)
	}
	if _, err := svc.PrepareMessage(ctx, "unknown topic entirely", Options{}); err != nil {
		t.Fatalf("repeat PrepareMessage: %v", err)
	}
	if lib.calls != 2 {
		t.Fatalf("empty results must not be cached: calls=%d", lib.calls)
	}
}
