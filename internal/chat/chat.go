package chat

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/mnemosyne-backend/internal/config"
	"github.com/yungbote/mnemosyne-backend/internal/journal"
	"github.com/yungbote/mnemosyne-backend/internal/library"
	"github.com/yungbote/mnemosyne-backend/internal/logger"
)

const contextEnvelope = `<CONTEXT_FOR_REFERENCE>
The following information is provided as reference context ONLY. It may or may not be relevant to answering the user's question below.

{context}
</CONTEXT_FOR_REFERENCE>

======================================
USER'S ACTUAL QUESTION (ANSWER THIS):
======================================
{user_message}`

const (
	libraryHeader = "[KNOWLEDGE BASE - Documents from your personal library]"
	journalHeader = "[PAST CONVERSATIONS - Previous chat history that may be relevant]"
)

// LibraryRetriever is the Library search surface the assembler needs.
type LibraryRetriever interface {
	GetContextForChat(ctx context.Context, query string, topK int, threshold float64) ([]library.Result, error)
}

// JournalRetriever is the Journal search surface the assembler needs.
type JournalRetriever interface {
	GetContextForChat(ctx context.Context, query string, topK int, threshold float64, sessionID string) ([]journal.Result, error)
}

// Result is the assembled context for one chat turn. FormattedMessage is
// what goes to the model; the per-collection fields let callers inspect
// or display what was retrieved.
type Result struct {
	FormattedMessage   string           `json:"formatted_message"`
	LibraryResults     []library.Result `json:"library_results"`
	LibraryContextText string           `json:"library_context_text,omitempty"`
	JournalResults     []journal.Result `json:"journal_results"`
	JournalContextText string           `json:"journal_context_text,omitempty"`
}

// Options are per-call overrides; nil fields fall back to config.
type Options struct {
	UseLibrary     *bool
	UseJournal     *bool
	SessionID      string
	LibraryTopK    *int
	JournalTopK    *int
	Threshold      *float64
	PromptTemplate string
}

// Service assembles retrieval context around user messages. Retrieval
// failures degrade: a failed side contributes nothing and the turn still
// goes through.
type Service struct {
	log     *logger.Logger
	cfg     config.AppConfig
	library LibraryRetriever
	journal JournalRetriever
	cache   *queryCache
}

func New(cfg config.AppConfig, lib LibraryRetriever, jrn JournalRetriever, baseLog *logger.Logger) *Service {
	return &Service{
		log:     baseLog.With("component", "ChatService"),
		cfg:     cfg,
		library: lib,
		journal: jrn,
		cache:   newQueryCache(),
	}
}

// PrepareMessage runs the per-turn algorithm: optional cached Library
// search plus Journal search, concurrently, then merge and format.
func (s *Service) PrepareMessage(ctx context.Context, userMessage string, opts Options) (*Result, error) {
	if !s.cfg.ChatContextEnabled {
		return &Result{
			FormattedMessage: s.formatUserMessage(userMessage, "", opts.PromptTemplate),
			LibraryResults:   []library.Result{},
			JournalResults:   []journal.Result{},
		}, nil
	}

	useLibrary := resolveBool(opts.UseLibrary, s.cfg.ChatLibraryEnabled)
	useJournal := resolveBool(opts.UseJournal, s.cfg.ChatJournalEnabled)
	libraryTopK := resolveInt(opts.LibraryTopK, s.cfg.ChatLibraryTopK)
	journalTopK := resolveInt(opts.JournalTopK, s.cfg.ChatJournalTopK)
	libraryThreshold := resolveFloat(opts.Threshold, s.cfg.ChatLibrarySimilarityThreshold)
	journalThreshold := resolveFloat(opts.Threshold, s.cfg.ChatJournalSimilarityThreshold)

	var (
		libraryResults []library.Result
		journalResults []journal.Result
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	if useLibrary {
		g.Go(func() error {
			libraryResults = s.retrieveLibrary(gctx, userMessage, libraryTopK, libraryThreshold)
			return nil
		})
	}
	if useJournal {
		g.Go(func() error {
			journalResults = s.retrieveJournal(gctx, userMessage, journalTopK, journalThreshold, opts.SessionID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	libraryText := joinResults(resultTexts(libraryResults))
	journalText := joinResults(journalTexts(journalResults))
	merged := mergeContext(libraryText, journalText)

	if s.cfg.LogOutput {
		s.log.Info("message prepared",
			"library_results", len(libraryResults),
			"journal_results", len(journalResults),
			"duration", time.Since(start).String())
	}

	return &Result{
		FormattedMessage:   s.formatUserMessage(userMessage, merged, opts.PromptTemplate),
		LibraryResults:     libraryResults,
		LibraryContextText: libraryText,
		JournalResults:     journalResults,
		JournalContextText: journalText,
	}, nil
}

func (s *Service) retrieveLibrary(ctx context.Context, query string, topK int, threshold float64) []library.Result {
	if s.library == nil {
		return nil
	}
	if s.cfg.ChatLibraryUseCache {
		if cached, ok := s.cache.lookup(query); ok {
			s.log.Debug("library cache hit", "query_len", len(query))
			return cached
		}
	}

	results, err := s.library.GetContextForChat(ctx, query, topK, threshold)
	if err != nil {
		s.log.Warn("library retrieval failed", "error", err)
		return nil
	}
	if s.cfg.ChatLibraryUseCache && len(results) > 0 {
		s.cache.insert(query, results)
	}
	return results
}

func (s *Service) retrieveJournal(ctx context.Context, query string, topK int, threshold float64, sessionID string) []journal.Result {
	if s.journal == nil {
		return nil
	}
	results, err := s.journal.GetContextForChat(ctx, query, topK, threshold, sessionID)
	if err != nil {
		s.log.Warn("journal retrieval failed", "error", err)
		return nil
	}
	return results
}

// mergeContext builds the single context block; empty sections are
// omitted and an empty merge returns "".
func mergeContext(libraryText, journalText string) string {
	parts := make([]string, 0, 2)
	if libraryText != "" {
		parts = append(parts, libraryHeader+"\n"+libraryText)
	}
	if journalText != "" {
		parts = append(parts, journalHeader+"\n"+journalText)
	}
	return strings.Join(parts, "\n\n")
}

func (s *Service) formatUserMessage(userMessage, contextText, template string) string {
	if contextText == "" {
		return userMessage
	}
	if template != "" {
		out := strings.ReplaceAll(template, "{rag_context}", contextText)
		return strings.ReplaceAll(out, "{user_message}", userMessage)
	}
	out := strings.ReplaceAll(contextEnvelope, "{context}", contextText)
	return strings.ReplaceAll(out, "{user_message}", userMessage)
}

func resultTexts(results []library.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Text)
	}
	return out
}

func journalTexts(results []journal.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Text)
	}
	return out
}

func joinResults(texts []string) string {
	return strings.Join(texts, "\n\n")
}

func resolveBool(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func resolveInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func resolveFloat(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}
