package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/internal/session"
)

// ErrNothingToSummarize is returned by SummarizeAndArchive when the session
// is unknown or holds no segments.
var ErrNothingToSummarize = errors.New("summary: no conversation to summarize")

// Archive persists a completed conversation. Implemented by the postgres
// store; declared here so the store depends on summary, not the reverse.
type Archive interface {
	ArchiveSession(ctx context.Context, conv ArchivedConversation) error
}

// TranscriptStore persists per-case transcript text for incremental saves.
// ReplaceTranscript must atomically substitute the case's entire stored
// transcript and note; the service relies on that for retry safety.
type TranscriptStore interface {
	TranscriptText(ctx context.Context, caseID string) (string, error)
	ReplaceTranscript(ctx context.Context, caseID, text string, note StructuredNote) error
}

// ConversationSummary is the payload returned by summarize-and-archive.
type ConversationSummary struct {
	ConversationSummary string    `json:"conversation_summary"`
	KeyPoints           KeyPoints `json:"key_points"`
	TotalSegments       int       `json:"total_segments"`
	Duration            string    `json:"duration"`
	Timestamp           time.Time `json:"timestamp"`
}

// ArchivedConversation is the durable record of a summarized session.
type ArchivedConversation struct {
	SessionID  string              `json:"session_id"`
	CaseID     string              `json:"case_id"`
	Segments   []session.Segment   `json:"segments"`
	Summary    ConversationSummary `json:"summary"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// ServiceOption is a functional option for configuring a [Service].
type ServiceOption func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// WithMetrics sets the metrics instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service owns both summarization flows: folding a live session into a
// returned summary plus archive, and folding a case's accumulated transcript
// into a replaced store record.
type Service struct {
	llm      Completer
	folder   *Folder
	sessions *session.Registry
	archive  Archive
	store    TranscriptStore
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewService wires the summarizer to its collaborators. archive and store may
// be nil in deployments without persistence; the corresponding steps are then
// skipped (archive) or rejected (incremental save).
func NewService(llm Completer, sessions *session.Registry, archive Archive, store TranscriptStore, opts ...ServiceOption) *Service {
	s := &Service{
		llm:      llm,
		folder:   NewFolder(llm),
		sessions: sessions,
		archive:  archive,
		store:    store,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SummarizeResult pairs the summary returned to the caller with the archived
// record it produced.
type SummarizeResult struct {
	Summary  ConversationSummary  `json:"summary"`
	Archived ArchivedConversation `json:"archived_conversation"`
}

// SummarizeAndArchive concatenates the session's segments into one
// timestamped transcript, summarizes it, archives the conversation, and
// clears the session from the registry. The session is cleared only after a
// successful archive, so a failed archive leaves it readable for retry.
func (s *Service) SummarizeAndArchive(ctx context.Context, sessionID string) (*SummarizeResult, error) {
	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil || len(snap.Segments) == 0 {
		return nil, ErrNothingToSummarize
	}

	transcript := renderTranscript(snap.Segments)

	var aiSummary string
	if s.llm != nil {
		start := time.Now()
		aiSummary, err = s.llm.Complete(ctx, summaryPrompt, transcript)
		s.metrics.FoldDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.log.Warn("model summary failed, using rule-based fallback",
				"session_id", sessionID, "error", err)
		}
	}
	if strings.TrimSpace(aiSummary) == "" {
		aiSummary = ruleBasedSummary(transcript)
	}

	keyPoints := ExtractKeyPoints(transcript)
	keyPoints.Summary = aiSummary

	now := time.Now().UTC()
	summary := ConversationSummary{
		ConversationSummary: aiSummary,
		KeyPoints:           keyPoints,
		TotalSegments:       len(snap.Segments),
		Duration:            formatDuration(snap.Segments),
		Timestamp:           now,
	}
	archived := ArchivedConversation{
		SessionID:  snap.SessionID,
		CaseID:     snap.CaseID,
		Segments:   snap.Segments,
		Summary:    summary,
		ArchivedAt: now,
	}

	if s.archive != nil {
		if err := s.archive.ArchiveSession(ctx, archived); err != nil {
			return nil, fmt.Errorf("summary: archive session %s: %w", sessionID, err)
		}
	}
	s.sessions.Clear(sessionID)

	s.log.Info("session summarized and archived",
		"session_id", sessionID,
		"case_id", snap.CaseID,
		"segments", len(snap.Segments))

	return &SummarizeResult{Summary: summary, Archived: archived}, nil
}

// SaveIncrement reads all previously saved transcript text for the case,
// appends the new increment, folds the full concatenation, and replaces the
// case's stored transcript plus note in one operation. Redelivery of an
// increment the stored transcript already ends with is detected and not
// appended a second time, so retries converge on a single concatenation.
//
// This is deliberately O(total transcript length) per increment. An
// append-only variant would be cheaper but loses retry safety.
func (s *Service) SaveIncrement(ctx context.Context, caseID, text string) error {
	if s.store == nil {
		return errors.New("summary: no transcript store configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("summary: increment text must not be empty")
	}

	base, err := s.store.TranscriptText(ctx, caseID)
	if err != nil {
		return fmt.Errorf("summary: read transcript for case %s: %w", caseID, err)
	}

	full := text
	switch {
	case base == "":
	case strings.HasSuffix(base, text):
		full = base
	default:
		full = base + "\n" + text
	}

	start := time.Now()
	note, err := s.folder.Fold(ctx, full)
	s.metrics.FoldDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("summary: fold transcript for case %s: %w", caseID, err)
	}

	if err := s.store.ReplaceTranscript(ctx, caseID, full, note); err != nil {
		return fmt.Errorf("summary: replace transcript for case %s: %w", caseID, err)
	}

	s.log.Info("incremental transcript saved", "case_id", caseID, "length", len(full))
	return nil
}

// renderTranscript joins segments into the folded text form, one line per
// segment prefixed with its wall-clock timestamp.
func renderTranscript(segments []session.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, "["+seg.Timestamp.Format("15:04:05")+"] "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

// formatDuration renders the span from the first segment's start to the last
// segment's end as M:SS.
func formatDuration(segments []session.Segment) string {
	if len(segments) == 0 {
		return "0:00"
	}
	span := segments[len(segments)-1].End - segments[0].Start
	if span < 0 {
		span = 0
	}
	secs := int(span.Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
