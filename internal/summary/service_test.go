package summary_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/internal/session"
	"github.com/verbamed/verbamed/internal/summary"
)

// scriptedLLM replies with a fixed string, or fails when err is set. It
// records the user payload of every call.
type scriptedLLM struct {
	reply string
	err   error
	calls []string
}

func (s *scriptedLLM) Complete(_ context.Context, _, user string) (string, error) {
	s.calls = append(s.calls, user)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

// memoryArchive collects archived conversations in memory.
type memoryArchive struct {
	conversations []summary.ArchivedConversation
	err           error
}

func (m *memoryArchive) ArchiveSession(_ context.Context, conv summary.ArchivedConversation) error {
	if m.err != nil {
		return m.err
	}
	m.conversations = append(m.conversations, conv)
	return nil
}

// memoryTranscripts is an in-memory TranscriptStore.
type memoryTranscripts struct {
	text     map[string]string
	notes    map[string]summary.StructuredNote
	replaces int
}

func newMemoryTranscripts() *memoryTranscripts {
	return &memoryTranscripts{
		text:  map[string]string{},
		notes: map[string]summary.StructuredNote{},
	}
}

func (m *memoryTranscripts) TranscriptText(_ context.Context, caseID string) (string, error) {
	return m.text[caseID], nil
}

func (m *memoryTranscripts) ReplaceTranscript(_ context.Context, caseID, text string, note summary.StructuredNote) error {
	m.replaces++
	m.text[caseID] = text
	m.notes[caseID] = note
	return nil
}

func startSessionWith(t *testing.T, r *session.Registry, texts ...string) string {
	t.Helper()
	id := r.Start("case-1")
	base := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	for i, text := range texts {
		seg := session.NewSegment(text, base.Add(time.Duration(i)*5*time.Second),
			time.Duration(i)*5*time.Second, time.Duration(i+1)*5*time.Second)
		if err := r.Append(id, seg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return id
}

func TestSummarizeAndArchive_ReturnsSummaryAndClears(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	id := startSessionWith(t, reg, "I have had chest pain for two days", "Any family history of heart disease?")

	llm := &scriptedLLM{reply: "Patient reports two days of chest pain."}
	archive := &memoryArchive{}
	svc := summary.NewService(llm, reg, archive, nil)

	res, err := svc.SummarizeAndArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("SummarizeAndArchive: %v", err)
	}

	if res.Summary.TotalSegments != 2 {
		t.Errorf("total_segments = %d, want 2", res.Summary.TotalSegments)
	}
	if res.Summary.ConversationSummary != "Patient reports two days of chest pain." {
		t.Errorf("conversation_summary = %q", res.Summary.ConversationSummary)
	}
	if res.Summary.Duration != "0:10" {
		t.Errorf("duration = %q, want 0:10", res.Summary.Duration)
	}
	if len(archive.conversations) != 1 {
		t.Fatalf("archived %d conversations, want 1", len(archive.conversations))
	}
	if got := archive.conversations[0].CaseID; got != "case-1" {
		t.Errorf("archived case id = %q", got)
	}

	// The session must be cleared back toward idle.
	if got := reg.Status(id); got != session.StatusIdle {
		t.Errorf("status after summarize = %s, want idle", got)
	}
	if _, err := reg.Snapshot(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Snapshot after summarize: %v, want ErrSessionNotFound", err)
	}
}

func TestSummarizeAndArchive_TranscriptLinesCarryTimestamps(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	id := startSessionWith(t, reg, "first line", "second line")

	llm := &scriptedLLM{reply: "summary"}
	svc := summary.NewService(llm, reg, nil, nil)

	if _, err := svc.SummarizeAndArchive(context.Background(), id); err != nil {
		t.Fatalf("SummarizeAndArchive: %v", err)
	}
	if len(llm.calls) != 1 {
		t.Fatalf("llm called %d times, want 1", len(llm.calls))
	}
	want := "[09:30:00] first line\n[09:30:05] second line"
	if llm.calls[0] != want {
		t.Errorf("transcript payload = %q, want %q", llm.calls[0], want)
	}
}

func TestSummarizeAndArchive_EmptySession(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	id := reg.Start("case-1")

	svc := summary.NewService(&scriptedLLM{reply: "x"}, reg, nil, nil)
	_, err := svc.SummarizeAndArchive(context.Background(), id)
	if !errors.Is(err, summary.ErrNothingToSummarize) {
		t.Fatalf("err = %v, want ErrNothingToSummarize", err)
	}
}

func TestSummarizeAndArchive_LLMFailureFallsBackToRules(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	id := startSessionWith(t, reg, "my head hurts and I have a fever")

	llm := &scriptedLLM{err: errors.New("backend down")}
	svc := summary.NewService(llm, reg, nil, nil)

	res, err := svc.SummarizeAndArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("SummarizeAndArchive: %v", err)
	}
	if !strings.Contains(res.Summary.ConversationSummary, "Symptoms mentioned") {
		t.Errorf("fallback summary = %q, want rule-based content", res.Summary.ConversationSummary)
	}
}

func TestSummarizeAndArchive_ArchiveFailureKeepsSession(t *testing.T) {
	t.Parallel()
	reg := session.NewRegistry()
	id := startSessionWith(t, reg, "some speech")

	archive := &memoryArchive{err: errors.New("db unavailable")}
	svc := summary.NewService(&scriptedLLM{reply: "x"}, reg, archive, nil)

	if _, err := svc.SummarizeAndArchive(context.Background(), id); err == nil {
		t.Fatal("expected error from failed archive")
	}
	// Session remains readable for a retry.
	snap, err := reg.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot after failed archive: %v", err)
	}
	if len(snap.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(snap.Segments))
	}
}

func TestSaveIncrement_ConcatenatesAndReplaces(t *testing.T) {
	t.Parallel()
	store := newMemoryTranscripts()
	llm := &scriptedLLM{reply: `{"chief_complaint":"cough","history_of_present_illness":"three days","other_relevant_info":"none"}`}
	svc := summary.NewService(llm, session.NewRegistry(), nil, store)

	if err := svc.SaveIncrement(context.Background(), "case-9", "patient has a cough"); err != nil {
		t.Fatalf("SaveIncrement: %v", err)
	}
	if err := svc.SaveIncrement(context.Background(), "case-9", "for three days now"); err != nil {
		t.Fatalf("SaveIncrement: %v", err)
	}

	want := "patient has a cough\nfor three days now"
	if got := store.text["case-9"]; got != want {
		t.Errorf("stored text = %q, want %q", got, want)
	}
	if got := store.notes["case-9"].ChiefComplaint; got != "cough" {
		t.Errorf("stored chief complaint = %q, want cough", got)
	}
}

func TestSaveIncrement_DuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newMemoryTranscripts()
	llm := &scriptedLLM{reply: `{"chief_complaint":"cough"}`}
	svc := summary.NewService(llm, session.NewRegistry(), nil, store)

	const increment = "patient has a cough"
	if err := svc.SaveIncrement(context.Background(), "case-9", increment); err != nil {
		t.Fatalf("first SaveIncrement: %v", err)
	}
	if err := svc.SaveIncrement(context.Background(), "case-9", increment); err != nil {
		t.Fatalf("second SaveIncrement: %v", err)
	}

	if got := store.text["case-9"]; got != increment {
		t.Errorf("stored text after retry = %q, want single copy %q", got, increment)
	}
}

// foldCount collects the fold-latency histogram and returns its sample count.
func foldCount(t *testing.T, reader *sdkmetric.ManualReader) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "verbamed.fold.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				return 0
			}
			return hist.DataPoints[0].Count
		}
	}
	return 0
}

func TestFoldLatencyRecorded(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	reg := session.NewRegistry()
	id := startSessionWith(t, reg, "some speech")
	store := newMemoryTranscripts()
	svc := summary.NewService(&scriptedLLM{reply: "a summary"}, reg, nil, store,
		summary.WithMetrics(metrics))

	if _, err := svc.SummarizeAndArchive(context.Background(), id); err != nil {
		t.Fatalf("SummarizeAndArchive: %v", err)
	}
	if got := foldCount(t, reader); got != 1 {
		t.Fatalf("fold.duration count after summarize = %d, want 1", got)
	}

	if err := svc.SaveIncrement(context.Background(), "case-1", "more text"); err != nil {
		t.Fatalf("SaveIncrement: %v", err)
	}
	if got := foldCount(t, reader); got != 2 {
		t.Fatalf("fold.duration count after increment = %d, want 2", got)
	}
}

func TestSaveIncrement_EmptyTextRejected(t *testing.T) {
	t.Parallel()
	svc := summary.NewService(&scriptedLLM{reply: "x"}, session.NewRegistry(), nil, newMemoryTranscripts())
	if err := svc.SaveIncrement(context.Background(), "case-9", "   "); err == nil {
		t.Fatal("expected error for empty increment")
	}
}
