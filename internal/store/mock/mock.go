// Package mock provides an in-memory implementation of the store interfaces
// for tests and for running the service without a database.
package mock

import (
	"context"
	"sync"

	"github.com/verbamed/verbamed/internal/summary"
)

var (
	_ summary.Archive         = (*Store)(nil)
	_ summary.TranscriptStore = (*Store)(nil)
)

// Store keeps transcripts and archived sessions in process memory. It is
// safe for concurrent use. Data does not survive a restart.
type Store struct {
	mu          sync.RWMutex
	transcripts map[string]transcriptRecord
	archived    map[string]summary.ArchivedConversation
}

type transcriptRecord struct {
	text string
	note summary.StructuredNote
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		transcripts: map[string]transcriptRecord{},
		archived:    map[string]summary.ArchivedConversation{},
	}
}

// TranscriptText implements [summary.TranscriptStore].
func (s *Store) TranscriptText(_ context.Context, caseID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcripts[caseID].text, nil
}

// ReplaceTranscript implements [summary.TranscriptStore].
func (s *Store) ReplaceTranscript(_ context.Context, caseID, text string, note summary.StructuredNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[caseID] = transcriptRecord{text: text, note: note}
	return nil
}

// StructuredNote returns the folded note stored for the case, or false when
// the case has no transcript yet.
func (s *Store) StructuredNote(_ context.Context, caseID string) (summary.StructuredNote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.transcripts[caseID]
	return rec.note, ok, nil
}

// ArchiveSession implements [summary.Archive].
func (s *Store) ArchiveSession(_ context.Context, conv summary.ArchivedConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived[conv.SessionID] = conv
	return nil
}

// Archived returns the archived conversation for the session id, if any.
func (s *Store) Archived(sessionID string) (summary.ArchivedConversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.archived[sessionID]
	return conv, ok
}

// Ping implements the readiness probe and always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op, present so the mock satisfies the same lifecycle as the
// postgres store.
func (s *Store) Close() {}
