// Package session holds per-encounter transcription state: the ordered
// transcript segments accumulated for each live session and the registry
// that owns their lifecycle.
//
// A session moves idle → active → stopped. The registry enforces that
// transitions and appends for one session never interleave (single writer per
// session) while fully independent sessions run in parallel.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusIdle is the registry's default for an unknown session id.
	StatusIdle Status = "idle"

	// StatusActive accepts appends.
	StatusActive Status = "active"

	// StatusStopped no longer accepts appends but keeps its segments
	// readable until the session is archived or discarded.
	StatusStopped Status = "stopped"
)

var (
	// ErrSessionNotFound is returned when operating on an unknown session id.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionNotActive is returned by Append for a session outside the
	// active state. The append causes no state change.
	ErrSessionNotActive = errors.New("session: not active")
)

// Segment is one recognized span of text. Segments are immutable once
// created: they are appended to a session's tail and never mutated in place.
type Segment struct {
	// ID uniquely identifies the segment.
	ID string `json:"id"`

	// Speaker is the speaker tag. Diarization is not performed, so this is
	// "unknown" unless a caller supplies something better.
	Speaker string `json:"speaker"`

	// Text is the recognized text.
	Text string `json:"text"`

	// Timestamp is the wall-clock time the audio arrived.
	Timestamp time.Time `json:"timestamp"`

	// Start and End are offsets from the session start.
	Start time.Duration `json:"start_offset"`
	End   time.Duration `json:"end_offset"`
}

// NewSegment creates a Segment with a fresh id and the "unknown" speaker tag.
func NewSegment(text string, ts time.Time, start, end time.Duration) Segment {
	return Segment{
		ID:        uuid.NewString(),
		Speaker:   "unknown",
		Text:      text,
		Timestamp: ts,
		Start:     start,
		End:       end,
	}
}

// Snapshot is a point-in-time read of one session. The Segments slice is a
// copy; the caller may retain it freely.
type Snapshot struct {
	SessionID  string
	CaseID     string
	Status     Status
	Segments   []Segment
	StartedAt  time.Time
	LastUpdate time.Time
}

// state is the mutable per-session record. Its mutex serializes every
// mutation for that one session; the registry's outer lock only guards the
// map itself.
type state struct {
	mu         sync.Mutex
	caseID     string
	status     Status
	segments   []Segment
	startedAt  time.Time
	lastUpdate time.Time
}

// Registry maps session ids to live session state and enforces the lifecycle.
// All methods are safe for concurrent use; operations on different sessions
// never contend with each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*state
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*state)}
}

// Start allocates a new session for caseID and returns its id. The session
// is active and empty. Start happens-before any Append for the returned id
// because the caller cannot know the id earlier.
func (r *Registry) Start(caseID string) string {
	id := uuid.NewString()
	now := time.Now().UTC()

	r.mu.Lock()
	r.sessions[id] = &state{
		caseID:     caseID,
		status:     StatusActive,
		startedAt:  now,
		lastUpdate: now,
	}
	r.mu.Unlock()
	return id
}

// Append adds seg at the tail of the session's transcript. Only valid in the
// active state; any other state leaves the session unchanged and returns
// ErrSessionNotActive (ErrSessionNotFound for unknown ids).
//
// Append is the point of no return for a recognized utterance: once it
// succeeds the segment is visible to every subsequent snapshot, in arrival
// order.
func (r *Registry) Append(sessionID string, seg Segment) error {
	st, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != StatusActive {
		return fmt.Errorf("%w (status %s)", ErrSessionNotActive, st.status)
	}
	st.segments = append(st.segments, seg)
	st.lastUpdate = time.Now().UTC()
	return nil
}

// LastSegmentText returns the text of the most recent segment, or "" for an
// empty or unknown session. Used by the overlap trim policy.
func (r *Registry) LastSegmentText(sessionID string) string {
	st, err := r.lookup(sessionID)
	if err != nil {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.segments) == 0 {
		return ""
	}
	return st.segments[len(st.segments)-1].Text
}

// Stop transitions the session to stopped. Idempotent: stopping a stopped
// session is a no-op. Accumulated segments remain readable until the session
// is cleared. Returns the segment count at stop time.
func (r *Registry) Stop(sessionID string) (total int, err error) {
	st, err := r.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = StatusStopped
	st.lastUpdate = time.Now().UTC()
	return len(st.segments), nil
}

// Snapshot returns a consistent copy of the session's segments and metadata.
// Safe to call concurrently with Append; it observes segments in exact
// append order.
func (r *Registry) Snapshot(sessionID string) (Snapshot, error) {
	st, err := r.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	segs := make([]Segment, len(st.segments))
	copy(segs, st.segments)
	return Snapshot{
		SessionID:  sessionID,
		CaseID:     st.caseID,
		Status:     st.status,
		Segments:   segs,
		StartedAt:  st.startedAt,
		LastUpdate: st.lastUpdate,
	}, nil
}

// Status reports the session's lifecycle state. Unknown ids report idle,
// the registry default.
func (r *Registry) Status(sessionID string) Status {
	st, err := r.lookup(sessionID)
	if err != nil {
		return StatusIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Clear removes the session entirely. Called after summarize-and-archive or
// an explicit discard; the id reads as idle afterwards.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// ActiveCount returns the number of sessions currently in the active state.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, st := range r.sessions {
		st.mu.Lock()
		if st.status == StatusActive {
			n++
		}
		st.mu.Unlock()
	}
	return n
}

func (r *Registry) lookup(sessionID string) (*state, error) {
	r.mu.RLock()
	st, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return st, nil
}
