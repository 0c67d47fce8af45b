package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/verbamed/verbamed/internal/observe"
	"github.com/verbamed/verbamed/internal/session"
	"github.com/verbamed/verbamed/internal/summary"
	"github.com/verbamed/verbamed/pkg/audio"
)

// maxChunkBytes bounds one multipart audio upload. Browser recorders send
// chunks of a few seconds; 8 MiB leaves ample room for uncompressed WAV.
const maxChunkBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	caseID := r.FormValue("case_id")
	id := s.sessions.Start(caseID)
	s.metrics.ActiveSessions.Add(r.Context(), 1)

	s.log.Info("session started", "session_id", id, "case_id", caseID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": id,
		"message":    "Transcription session started",
	})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "session_id is required",
		})
		return
	}

	wasActive := s.sessions.Status(sessionID) == session.StatusActive

	// Flush whatever audio is still buffered as one final short window and
	// recognize it synchronously, so the stop response's segment count is
	// complete. The flush goes through the worker pool like every other
	// recognition so the concurrency bound holds across stop too.
	if wasActive {
		err := s.pool.Do(r.Context(), func() error {
			tw, ok := s.pipelineFor(sessionID).drain()
			if !ok {
				return nil
			}
			_, err := s.recognizeWindow(r.Context(), sessionID, tw, time.Now())
			return err
		})
		if err != nil {
			s.log.Warn("final window recognition failed", "session_id", sessionID, "err", err)
		}
	}

	total, err := s.sessions.Stop(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Unknown session",
		})
		return
	}
	if wasActive {
		s.metrics.ActiveSessions.Add(r.Context(), -1)
	}
	s.dropPipeline(sessionID)

	s.log.Info("session stopped", "session_id", sessionID, "total_segments", total)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"session_id":     sessionID,
		"total_segments": total,
		"message":        "Transcription session stopped",
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		// Unknown sessions read as idle rather than erroring, matching the
		// registry's Status semantics.
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":    sessionID,
			"is_active":     false,
			"segment_count": 0,
			"last_update":   nil,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    snap.SessionID,
		"is_active":     snap.Status == session.StatusActive,
		"segment_count": len(snap.Segments),
		"last_update":   snap.LastUpdate,
	})
}

func (s *Server) handleLatestTranscription(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"segments":    []session.Segment{},
			"is_active":   false,
			"last_update": nil,
			"session_id":  sessionID,
		})
		return
	}

	segments := snap.Segments
	if segments == nil {
		segments = []session.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments":    segments,
		"is_active":   snap.Status == session.StatusActive,
		"last_update": snap.LastUpdate,
		"session_id":  snap.SessionID,
	})
}

func (s *Server) handleTranscribeChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxChunkBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid multipart form",
		})
		return
	}

	sessionID := r.FormValue("session_id")
	if s.sessions.Status(sessionID) != session.StatusActive {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false,
			"message": "Session is not active",
		})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid audio file",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxChunkBytes+1))
	if err != nil || len(data) > maxChunkBytes {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Audio chunk too large",
		})
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = header.Header.Get("Content-Type")
	}

	ts := time.Now()
	if raw := r.FormValue("timestamp"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "timestamp must be unix milliseconds",
			})
			return
		}
		ts = time.UnixMilli(ms)
	}

	chunk := audio.Chunk{Data: data, Format: format, ReceivedAt: ts}

	var last *session.Segment
	err = s.pool.Do(r.Context(), func() error {
		start := time.Now()
		windows, err := s.pipelineFor(sessionID).ingest(chunk)
		s.metrics.NormalizeDuration.Record(r.Context(), time.Since(start).Seconds())
		if err != nil {
			return err
		}

		for _, tw := range windows {
			seg, err := s.recognizeWindow(r.Context(), sessionID, tw, ts)
			if err != nil {
				return err
			}
			if seg != nil {
				last = seg
			}
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrUnsupportedFormat):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": fmt.Sprintf("Unsupported audio format %q", format),
			})
		case errors.Is(err, session.ErrSessionNotActive), errors.Is(err, session.ErrSessionNotFound):
			writeJSON(w, http.StatusConflict, map[string]any{
				"success": false,
				"message": "Session is not active",
			})
		default:
			observe.Logger(r.Context()).Error("chunk processing failed", "session_id", sessionID, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"message": "Transcription failed",
			})
		}
		return
	}

	if last == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"transcript": "",
			"message":    "No speech detected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"transcript": last.Text,
		"segment_id": last.ID,
		"timestamp":  last.Timestamp.Format("15:04:05"),
	})
}

// recognizeWindow runs one window through the recognizer, trims boundary
// duplicates when dedup is enabled, and appends the resulting segment.
// Returns nil when the window produced no usable text.
func (s *Server) recognizeWindow(ctx context.Context, sessionID string, tw timedWindow, ts time.Time) (*session.Segment, error) {
	s.metrics.RecordWindow(ctx)

	start := time.Now()
	text, err := s.rec.Recognize(ctx, tw.window)
	s.metrics.RecordRecognize(ctx, s.backend, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("server: recognize window: %w", err)
	}
	if text == "" {
		return nil, nil
	}

	if s.trimmer != nil {
		if prev := s.sessions.LastSegmentText(sessionID); prev != "" {
			text = s.trimmer.Trim(prev, text)
			if text == "" {
				return nil, nil
			}
		}
	}

	seg := session.NewSegment(text, ts, tw.start, tw.end)
	if err := s.sessions.Append(sessionID, seg); err != nil {
		return nil, err
	}
	s.metrics.RecordSegment(ctx)
	return &seg, nil
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "Summarization is not configured",
		})
		return
	}

	sessionID := r.FormValue("session_id")
	wasActive := s.sessions.Status(sessionID) == session.StatusActive

	res, err := s.summarizer.SummarizeAndArchive(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, summary.ErrNothingToSummarize) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": "No conversation to summarize",
			})
			return
		}
		observe.Logger(r.Context()).Error("summarization failed", "session_id", sessionID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Summarization failed",
		})
		return
	}

	if wasActive {
		s.metrics.ActiveSessions.Add(r.Context(), -1)
	}
	s.dropPipeline(sessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"summary":               res.Summary,
		"archived_conversation": res.Archived,
	})
}

// saveTranscriptionRequest is the body of the incremental case save.
type saveTranscriptionRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleIncrementalSave(w http.ResponseWriter, r *http.Request) {
	if s.summarizer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"message": "Summarization is not configured",
		})
		return
	}

	caseID := r.PathValue("caseID")

	var req saveTranscriptionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChunkBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Invalid request body",
		})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "text must not be empty",
		})
		return
	}

	if err := s.summarizer.SaveIncrement(r.Context(), caseID, req.Text); err != nil {
		observe.Logger(r.Context()).Error("incremental save failed", "case_id", caseID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"message": "Failed to save transcription",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Transcription saved successfully.",
	})
}
