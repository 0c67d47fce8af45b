package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/verbamed/verbamed/internal/session"
)

// streamMessage is one outbound frame on the WebSocket ingest stream: either
// a recognized segment or a keepalive status frame.
type streamMessage struct {
	Type    string           `json:"type"` // "segment" or "status"
	Segment *session.Segment `json:"segment,omitempty"`
	Message string           `json:"message,omitempty"`
}

// handleStream upgrades to a WebSocket and ingests binary audio frames for
// the session named in the session_id query parameter. Each inbound binary
// message is one audio chunk in the format named by the optional format query
// parameter (default raw PCM). Recognized segments are pushed back as JSON
// frames as windows complete, so the client does not poll.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if s.sessions.Status(sessionID) != session.StatusActive {
		http.Error(w, "session is not active", http.StatusConflict)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pcm"
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", sessionID, "err", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)

	s.log.Info("audio stream opened", "session_id", sessionID, "format", format)

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				ws.Close(websocket.StatusNormalClosure, "")
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			s.log.Debug("audio stream read ended", "session_id", sessionID, "err", err)
			return
		}
		if typ != websocket.MessageBinary {
			// Text frames are treated as client keepalives.
			continue
		}

		if err := s.streamChunk(ctx, ws, sessionID, format, data); err != nil {
			if errors.Is(err, session.ErrSessionNotActive) || errors.Is(err, session.ErrSessionNotFound) {
				ws.Close(websocket.StatusNormalClosure, "session stopped")
				return
			}
			s.log.Error("stream chunk failed", "session_id", sessionID, "err", err)
			ws.Close(websocket.StatusInternalError, "transcription failed")
			return
		}
	}
}

// streamChunk runs one inbound audio frame through the pipeline and writes a
// segment message for each recognized window.
func (s *Server) streamChunk(ctx context.Context, ws *websocket.Conn, sessionID, format string, data []byte) error {
	chunk := newChunk(data, format)

	var segs []session.Segment
	err := s.pool.Do(ctx, func() error {
		start := time.Now()
		windows, err := s.pipelineFor(sessionID).ingest(chunk)
		s.metrics.NormalizeDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		for _, tw := range windows {
			seg, err := s.recognizeWindow(ctx, sessionID, tw, chunk.ReceivedAt)
			if err != nil {
				return err
			}
			if seg != nil {
				segs = append(segs, *seg)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range segs {
		msg := streamMessage{Type: "segment", Segment: &segs[i]}
		if err := wsjson.Write(ctx, ws, msg); err != nil {
			return err
		}
	}
	return nil
}
