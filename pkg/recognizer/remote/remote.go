package remote

import (
	"context"
	"strings"

	"github.com/verbamed/verbamed/pkg/audio"
	"github.com/verbamed/verbamed/pkg/recognizer"
)

// Compile-time assertion that Remote implements recognizer.Recognizer.
var _ recognizer.Recognizer = (*Remote)(nil)

// Remote is the websocket-backed recognition backend. It serializes each
// window's raw little-endian PCM as a single outbound binary message and
// returns the backend's verbatim text reply.
type Remote struct {
	conn *Conn
}

// New creates a Remote backend for the given endpoint. The connection is
// established lazily on the first Recognize or Ready call.
func New(endpoint string, opts ...ConnOption) *Remote {
	return &Remote{conn: NewConn(endpoint, opts...)}
}

// Recognize implements recognizer.Recognizer. A timed-out round resolves to
// an empty transcript so the session loop can continue.
func (r *Remote) Recognize(ctx context.Context, w audio.Window) (string, error) {
	res, err := r.conn.SendAndReceive(ctx, audio.SamplesToBytes(w.Samples))
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", nil
	}
	return strings.TrimSpace(res.Text), nil
}

// Ready implements recognizer.Recognizer via a websocket ping.
func (r *Remote) Ready(ctx context.Context) error { return r.conn.Ping(ctx) }

// Close implements recognizer.Recognizer.
func (r *Remote) Close() error { return r.conn.Close() }

// Failures exposes the connection's consecutive failure count.
func (r *Remote) Failures() int { return r.conn.Failures() }
