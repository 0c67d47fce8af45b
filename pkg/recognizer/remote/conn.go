// Package remote provides the remote recognition backend: windows are
// serialized as raw PCM and sent over a persistent duplex websocket
// connection to a recognition service that answers each binary message with
// one text message.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/verbamed/verbamed/pkg/recognizer"
)

const (
	defaultResponseTimeout = 10 * time.Second
	defaultDialTimeout     = 10 * time.Second
)

// Result is the outcome of one recognition round-trip. A timed-out round
// carries TimedOut=true and empty text; callers treat it as "no transcript
// produced this round", not a hard error.
type Result struct {
	Text     string
	TimedOut bool
}

// ConnOption is a functional option for configuring a [Conn].
type ConnOption func(*Conn)

// WithResponseTimeout sets how long SendAndReceive waits for the response
// message. Defaults to 10 s.
func WithResponseTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.respTimeout = d
		}
	}
}

// WithDialTimeout bounds connection establishment. Defaults to 10 s.
func WithDialTimeout(d time.Duration) ConnOption {
	return func(c *Conn) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithHeader sets extra HTTP headers sent on the websocket handshake
// (typically authorization).
func WithHeader(h http.Header) ConnOption {
	return func(c *Conn) { c.header = h }
}

// WithTimeoutHook registers fn to be called once per response timeout, from
// inside the round that timed out. Used to feed timeout counters without this
// package depending on a metrics backend. fn must not call back into the Conn.
func WithTimeoutHook(fn func()) ConnOption {
	return func(c *Conn) { c.onTimeout = fn }
}

// Conn is a persistent duplex connection to the remote recognition backend.
// The underlying socket is created lazily on first use and re-established at
// most once per call when found closed.
//
// Exactly one physical connection is held; concurrent callers are serialized
// behind a mutex so responses cannot interleave between requests. All methods
// are safe for concurrent use.
type Conn struct {
	endpoint    string
	respTimeout time.Duration
	dialTimeout time.Duration
	header      http.Header
	onTimeout   func()

	mu       sync.Mutex
	ws       *websocket.Conn
	failures int // consecutive failed rounds since the last success
}

// NewConn creates a Conn for the given endpoint (ws://, wss://, or the
// corresponding http forms). No network activity happens until the first
// call.
func NewConn(endpoint string, opts ...ConnOption) *Conn {
	c := &Conn{
		endpoint:    endpoint,
		respTimeout: defaultResponseTimeout,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendAndReceive sends one binary message and waits up to the response
// timeout for exactly one reply.
//
// If the connection turns out to be closed, it reconnects exactly once and
// retries the round once; a second failure surfaces as
// [recognizer.ErrBackendUnavailable] rather than retrying forever. A missing
// response within the timeout yields Result{TimedOut: true} with no error;
// the stale socket is dropped so a late reply cannot be mistaken for the
// answer to a later request.
func (c *Conn) SendAndReceive(ctx context.Context, payload []byte) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(ctx); err != nil {
		c.failures++
		return Result{}, err
	}

	res, err := c.roundLocked(ctx, payload)
	if err == nil {
		c.failures = 0
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	// The socket died mid-round. One reconnect, one retry.
	slog.Warn("asr connection lost, reconnecting", "endpoint", c.endpoint, "err", err)
	c.dropLocked(websocket.StatusAbnormalClosure, "round failed")
	if dialErr := c.ensureLocked(ctx); dialErr != nil {
		c.failures++
		return Result{}, dialErr
	}

	res, err = c.roundLocked(ctx, payload)
	if err != nil {
		c.dropLocked(websocket.StatusAbnormalClosure, "retry failed")
		c.failures++
		return Result{}, fmt.Errorf("%w: retry after reconnect failed: %v", recognizer.ErrBackendUnavailable, err)
	}
	c.failures = 0
	return res, nil
}

// roundLocked performs one write+read against the current socket. A response
// timeout is converted into a soft Result; every other failure is returned
// for the caller's reconnect handling.
func (c *Conn) roundLocked(ctx context.Context, payload []byte) (Result, error) {
	if err := c.ws.Write(ctx, websocket.MessageBinary, payload); err != nil {
		return Result{}, fmt.Errorf("write: %w", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, c.respTimeout)
	defer cancel()

	_, data, err := c.ws.Read(readCtx)
	if err != nil {
		if errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// The backend swallowed the request. Drop the socket so a late
			// reply cannot leak into the next round.
			c.dropLocked(websocket.StatusPolicyViolation, "response timeout")
			slog.Warn("asr response timed out", "endpoint", c.endpoint, "timeout", c.respTimeout)
			if c.onTimeout != nil {
				c.onTimeout()
			}
			return Result{TimedOut: true}, nil
		}
		return Result{}, fmt.Errorf("read: %w", err)
	}
	return Result{Text: string(data)}, nil
}

// Ping dials if necessary and verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(ctx); err != nil {
		return err
	}
	if err := c.ws.Ping(ctx); err != nil {
		c.dropLocked(websocket.StatusAbnormalClosure, "ping failed")
		return fmt.Errorf("%w: ping: %v", recognizer.ErrBackendUnavailable, err)
	}
	return nil
}

// Failures returns the consecutive failed-round count since the last
// successful round. Exposed for health reporting.
func (c *Conn) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Close tears the connection down. Safe to call more than once; subsequent
// calls redial lazily, so Close is also how a caller forces a fresh socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(websocket.StatusNormalClosure, "client shutdown")
	return nil
}

// ensureLocked dials the endpoint if no socket is held. Dial failure is fatal
// to the call and surfaced as ErrBackendUnavailable.
func (c *Conn) ensureLocked(ctx context.Context) error {
	if c.ws != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.endpoint, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", recognizer.ErrBackendUnavailable, c.endpoint, err)
	}
	// Recognition replies for long windows can be sizeable.
	ws.SetReadLimit(1 << 20)
	c.ws = ws
	slog.Debug("asr connection established", "endpoint", c.endpoint)
	return nil
}

// dropLocked closes and forgets the current socket, if any.
func (c *Conn) dropLocked(code websocket.StatusCode, reason string) {
	if c.ws == nil {
		return
	}
	_ = c.ws.Close(code, reason)
	c.ws = nil
}
