// Package recognizer defines the speech-recognition capability used by the
// transcription pipeline and the silence gate shared by its backends.
//
// Two interchangeable backends exist: [whisper.Local] runs whisper.cpp
// inference in-process, and [remote.Remote] proxies windows over a persistent
// websocket connection to a remote recognition service. Selection between
// them is a configuration decision; callers only ever see the Recognizer
// interface.
package recognizer

import (
	"context"
	"errors"
	"time"

	"github.com/verbamed/verbamed/pkg/audio"
)

// ErrBackendUnavailable is returned when the recognition backend cannot be
// reached (or, for the remote backend, re-reached after its single reconnect
// attempt). It is the only hard failure Recognize may surface for ordinary
// audio content.
var ErrBackendUnavailable = errors.New("recognizer: backend unavailable")

// Recognizer turns a window of canonical PCM samples into text. An empty
// string is a valid result (silence, or a recognition round that timed out).
type Recognizer interface {
	// Recognize transcribes one window. It never fails for ordinary audio
	// content; the only error condition is backend unavailability.
	Recognize(ctx context.Context, w audio.Window) (string, error)

	// Ready probes whether the backend can currently serve requests.
	Ready(ctx context.Context) error

	// Close releases backend resources. Safe to call more than once.
	Close() error
}

// Silence-gate defaults: windows shorter than MinWindowDuration, or whose
// peak amplitude stays under PeakThreshold (absolute int16 units), skip the
// backend entirely.
const (
	DefaultMinWindowDuration = 500 * time.Millisecond
	DefaultPeakThreshold     = int16(500)
)

// Gated wraps a Recognizer with the silence gate: windows that are too short
// or too quiet resolve to an empty transcript without invoking the backend.
// This is a cost control — short and silent windows dominate quiet stretches
// of a clinical encounter.
type Gated struct {
	inner         Recognizer
	minDuration   time.Duration
	peakThreshold int16
}

// NewGated wraps inner with the silence gate. Non-positive parameters fall
// back to the defaults.
func NewGated(inner Recognizer, minDuration time.Duration, peakThreshold int16) *Gated {
	if minDuration <= 0 {
		minDuration = DefaultMinWindowDuration
	}
	if peakThreshold <= 0 {
		peakThreshold = DefaultPeakThreshold
	}
	return &Gated{inner: inner, minDuration: minDuration, peakThreshold: peakThreshold}
}

// Recognize implements Recognizer. Gated-out windows return ("", nil).
func (g *Gated) Recognize(ctx context.Context, w audio.Window) (string, error) {
	if w.Duration() < g.minDuration || w.Peak() < g.peakThreshold {
		return "", nil
	}
	return g.inner.Recognize(ctx, w)
}

// Ready implements Recognizer by delegating to the wrapped backend.
func (g *Gated) Ready(ctx context.Context) error { return g.inner.Ready(ctx) }

// Close implements Recognizer by delegating to the wrapped backend.
func (g *Gated) Close() error { return g.inner.Close() }

// Compile-time assertion.
var _ Recognizer = (*Gated)(nil)
