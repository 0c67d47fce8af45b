// Package whisper provides the local recognition backend, running whisper.cpp
// inference in-process through the CGO bindings. The whisper.cpp static
// library (libwhisper.a) and headers must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across all inference
// calls; each call creates a fresh whisper context, so concurrent Recognize
// calls do not interfere. Decoding is greedy (no sampling), so identical
// windows always produce identical text.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/verbamed/verbamed/pkg/audio"
	"github.com/verbamed/verbamed/pkg/recognizer"
)

const (
	defaultLanguage       = "en"
	defaultMaxOutputRunes = 4096
)

// Compile-time assertion that Local implements recognizer.Recognizer.
var _ recognizer.Recognizer = (*Local)(nil)

// Option is a functional option for configuring a Local backend.
type Option func(*Local)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "zh"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(l *Local) {
		if lang != "" {
			l.language = lang
		}
	}
}

// WithMaxOutputRunes bounds the transcript length produced for a single
// window. Output past the bound is truncated at a segment boundary.
// Defaults to 4096.
func WithMaxOutputRunes(n int) Option {
	return func(l *Local) {
		if n > 0 {
			l.maxOutput = n
		}
	}
}

// Local is the in-process whisper.cpp recognition backend.
type Local struct {
	language  string
	maxOutput int

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// New loads the whisper.cpp model at modelPath. The caller owns the returned
// backend and must Close it to release the model.
func New(modelPath string, opts ...Option) (*Local, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	l := &Local{
		model:     model,
		language:  defaultLanguage,
		maxOutput: defaultMaxOutputRunes,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Recognize implements recognizer.Recognizer. The window's samples are
// converted to normalized float32 mono and run through a fresh whisper
// context. Inference is synchronous and CPU-bound; route calls through the
// server's worker pool.
func (l *Local) Recognize(ctx context.Context, w audio.Window) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	model, err := l.activeModel()
	if err != nil {
		return "", err
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", recognizer.ErrBackendUnavailable, err)
	}
	// Unknown language codes degrade to the model default.
	_ = wctx.SetLanguage(l.language)

	samples := audio.SamplesToFloat32(w.Samples)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process window: %w", err)
	}

	tb := newTranscriptBuilder(l.maxOutput)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if tb.add(segment.Text) {
			break
		}
	}
	return tb.String(), nil
}

// transcriptBuilder joins segment texts with single spaces and reports when
// the rune bound is reached. The model emits UTF-8; counting bytes would cut
// multibyte output short of the documented bound.
type transcriptBuilder struct {
	sb    strings.Builder
	runes int
	max   int
}

func newTranscriptBuilder(max int) *transcriptBuilder {
	return &transcriptBuilder{max: max}
}

// add appends text (trimmed, empty ignored) and reports whether the
// accumulated transcript has reached the bound.
func (b *transcriptBuilder) add(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return b.runes >= b.max
	}
	if b.sb.Len() > 0 {
		b.sb.WriteByte(' ')
		b.runes++
	}
	b.sb.WriteString(text)
	b.runes += utf8.RuneCountInString(text)
	return b.runes >= b.max
}

func (b *transcriptBuilder) String() string { return b.sb.String() }

// Ready implements recognizer.Recognizer: the backend is ready as long as the
// model is loaded.
func (l *Local) Ready(_ context.Context) error {
	_, err := l.activeModel()
	return err
}

// Close releases the model. Safe to call more than once.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.model.Close()
}

// activeModel returns the loaded model or an unavailability error after Close.
func (l *Local) activeModel() (whisperlib.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("%w: model is closed", recognizer.ErrBackendUnavailable)
	}
	return l.model, nil
}
