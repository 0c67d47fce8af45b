// Package audio implements the ingest side of the verbamed transcription
// pipeline: decoding browser-recorded audio chunks into canonical PCM,
// converting sample rates and channel layouts, and slicing the resulting
// sample stream into fixed-duration, overlapping recognition windows.
//
// The canonical format for everything downstream of [Normalizer] is 16-bit
// signed mono PCM at 16 kHz, carried as []int16 sample slices.
package audio

import (
	"time"
)

const (
	// SampleRate is the canonical sample rate for recognition input, in Hz.
	SampleRate = 16000

	// Channels is the canonical channel count (mono).
	Channels = 1
)

// Chunk is one unit of raw audio as delivered by a client: the undecoded
// payload, the declared container/codec tag, and the arrival time. Chunks are
// ephemeral — they are consumed by [Normalizer.Normalize] and not retained.
type Chunk struct {
	// Data is the raw payload as received.
	Data []byte

	// Format is the declared container/codec tag, e.g. "opus", "webm",
	// "wav", or "pcm". Matching is case-insensitive and tolerant of MIME
	// prefixes ("audio/webm;codecs=opus" selects the opus path).
	Format string

	// ReceivedAt is when the chunk arrived at the server.
	ReceivedAt time.Time
}

// SampleBlock is an ordered run of canonical PCM samples (16 kHz, mono,
// 16-bit signed). Produced once per [Chunk]; owned by the window buffer from
// the moment it is pushed.
type SampleBlock []int16

// Duration returns the play time of the block at the canonical sample rate.
func (b SampleBlock) Duration() time.Duration {
	return SamplesDuration(len(b))
}

// Window is a slice of canonical samples submitted to the recognizer as one
// unit. Samples holds Overlap carried-over samples from the tail of the
// previous window followed by the fresh samples; the first window of a stream
// has Overlap == 0.
type Window struct {
	// Samples is the full sample run to recognize, overlap included.
	Samples []int16

	// Overlap is the number of leading samples repeated from the previous
	// window. Words cut at the previous window's edge fall inside this
	// region and are recognized a second time.
	Overlap int

	// Final marks a window produced by a session-stop flush. Final windows
	// may be shorter than the configured target length.
	Final bool
}

// Duration returns the play time of the window, overlap included.
func (w Window) Duration() time.Duration {
	return SamplesDuration(len(w.Samples))
}

// FreshDuration returns the play time of the non-overlap portion.
func (w Window) FreshDuration() time.Duration {
	return SamplesDuration(len(w.Samples) - w.Overlap)
}

// Peak returns the maximum absolute sample amplitude in the window. Used by
// the recognizer's silence gate; a window whose peak never clears the
// configured threshold is treated as silent.
func (w Window) Peak() int16 {
	var peak int16
	for _, s := range w.Samples {
		if s == -32768 {
			return 32767
		}
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// SamplesDuration converts a sample count at the canonical rate to a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// DurationSamples converts a duration to a sample count at the canonical rate.
func DurationSamples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
