package audio

import (
	"fmt"
	"time"
)

// Default window geometry: 5 s windows with a 1 s overlap carried between
// consecutive windows so words cut at a boundary are recognized twice.
const (
	DefaultWindowLength = 5 * time.Second
	DefaultOverlap      = 1 * time.Second
)

// WindowBuffer slices a stream of sample blocks into fixed-length recognition
// windows. It holds at most target+overlap pending samples: pushing beyond
// that capacity slides the buffer forward, discarding the oldest samples
// rather than growing.
//
// A window is emitted only once target fresh samples have accumulated since
// the previous emission. Each emitted window is prefixed with the overlap
// tail of the previous window. The duplicate transcript text this produces is
// not suppressed here; see the transcript package for the optional trim
// policy.
//
// WindowBuffer is not safe for concurrent use; each audio stream owns one.
type WindowBuffer struct {
	target  int // fresh samples per window
	overlap int // samples carried from the previous window

	pending []int16 // accumulated un-emitted samples, len <= target+overlap
	tail    []int16 // overlap tail of the last emitted window
}

// NewWindowBuffer creates a WindowBuffer with the given window length and
// overlap. Non-positive or out-of-range values fall back to the defaults.
func NewWindowBuffer(window, overlap time.Duration) *WindowBuffer {
	if window <= 0 {
		window = DefaultWindowLength
	}
	if overlap <= 0 || overlap >= window {
		overlap = DefaultOverlap
		if overlap >= window {
			overlap = window / 5
		}
	}
	target := DurationSamples(window)
	ov := DurationSamples(overlap)
	return &WindowBuffer{
		target:  target,
		overlap: ov,
		pending: make([]int16, 0, target+ov),
	}
}

// Push appends a sample block to the buffer. When the pending region would
// exceed target+overlap samples, the oldest samples are discarded first.
// Amortized O(len(block)).
func (wb *WindowBuffer) Push(block SampleBlock) {
	capacity := wb.target + wb.overlap
	if len(block) >= capacity {
		// The block alone fills the buffer; keep only its newest samples.
		wb.pending = append(wb.pending[:0], block[len(block)-capacity:]...)
		return
	}
	if excess := len(wb.pending) + len(block) - capacity; excess > 0 {
		wb.pending = append(wb.pending[:0], wb.pending[excess:]...)
	}
	wb.pending = append(wb.pending, block...)
}

// TryTake returns the next full window if at least target fresh samples have
// accumulated, and false otherwise. The returned window's Samples begin with
// the previous window's overlap tail (none for the first window).
func (wb *WindowBuffer) TryTake() (Window, bool) {
	if len(wb.pending) < wb.target {
		return Window{}, false
	}
	return wb.emit(wb.target, false), true
}

// Flush returns whatever partial samples remain as a final short window.
// Called on explicit session stop; returns false when nothing is pending.
func (wb *WindowBuffer) Flush() (Window, bool) {
	if len(wb.pending) == 0 {
		return Window{}, false
	}
	return wb.emit(len(wb.pending), true), true
}

// Pending returns the number of buffered un-emitted samples.
func (wb *WindowBuffer) Pending() int { return len(wb.pending) }

// emit slices fresh samples off the pending region, prefixes the previous
// overlap tail, and records the new tail for the next window.
func (wb *WindowBuffer) emit(fresh int, final bool) Window {
	samples := make([]int16, 0, len(wb.tail)+fresh)
	samples = append(samples, wb.tail...)
	samples = append(samples, wb.pending[:fresh]...)

	w := Window{
		Samples: samples,
		Overlap: len(wb.tail),
		Final:   final,
	}

	// Carry the tail of this window (overlap newest samples) forward.
	tailLen := wb.overlap
	if tailLen > len(samples) {
		tailLen = len(samples)
	}
	wb.tail = append(wb.tail[:0], samples[len(samples)-tailLen:]...)

	wb.pending = append(wb.pending[:0], wb.pending[fresh:]...)
	return w
}

// String reports the buffer geometry, for logs.
func (wb *WindowBuffer) String() string {
	return fmt.Sprintf("window=%s overlap=%s pending=%s",
		SamplesDuration(wb.target), SamplesDuration(wb.overlap), SamplesDuration(len(wb.pending)))
}
