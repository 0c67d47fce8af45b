package server

import (
	"sync"
	"time"

	"github.com/verbamed/verbamed/pkg/audio"
)

// newChunk wraps a raw payload as a chunk arriving now.
func newChunk(data []byte, format string) audio.Chunk {
	return audio.Chunk{Data: data, Format: format, ReceivedAt: time.Now()}
}

// timedWindow pairs a recognition window with its session-relative offsets.
type timedWindow struct {
	window audio.Window

	// start and end bound the fresh (non-overlap) audio of the window,
	// measured from the session start.
	start time.Duration
	end   time.Duration
}

// pipeline is the per-session audio state: the format decoder, the window
// buffer, and the running play-time cursor used to derive segment offsets.
// Its mutex serializes chunk ingest for one session; chunks for different
// sessions proceed in parallel.
type pipeline struct {
	mu         sync.Mutex
	normalizer *audio.Normalizer
	buffer     *audio.WindowBuffer

	// elapsed is the total play time of all samples pushed so far, measured
	// from the session start. Segment offsets are cut from this cursor.
	elapsed time.Duration
}

func newPipeline(window, overlap time.Duration) *pipeline {
	return &pipeline{
		normalizer: audio.NewNormalizer(),
		buffer:     audio.NewWindowBuffer(window, overlap),
	}
}

// ingest decodes one chunk and pushes its samples into the window buffer.
// It returns every full window that became ready, each stamped with its
// offsets. The caller holds no lock; ingest serializes internally.
func (p *pipeline) ingest(chunk audio.Chunk) ([]timedWindow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	block, err := p.normalizer.Normalize(chunk)
	if err != nil {
		return nil, err
	}
	p.elapsed += block.Duration()
	p.buffer.Push(block)

	var windows []timedWindow
	for {
		w, ok := p.buffer.TryTake()
		if !ok {
			break
		}
		windows = append(windows, p.stamp(w))
	}
	return windows, nil
}

// drain flushes the remaining buffered samples as one final window. Returns
// false when the buffer is empty.
func (p *pipeline) drain() (timedWindow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.buffer.Flush()
	if !ok {
		return timedWindow{}, false
	}
	return p.stamp(w), true
}

// stamp derives the offsets for a window just taken from the buffer: the end
// is the cursor minus whatever samples are still pending, and the start backs
// off by the window's fresh duration so overlapped audio stays attributed to
// the earlier segment. Callers hold p.mu.
func (p *pipeline) stamp(w audio.Window) timedWindow {
	end := p.elapsed - audio.SamplesDuration(p.buffer.Pending())
	start := end - w.FreshDuration()
	if start < 0 {
		start = 0
	}
	return timedWindow{window: w, start: start, end: end}
}
