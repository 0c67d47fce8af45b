package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"layeh.com/gopus"
)

// ErrUnsupportedFormat is returned by [Normalizer.Normalize] when a chunk
// cannot be decoded by the declared format's decoder and the raw-PCM fallback
// also fails. It is a client error; the session itself stays usable.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Browser-recorded Opus runs at 48 kHz; MediaRecorder typically emits mono
// but stereo shows up too, so the decoder is opened stereo and the result is
// downmixed. 5760 samples per channel covers the maximum 120 ms Opus frame.
const (
	opusSourceRate   = 48000
	opusChannels     = 2
	opusMaxFrameSize = opusSourceRate * 120 / 1000
)

// Normalizer decodes raw client audio chunks into canonical 16 kHz mono
// sample blocks. It owns per-stream decoder state (the Opus decoder carries
// prediction state across consecutive packets), so create one Normalizer per
// audio stream and do not share it across goroutines.
type Normalizer struct {
	opus *gopus.Decoder
}

// NewNormalizer creates a Normalizer. The Opus decoder is created lazily on
// the first Opus chunk.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize decodes chunk into canonical PCM. The declared format tag picks
// the decode path; if that path fails, the original bytes are retried as raw
// 16 kHz mono s16le PCM before [ErrUnsupportedFormat] is returned.
func (n *Normalizer) Normalize(chunk Chunk) (SampleBlock, error) {
	if len(chunk.Data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}

	block, err := n.decode(chunk)
	if err == nil {
		return block, nil
	}

	// Last resort: treat the payload as raw canonical PCM.
	if raw, rawErr := decodeRawPCM(chunk.Data); rawErr == nil {
		slog.Debug("audio: declared format failed, raw PCM fallback succeeded",
			"format", chunk.Format, "err", err)
		return raw, nil
	}

	return nil, fmt.Errorf("%w (declared %q): %v", ErrUnsupportedFormat, chunk.Format, err)
}

// decode dispatches on the declared format tag. Tags are matched loosely so
// MIME strings like "audio/webm;codecs=opus" work unmodified.
func (n *Normalizer) decode(chunk Chunk) (SampleBlock, error) {
	tag := strings.ToLower(chunk.Format)
	switch {
	case strings.Contains(tag, "opus") || strings.Contains(tag, "webm") || strings.Contains(tag, "ogg"):
		return n.decodeOpus(chunk.Data)
	case strings.Contains(tag, "wav"):
		return decodeWAVChunk(chunk.Data)
	case strings.Contains(tag, "pcm") || strings.Contains(tag, "raw") || strings.Contains(tag, "l16"):
		return decodeRawPCM(chunk.Data)
	default:
		// No recognizable tag: sniff a WAV header, then try Opus.
		if block, err := decodeWAVChunk(chunk.Data); err == nil {
			return block, nil
		}
		return n.decodeOpus(chunk.Data)
	}
}

// decodeOpus decodes one or more Opus packets to canonical PCM. The payload
// is either a single bare packet (one MediaRecorder frame per chunk) or a
// run of packets each prefixed with a 16-bit big-endian length.
func (n *Normalizer) decodeOpus(data []byte) (SampleBlock, error) {
	if n.opus == nil {
		dec, err := gopus.NewDecoder(opusSourceRate, opusChannels)
		if err != nil {
			return nil, fmt.Errorf("audio: create opus decoder: %w", err)
		}
		n.opus = dec
	}

	pcm, err := n.opus.Decode(data, opusMaxFrameSize, false)
	if err != nil {
		// Not a bare packet; try length-prefixed framing.
		var framed []int16
		framed, err = n.decodeFramedOpus(data)
		if err != nil {
			return nil, err
		}
		pcm = framed
	}

	mono := DownmixToMono(pcm, opusChannels)
	return Resample(mono, opusSourceRate, SampleRate), nil
}

// decodeFramedOpus decodes a run of [len:uint16be][packet] records.
func (n *Normalizer) decodeFramedOpus(data []byte) ([]int16, error) {
	var out []int16
	off := 0
	for off+2 <= len(data) {
		size := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		if size == 0 || off+size > len(data) {
			return nil, fmt.Errorf("audio: malformed opus frame at offset %d", off-2)
		}
		pcm, err := n.opus.Decode(data[off:off+size], opusMaxFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("audio: opus decode: %w", err)
		}
		out = append(out, pcm...)
		off += size
	}
	if off != len(data) || len(out) == 0 {
		return nil, errors.New("audio: payload is not framed opus")
	}
	return out, nil
}

// decodeWAVChunk parses a WAV container and converts the content to the
// canonical format, downmixing and resampling as needed.
func decodeWAVChunk(data []byte) (SampleBlock, error) {
	samples, rate, channels, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	mono := DownmixToMono(samples, channels)
	return Resample(mono, rate, SampleRate), nil
}

// decodeRawPCM interprets data as canonical 16 kHz mono s16le PCM. Payloads
// with an odd byte count are rejected rather than silently truncated.
func decodeRawPCM(data []byte) (SampleBlock, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: raw PCM payload must be a non-empty even byte count, got %d", len(data))
	}
	return BytesToSamples(data), nil
}
