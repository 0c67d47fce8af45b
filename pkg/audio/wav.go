package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errNotWAV is returned by DecodeWAV when the payload does not start with a
// RIFF/WAVE header. The normalizer uses it to fall through to other decoders.
var errNotWAV = errors.New("audio: not a RIFF/WAVE payload")

// EncodeWAV wraps 16-bit signed PCM samples in a standard RIFF/WAV container
// at the given rate and channel count.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	pcm := SamplesToBytes(samples)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAV container holding 16-bit PCM and returns the
// interleaved samples together with the sample rate and channel count from
// the fmt chunk. Unknown chunks between fmt and data are skipped.
func DecodeWAV(data []byte) (samples []int16, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errNotWAV
	}

	var (
		haveFmt bool
		format  uint16
		bits    uint16
		pcm     []byte
	)

	// Walk the chunk list. Chunks are word-aligned; a chunk with an odd size
	// is followed by one pad byte.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, 0, 0, fmt.Errorf("audio: wav chunk %q overruns payload", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, 0, errors.New("audio: wav payload is missing fmt or data chunk")
	}
	if format != 1 || bits != 16 {
		return nil, 0, 0, fmt.Errorf("audio: unsupported wav encoding (format=%d bits=%d); only 16-bit PCM is accepted", format, bits)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, 0, 0, fmt.Errorf("audio: invalid wav fmt chunk (rate=%d channels=%d)", sampleRate, channels)
	}

	return BytesToSamples(pcm), sampleRate, channels, nil
}
