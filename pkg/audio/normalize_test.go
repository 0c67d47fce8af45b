package audio_test

import (
	"errors"
	"testing"

	"github.com/verbamed/verbamed/pkg/audio"
)

func TestNormalize_RawPCMPassthrough(t *testing.T) {
	t.Parallel()
	samples := []int16{100, -200, 300, -400}
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: audio.SamplesToBytes(samples), Format: "pcm"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(block) != len(samples) {
		t.Fatalf("block length = %d, want %d", len(block), len(samples))
	}
	for i := range samples {
		if block[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, block[i], samples[i])
		}
	}
}

func TestNormalize_WAVMono16k(t *testing.T) {
	t.Parallel()
	samples := []int16{1, 2, 3, 4, 5}
	wav := audio.EncodeWAV(samples, audio.SampleRate, 1)
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: wav, Format: "audio/wav"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(block) != len(samples) {
		t.Fatalf("block length = %d, want %d", len(block), len(samples))
	}
}

func TestNormalize_WAVStereoIsDownmixed(t *testing.T) {
	t.Parallel()
	// Interleaved L/R pairs; mono result is the pair average.
	stereo := []int16{100, 300, -100, -300}
	wav := audio.EncodeWAV(stereo, audio.SampleRate, 2)
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: wav, Format: "wav"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []int16{200, -200}
	if len(block) != len(want) {
		t.Fatalf("block length = %d, want %d", len(block), len(want))
	}
	for i := range want {
		if block[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, block[i], want[i])
		}
	}
}

func TestNormalize_WAVResamplesTo16k(t *testing.T) {
	t.Parallel()
	src := make([]int16, 480) // 10 ms at 48 kHz
	wav := audio.EncodeWAV(src, 48000, 1)
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: wav, Format: "wav"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(block) != 160 { // 10 ms at 16 kHz
		t.Errorf("resampled block length = %d, want 160", len(block))
	}
}

func TestNormalize_SniffsWAVWithoutTag(t *testing.T) {
	t.Parallel()
	wav := audio.EncodeWAV([]int16{9, 8, 7}, audio.SampleRate, 1)
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: wav})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(block) != 3 {
		t.Errorf("block length = %d, want 3", len(block))
	}
}

func TestNormalize_DeclaredFormatFailureFallsBackToRaw(t *testing.T) {
	t.Parallel()
	// Valid s16le PCM declared as WAV: the WAV parser rejects it, the raw
	// fallback accepts it.
	pcm := audio.SamplesToBytes([]int16{10, 20, 30, 40})
	n := audio.NewNormalizer()
	block, err := n.Normalize(audio.Chunk{Data: pcm, Format: "wav"})
	if err != nil {
		t.Fatalf("Normalize should have fallen back to raw PCM: %v", err)
	}
	if len(block) != 4 {
		t.Errorf("block length = %d, want 4", len(block))
	}
}

func TestNormalize_UnsupportedFormat(t *testing.T) {
	t.Parallel()
	n := audio.NewNormalizer()
	// Odd byte count defeats the raw fallback too.
	_, err := n.Normalize(audio.Chunk{Data: []byte{1, 2, 3}, Format: "wav"})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalize_EmptyPayload(t *testing.T) {
	t.Parallel()
	n := audio.NewNormalizer()
	_, err := n.Normalize(audio.Chunk{Format: "pcm"})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeWAV_RejectsNonPCMEncodings(t *testing.T) {
	t.Parallel()
	wav := audio.EncodeWAV([]int16{1, 2, 3}, audio.SampleRate, 1)
	wav[20] = 3 // IEEE float format tag
	if _, _, _, err := audio.DecodeWAV(wav); err == nil {
		t.Fatal("DecodeWAV accepted a non-PCM format tag")
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	src := make([]int16, 1000)
	for i := range src {
		src[i] = int16(i)
	}
	out := audio.Resample(src, 48000, 16000)
	if len(out) != 333 {
		t.Fatalf("resampled length = %d, want 333", len(out))
	}
	// Linear interpolation over a monotone ramp stays monotone.
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("resampled ramp not monotone at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestDownmixToMono_Clamps(t *testing.T) {
	t.Parallel()
	out := audio.DownmixToMono([]int16{32767, 32767}, 2)
	if out[0] != 32767 {
		t.Errorf("downmix of max samples = %d, want 32767", out[0])
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768}
	out := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}
