package whisper

import "testing"

func TestTranscriptBuilder_JoinsWithSpaces(t *testing.T) {
	t.Parallel()
	tb := newTranscriptBuilder(100)
	tb.add(" patient reports ")
	tb.add("chest pain")
	tb.add("  ")
	tb.add("at night")
	if got := tb.String(); got != "patient reports chest pain at night" {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscriptBuilder_BoundStopsAtSegmentBoundary(t *testing.T) {
	t.Parallel()
	tb := newTranscriptBuilder(10)
	if tb.add("first") {
		t.Fatal("bound reported after 5 runes with max 10")
	}
	if !tb.add("second") {
		t.Fatal("bound not reported after 12 runes with max 10")
	}
	// Whole segments are kept; the bound only stops further reads.
	if got := tb.String(); got != "first second" {
		t.Errorf("transcript = %q", got)
	}
}

func TestTranscriptBuilder_BoundCountsRunesNotBytes(t *testing.T) {
	t.Parallel()
	// Seven runes but eight bytes. A byte count would report the bound
	// reached; a rune count must not.
	tb := newTranscriptBuilder(8)
	if tb.add("köpfweh") {
		t.Fatal("bound reported for 7 runes with max 8")
	}
	if !tb.add("müde") {
		t.Fatal("bound not reported after 12 runes with max 8")
	}
	if got := tb.String(); got != "köpfweh müde" {
		t.Errorf("transcript = %q", got)
	}
}
