package session_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/verbamed/verbamed/internal/session"
)

func seg(text string) session.Segment {
	return session.NewSegment(text, time.Now(), 0, 0)
}

func TestRegistry_StartCreatesActiveEmptySession(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")

	snap, err := r.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != session.StatusActive {
		t.Errorf("status = %s, want active", snap.Status)
	}
	if len(snap.Segments) != 0 {
		t.Errorf("new session has %d segments, want 0", len(snap.Segments))
	}
	if snap.CaseID != "case-1" {
		t.Errorf("case id = %q", snap.CaseID)
	}
}

func TestRegistry_AppendPreservesOrder(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")

	for i := range 5 {
		if err := r.Append(id, seg(fmt.Sprintf("segment %d", i))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	snap, _ := r.Snapshot(id)
	if len(snap.Segments) != 5 {
		t.Fatalf("segments = %d, want 5", len(snap.Segments))
	}
	for i, s := range snap.Segments {
		if want := fmt.Sprintf("segment %d", i); s.Text != want {
			t.Errorf("segment %d text = %q, want %q", i, s.Text, want)
		}
	}
}

func TestRegistry_AppendRejectedOutsideActive(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")
	if err := r.Append(id, seg("kept")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := r.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err := r.Append(id, seg("rejected"))
	if !errors.Is(err, session.ErrSessionNotActive) {
		t.Fatalf("err = %v, want ErrSessionNotActive", err)
	}
	snap, _ := r.Snapshot(id)
	if len(snap.Segments) != 1 {
		t.Errorf("rejected append changed state: %d segments, want 1", len(snap.Segments))
	}
}

func TestRegistry_AppendUnknownSession(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	err := r.Append("nope", seg("x"))
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_StopIsIdempotentAndKeepsSegments(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")
	_ = r.Append(id, seg("a"))
	_ = r.Append(id, seg("b"))

	n1, err := r.Stop(id)
	if err != nil || n1 != 2 {
		t.Fatalf("first Stop: n=%d err=%v", n1, err)
	}
	n2, err := r.Stop(id)
	if err != nil || n2 != 2 {
		t.Fatalf("second Stop: n=%d err=%v", n2, err)
	}

	snap, err := r.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot after stop: %v", err)
	}
	if len(snap.Segments) != 2 {
		t.Errorf("stop discarded segments: %d, want 2", len(snap.Segments))
	}
	if snap.Status != session.StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}
}

func TestRegistry_UnknownIDReadsIdle(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	if got := r.Status("ghost"); got != session.StatusIdle {
		t.Errorf("Status(unknown) = %s, want idle", got)
	}
}

func TestRegistry_ClearForgetsSession(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")
	_ = r.Append(id, seg("a"))
	r.Clear(id)

	if _, err := r.Snapshot(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Snapshot after Clear: %v, want ErrSessionNotFound", err)
	}
	if got := r.Status(id); got != session.StatusIdle {
		t.Errorf("Status after Clear = %s, want idle", got)
	}
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	a := r.Start("case-a")
	b := r.Start("case-b")

	if _, err := r.Stop(a); err != nil {
		t.Fatalf("Stop(a): %v", err)
	}
	if err := r.Append(b, seg("still going")); err != nil {
		t.Errorf("Append(b) after Stop(a): %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", r.ActiveCount())
	}
}

func TestRegistry_ConcurrentAppendAndSnapshot(t *testing.T) {
	t.Parallel()
	r := session.NewRegistry()
	id := r.Start("case-1")

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_ = r.Append(id, seg(fmt.Sprintf("w%d-%d", w, i)))
			}
		}()
	}
	// Concurrent readers must always observe a consistent prefix.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			snap, err := r.Snapshot(id)
			if err != nil {
				t.Errorf("Snapshot: %v", err)
				return
			}
			if len(snap.Segments) > writers*perWriter {
				t.Errorf("snapshot sees %d segments, max %d", len(snap.Segments), writers*perWriter)
				return
			}
		}
	}()
	wg.Wait()

	snap, _ := r.Snapshot(id)
	if len(snap.Segments) != writers*perWriter {
		t.Errorf("final segments = %d, want %d", len(snap.Segments), writers*perWriter)
	}
}
