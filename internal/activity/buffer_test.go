package activity

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func TestRapidInteractionsFlushOnce(t *testing.T) {
	b := NewWatchBuffer(t0)
	for i := 0; i < 57; i++ {
		b.RecordInteraction()
	}

	// Within the window nothing flushes.
	if b.ShouldFlush(t0.Add(4 * time.Minute)) {
		t.Error("should not flush inside the window")
	}

	now := t0.Add(5 * time.Minute)
	if !b.ShouldFlush(now) {
		t.Fatal("should flush at the window boundary")
	}
	n, _ := b.Flush(now)
	if n != 57 {
		t.Errorf("flush returned %d interactions, want 57", n)
	}

	// A second flush carries nothing.
	if b.Pending() {
		t.Error("buffer should be empty after flush")
	}
	n, w := b.Flush(now.Add(10 * time.Minute))
	if n != 0 || w != 0 {
		t.Errorf("second flush returned %d, %d; want zeros", n, w)
	}
}

func TestWatchTimeAccumulates(t *testing.T) {
	b := NewWatchBuffer(t0)
	b.AddWatchTime(60)
	b.AddWatchTime(60)
	b.AddWatchTime(30)

	_, w := b.Flush(t0.Add(5 * time.Minute))
	if w != 150 {
		t.Errorf("flushed %d watch seconds, want 150", w)
	}
}

func TestHypeCeilingTriggersEarlyFlush(t *testing.T) {
	b := NewHypeBuffer(t0)
	for i := 0; i < 19; i++ {
		b.RecordInteraction()
	}
	if b.ShouldFlush(t0.Add(time.Second)) {
		t.Error("19 taps within 30s should not flush")
	}
	b.RecordInteraction()
	if !b.ShouldFlush(t0.Add(time.Second)) {
		t.Error("20th tap should trigger flush regardless of elapsed time")
	}
	n, _ := b.Flush(t0.Add(time.Second))
	if n != 20 {
		t.Errorf("flushed %d taps, want 20", n)
	}
}

func TestHypeIntervalFlush(t *testing.T) {
	b := NewHypeBuffer(t0)
	b.RecordInteraction()
	if b.ShouldFlush(t0.Add(29 * time.Second)) {
		t.Error("one tap before 30s should not flush")
	}
	if !b.ShouldFlush(t0.Add(30 * time.Second)) {
		t.Error("one tap at 30s should flush")
	}
}

func TestEmptyBufferNeverFlushes(t *testing.T) {
	b := NewHypeBuffer(t0)
	if b.ShouldFlush(t0.Add(time.Hour)) {
		t.Error("empty buffer should never report a due flush")
	}
}
