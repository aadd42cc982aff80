// Package activity batches high-frequency participant events (heartbeats,
// hype taps) into infrequent aggregate flushes so the store sees one
// increment-write per window instead of one per event.
package activity

import "time"

// Buffer accumulates interactions and watch time locally. A buffer is owned
// by exactly one writer (the participant's connection goroutine); it performs
// no I/O and no locking. The caller turns each Flush result into a single
// atomic increment-write on the store.
type Buffer struct {
	interval time.Duration // flush when elapsed since last flush reaches this
	ceiling  int           // flush when pending interactions reach this; 0 disables

	pendingInteractions int
	pendingWatchSeconds int64
	lastFlush           time.Time
}

// NewBuffer creates a buffer flushing every interval or, when ceiling > 0,
// after that many pending interactions, whichever comes first.
func NewBuffer(interval time.Duration, ceiling int, start time.Time) *Buffer {
	return &Buffer{interval: interval, ceiling: ceiling, lastFlush: start}
}

// NewWatchBuffer returns the viewer-heartbeat preset: watch time accumulates
// locally and flushes every five minutes.
func NewWatchBuffer(start time.Time) *Buffer {
	return NewBuffer(5*time.Minute, 0, start)
}

// NewHypeBuffer returns the hype-tap preset: flush after 20 taps or 30
// seconds, whichever comes first.
func NewHypeBuffer(start time.Time) *Buffer {
	return NewBuffer(30*time.Second, 20, start)
}

// RecordInteraction counts one interaction locally.
func (b *Buffer) RecordInteraction() {
	b.pendingInteractions++
}

// AddWatchTime accumulates watched seconds locally.
func (b *Buffer) AddWatchTime(seconds int64) {
	b.pendingWatchSeconds += seconds
}

// Pending reports whether the buffer holds anything worth flushing.
func (b *Buffer) Pending() bool {
	return b.pendingInteractions > 0 || b.pendingWatchSeconds > 0
}

// ShouldFlush reports whether the flush window has elapsed or the event
// ceiling has been reached.
func (b *Buffer) ShouldFlush(now time.Time) bool {
	if !b.Pending() {
		return false
	}
	if b.ceiling > 0 && b.pendingInteractions >= b.ceiling {
		return true
	}
	return now.Sub(b.lastFlush) >= b.interval
}

// Flush returns the accumulated values and resets the buffer. The caller
// performs exactly one durable atomic-increment write with the returned
// tuple.
func (b *Buffer) Flush(now time.Time) (interactions int, watchSeconds int64) {
	interactions = b.pendingInteractions
	watchSeconds = b.pendingWatchSeconds
	b.pendingInteractions = 0
	b.pendingWatchSeconds = 0
	b.lastFlush = now
	return interactions, watchSeconds
}
