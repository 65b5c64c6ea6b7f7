package broadcast

import (
	"context"
	"sync"

	"github.com/banshee-data/magnetprobe/internal/reading"
)

// QueueChannel is an in-process Channel backed by a buffered Go channel. It
// suits consumers that drain readings from their own goroutine, such as a
// server-sent events stream.
type QueueChannel struct {
	readings  chan reading.Reading
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueChannel returns a QueueChannel buffering up to size readings.
func NewQueueChannel(size int) *QueueChannel {
	return &QueueChannel{
		readings: make(chan reading.Reading, size),
		done:     make(chan struct{}),
	}
}

// Send enqueues r, blocking until there is room, the channel is closed, or
// ctx is done. A consumer that stops draining therefore fails the send once
// the broadcast deadline passes.
func (q *QueueChannel) Send(ctx context.Context, r reading.Reading) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.readings <- r:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Readings returns the channel readings are delivered on.
func (q *QueueChannel) Readings() <-chan reading.Reading { return q.readings }

// Done is closed once the channel has been closed.
func (q *QueueChannel) Done() <-chan struct{} { return q.done }

// Close marks the channel closed. Pending readings stay readable.
func (q *QueueChannel) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
