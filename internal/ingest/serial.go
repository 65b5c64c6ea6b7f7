package ingest

import (
	"context"
)

// LineSource is the subscribe side of a serialmux.SerialMux.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// SerialIngest turns each line read from a serial device into an update.
type SerialIngest struct {
	src     LineSource
	handler *Handler
}

// NewSerialIngest feeds lines from src to h.
func NewSerialIngest(src LineSource, h *Handler) *SerialIngest {
	return &SerialIngest{src: src, handler: h}
}

// Run consumes lines until ctx is done or the source closes its channel.
// Malformed lines are skipped.
func (s *SerialIngest) Run(ctx context.Context) error {
	id, lines := s.src.Subscribe()
	defer s.src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			_ = s.handler.Handle(ctx, []byte(line))
		}
	}
}
