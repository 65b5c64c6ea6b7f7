// Package ingest feeds readings that arrive outside HTTP into the probe
// service: newline-delimited JSON from a serial device, and JSON messages
// from an MQTT broker. Both go through the same strict decoder as
// POST /update-coordinates/.
package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/probe"
	"github.com/banshee-data/magnetprobe/internal/reading"
)

// Handler decodes one payload and applies it as an update.
type Handler struct {
	source  string
	updater probe.Updater
	metrics *monitoring.Metrics
	logf    func(format string, v ...interface{})
}

// NewHandler returns a Handler that labels its updates with source. m may be
// nil.
func NewHandler(source string, u probe.Updater, m *monitoring.Metrics) *Handler {
	return &Handler{
		source:  source,
		updater: u,
		metrics: m,
		logf:    monitoring.WithPrefix(source),
	}
}

// Handle decodes payload and passes it to the updater. Decode failures are
// logged and counted; the caller decides whether to keep going.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}
	r, err := reading.Decode(payload)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IngestErrors.WithLabelValues(h.source).Inc()
		}
		h.logf("dropping payload %q: %v", truncate(payload, 120), err)
		return fmt.Errorf("decode %s payload: %w", h.source, err)
	}
	if err := h.updater.Update(ctx, h.source, r); err != nil {
		h.logf("update failed: %v", err)
		return err
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
