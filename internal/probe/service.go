// Package probe ties the coordinate store, the broadcast registry and the
// renderer together. Every ingress path (HTTP, serial, MQTT) goes through a
// Service so that an update is always stored before it is broadcast.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/magnetprobe/internal/broadcast"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/reading"
	"github.com/banshee-data/magnetprobe/internal/render"
	"github.com/banshee-data/magnetprobe/internal/store"
)

// Sources label where an update came from.
const (
	SourceHTTP   = "http"
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
)

// Snapshotter persists the latest reading outside the process.
type Snapshotter interface {
	SaveLatest(ctx context.Context, r reading.Reading, at time.Time) error
}

// Updater is implemented by Service and consumed by ingress adapters.
type Updater interface {
	Update(ctx context.Context, source string, r reading.Reading) error
}

// Config selects the optional behaviours of a Service.
type Config struct {
	BroadcastOnUpdate bool
	// SendTimeout bounds how long a broadcast waits on a single viewer.
	SendTimeout time.Duration
	Render      render.Options
}

// DefaultConfig broadcasts every update and renders annotated figures.
func DefaultConfig() Config {
	return Config{
		BroadcastOnUpdate: true,
		SendTimeout:       5 * time.Second,
		Render:            render.DefaultOptions(),
	}
}

// Service is the coordinate service shared by all ingress handlers.
type Service struct {
	cfg      Config
	store    *store.Store
	registry *broadcast.Registry
	snapshot Snapshotter
	metrics  *monitoring.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithSnapshotter persists every accepted update.
func WithSnapshotter(s Snapshotter) Option {
	return func(svc *Service) { svc.snapshot = s }
}

// WithMetrics records update, render and broadcast counters.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// NewService returns a Service over st and reg.
func NewService(cfg Config, st *store.Store, reg *broadcast.Registry, opts ...Option) *Service {
	svc := &Service{cfg: cfg, store: st, registry: reg}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Registry returns the broadcast registry viewers should join.
func (s *Service) Registry() *broadcast.Registry { return s.registry }

// Config returns the configuration the service was built with.
func (s *Service) Config() Config { return s.cfg }

// Update stores r and, when enabled, pushes it to every viewer. Snapshot and
// viewer failures are logged and never returned; the only error is a
// cancelled context.
func (s *Service) Update(ctx context.Context, source string, r reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	at := s.store.Set(r)

	if s.metrics != nil {
		s.metrics.Updates.WithLabelValues(source).Inc()
	}

	if s.snapshot != nil {
		if err := s.snapshot.SaveLatest(ctx, r, at); err != nil {
			monitoring.Logf("probe: failed to save snapshot: %v", err)
		}
	}

	if !s.cfg.BroadcastOnUpdate {
		return nil
	}

	bctx := ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
		defer cancel()
	}
	res := s.registry.Broadcast(bctx, r)
	if s.metrics != nil {
		s.metrics.Deliveries.Add(float64(res.Delivered))
		s.metrics.Drops.Add(float64(res.Dropped))
	}
	return nil
}

// Latest returns the current reading.
func (s *Service) Latest() reading.Reading {
	return s.store.Get()
}

// LatestAt returns the current reading and when it was stored.
func (s *Service) LatestAt() (reading.Reading, time.Time) {
	return s.store.Snapshot()
}

// Render draws r in the given style using the configured image size.
func (s *Service) Render(r reading.Reading, style render.Style) ([]byte, error) {
	opts := s.cfg.Render
	opts.Style = style

	start := time.Now()
	img, err := render.Render(r, opts)
	if s.metrics != nil {
		s.metrics.RenderDuration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.Renders.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("render failed: %w", err)
	}
	return img, nil
}

// DefaultStyle is the style used when a request does not name one.
func (s *Service) DefaultStyle() render.Style {
	return s.cfg.Render.Style
}
