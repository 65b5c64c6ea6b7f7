// Package broadcast fans the latest reading out to live viewer channels.
//
// Membership is a synchronized set keyed by a random channel ID. A channel
// whose send fails is dropped from the set and closed; the failure never
// reaches the caller of Broadcast.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/reading"
)

// ErrClosed is returned by a Channel that has already been shut down.
var ErrClosed = errors.New("viewer channel closed")

// ErrNotRegistered is returned by SendLatest for an unknown channel ID.
var ErrNotRegistered = errors.New("viewer not registered")

// Channel is one connected viewer.
type Channel interface {
	// Send delivers a reading to the viewer. Implementations must be safe to
	// call from multiple goroutines.
	Send(ctx context.Context, r reading.Reading) error
	// Close releases the underlying connection. It must be idempotent.
	Close() error
}

// Result summarises one Broadcast call.
type Result struct {
	Delivered int
	Dropped   int
}

// Registry is the set of currently connected viewer channels.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel

	// sendMu serialises broadcasts so that successive readings reach each
	// channel in call order.
	sendMu sync.Mutex

	onSize func(int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithSizeObserver registers fn to be told the membership size after every
// change. fn is called without the registry lock held.
func WithSizeObserver(fn func(int)) Option {
	return func(r *Registry) { r.onSize = fn }
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{channels: make(map[string]Channel)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds ch to the registry and returns the ID used to unregister it.
func (r *Registry) Register(ch Channel) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.channels[id] = ch
	n := len(r.channels)
	r.mu.Unlock()
	r.observe(n)
	return id
}

// Unregister removes a channel. It reports whether the channel was still a
// member; calling it again for the same ID is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.channels[id]
	delete(r.channels, id)
	n := len(r.channels)
	r.mu.Unlock()
	if ok {
		r.observe(n)
	}
	return ok
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// IDs returns the registered channel IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Broadcast pushes rd to every registered channel. Sends run concurrently and
// independently; each failed channel is unregistered and closed. A channel
// registered while a broadcast is in flight may or may not receive it.
func (r *Registry) Broadcast(ctx context.Context, rd reading.Reading) Result {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	members := make(map[string]Channel, len(r.channels))
	for id, ch := range r.channels {
		members[id] = ch
	}
	r.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for id, ch := range members {
		wg.Add(1)
		go func(id string, ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, rd); err != nil {
				monitoring.Logf("dropping viewer %s: %v", id, err)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
		}(id, ch)
	}
	wg.Wait()

	for _, id := range failed {
		if r.Unregister(id) {
			if err := members[id].Close(); err != nil {
				monitoring.Logf("failed to close viewer %s: %v", id, err)
			}
		}
	}

	return Result{
		Delivered: len(members) - len(failed),
		Dropped:   len(failed),
	}
}

// SendLatest delivers latest() to the registered channel id alone. It runs
// under the broadcast lock and calls latest only once the lock is held, so
// the push cannot overtake a newer reading already being broadcast.
func (r *Registry) SendLatest(ctx context.Context, id string, latest func() reading.Reading) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	ch, ok := r.channels[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	return ch.Send(ctx, latest())
}

// CloseAll unregisters and closes every channel.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	members := r.channels
	r.channels = make(map[string]Channel)
	r.mu.Unlock()

	for id, ch := range members {
		if err := ch.Close(); err != nil {
			monitoring.Logf("failed to close viewer %s: %v", id, err)
		}
	}
	r.observe(0)
}

func (r *Registry) observe(n int) {
	if r.onSize != nil {
		r.onSize(n)
	}
}
