// Package registry implements the Cache Registry & Flush Scheduler (spec
// §4.8): a bounded, process-wide set of live caches with a debounced
// write-back timer driven by schedule_save() calls. The event bus is only
// consulted to defer flushing while the SD card is unavailable.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/eventbus"
)

// DefaultCapacity is the default bound on live caches (spec §4.8).
const DefaultCapacity = 8

// DefaultDebounce is the default flush debounce interval.
const DefaultDebounce = 2 * time.Second

// Registry holds every live Cache for the process and drives a shared
// debounce timer that flushes dirty caches when it fires.
// Constructed per engine instance (not a package singleton) so tests can run
// independent engines, per the spec's design note on explicit handles.
type Registry struct {
	mu       sync.Mutex
	caches   map[string]*cache.Cache
	capacity int
	debounce time.Duration
	bus      *eventbus.Bus

	timer *time.Timer
}

// New creates a Registry bound to bus with the given capacity and debounce
// interval. A zero capacity or debounce falls back to the package defaults.
func New(bus *eventbus.Bus, capacity int, debounce time.Duration) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Registry{
		caches:   make(map[string]*cache.Cache),
		capacity: capacity,
		debounce: debounce,
		bus:      bus,
	}
}

// Register adds c to the registry under c.ChannelID(), wiring its save
// notifier to reset the debounce timer. Fails if the registry is at
// capacity.
func (r *Registry) Register(c *cache.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caches[c.ChannelID()]; exists {
		return ckerr.Newf(ckerr.InvalidArgument, "channel %q already registered", c.ChannelID())
	}
	if len(r.caches) >= r.capacity {
		return ckerr.Newf(ckerr.InvalidArgument, "registry at capacity (%d)", r.capacity)
	}
	r.caches[c.ChannelID()] = c
	c.SetSaveNotifier(r.resetDebounce)
	return nil
}

// Unregister removes the cache for channelID, if present.
func (r *Registry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caches, channelID)
}

// Find returns the cache for channelID, if registered.
func (r *Registry) Find(channelID string) (*cache.Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.caches[channelID]
	return c, ok
}

// Caches returns a snapshot slice of every currently registered cache, for
// callers (e.g. vault GC) that need to scan across all live channels.
func (r *Registry) Caches() []*cache.Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	caches := make([]*cache.Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	return caches
}

// GetTotalAvailable returns the sum of |LAi| across every registered cache.
func (r *Registry) GetTotalAvailable() int {
	r.mu.Lock()
	caches := make([]*cache.Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.LAiLen()
	}
	return total
}

// resetDebounce (re)starts the one-shot debounce timer; on fire it calls
// FlushDirty directly from the timer's goroutine. No flush event is posted
// on the bus.
func (r *Registry) resetDebounce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.FlushDirty(context.Background())
	})
}

// FlushDirty walks the registry and flushes every cache whose dirty flag is
// set. Called directly on shutdown, and from the debounce timer during
// normal operation.
func (r *Registry) FlushDirty(ctx context.Context) {
	r.mu.Lock()
	caches := make([]*cache.Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	logger := clog.WithFunc("registry.FlushDirty")
	if r.bus != nil && r.bus.Peek()&eventbus.SDUnavailable != 0 {
		logger.Warnf(ctx, "SD unavailable, deferring flush of %d cache(s)", len(caches))
		return
	}
	for _, c := range caches {
		if !c.Dirty() {
			continue
		}
		if err := c.Flush(ctx); err != nil {
			logger.Warnf(ctx, "%s: %v", c.ChannelID(), err)
		}
	}
}

// Shutdown stops the debounce timer and flushes every dirty cache
// synchronously, for clean channel-lifecycle teardown.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
	r.FlushDirty(ctx)
}
