// Package channel implements per-channel lifecycle management (spec §4.9):
// construction, owning the refresh and download background tasks, and
// graceful shutdown.
//
// The original firmware's failure containment for a wedged refresh task was
// an ESP32 task-watchdog stack cascade: the watchdog resets the task's
// stack, which unwinds into a supervisor that respawns it. Go has no
// per-goroutine stack reset, so this is reimplemented as a supervised
// goroutine with bounded retry and a recover() backstop — the idiomatic Go
// analogue of "a wedged worker gets killed and restarted" rather than a
// literal port of the stack-cascade mechanism.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/downloader"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/navigator"
	"github.com/driftframe/channelengine/progress"
	"github.com/driftframe/channelengine/registry"
)

// maxTaskRestarts bounds how many times a crashed background task is
// respawned before the channel gives up supervising it.
const maxTaskRestarts = 5

// shutdownGrace is how long Close waits for background tasks to exit
// cooperatively before returning anyway.
const shutdownGrace = 5 * time.Second

// Channel owns one channel's cache, navigator, and background refresh and
// download tasks.
type Channel struct {
	id       string
	vaultDir string

	mu   sync.Mutex
	bus  *eventbus.Bus
	c    *cache.Cache
	nav  *navigator.Navigator
	reg  *registry.Registry
	pipe *catalog.Pipeline
	dl   *downloader.Scheduler

	wg sync.WaitGroup
}

// Deps bundles the external collaborators a Channel wires together. Remote
// may be nil, in which case no refresh pipeline is created and Start runs
// only the download task. Playlists may be nil, in which case a
// PlaylistStore under ChannelsDir is used.
type Deps struct {
	ChannelsDir string
	VaultDir    string
	PoolSize    int

	Registry  *registry.Registry
	Bus       *eventbus.Bus
	Remote    catalog.Remote
	Position  downloader.PositionSource
	Playlists *catalog.PlaylistStore

	// Tracker, if set, receives a downloader.Event after every artwork fetch
	// attempt. Nil means no progress reporting.
	Tracker progress.Tracker

	PipelineConfig  catalog.PipelineConfig
	NavigatorConfig navigator.Config
	ChannelEpoch    int64
}

// Open loads (or creates) the channel's cache, registers it, and wires a
// Pipeline, Navigator, and Scheduler over it. The background tasks are not
// started until Start is called.
func Open(ctx context.Context, channelID string, deps Deps) (*Channel, error) {
	c, err := cache.Open(ctx, channelID, deps.ChannelsDir, deps.VaultDir)
	if err != nil {
		return nil, err
	}
	if err := deps.Registry.Register(c); err != nil {
		return nil, err
	}

	urls := catalog.NewURLCache()
	meta := catalog.NewMetadataStore(deps.ChannelsDir, channelID)
	playlists := deps.Playlists
	if playlists == nil {
		playlists = catalog.NewPlaylistStore(deps.ChannelsDir, channelID)
	}

	ch := &Channel{
		id:       channelID,
		vaultDir: deps.VaultDir,
		bus:      deps.Bus,
		c:        c,
		reg:      deps.Registry,
	}

	ch.nav = navigator.New(c, playlists, deps.NavigatorConfig, deps.ChannelEpoch)

	ch.dl = downloader.New(channelID, deps.VaultDir, c, urls, deps.Bus, deps.Position)
	if deps.Tracker != nil {
		ch.dl.SetTracker(deps.Tracker)
	}

	if deps.Remote != nil {
		ch.pipe = catalog.NewPipeline(channelID, deps.VaultDir, deps.PoolSize, deps.PipelineConfig,
			c, deps.Remote, meta, playlists, urls, deps.Bus, ch.nav.Invalidate, ch.dl)
	}

	return ch, nil
}

// Navigator returns the channel's play cursor.
func (ch *Channel) Navigator() *navigator.Navigator { return ch.nav }

// Cache returns the channel's cache store.
func (ch *Channel) Cache() *cache.Cache { return ch.c }

// RunRefreshOnce runs a single refresh cycle synchronously, without starting
// the background tasks. A no-op if no Remote was configured.
func (ch *Channel) RunRefreshOnce(ctx context.Context) error {
	if ch.pipe == nil {
		return nil
	}
	return ch.pipe.RunOnce(ctx)
}

// Start launches the refresh and download background tasks, each supervised
// independently.
func (ch *Channel) Start(ctx context.Context) {
	if ch.pipe != nil {
		ch.wg.Add(1)
		go ch.supervise(ctx, "refresh", func(ctx context.Context) error { return ch.pipe.Run(ctx) })
	}
	ch.wg.Add(1)
	go ch.supervise(ctx, "download", func(ctx context.Context) error { return ch.dl.Run(ctx) })
}

// supervise runs task, restarting it on panic or unexpected error up to
// maxTaskRestarts times, and decrements wg on final exit.
func (ch *Channel) supervise(ctx context.Context, name string, task func(context.Context) error) {
	defer ch.wg.Done()
	logger := clog.WithFunc("channel.Channel.supervise")

	for restarts := 0; ; restarts++ {
		if ch.bus.Peek()&eventbus.RefreshShutdown != 0 {
			return
		}
		if ch.runOnce(ctx, name, task) {
			return
		}
		if restarts >= maxTaskRestarts {
			break
		}
		logger.Warnf(ctx, "%s: %s task restarting (attempt %d/%d)", ch.id, name, restarts+1, maxTaskRestarts)
	}
	logger.Warnf(ctx, "%s: %s task exceeded restart budget, giving up", ch.id, name)
}

// runOnce runs task once, converting a panic into a logged return, and
// reports whether the task exited cleanly (no panic, no error) and should
// not be retried.
func (ch *Channel) runOnce(ctx context.Context, name string, task func(context.Context) error) (clean bool) {
	logger := clog.WithFunc("channel.Channel.runOnce")
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf(ctx, "%s: %s task panicked: %v", ch.id, name, r)
			clean = false
		}
	}()

	err := task(ctx)
	if err != nil {
		logger.Warnf(ctx, "%s: %s task error: %v", ch.id, name, err)
		return false
	}
	return true
}

// Close signals shutdown, waits up to shutdownGrace for background tasks to
// exit, flushes the cache, and unregisters it.
func (ch *Channel) Close(ctx context.Context) {
	ch.bus.Set(eventbus.RefreshShutdown)

	done := make(chan struct{})
	go func() {
		ch.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		clog.WithFunc("channel.Channel.Close").Warnf(ctx, "%s: background tasks did not exit within grace period", ch.id)
	}

	if err := ch.c.Flush(ctx); err != nil {
		clog.WithFunc("channel.Channel.Close").Warnf(ctx, "%s: final flush: %v", ch.id, err)
	}
	ch.reg.Unregister(ch.id)
}
