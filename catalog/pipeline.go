package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/utils"
	"github.com/driftframe/channelengine/vault"
)

// PipelineConfig holds the Refresh Pipeline's tunables (spec §4.4).
type PipelineConfig struct {
	BatchSize         int           // page size, default 32
	PE                int           // playlist expansion
	ReconcileCap      int           // max tracked post_ids per cycle, default 1024
	CountEvictCap     int           // D threshold, default 1024
	CountEvictBatch   int           // default 32
	SpaceEvictBatch   int           // default 16
	FreeSpaceReserve  int64         // default 10 MiB
	RefreshInterval   time.Duration // default 3600s
	QueueCap          int           // pending-download count treated as a full queue, default 64
	BackpressureWait  time.Duration // default 60s
	BackpressureSleep time.Duration // default 2s
	Selector          Selector
}

// DefaultPipelineConfig returns the spec's default tunables.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:         32,
		ReconcileCap:      1024,
		CountEvictCap:     1024,
		CountEvictBatch:   32,
		SpaceEvictBatch:   16,
		FreeSpaceReserve:  10 << 20,
		RefreshInterval:   time.Hour,
		QueueCap:          64,
		BackpressureWait:  60 * time.Second,
		BackpressureSleep: 2 * time.Second,
	}
}

// PendingCounter reports how many downloads the download scheduler currently
// has queued and eligible to fetch, so the refresh pipeline can detect
// queue-full backpressure between pages (spec §4.4 Backpressure).
type PendingCounter interface {
	PendingCount() int
}

// Pipeline drives one channel's background refresh loop.
type Pipeline struct {
	channelID string
	vaultDir  string
	poolSize  int
	cfg       PipelineConfig

	cache     *cache.Cache
	remote    Remote
	meta      *MetadataStore
	playlists *PlaylistStore
	urls      *URLCache
	bus       *eventbus.Bus

	onRefreshDone func() // e.g. navigator.Invalidate
	pending       PendingCounter
}

// NewPipeline wires a Pipeline's dependencies. pending may be nil, in which
// case queue-full backpressure (spec §4.4 Backpressure) is never applied.
func NewPipeline(channelID, vaultDir string, poolSize int, cfg PipelineConfig, c *cache.Cache, remote Remote,
	meta *MetadataStore, playlists *PlaylistStore, urls *URLCache, bus *eventbus.Bus, onRefreshDone func(),
	pending PendingCounter,
) *Pipeline {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Pipeline{
		channelID: channelID, vaultDir: vaultDir, poolSize: poolSize, cfg: cfg,
		cache: c, remote: remote, meta: meta, playlists: playlists, urls: urls, bus: bus,
		onRefreshDone: onRefreshDone, pending: pending,
	}
}

// Run loops: wait for MQTT readiness, run one refresh cycle, sleep until the
// next cycle or an immediate-refresh request, repeating until shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := clog.WithFunc("catalog.Pipeline.Run")
	for {
		observed, err := p.bus.WaitAny(ctx, eventbus.MqttConnected|eventbus.RefreshShutdown)
		if err != nil {
			return nil //nolint:nilerr // context cancellation is a clean exit
		}
		if observed&eventbus.RefreshShutdown != 0 {
			return nil
		}

		if err := p.RunOnce(ctx); err != nil {
			logger.Warnf(ctx, "%s: cycle failed: %v", p.channelID, err)
		}

		if err := p.sleepUntilNextCycle(ctx); err != nil {
			return nil //nolint:nilerr
		}
	}
}

// sleepUntilNextCycle waits out the refresh interval, polling once a second
// for an early wakeup: shutdown ends the loop, an immediate-refresh request
// short-circuits it. Reaching the full interval without either is itself a
// normal wakeup, so a WaitFor timeout is not treated as an error here.
func (p *Pipeline) sleepUntilNextCycle(ctx context.Context) error {
	interval := p.cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	var shutdown, immediate bool
	err := utils.WaitFor(ctx, interval, time.Second, func() (bool, error) {
		observed := p.bus.Peek()
		switch {
		case observed&eventbus.RefreshShutdown != 0:
			shutdown = true
			return true, nil
		case observed&eventbus.RefreshImmediate != 0:
			immediate = true
			return true, nil
		default:
			return false, nil
		}
	})
	if shutdown {
		return context.Canceled
	}
	if immediate {
		p.bus.Clear(eventbus.RefreshImmediate)
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// RunOnce executes one full refresh cycle: paginate, merge, reconcile,
// evict, persist metadata, signal done.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	logger := clog.WithFunc("catalog.Pipeline.RunOnce")

	var cursor *string
	if err := p.meta.With(ctx, func(m *Metadata) error {
		cursor = m.Cursor
		return nil
	}); err != nil {
		logger.Warnf(ctx, "%s: read metadata: %v", p.channelID, err)
	}

	seen := make(map[int32]struct{})
	var nextCursor string
	cur := ""
	if cursor != nil {
		cur = *cursor
	}

	rejected := 0
	for {
		page, err := p.remote.QueryPosts(ctx, Query{
			Selector: p.cfg.Selector,
			Cursor:   cur,
			Limit:    batchSizeOr(p.cfg.BatchSize),
			PE:       p.cfg.PE,
		})
		if err != nil {
			// A single failed page ends the cycle without erasing state.
			logger.Warnf(ctx, "%s: query_posts: %v", p.channelID, err)
			return ckerr.Wrap(ckerr.Transient, err, "query_posts")
		}

		p.mergePage(ctx, page.Posts, seen)
		p.bus.Set(eventbus.DownloadsNeeded)
		rejected = p.checkBackpressure(ctx, rejected)

		if err := p.meta.Update(ctx, func(m *Metadata) error {
			c := page.NextCursor
			m.Cursor = &c
			return nil
		}); err != nil {
			logger.Warnf(ctx, "%s: persist cursor: %v", p.channelID, err)
		}

		nextCursor = page.NextCursor
		cur = nextCursor
		if !page.HasMore || len(seen) >= p.cfg.capOr() {
			break
		}
	}

	p.reconcile(ctx, seen)
	p.evictUnderCountPressure(ctx)
	p.evictUnderSpacePressure(ctx)

	if err := p.meta.Update(ctx, func(m *Metadata) error {
		m.LastRefresh = time.Now().Unix()
		return nil
	}); err != nil {
		logger.Warnf(ctx, "%s: persist last_refresh: %v", p.channelID, err)
	}

	p.bus.Set(eventbus.RefreshDone | eventbus.ChannelRefreshDone)
	if p.onRefreshDone != nil {
		p.onRefreshDone()
	}
	return nil
}

func batchSizeOr(n int) int {
	if n <= 0 {
		return 32
	}
	return n
}

func (c PipelineConfig) capOr() int {
	if c.ReconcileCap <= 0 {
		return 1024
	}
	return c.ReconcileCap
}

func (p *Pipeline) queueCapOr() int {
	if p.cfg.QueueCap <= 0 {
		return 64
	}
	return p.cfg.QueueCap
}

// checkBackpressure tallies rejected-for-queue-full downloads against the
// download scheduler's queue capacity, accumulating rejected (the running
// total for this cycle) across pages. Once the total exceeds capacity, it
// waits for the download scheduler to signal queue space, backing off for
// BackpressureSleep on timeout before the next page is fetched (spec §4.4
// Backpressure). Returns the running total to carry into the next page.
func (p *Pipeline) checkBackpressure(ctx context.Context, rejected int) int {
	if p.pending == nil {
		return 0
	}
	cap := p.queueCapOr()
	if over := p.pending.PendingCount() - cap; over > 0 {
		rejected += over
	}
	if rejected <= cap {
		return rejected
	}

	logger := clog.WithFunc("catalog.Pipeline.checkBackpressure")
	p.bus.Clear(eventbus.QueueHasSpace)

	wait := p.cfg.BackpressureWait
	if wait <= 0 {
		wait = 60 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	observed, err := p.bus.WaitAny(waitCtx, eventbus.QueueHasSpace|eventbus.RefreshShutdown)
	cancel()
	if observed&eventbus.RefreshShutdown != 0 {
		return 0
	}
	if err != nil || observed&eventbus.QueueHasSpace == 0 {
		logger.Infof(ctx, "%s: queue still full after %s, backing off", p.channelID, wait)
		sleep := p.cfg.BackpressureSleep
		if sleep <= 0 {
			sleep = 2 * time.Second
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
		}
	}
	return 0
}

// mergePage merges one page's posts into the cache concurrently (bounded by
// poolSize), mirroring the teacher's errgroup-with-limit pattern for
// per-item work whose destination is itself safe for concurrent mutation.
func (p *Pipeline) mergePage(ctx context.Context, posts []RemotePost, seen map[int32]struct{}) {
	logger := clog.WithFunc("catalog.Pipeline.mergePage")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.poolSize)

	for _, rp := range posts {
		rp := rp
		seen[rp.PostID] = struct{}{}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			p.mergeOne(ctx, rp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warnf(ctx, "%s: merge interrupted: %v", p.channelID, err)
	}
}

func (p *Pipeline) mergeOne(ctx context.Context, rp RemotePost) {
	post := toPost(rp)
	entry := post.ToEntry()
	_, artworkChanged := p.cache.Merge(entry)

	if post.Kind == types.KindArtwork {
		p.urls.Set(post.PostID, rp.ArtURL)
		if artworkChanged {
			p.invalidateArtworkFile(ctx, entry)
		}
		return
	}

	ids := make([]int32, 0, len(rp.ExpandedArtworks))
	for _, a := range rp.ExpandedArtworks {
		ids = append(ids, a.PostID)
		p.urls.Set(a.PostID, a.ArtURL)
	}
	if err := p.playlists.Save(ctx, post.PostID, PlaylistMeta{TotalArtworks: rp.TotalArtworks, ArtworkIDs: ids}); err != nil {
		clog.WithFunc("catalog.Pipeline.mergeOne").Warnf(ctx, "%s: save playlist meta: %v", p.channelID, err)
	}
}

func toPost(rp RemotePost) types.Post {
	post := types.Post{
		PostID:             rp.PostID,
		Kind:               rp.Kind,
		OwnerHandle:        rp.OwnerHandle,
		CreatedAt:          rp.CreatedAt,
		MetadataModifiedAt: rp.MetadataModifiedAt,
		ArtworkModifiedAt:  rp.ArtworkModifiedAt,
		Extension:          rp.Extension,
		TotalArtworks:      rp.TotalArtworks,
	}
	if rp.StorageKey != "" {
		if k, err := types.ParseStorageKey(rp.StorageKey); err == nil {
			post.StorageKey = k
		}
	}
	return post
}

func (p *Pipeline) invalidateArtworkFile(ctx context.Context, e types.Entry) {
	key, err := e.StorageKey()
	if err != nil {
		return
	}
	path := vault.Resolve(p.vaultDir, key, e.Extension)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		clog.WithFunc("catalog.Pipeline.invalidateArtworkFile").Warnf(ctx, "%s: %v", p.channelID, err)
		return
	}
	p.cache.LaiRemove(e.PostID)
}

// reconcile drops Ci entries for posts the server no longer returns,
// deleting their vault files if present.
func (p *Pipeline) reconcile(ctx context.Context, seen map[int32]struct{}) {
	dropped := p.cache.Reconcile(seen)
	for _, e := range dropped {
		p.urls.Delete(e.PostID)
		if e.Kind != types.KindArtwork {
			continue
		}
		key, err := e.StorageKey()
		if err != nil {
			continue
		}
		path := vault.Resolve(p.vaultDir, key, e.Extension)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			clog.WithFunc("catalog.Pipeline.reconcile").Warnf(ctx, "%s: %v", p.channelID, err)
		}
	}
	if len(dropped) > 0 {
		p.cache.ScheduleSave()
	}
}

// evictUnderCountPressure deletes the oldest local artwork files in batches
// until the locally-available count is within CountEvictCap. Ci entries are
// never removed by eviction — only their files.
func (p *Pipeline) evictUnderCountPressure(ctx context.Context) {
	cap := p.cfg.CountEvictCap
	if cap <= 0 {
		cap = 1024
	}
	batch := p.cfg.CountEvictBatch
	if batch <= 0 {
		batch = 32
	}
	p.evictBatches(ctx, cap, batch, func() bool { return true })
}

// evictUnderSpacePressure repeats eviction in smaller batches while the
// vault filesystem's free space is below the configured reserve. Skips
// silently if the OS cannot report free space.
func (p *Pipeline) evictUnderSpacePressure(ctx context.Context) {
	reserve := p.cfg.FreeSpaceReserve
	if reserve <= 0 {
		reserve = 10 << 20
	}
	batch := p.cfg.SpaceEvictBatch
	if batch <= 0 {
		batch = 16
	}
	p.evictBatches(ctx, 0, batch, func() bool {
		free, ok := freeBytes(p.vaultDir)
		return ok && free < uint64(reserve)
	})
}

func (p *Pipeline) evictBatches(ctx context.Context, countCap, batch int, pressurePresent func() bool) {
	logger := clog.WithFunc("catalog.Pipeline.evict")
	for {
		idxs := p.cache.EntriesWithLocalFiles()
		if countCap > 0 && len(idxs) <= countCap {
			return
		}
		if countCap == 0 && !pressurePresent() {
			return
		}
		type scored struct {
			idx       int
			createdAt int64
		}
		scoredList := make([]scored, 0, len(idxs))
		for _, i := range idxs {
			e, ok := p.cache.GetEntry(i)
			if !ok {
				continue
			}
			scoredList = append(scoredList, scored{idx: i, createdAt: e.CreatedAt})
		}
		sort.Slice(scoredList, func(a, b int) bool { return scoredList[a].createdAt < scoredList[b].createdAt })

		n := batch
		if n > len(scoredList) {
			n = len(scoredList)
		}
		if n == 0 {
			return
		}
		for _, s := range scoredList[:n] {
			e, ok := p.cache.GetEntry(s.idx)
			if !ok {
				continue
			}
			key, err := e.StorageKey()
			if err != nil {
				continue
			}
			path := vault.Resolve(p.vaultDir, key, e.Extension)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warnf(ctx, "%s: evict %s: %v", p.channelID, filepath.Base(path), err)
				continue
			}
			p.cache.LaiRemove(e.PostID)
		}
		p.cache.ScheduleSave()
	}
}

func freeBytes(dir string) (uint64, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, false
	}
	return st.Bavail * uint64(st.Bsize), true //nolint:unconvert
}
