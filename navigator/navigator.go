// Package navigator implements the Play Navigator (spec §4.6): a
// deterministic (p, q) cursor over a channel's posts and playlists, with
// Fisher-Yates/PCG32 shuffling for Random order mode and a Live Mode
// wall-clock-aligned flat schedule.
package navigator

import (
	"context"
	"sync"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/types"
)

// PlaylistSource resolves a playlist post's loaded artworks in server order,
// backing the "separate playlist-metadata file" the spec mentions but leaves
// outside its scope; see catalog.PlaylistMeta for the concrete sidecar.
type PlaylistSource interface {
	LoadedArtworks(ctx context.Context, playlistPostID int32) ([]int32, error)
}

// Item is one navigable unit returned by current/next/prev.
type Item struct {
	Entry      types.Entry
	DwellMS    uint32
	PlaylistID int32 // 0 if not inside a playlist
}

// Config holds the navigator's tunable knobs, mutating any of which
// invalidates the Live schedule (spec §4.6 Invalidation).
type Config struct {
	Mode                   OrderMode
	PE                     int // 0 = no cap, else [1, 1023]
	RandomizePlaylist      bool
	LiveMode               bool
	GlobalSeed             uint64
	EffectiveSeed          uint64
	ChannelDwellOverrideMS uint32
	GlobalDwellOverrideMS  uint32
}

const defaultDwellMS = 30000

// Navigator owns the cursor state for one channel.
type Navigator struct {
	mu sync.Mutex

	c         *cache.Cache
	playlists PlaylistSource
	cfg       Config

	order []int // Ci indices in play order
	p     int
	q     int

	liveDirty    bool
	liveSchedule []liveEntry
	channelEpoch int64 // unix seconds, fixed at construction
}

// New creates a Navigator over c with the given playlist resolver, config,
// and channel epoch (a fixed function of the channel's start time, per spec
// §4.6 Live Mode).
func New(c *cache.Cache, playlists PlaylistSource, cfg Config, channelEpoch int64) *Navigator {
	n := &Navigator{c: c, playlists: playlists, cfg: cfg, channelEpoch: channelEpoch, liveDirty: true}
	n.rebuildOrder()
	return n
}

func (n *Navigator) rebuildOrder() {
	ci, _ := n.c.Snapshot()
	n.order = BuildOrder(ci, n.cfg.Mode, n.cfg.EffectiveSeed, n.cfg.GlobalSeed)
	n.p = 0
	n.q = 0
	n.liveDirty = true
}

// Invalidate marks the Live schedule dirty, e.g. after a refresh cycle
// mutates Ci/LAi.
func (n *Navigator) Invalidate() {
	n.mu.Lock()
	n.liveDirty = true
	n.mu.Unlock()
}

// SetConfig replaces the navigator's config. Any change frees the Live
// schedule and, for a changed Mode, rebuilds play order.
func (n *Navigator) SetConfig(cfg Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	modeChanged := cfg.Mode != n.cfg.Mode
	n.cfg = cfg
	n.liveDirty = true
	if modeChanged {
		n.rebuildOrder()
	}
}

// RequestReshuffle reseeds Random order mode using the caller-supplied
// (SNTP-updated) effective seed. No-op for any other order mode.
func (n *Navigator) RequestReshuffle(ctx context.Context, effectiveSeed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cfg.Mode != OrderRandom {
		return
	}
	n.cfg.EffectiveSeed = effectiveSeed
	n.rebuildOrder()
}

// dwellFor applies the dwell cascade: global override, channel override,
// the entry's own dwell, falling back to defaultDwellMS. Outermost non-zero
// value wins.
func (n *Navigator) dwellFor(e types.Entry) uint32 {
	if n.cfg.GlobalDwellOverrideMS != 0 {
		return n.cfg.GlobalDwellOverrideMS
	}
	if n.cfg.ChannelDwellOverrideMS != 0 {
		return n.cfg.ChannelDwellOverrideMS
	}
	if e.DwellTimeMS != 0 {
		return e.DwellTimeMS
	}
	return defaultDwellMS
}

// effectiveSize returns min(loaded, PE) artworks, PE=0 meaning no cap.
func effectiveSize(loaded int, pe int) int {
	if pe <= 0 || loaded < pe {
		return loaded
	}
	return pe
}

// playlistArtworkAt resolves q within a playlist's loaded artworks, applying
// PE and, if enabled, the per-q PCG32 mapping from spec §4.6.
func (n *Navigator) playlistArtworkAt(ctx context.Context, playlistPostID int32, q int) (int32, int, error) {
	if n.playlists == nil {
		return 0, 0, ckerr.New(ckerr.NotFound, "no playlist source configured")
	}
	loaded, err := n.playlists.LoadedArtworks(ctx, playlistPostID)
	if err != nil {
		return 0, 0, err
	}
	size := effectiveSize(len(loaded), n.cfg.PE)
	if size == 0 {
		return 0, 0, ckerr.New(ckerr.NotFound, "playlist has no artworks")
	}
	idx := q % size
	if n.cfg.RandomizePlaylist {
		g := NewPCG32(n.cfg.EffectiveSeed^uint64(uint32(playlistPostID)), uint64(q))
		idx = g.Intn(size)
	}
	return loaded[idx], size, nil
}

// itemAt resolves the navigable Item at play order position p, index q
// within a playlist (0 for non-playlist posts). Returns ckerr.NotFound if p
// is out of range or the referenced post no longer has any artwork.
func (n *Navigator) itemAt(ctx context.Context, p, q int) (Item, error) {
	if p < 0 || p >= len(n.order) {
		return Item{}, ckerr.New(ckerr.NotFound, "p out of range")
	}
	ciIdx := n.order[p]
	e, ok := n.c.GetEntry(ciIdx)
	if !ok {
		return Item{}, ckerr.New(ckerr.NotFound, "stale order entry")
	}
	if e.Kind == types.KindArtwork {
		return Item{Entry: e, DwellMS: n.dwellFor(e)}, nil
	}
	artworkPostID, _, err := n.playlistArtworkAt(ctx, e.PostID, q)
	if err != nil {
		return Item{}, err
	}
	idx, ok := n.c.FindByPostID(artworkPostID)
	if !ok {
		return Item{}, ckerr.New(ckerr.NotFound, "playlist artwork not in Ci")
	}
	ae, ok := n.c.GetEntry(idx)
	if !ok {
		return Item{}, ckerr.New(ckerr.NotFound, "playlist artwork not in Ci")
	}
	return Item{Entry: ae, DwellMS: n.dwellFor(ae), PlaylistID: e.PostID}, nil
}

func (n *Navigator) isAvailable(it Item) bool {
	return n.c.LaiContains(it.Entry.PostID)
}

// Current scans forward from (p, q) skipping holes (items whose artwork
// file is absent) up to one full cycle of the order, returning NotFound if
// the channel is wholly unavailable.
func (n *Navigator) Current(ctx context.Context) (Item, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scan(ctx, n.p, n.q, len(n.order), true)
}

// scan searches for the first available item starting at (startP, startQ),
// skipping holes by advancing in the given direction (forward or backward)
// up to maxSteps+1 times before giving up.
func (n *Navigator) scan(ctx context.Context, startP, startQ, maxSteps int, forward bool) (Item, error) {
	if len(n.order) == 0 {
		return Item{}, ckerr.New(ckerr.NotFound, "channel has no posts")
	}
	p, q := startP, startQ
	for step := 0; step < maxSteps+1; step++ {
		it, err := n.itemAt(ctx, p, q)
		if err == nil && n.isAvailable(it) {
			return it, nil
		}
		p, q = n.advance(p, q, forward)
	}
	return Item{}, ckerr.New(ckerr.NotFound, "channel wholly unavailable")
}

// advance computes the next (or, if forward is false, previous) (p, q) pair,
// handling playlist boundaries. This does not apply hole-skipping by itself.
func (n *Navigator) advance(p, q int, forward bool) (int, int) {
	ciIdx := n.order[p]
	e, ok := n.c.GetEntry(ciIdx)
	if ok && e.Kind == types.KindPlaylist {
		size := n.playlistSizeHint(e.PostID)
		if size > 1 {
			if forward {
				if q+1 < size {
					return p, q + 1
				}
			} else {
				if q-1 >= 0 {
					return p, q - 1
				}
			}
		}
	}
	if forward {
		next := (p + 1) % len(n.order)
		return next, n.entryQ(next, false)
	}
	prev := p - 1
	if prev < 0 {
		prev = len(n.order) - 1
	}
	return prev, n.entryQ(prev, true)
}

// entryQ returns the starting q for position p: 0 when moving forward into
// it, or its last index when moving backward into it (crossing into the
// previous post's playlist at its last item).
func (n *Navigator) entryQ(p int, fromEnd bool) int {
	if !fromEnd {
		return 0
	}
	ciIdx := n.order[p]
	e, ok := n.c.GetEntry(ciIdx)
	if !ok || e.Kind != types.KindPlaylist {
		return 0
	}
	size := n.playlistSizeHint(e.PostID)
	if size <= 1 {
		return 0
	}
	return size - 1
}

func (n *Navigator) playlistSizeHint(playlistPostID int32) int {
	if n.playlists == nil {
		return 1
	}
	loaded, err := n.playlists.LoadedArtworks(context.Background(), playlistPostID)
	if err != nil {
		return 1
	}
	return effectiveSize(len(loaded), n.cfg.PE)
}

// Next advances (p, q) and returns the resulting item, skipping holes,
// wrapping forward past the end of the order.
func (n *Navigator) Next(ctx context.Context) (Item, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, q := n.advance(n.p, n.q, true)
	it, err := n.scan(ctx, p, q, len(n.order), true)
	if err == nil {
		n.p, n.q = p, q
	}
	return it, err
}

// Prev retreats (p, q), wrapping backward past the start of the order and
// skipping holes by searching backward.
func (n *Navigator) Prev(ctx context.Context) (Item, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, q := n.advance(n.p, n.q, false)
	it, err := n.scan(ctx, p, q, len(n.order), false)
	if err == nil {
		n.p, n.q = p, q
	}
	return it, err
}

// Jump moves directly to (p, q), clamping to 0 on an out-of-bounds request.
func (n *Navigator) Jump(p, q int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p < 0 || p >= len(n.order) {
		p = 0
	}
	if q < 0 {
		q = 0
	}
	n.p, n.q = p, q
}
