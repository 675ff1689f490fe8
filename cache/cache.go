// Package cache implements the Channel Cache Store (spec §4.1): the
// in-memory Ci/LAi arrays with O(1) hash indices over a single channel's
// posts, backed by a CRC-protected binary file. Indices use
// github.com/alphadose/haxmap; every read and every mutation still goes
// through Cache's own mutex, matching the spec's single-mutex ownership
// model.
package cache

import (
	"sync"

	"github.com/alphadose/haxmap"

	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/types"
)

// SaveNotifier is called whenever ScheduleSave marks a cache dirty, so a
// Registry (C8) can drive the shared debounce timer without Cache depending
// on it directly.
type SaveNotifier func()

// Cache holds one channel's Ci/LAi state and indices, all guarded by mu.
type Cache struct {
	mu sync.Mutex

	channelID   string
	channelsDir string
	vaultDir    string

	ci  []types.Entry
	lai []int32

	byPostID     *haxmap.Map[int32, int]
	byStorageKey *haxmap.Map[string, int]
	laiSet       *haxmap.Map[int32, struct{}]

	dirty    bool
	notifier SaveNotifier
}

// ChannelID returns the channel this cache belongs to.
func (c *Cache) ChannelID() string { return c.channelID }

// SetSaveNotifier installs the callback invoked by ScheduleSave.
func (c *Cache) SetSaveNotifier(n SaveNotifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

// Dirty reports whether the cache has unflushed mutations.
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Len returns the number of Ci entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ci)
}

// LAiLen returns the number of locally-available artworks.
func (c *Cache) LAiLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lai)
}

func newEmpty(channelID, channelsDir, vaultDir string) *Cache {
	return &Cache{
		channelID:    channelID,
		channelsDir:  channelsDir,
		vaultDir:     vaultDir,
		byPostID:     haxmap.New[int32, int](),
		byStorageKey: haxmap.New[string, int](),
		laiSet:       haxmap.New[int32, struct{}](),
	}
}

// rebuildIndices reconstructs byPostID/byStorageKey/laiSet from ci/lai by a
// single linear scan each, per the load procedure in spec §4.1.
func (c *Cache) rebuildIndices() {
	c.byPostID = haxmap.New[int32, int]()
	c.byStorageKey = haxmap.New[string, int]()
	for i, e := range c.ci {
		c.byPostID.Set(e.PostID, i)
		if e.Kind == types.KindArtwork {
			if key, err := e.StorageKey(); err == nil {
				c.byStorageKey.Set(key.String(), i)
			}
		}
	}
	c.laiSet = haxmap.New[int32, struct{}]()
	for _, pid := range c.lai {
		c.laiSet.Set(pid, struct{}{})
	}
}

// FindByPostID returns the Ci index for post_id, if present.
func (c *Cache) FindByPostID(postID int32) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byPostID.Get(postID)
	return idx, ok
}

// FindByStorageKey returns the Ci index for a storage key, if present.
func (c *Cache) FindByStorageKey(k types.StorageKey) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byStorageKey.Get(k.String())
	return idx, ok
}

// GetEntry returns a copy of the Ci entry at idx.
func (c *Cache) GetEntry(idx int) (types.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.ci) {
		return types.Entry{}, false
	}
	return c.ci[idx], true
}

// LaiContains reports whether post_id is currently in LAi.
func (c *Cache) LaiContains(postID int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.laiSet.Get(postID)
	return ok
}

// LaiAdd adds post_id to LAi if absent. Returns whether state changed.
func (c *Cache) LaiAdd(postID int32) bool {
	c.mu.Lock()
	if _, ok := c.laiSet.Get(postID); ok {
		c.mu.Unlock()
		return false
	}
	c.lai = append(c.lai, postID)
	c.laiSet.Set(postID, struct{}{})
	c.dirty = true
	notifier := c.notifier
	c.mu.Unlock()
	if notifier != nil {
		notifier()
	}
	return true
}

// LaiRemove removes post_id from LAi if present. Returns whether state changed.
func (c *Cache) LaiRemove(postID int32) bool {
	c.mu.Lock()
	if _, ok := c.laiSet.Get(postID); !ok {
		c.mu.Unlock()
		return false
	}
	for i, pid := range c.lai {
		if pid == postID {
			c.lai = append(c.lai[:i], c.lai[i+1:]...)
			break
		}
	}
	c.laiSet.Del(postID)
	c.dirty = true
	notifier := c.notifier
	c.mu.Unlock()
	if notifier != nil {
		notifier()
	}
	return true
}

// ScheduleSave marks the cache dirty and notifies the registered save
// notifier (if any), which resets the global debounce timer.
func (c *Cache) ScheduleSave() {
	c.mu.Lock()
	c.dirty = true
	notifier := c.notifier
	c.mu.Unlock()
	if notifier != nil {
		notifier()
	}
}

// NextMissing iterates Ci entries with kind=Artwork not present in LAi,
// resuming from cursor (the Ci index to start scanning from, inclusive).
// Returns the found entry, its index, and the cursor to resume from on the
// next call (index+1), or ckerr.NotFound when exhausted.
func (c *Cache) NextMissing(cursor int) (types.Entry, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := cursor; i < len(c.ci); i++ {
		e := c.ci[i]
		if e.Kind != types.KindArtwork {
			continue
		}
		if _, ok := c.laiSet.Get(e.PostID); ok {
			continue
		}
		return e, i + 1, nil
	}
	return types.Entry{}, 0, ckerr.New(ckerr.NotFound, "no missing artworks")
}

// Snapshot returns a defensive copy of Ci and LAi, for GC cross-module
// reference checks and save.
func (c *Cache) Snapshot() ([]types.Entry, []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := make([]types.Entry, len(c.ci))
	copy(ci, c.ci)
	lai := make([]int32, len(c.lai))
	copy(lai, c.lai)
	return ci, lai
}

// Merge is used by the refresh pipeline: it either inserts a new entry
// (fingerprint not yet present) or replaces an existing one's fields other
// than DwellTimeMS/FilterFlags (which are locally owned and preserved
// across server-driven updates). Returns whether the artwork's on-disk file
// should be invalidated (artwork_modified_at changed) and the Ci index.
func (c *Cache) Merge(next types.Entry) (idx int, artworkChanged bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.byPostID.Get(next.PostID); ok {
		prev := c.ci[i]
		if prev.Kind == next.Kind {
			next.DwellTimeMS = prev.DwellTimeMS
			next.FilterFlags = prev.FilterFlags
			artworkChanged = next.Kind == types.KindArtwork && next.ArtworkModifiedAt != prev.ArtworkModifiedAt
			c.ci[i] = next
			if key, err := next.StorageKey(); err == nil && next.Kind == types.KindArtwork {
				c.byStorageKey.Set(key.String(), i)
			}
			c.dirty = true
			return i, artworkChanged
		}
	}
	c.ci = append(c.ci, next)
	i := len(c.ci) - 1
	c.byPostID.Set(next.PostID, i)
	if next.Kind == types.KindArtwork {
		if key, err := next.StorageKey(); err == nil {
			c.byStorageKey.Set(key.String(), i)
		}
	}
	c.dirty = true
	return i, false
}

// Reconcile drops every Ci entry whose post_id is not in keep, compacting
// the array and rebuilding indices. Returns the dropped entries so the
// caller can delete their vault files.
func (c *Cache) Reconcile(keep map[int32]struct{}) []types.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.ci[:0:0]
	var dropped []types.Entry
	for _, e := range c.ci {
		if _, ok := keep[e.PostID]; ok {
			kept = append(kept, e)
		} else {
			dropped = append(dropped, e)
			c.laiSet.Del(e.PostID)
			for i, pid := range c.lai {
				if pid == e.PostID {
					c.lai = append(c.lai[:i], c.lai[i+1:]...)
					break
				}
			}
		}
	}
	c.ci = kept
	c.rebuildIndices()
	if len(dropped) > 0 {
		c.dirty = true
	}
	return dropped
}

// EntriesWithLocalFiles returns the Ci indices of Artwork entries currently
// in LAi, for eviction sizing (spec §4.4 step 5).
func (c *Cache) EntriesWithLocalFiles() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for i, e := range c.ci {
		if e.Kind != types.KindArtwork {
			continue
		}
		if _, ok := c.laiSet.Get(e.PostID); ok {
			out = append(out, i)
		}
	}
	return out
}
