package cache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/types"
)

func mkEntry(postID int32, kind types.Kind) types.Entry {
	k := types.NewStorageKey()
	e := types.Entry{
		PostID:    postID,
		Kind:      kind,
		CreatedAt: int64(postID) * 1000,
	}
	copy(e.StorageKeyUUID[:], k.Bytes())
	return e
}

func TestRoundTripSaveLoad(t *testing.T) {
	ctx := context.Background()
	channelsDir := t.TempDir()
	vaultDir := t.TempDir()

	c, err := cache.Open(ctx, "chan-a", channelsDir, vaultDir)
	assert.NilError(t, err)

	e1 := mkEntry(1, types.KindArtwork)
	e2 := mkEntry(2, types.KindArtwork)
	c.Merge(e1)
	c.Merge(e2)
	c.LaiAdd(1)

	assert.NilError(t, c.Flush(ctx))

	reloaded, err := cache.Open(ctx, "chan-a", channelsDir, vaultDir)
	assert.NilError(t, err)
	assert.Equal(t, reloaded.Len(), 2)
	assert.Assert(t, reloaded.LaiContains(1))
	assert.Assert(t, !reloaded.LaiContains(2))
	assert.Assert(t, !reloaded.Dirty())
}

func TestLaiAddIdempotent(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(ctx, "chan-b", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	c.Merge(mkEntry(5, types.KindArtwork))

	assert.Assert(t, c.LaiAdd(5))
	assert.Assert(t, !c.LaiAdd(5))
}

func TestCorruptionIsDetected(t *testing.T) {
	ctx := context.Background()
	channelsDir := t.TempDir()
	vaultDir := t.TempDir()

	c, err := cache.Open(ctx, "chan-c", channelsDir, vaultDir)
	assert.NilError(t, err)
	c.Merge(mkEntry(1, types.KindArtwork))
	assert.NilError(t, c.Flush(ctx))

	path := filepath.Join(channelsDir, "chan-c.cache")
	raw, err := os.ReadFile(path)
	assert.NilError(t, err)
	raw[len(raw)-1] ^= 0xFF
	assert.NilError(t, os.WriteFile(path, raw, 0o644))

	reloaded, err := cache.Open(ctx, "chan-c", channelsDir, vaultDir)
	assert.NilError(t, err)
	// Corruption degrades to an empty, dirty cache rather than a hard error.
	assert.Equal(t, reloaded.Len(), 0)
	assert.Assert(t, reloaded.Dirty())
}

func TestNextMissingIteratesUncachedArtworks(t *testing.T) {
	ctx := context.Background()
	c, err := cache.Open(ctx, "chan-d", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	c.Merge(mkEntry(1, types.KindArtwork))
	c.Merge(mkEntry(2, types.KindArtwork))
	c.Merge(mkEntry(3, types.KindPlaylist))
	c.LaiAdd(1)

	e, cursor, err := c.NextMissing(0)
	assert.NilError(t, err)
	assert.Equal(t, e.PostID, int32(2))

	_, _, err = c.NextMissing(cursor)
	assert.ErrorContains(t, err, "no missing artworks")
}
