package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/vault"
)

// staticPending reports a fixed pending count, for forcing the backpressure
// path regardless of what the pipeline actually merges.
type staticPending struct{ n int }

func (s staticPending) PendingCount() int { return s.n }

// fakeRemote serves one fixed sequence of pages regardless of cursor, for
// deterministic single-cycle tests.
type fakeRemote struct {
	pages []catalog.Page
	calls int
}

func (r *fakeRemote) QueryPosts(ctx context.Context, q catalog.Query) (catalog.Page, error) {
	if r.calls >= len(r.pages) {
		return catalog.Page{Success: true}, nil
	}
	p := r.pages[r.calls]
	r.calls++
	return p, nil
}

func newHarness(t *testing.T, remote catalog.Remote) (*cache.Cache, *catalog.Pipeline, string) {
	t.Helper()
	ctx := context.Background()
	channelsDir := t.TempDir()
	vaultDir := t.TempDir()

	c, err := cache.Open(ctx, "chan-a", channelsDir, vaultDir)
	assert.NilError(t, err)

	bus := eventbus.New()
	meta := catalog.NewMetadataStore(channelsDir, "chan-a")
	playlists := catalog.NewPlaylistStore(channelsDir, "chan-a")
	urls := catalog.NewURLCache()

	p := catalog.NewPipeline("chan-a", vaultDir, 2, catalog.DefaultPipelineConfig(),
		c, remote, meta, playlists, urls, bus, nil, nil)
	return c, p, vaultDir
}

func TestColdStartSingleArtworkMerge(t *testing.T) {
	ctx := context.Background()
	key := types.NewStorageKey()
	remote := &fakeRemote{pages: []catalog.Page{{
		Success: true,
		Posts: []catalog.RemotePost{{
			PostID:     1,
			Kind:       types.KindArtwork,
			StorageKey: key.String(),
			ArtURL:     "https://example.test/a.webp",
			Extension:  types.ExtWEBP,
		}},
		HasMore:    false,
		NextCursor: "",
	}}}

	c, p, _ := newHarness(t, remote)
	assert.NilError(t, p.RunOnce(ctx))

	assert.Equal(t, c.Len(), 1)
	idx, ok := c.FindByPostID(1)
	assert.Assert(t, ok)
	e, ok := c.GetEntry(idx)
	assert.Assert(t, ok)
	assert.Equal(t, e.Kind, types.KindArtwork)
}

func TestServerDeletesPostDropsAndEvicts(t *testing.T) {
	ctx := context.Background()
	key := types.NewStorageKey()

	remote := &fakeRemote{pages: []catalog.Page{{
		Success: true,
		Posts: []catalog.RemotePost{{
			PostID:     1,
			Kind:       types.KindArtwork,
			StorageKey: key.String(),
			Extension:  types.ExtWEBP,
		}},
	}}}

	c, p, vaultDir := newHarness(t, remote)
	assert.NilError(t, p.RunOnce(ctx))

	path := vault.Resolve(vaultDir, key, types.ExtWEBP)
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	assert.NilError(t, os.WriteFile(path, []byte("data"), 0o640))
	c.LaiAdd(1)

	// Next cycle: the server returns nothing for this post, so it drops out
	// of Ci and its vault file is removed.
	remote.pages = []catalog.Page{{Success: true}}
	remote.calls = 0
	assert.NilError(t, p.RunOnce(ctx))

	assert.Equal(t, c.Len(), 0)
	_, err := os.Stat(path)
	assert.Assert(t, os.IsNotExist(err))
}

func TestBackpressureWaitsThenBacksOffOnQueueFull(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{pages: []catalog.Page{
		{Success: true, HasMore: true, NextCursor: "c1"},
		{Success: true, HasMore: false},
	}}

	channelsDir := t.TempDir()
	vaultDir := t.TempDir()
	c, err := cache.Open(ctx, "chan-d", channelsDir, vaultDir)
	assert.NilError(t, err)

	bus := eventbus.New()
	meta := catalog.NewMetadataStore(channelsDir, "chan-d")
	playlists := catalog.NewPlaylistStore(channelsDir, "chan-d")
	urls := catalog.NewURLCache()

	cfg := catalog.DefaultPipelineConfig()
	cfg.QueueCap = 1
	cfg.BackpressureWait = 20 * time.Millisecond
	cfg.BackpressureSleep = 5 * time.Millisecond

	p := catalog.NewPipeline("chan-d", vaultDir, 2, cfg, c, remote, meta, playlists, urls, bus, nil, staticPending{n: 100})

	start := time.Now()
	assert.NilError(t, p.RunOnce(ctx))
	assert.Assert(t, time.Since(start) >= cfg.BackpressureWait)
}
