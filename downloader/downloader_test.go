package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/ltf"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/vault"
)

func TestFetchSuccessPlacesFileAndUpdatesLai(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes")) //nolint:errcheck
	}))
	defer srv.Close()

	channelsDir := t.TempDir()
	vaultDir := t.TempDir()
	c, err := cache.Open(ctx, "chan-a", channelsDir, vaultDir)
	assert.NilError(t, err)

	key := types.NewStorageKey()
	e := types.Entry{PostID: 1, Kind: types.KindArtwork, Extension: types.ExtPNG}
	copy(e.StorageKeyUUID[:], key.Bytes())
	c.Merge(e)

	urls := catalog.NewURLCache()
	urls.Set(1, srv.URL)
	bus := eventbus.New()

	sched := New("chan-a", vaultDir, c, urls, bus, nil)
	assert.NilError(t, sched.fetch(ctx, e))

	assert.Assert(t, c.LaiContains(1))
	path := vault.Resolve(vaultDir, key, types.ExtPNG)
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "image-bytes")
}

func TestFetchPermanentFailureWritesMarker(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	channelsDir := t.TempDir()
	vaultDir := t.TempDir()
	c, err := cache.Open(ctx, "chan-b", channelsDir, vaultDir)
	assert.NilError(t, err)

	key := types.NewStorageKey()
	e := types.Entry{PostID: 2, Kind: types.KindArtwork, Extension: types.ExtPNG}
	copy(e.StorageKeyUUID[:], key.Bytes())
	c.Merge(e)

	urls := catalog.NewURLCache()
	urls.Set(2, srv.URL)
	bus := eventbus.New()

	sched := New("chan-b", vaultDir, c, urls, bus, nil)
	err = sched.fetch(ctx, e)
	assert.ErrorContains(t, err, "404")

	path := vault.Resolve(vaultDir, key, types.ExtPNG)
	_, err = os.Stat(vault.MarkerPath(path))
	assert.NilError(t, err)
}

func TestSelectNextSkipsTerminalAndPrefersHighPriority(t *testing.T) {
	ctx := context.Background()
	channelsDir := t.TempDir()
	vaultDir := t.TempDir()
	c, err := cache.Open(ctx, "chan-c", channelsDir, vaultDir)
	assert.NilError(t, err)

	older := types.Entry{PostID: 10, Kind: types.KindArtwork, CreatedAt: 1}
	copy(older.StorageKeyUUID[:], types.NewStorageKey().Bytes())
	newer := types.Entry{PostID: 11, Kind: types.KindArtwork, CreatedAt: 2}
	copy(newer.StorageKeyUUID[:], types.NewStorageKey().Bytes())
	c.Merge(older)
	c.Merge(newer)

	// The newest entry is terminal, so it must be skipped despite its age.
	terminalKey := types.NewStorageKey()
	terminal := types.Entry{PostID: 12, Kind: types.KindArtwork, CreatedAt: 3}
	copy(terminal.StorageKeyUUID[:], terminalKey.Bytes())
	c.Merge(terminal)
	assert.NilError(t, ltf.New(vaultDir, terminalKey).RecordDownloadFailure(ctx, ltf.ErrorClassPermanent, "404"))

	sched := New("chan-c", vaultDir, c, catalog.NewURLCache(), eventbus.New(), nil)
	picked, ok := sched.selectNext()
	assert.Assert(t, ok)
	assert.Equal(t, picked.PostID, int32(11))
	assert.Equal(t, sched.PendingCount(), 2)
}
