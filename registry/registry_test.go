package registry_test

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/registry"
	"github.com/driftframe/channelengine/types"
)

func TestRegisterCapacityAndTotalAvailable(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	reg := registry.New(bus, 2, 10*time.Millisecond)

	c1, err := cache.Open(ctx, "a", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	c2, err := cache.Open(ctx, "b", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	c3, err := cache.Open(ctx, "c", t.TempDir(), t.TempDir())
	assert.NilError(t, err)

	assert.NilError(t, reg.Register(c1))
	assert.NilError(t, reg.Register(c2))
	assert.ErrorContains(t, reg.Register(c3), "capacity")

	e := types.Entry{PostID: 1, Kind: types.KindArtwork}
	c1.Merge(e)
	c1.LaiAdd(1)

	assert.Equal(t, reg.GetTotalAvailable(), 1)

	found, ok := reg.Find("a")
	assert.Assert(t, ok)
	assert.Equal(t, found.ChannelID(), "a")

	reg.Unregister("a")
	_, ok = reg.Find("a")
	assert.Assert(t, !ok)
}

func TestScheduleSaveDebouncesFlush(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	channelsDir := t.TempDir()
	reg := registry.New(bus, 0, 20*time.Millisecond)

	c, err := cache.Open(ctx, "d", channelsDir, t.TempDir())
	assert.NilError(t, err)
	assert.NilError(t, reg.Register(c))

	c.Merge(types.Entry{PostID: 1, Kind: types.KindArtwork})
	c.ScheduleSave()
	assert.Assert(t, c.Dirty())

	time.Sleep(60 * time.Millisecond)
	assert.Assert(t, !c.Dirty())
}
