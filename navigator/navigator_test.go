package navigator_test

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/navigator"
	"github.com/driftframe/channelengine/types"
)

func seedCache(t *testing.T, n int) *cache.Cache {
	t.Helper()
	c, err := cache.Open(context.Background(), "chan", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	for i := 0; i < n; i++ {
		e := types.Entry{PostID: int32(i + 1), Kind: types.KindArtwork, CreatedAt: int64(i)}
		c.Merge(e)
		c.LaiAdd(int32(i + 1))
	}
	return c
}

func TestRandomOrderIsDeterministicAcrossInstances(t *testing.T) {
	c := seedCache(t, 20)
	cfg := navigator.Config{Mode: navigator.OrderRandom, GlobalSeed: 42, EffectiveSeed: 1000}

	n1 := navigator.New(c, nil, cfg, 0)
	n2 := navigator.New(c, nil, cfg, 0)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		it1, err1 := n1.Next(ctx)
		it2, err2 := n2.Next(ctx)
		assert.NilError(t, err1)
		assert.NilError(t, err2)
		assert.Equal(t, it1.Entry.PostID, it2.Entry.PostID)
	}
}

func TestCreatedOrderSortsDescending(t *testing.T) {
	c := seedCache(t, 5)
	cfg := navigator.Config{Mode: navigator.OrderCreated}
	n := navigator.New(c, nil, cfg, 0)

	ctx := context.Background()
	first, err := n.Current(ctx)
	assert.NilError(t, err)
	assert.Equal(t, first.Entry.PostID, int32(5))
}

func TestEmptyChannelReturnsNotFound(t *testing.T) {
	c, err := cache.Open(context.Background(), "empty", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	n := navigator.New(c, nil, navigator.Config{}, 0)

	_, err = n.Current(context.Background())
	assert.ErrorContains(t, err, "no posts")
}

func TestPrevSkipsHolesBackward(t *testing.T) {
	c, err := cache.Open(context.Background(), "chan-holes", t.TempDir(), t.TempDir())
	assert.NilError(t, err)
	for i := 1; i <= 4; i++ {
		e := types.Entry{PostID: int32(i), Kind: types.KindArtwork, CreatedAt: int64(i)}
		c.Merge(e)
	}
	// order = [1, 2, 3, 4] under OrderServer; 2 and 3 are holes (no local file).
	c.LaiAdd(1)
	c.LaiAdd(4)

	n := navigator.New(c, nil, navigator.Config{Mode: navigator.OrderServer}, 0)
	n.Jump(3, 0)

	it, err := n.Prev(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, it.Entry.PostID, int32(1))
}

func TestJumpClampsOutOfBounds(t *testing.T) {
	c := seedCache(t, 3)
	n := navigator.New(c, nil, navigator.Config{Mode: navigator.OrderServer}, 0)
	n.Jump(100, 0)
	it, err := n.Current(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, it.Entry.PostID, int32(1))
}
