package channel_test

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/channel"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/navigator"
	"github.com/driftframe/channelengine/registry"
)

type emptyRemote struct{}

func (emptyRemote) QueryPosts(ctx context.Context, q catalog.Query) (catalog.Page, error) {
	return catalog.Page{Success: true}, nil
}

func TestChannelStartAndGracefulClose(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	reg := registry.New(bus, 8, 50*time.Millisecond)

	cfg := catalog.DefaultPipelineConfig()
	cfg.RefreshInterval = time.Hour

	ch, err := channel.Open(ctx, "chan-z", channel.Deps{
		ChannelsDir:     t.TempDir(),
		VaultDir:        t.TempDir(),
		PoolSize:        2,
		Registry:        reg,
		Bus:             bus,
		Remote:          emptyRemote{},
		PipelineConfig:  cfg,
		NavigatorConfig: navigator.Config{Mode: navigator.OrderServer},
		ChannelEpoch:    0,
	})
	assert.NilError(t, err)

	ch.Start(ctx)

	done := make(chan struct{})
	go func() {
		ch.Close(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close in time")
	}

	_, ok := reg.Find("chan-z")
	assert.Assert(t, !ok)
}
