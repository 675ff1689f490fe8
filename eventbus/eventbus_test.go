package eventbus_test

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/eventbus"
)

func TestSetWakesWaiter(t *testing.T) {
	b := eventbus.New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan waitResult)
	go func() {
		observed, err := b.WaitAny(ctx, eventbus.MqttConnected|eventbus.RefreshShutdown)
		done <- waitResult{observed, err}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Set(eventbus.MqttConnected)

	res := <-done
	assert.NilError(t, res.err)
	assert.Assert(t, res.observed&eventbus.MqttConnected != 0)
}

type waitResult struct {
	observed eventbus.Bits
	err      error
}

func TestWaitAnyTimesOutOnCancel(t *testing.T) {
	b := eventbus.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.WaitAny(ctx, eventbus.MqttConnected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClearIsIdempotent(t *testing.T) {
	b := eventbus.New()
	b.Set(eventbus.SDAvailable)
	b.Clear(eventbus.SDAvailable)
	b.Clear(eventbus.SDAvailable)
	assert.Equal(t, b.Peek()&eventbus.SDAvailable, eventbus.Bits(0))
}

func TestWaitAnyAutoClearDrainsObservedBits(t *testing.T) {
	b := eventbus.New()
	b.Set(eventbus.FileAvailable | eventbus.DownloadsNeeded)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	observed, err := b.WaitAnyAutoClear(ctx, eventbus.FileAvailable)
	assert.NilError(t, err)
	assert.Equal(t, observed, eventbus.FileAvailable)
	assert.Equal(t, b.Peek()&eventbus.FileAvailable, eventbus.Bits(0))
	assert.Assert(t, b.Peek()&eventbus.DownloadsNeeded != 0)
}
