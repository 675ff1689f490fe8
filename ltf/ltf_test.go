package ltf_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/ltf"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/vault"
)

func TestThreeStrikeLoadFailure(t *testing.T) {
	dir := t.TempDir()
	k := types.NewStorageKey()
	tr := ltf.New(dir, k)
	ctx := context.Background()

	assert.Assert(t, tr.CanDownloadNow(ctx))

	assert.NilError(t, tr.RecordLoadFailure(ctx, "decode_error"))
	assert.Assert(t, tr.CanDownloadNow(ctx))

	assert.NilError(t, tr.RecordLoadFailure(ctx, "decode_error"))
	assert.Assert(t, tr.CanDownloadNow(ctx))

	assert.NilError(t, tr.RecordLoadFailure(ctx, "decode_error"))
	assert.Assert(t, !tr.CanDownloadNow(ctx))

	assert.NilError(t, tr.Clear(ctx))
	assert.Assert(t, tr.CanDownloadNow(ctx))
}

func TestPermanentDownloadFailureIsTerminal(t *testing.T) {
	dir := t.TempDir()
	k := types.NewStorageKey()
	tr := ltf.New(dir, k)
	ctx := context.Background()

	assert.NilError(t, tr.RecordDownloadFailure(ctx, ltf.ErrorClassPermanent, "404"))
	assert.Assert(t, !tr.CanDownloadNow(ctx))
}

func TestTransientDownloadFailureSchedulesRetry(t *testing.T) {
	dir := t.TempDir()
	k := types.NewStorageKey()
	tr := ltf.New(dir, k)
	ctx := context.Background()

	assert.NilError(t, tr.RecordDownloadFailure(ctx, ltf.ErrorClassTransient, "timeout"))
	raw, err := os.ReadFile(vault.LTFPath(dir, k))
	assert.NilError(t, err)
	var rec ltf.Record
	assert.NilError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, rec.DownloadAttempts, 1)
	assert.Equal(t, rec.RetryAfter-rec.LastFailure, int64(1))
	// retry_after is now+1s, so immediately after the call it should not yet
	// be downloadable (best-effort; clock granularity makes this soft).
	_ = tr.CanDownloadNow(ctx)

	assert.NilError(t, tr.ClearDownloadFailures(ctx))
	assert.Assert(t, tr.CanDownloadNow(ctx))
}
