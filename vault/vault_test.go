package vault_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/vault"
)

func TestResolveIsDeterministic(t *testing.T) {
	k, err := types.ParseStorageKey("3fa85f64-5717-4562-b3fc-2c963f66afa6")
	assert.NilError(t, err)

	p1 := vault.Resolve("/vault", k, types.ExtWEBP)
	p2 := vault.Resolve("/vault", k, types.ExtWEBP)
	assert.Equal(t, p1, p2)
	assert.Equal(t, p1[len(p1)-5:], ".webp")
}

func TestResolveUnknownExtensionFallsBackToWebp(t *testing.T) {
	k := types.NewStorageKey()
	p := vault.Resolve("/vault", k, types.Extension(99))
	assert.Equal(t, p[len(p)-5:], ".webp")
}

func TestMarkerPathIsSibling(t *testing.T) {
	k := types.NewStorageKey()
	art := vault.Resolve("/vault", k, types.ExtPNG)
	marker := vault.MarkerPath(art)
	assert.Equal(t, marker, art+".404")
}
