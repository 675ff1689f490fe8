package vault

import (
	"os"

	"github.com/driftframe/channelengine/types"
)

// Available reports whether the artwork for (k, e) exists under vaultDir and
// is not shadowed by a ".404" marker.
func Available(vaultDir string, k types.StorageKey, e types.Extension) bool {
	path := Resolve(vaultDir, k, e)
	if !regularFile(path) {
		return false
	}
	return !regularFile(MarkerPath(path))
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
