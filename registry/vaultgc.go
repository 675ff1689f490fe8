package registry

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftframe/channelengine/gc"
	"github.com/driftframe/channelengine/lock"
	"github.com/driftframe/channelengine/types"
)

// VaultGC is a gc.Module that sweeps a vault directory for artwork files no
// longer referenced by any registered channel's Ci, adapting the teacher's
// cross-module GC orchestration to this engine's single shared vault tree.
// Its locker is a no-op: the vault files it scans are only ever mutated by
// this process, already serialized by each Cache's own mutex.
type VaultGC struct {
	reg      *Registry
	vaultDir string
}

// NewVaultGC creates a VaultGC over every cache reg currently holds.
func NewVaultGC(reg *Registry, vaultDir string) *VaultGC {
	return &VaultGC{reg: reg, vaultDir: vaultDir}
}

func (g *VaultGC) Name() string        { return "vault" }
func (g *VaultGC) Locker() lock.Locker { return lock.NoOp() }

// Snapshot collects the set of storage keys still referenced by any
// registered channel's artwork entries.
func (g *VaultGC) Snapshot(_ context.Context) (map[string]struct{}, error) {
	referenced := make(map[string]struct{})
	for _, c := range g.reg.Caches() {
		ci, _ := c.Snapshot()
		for _, e := range ci {
			if e.Kind != types.KindArtwork {
				continue
			}
			if key, err := e.StorageKey(); err == nil {
				referenced[key.String()] = struct{}{}
			}
		}
	}
	return referenced, nil
}

// Resolve walks the vault tree and returns the paths of every artwork file
// whose storage key is not in snap. ".ltf" sidecars and ".404" markers are
// skipped here; Collect removes an orphan's marker alongside it.
func (g *VaultGC) Resolve(snap map[string]struct{}, _ map[string]any) []string {
	var orphans []string
	_ = filepath.WalkDir(g.vaultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr
		}
		name := d.Name()
		ext := filepath.Ext(name)
		if ext == ".ltf" || ext == ".404" {
			return nil
		}
		key := strings.TrimSuffix(name, ext)
		if _, ok := snap[key]; !ok {
			orphans = append(orphans, path)
		}
		return nil
	})
	return orphans
}

// Collect removes each orphaned artwork file and any sibling ".404" marker.
func (g *VaultGC) Collect(_ context.Context, ids []string) error {
	for _, path := range ids {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		_ = os.Remove(path + ".404")
	}
	return nil
}

var _ gc.Module[map[string]struct{}] = (*VaultGC)(nil)
