package gc

import (
	"context"

	"github.com/driftframe/channelengine/lock"
)

// Module is implemented by any subsystem that wants to participate in GC
// orchestration. S is the module's own snapshot type (its typed view of what
// it owns), kept distinct from the map[string]any other modules see so each
// module's Resolve gets a typed snapshot of itself and untyped access to the
// rest for cross-module reference checks (e.g. the play navigator excluding
// entries still referenced by the active playlist from cache eviction).
type Module[S any] interface {
	// Name identifies the module in logs and the snapshot map.
	Name() string
	// Locker guards the module's on-disk state across processes.
	Locker() lock.Locker
	// Snapshot reads the module's current state under lock.
	Snapshot(ctx context.Context) (S, error)
	// Resolve computes IDs to delete given this module's typed snapshot and
	// every registered module's snapshot (including its own) as map[string]any.
	Resolve(snap S, others map[string]any) []string
	// Collect deletes the given IDs. Called even with an empty slice so a
	// module can run housekeeping (e.g. stale temp file cleanup).
	Collect(ctx context.Context, ids []string) error
}

// moduleAdapter erases Module[S]'s type parameter so Orchestrator can hold a
// heterogeneous slice of modules with different snapshot types.
type moduleAdapter[S any] struct {
	m Module[S]
}

func (a moduleAdapter[S]) getName() string        { return a.m.Name() }
func (a moduleAdapter[S]) getLocker() lock.Locker { return a.m.Locker() }

func (a moduleAdapter[S]) readSnapshot(ctx context.Context) (any, error) {
	return a.m.Snapshot(ctx)
}

func (a moduleAdapter[S]) resolveTargets(snap any, others map[string]any) []string {
	typed, ok := snap.(S)
	if !ok {
		return nil
	}
	return a.m.Resolve(typed, others)
}

func (a moduleAdapter[S]) collect(ctx context.Context, ids []string) error {
	return a.m.Collect(ctx, ids)
}
