package lock

import "context"

// noop is a Locker for state that is already serialized in-process (e.g. by
// its own mutex) and needs no cross-process exclusion, so it can still
// participate in gc.Orchestrator's lock/unlock protocol.
type noop struct{}

// NoOp returns a Locker whose Lock/TryLock always succeed immediately.
func NoOp() Locker { return noop{} }

func (noop) Lock(_ context.Context) error            { return nil }
func (noop) Unlock(_ context.Context) error          { return nil }
func (noop) TryLock(_ context.Context) (bool, error) { return true, nil }
