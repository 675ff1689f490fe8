// Package ltf implements the per-artwork Load Tracker File: a JSON sidecar
// recording load/download failure counters, exponential backoff, and
// terminal state (spec §4.3). Persistence follows the teacher's
// storage/json.Store pattern: flock-guarded, atomic temp-file-plus-rename
// writes via utils.AtomicWriteJSON.
package ltf

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/clog"
	storagejson "github.com/driftframe/channelengine/storage/json"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/utils"
	"github.com/driftframe/channelengine/vault"
)

// ErrorClass classifies why a download failed.
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = "none"
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// MaxAttempts is the load-failure cap after which an artwork is terminal.
const MaxAttempts = 3

// MaxReasonLen bounds the persisted reason string.
const MaxReasonLen = 31

const (
	backoffInitial    = 1 * time.Second
	backoffMultiplier = 2
	backoffCap        = 30 * time.Second
	cooldownAfter     = 5
	cooldownDuration  = 300 * time.Second
)

// Record is the JSON sidecar content.
type Record struct {
	Attempts         int        `json:"attempts"`
	DownloadAttempts int        `json:"download_attempts"`
	Terminal         bool       `json:"terminal"`
	LastFailure      int64      `json:"last_failure"`
	RetryAfter       int64      `json:"retry_after"`
	ErrorClass       ErrorClass `json:"error_class"`
	Reason           string     `json:"reason"`
}

// Tracker provides locked read-modify-write access to a single artwork's LTF
// sidecar, rooted at a vault directory.
type Tracker struct {
	vaultDir string
	key      types.StorageKey
	now      func() time.Time
}

// New creates a Tracker for storage key k under vaultDir.
func New(vaultDir string, k types.StorageKey) *Tracker {
	return &Tracker{vaultDir: vaultDir, key: k, now: time.Now}
}

func (t *Tracker) path() string { return vault.LTFPath(t.vaultDir, t.key) }

func (t *Tracker) store() *storagejson.Store[Record] {
	return storagejson.New[Record](t.path()+".lock", t.path())
}

// RecordLoadFailure reads or creates the LTF, increments attempts, sets
// last_failure and reason, and marks terminal once attempts reaches
// MaxAttempts.
func (t *Tracker) RecordLoadFailure(ctx context.Context, reason string) error {
	if err := utils.EnsureDirs(vault.LTFShardDir(t.vaultDir, t.key)); err != nil {
		return ckerr.Wrap(ckerr.IoError, err, "ensure ltf shard dir")
	}
	if len(reason) > MaxReasonLen {
		reason = reason[:MaxReasonLen]
	}
	now := t.now().Unix()
	err := t.store().Update(ctx, func(r *Record) error {
		r.Attempts++
		r.LastFailure = now
		r.Reason = reason
		if r.Attempts >= MaxAttempts {
			r.Terminal = true
		}
		return nil
	})
	if err != nil {
		clog.WithFunc("ltf.RecordLoadFailure").Warnf(ctx, "%s: %v", t.key, err)
		return ckerr.Wrap(ckerr.IoError, err, "persist ltf")
	}
	return nil
}

// RecordDownloadFailure classifies err/httpStatus and updates backoff state.
// A permanent classification sets terminal immediately; a transient one
// schedules retry_after with exponential backoff, entering a 300s cooldown
// after cooldownAfter consecutive transient failures.
func (t *Tracker) RecordDownloadFailure(ctx context.Context, class ErrorClass, reason string) error {
	if err := utils.EnsureDirs(vault.LTFShardDir(t.vaultDir, t.key)); err != nil {
		return ckerr.Wrap(ckerr.IoError, err, "ensure ltf shard dir")
	}
	if len(reason) > MaxReasonLen {
		reason = reason[:MaxReasonLen]
	}
	now := t.now().Unix()
	err := t.store().Update(ctx, func(r *Record) error {
		r.LastFailure = now
		r.ErrorClass = class
		r.Reason = reason
		switch class {
		case ErrorClassPermanent:
			r.Terminal = true
		case ErrorClassTransient:
			r.DownloadAttempts++
			if r.DownloadAttempts > cooldownAfter {
				r.RetryAfter = now + int64(cooldownDuration.Seconds())
				return nil
			}
			delay := backoffInitial
			for i := 1; i < r.DownloadAttempts; i++ {
				delay *= backoffMultiplier
				if delay > backoffCap {
					delay = backoffCap
					break
				}
			}
			r.RetryAfter = now + int64(delay.Seconds())
		}
		return nil
	})
	if err != nil {
		clog.WithFunc("ltf.RecordDownloadFailure").Warnf(ctx, "%s: %v", t.key, err)
		return ckerr.Wrap(ckerr.IoError, err, "persist ltf")
	}
	return nil
}

// CanDownloadNow reports whether k may be attempted: true if no LTF exists,
// or if it is not terminal and retry_after has elapsed. Safety: any parse
// failure falls back to permissive (true) — terminal state is only ever
// asserted from a well-formed file.
func (t *Tracker) CanDownloadNow(ctx context.Context) bool {
	raw, err := os.ReadFile(t.path()) //nolint:gosec // vault-internal path
	if err != nil {
		return true
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return true
	}
	if r.Terminal {
		return false
	}
	return r.RetryAfter <= t.now().Unix()
}

// Clear deletes the LTF sidecar entirely, permitting future downloads and
// load attempts from a clean slate.
func (t *Tracker) Clear(_ context.Context) error {
	if err := os.Remove(t.path()); err != nil && !os.IsNotExist(err) {
		return ckerr.Wrap(ckerr.IoError, err, "remove ltf")
	}
	return nil
}

// ClearDownloadFailures resets only the download-related fields, preserving
// any recorded load-failure history.
func (t *Tracker) ClearDownloadFailures(ctx context.Context) error {
	return t.store().Update(ctx, func(r *Record) error {
		r.DownloadAttempts = 0
		r.RetryAfter = 0
		r.ErrorClass = ErrorClassNone
		return nil
	})
}
