package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/utils"
)

// Flush writes the current Ci/LAi state atomically, per the save procedure
// in spec §4.1: write to {final}.tmp, fsync, close, delete {final} if it
// exists (the target filesystem does not support rename-overwrite), then
// rename. Clears the dirty flag on success; on failure the dirty flag is
// left set so the next debounce tick retries.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	channelID := c.channelID
	ciCopy := append([]types.Entry(nil), c.ci...)
	laiCopy := append([]int32(nil), c.lai...)
	c.mu.Unlock()

	buf, err := encodeFile(channelID, ciCopy, laiCopy)
	if err != nil {
		return ckerr.Wrap(ckerr.IoError, err, "encode cache file")
	}

	final := finalPath(c.channelsDir, channelID)
	tmp := tmpPath(c.channelsDir, channelID)
	logger := clog.WithFunc("cache.Flush")

	// Remove any stale tmp from a prior crash before writing our own.
	_ = os.Remove(tmp)

	if err := writeAndSync(tmp, buf); err != nil {
		logger.Errorf(ctx, "%s: write tmp: %v", channelID, err)
		return ckerr.Wrap(ckerr.IoError, err, "write cache tmp file")
	}

	if err := removeThenRename(tmp, final); err != nil {
		logger.Errorf(ctx, "%s: promote tmp: %v", channelID, err)
		return ckerr.Wrap(ckerr.IoError, err, "promote cache tmp file")
	}
	if err := utils.SyncParentDir(filepath.Dir(final)); err != nil {
		logger.Warnf(ctx, "%s: sync parent dir: %v", channelID, err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

func writeAndSync(path string, buf []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// removeThenRename implements the delete-then-rename sequence the deployment
// filesystem requires, retrying once on EEXIST (a rename landing between our
// Remove and Rename).
func removeThenRename(tmp, final string) error {
	if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
		return err
	}
	err := os.Rename(tmp, final)
	if err != nil && errors.Is(err, syscall.EEXIST) {
		if rmErr := os.Remove(final); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
		err = os.Rename(tmp, final)
	}
	return err
}
