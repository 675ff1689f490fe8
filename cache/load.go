package cache

import (
	"context"
	"os"

	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/vault"
)

// Open loads (or rebuilds) the cache for channelID. A corrupt or missing
// on-disk file degrades to an empty, dirty cache per spec §4.1's failure
// semantics, and vault stat failures during an LAi rebuild just leave the
// artwork out of LAi, so the returned error is always nil.
func Open(ctx context.Context, channelID, channelsDir, vaultDir string) (*Cache, error) {
	logger := clog.WithFunc("cache.Open")
	c := newEmpty(channelID, channelsDir, vaultDir)

	final := finalPath(channelsDir, channelID)
	tmp := tmpPath(channelsDir, channelID)

	buf, fromPath, recovered := recoverAndCleanup(final, tmp)
	if buf != nil {
		ci, lai, needsRebuild, err := decodeFile(buf)
		if err == nil {
			c.ci = ci
			c.lai = lai
			c.rebuildIndices()
			if needsRebuild {
				logger.Infof(ctx, "%s: old version, rebuilding LAi from vault", channelID)
				c.rebuildLAiFromVault(ctx)
				c.dirty = true
			}
			if recovered {
				c.dirty = true
			}
			return c, nil
		}
		logger.Warnf(ctx, "%s: %s corrupt (%v), falling back to legacy/empty", channelID, fromPath, err)
	}

	// Legacy raw-entries file: {channel_id}.bin, a positive multiple-of-64
	// byte array of Entry records.
	legacy := legacyPath(channelsDir, channelID)
	if info, err := os.Stat(legacy); err == nil && info.Mode().IsRegular() && info.Size() > 0 && info.Size()%types.EntrySize == 0 {
		raw, err := os.ReadFile(legacy) //nolint:gosec // internal channel data path
		if err == nil {
			n := int(info.Size()) / types.EntrySize
			ci := make([]types.Entry, 0, n)
			ok := true
			for i := 0; i < n; i++ {
				e, derr := types.DecodeEntry(raw[i*types.EntrySize : (i+1)*types.EntrySize])
				if derr != nil {
					ok = false
					break
				}
				ci = append(ci, e)
			}
			if ok {
				logger.Infof(ctx, "%s: loaded legacy format, rebuilding LAi", channelID)
				c.ci = ci
				c.rebuildIndices()
				c.rebuildLAiFromVault(ctx)
				c.dirty = true
				return c, nil
			}
		}
	}

	// Nothing usable: empty cache, dirty so the refresh pipeline's first
	// merge promotes it to the current format on flush.
	c.dirty = true
	return c, nil
}

// recoverAndCleanup implements the crash-recovery pass: if both the final
// file and a stale .tmp exist, prefer whichever decodes validly, preferring
// the newer mtime when both are valid; if only .tmp is valid, promote it.
func recoverAndCleanup(final, tmp string) (buf []byte, fromPath string, recovered bool) {
	finalInfo, finalErr := os.Stat(final)
	tmpInfo, tmpErr := os.Stat(tmp)

	finalBuf, finalValid := tryRead(final)
	tmpBuf, tmpValid := tryRead(tmp)

	switch {
	case finalErr == nil && tmpErr == nil:
		switch {
		case finalValid && tmpValid:
			if tmpInfo.ModTime().After(finalInfo.ModTime()) {
				_ = os.Remove(final)
				_ = os.Rename(tmp, final)
				return tmpBuf, tmp, true
			}
			_ = os.Remove(tmp)
			return finalBuf, final, false
		case finalValid:
			_ = os.Remove(tmp)
			return finalBuf, final, false
		case tmpValid:
			_ = os.Remove(final)
			_ = os.Rename(tmp, final)
			return tmpBuf, tmp, true
		default:
			_ = os.Remove(tmp)
			return nil, "", false
		}
	case finalErr == nil:
		if finalValid {
			return finalBuf, final, false
		}
		return nil, "", false
	case tmpErr == nil:
		if tmpValid {
			_ = os.Rename(tmp, final)
			return tmpBuf, tmp, true
		}
		_ = os.Remove(tmp)
		return nil, "", false
	default:
		return nil, "", false
	}
}

func tryRead(path string) ([]byte, bool) {
	buf, err := os.ReadFile(path) //nolint:gosec // internal channel data path
	if err != nil {
		return nil, false
	}
	if _, _, _, err := decodeFile(buf); err != nil {
		return buf, false
	}
	return buf, true
}

// rebuildLAiFromVault stats each Artwork entry's expected vault path (and its
// .404 marker), checking ctx for cancellation every 100 entries and stopping
// early if it is done.
func (c *Cache) rebuildLAiFromVault(ctx context.Context) {
	c.lai = c.lai[:0]
	for i, e := range c.ci {
		if e.Kind != types.KindArtwork {
			continue
		}
		key, err := e.StorageKey()
		if err != nil {
			continue
		}
		if vault.Available(c.vaultDir, key, e.Extension) {
			c.lai = append(c.lai, e.PostID)
		}
		if (i+1)%100 == 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
	c.rebuildIndices()
}
