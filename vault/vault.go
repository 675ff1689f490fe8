// Package vault resolves an artwork's deterministic on-disk path within the
// content-addressed vault tree (spec §3, §4.2). Pure functions only — no I/O
// beyond the stat-based helpers needed by cache rebuild and eviction.
package vault

import (
	"crypto/sha256"
	"path/filepath"

	"github.com/driftframe/channelengine/types"
)

// marker is the suffix recording that the upstream permanently lacks this
// artwork, so the downloader stops retrying and the cache rebuild treats the
// artwork as unavailable even if a stale file exists.
const marker = ".404"

// Shard is the 3-level directory prefix derived from a storage key's SHA-256
// hash, each level a zero-padded lowercase hex byte.
type Shard [3]string

// Resolve computes the vault path for storage key k with extension e,
// rooted at vaultDir. The hash input is k's 36-char canonical
// hex-with-hyphens string form, not its 16 raw bytes — this detail is
// load-bearing for cross-device compatibility (spec §4.2).
func Resolve(vaultDir string, k types.StorageKey, e types.Extension) string {
	sh := shardOf(k)
	return filepath.Join(vaultDir, sh[0], sh[1], sh[2], k.String()+e.Suffix())
}

// MarkerPath returns the path of the ".404" marker sibling to the artwork
// path resolved by Resolve.
func MarkerPath(artworkPath string) string {
	return artworkPath + marker
}

// LTFPath returns the load-tracker sidecar path for k, which shards only
// two levels deep (unlike the 3-level artwork path) since there are far
// fewer active failure sidecars than artworks at any time.
func LTFPath(vaultDir string, k types.StorageKey) string {
	sh := shardOf(k)
	return filepath.Join(vaultDir, sh[0], sh[1], k.String()+".ltf")
}

// LTFShardDir returns the 2-level shard directory for k's LTF sidecar.
func LTFShardDir(vaultDir string, k types.StorageKey) string {
	sh := shardOf(k)
	return filepath.Join(vaultDir, sh[0], sh[1])
}

// ShardDir returns the 3-level shard directory (without the filename) for k,
// rooted at vaultDir. Callers use this to EnsureDirs before writing.
func ShardDir(vaultDir string, k types.StorageKey) string {
	sh := shardOf(k)
	return filepath.Join(vaultDir, sh[0], sh[1], sh[2])
}

func shardOf(k types.StorageKey) Shard {
	sum := sha256.Sum256([]byte(k.String()))
	return Shard{hexByte(sum[0]), hexByte(sum[1]), hexByte(sum[2])}
}

const hexDigits = "0123456789abcdef"

func hexByte(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}
