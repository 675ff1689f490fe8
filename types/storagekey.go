package types

import (
	"github.com/google/uuid"

	"github.com/driftframe/channelengine/ckerr"
)

// StorageKey identifies an artwork's stored content. It is a thin wrapper
// over google/uuid.UUID so the 16-byte and 36-char canonical forms required
// at different interfaces (binary Entry records vs. vault path hashing) both
// round-trip bit-exactly through the same underlying value.
type StorageKey uuid.UUID

// ParseStorageKey parses the 36-char canonical hex-with-hyphens form.
func ParseStorageKey(s string) (StorageKey, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return StorageKey{}, ckerr.Wrap(ckerr.InvalidArgument, err, "parse storage key")
	}
	return StorageKey(u), nil
}

// StorageKeyFromBytes reads the 16 raw bytes of a StorageKey.
func StorageKeyFromBytes(b []byte) (StorageKey, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return StorageKey{}, ckerr.Wrap(ckerr.InvalidArgument, err, "parse storage key bytes")
	}
	return StorageKey(u), nil
}

// NewStorageKey generates a fresh random (v4) StorageKey.
func NewStorageKey() StorageKey {
	return StorageKey(uuid.New())
}

// Bytes returns the 16 raw bytes, suitable for the Entry's storage_key_uuid field.
func (k StorageKey) Bytes() []byte {
	u := uuid.UUID(k)
	out := make([]byte, 16)
	copy(out, u[:])
	return out
}

// String returns the 36-char canonical hex-with-hyphens form. This exact
// form — not the raw bytes — is the hash input for vault path resolution;
// see vault.Resolve.
func (k StorageKey) String() string {
	return uuid.UUID(k).String()
}

// IsZero reports whether k is the zero-value (nil) UUID.
func (k StorageKey) IsZero() bool {
	return uuid.UUID(k) == uuid.Nil
}
