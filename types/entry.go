package types

import (
	"encoding/binary"

	"github.com/driftframe/channelengine/ckerr"
)

// EntrySize is the fixed on-disk and in-memory size of an Entry record.
const EntrySize = 64

// Extension identifies an artwork's file type. The zero value (WEBP) is also
// the fallback for any unrecognized stored value, per the resolver contract.
type Extension uint8

const (
	ExtWEBP Extension = 0
	ExtGIF  Extension = 1
	ExtPNG  Extension = 2
	ExtJPEG Extension = 3
)

// Suffix returns the filename suffix (including the dot) for e, falling back
// to ".webp" for any value outside the known set.
func (e Extension) Suffix() string {
	switch e {
	case ExtGIF:
		return ".gif"
	case ExtPNG:
		return ".png"
	case ExtJPEG:
		return ".jpg"
	default:
		return ".webp"
	}
}

// Kind distinguishes the two Post variants carried by an Entry.
type Kind uint8

const (
	KindArtwork  Kind = 0
	KindPlaylist Kind = 1
)

// Fingerprint is the merge key for refresh reconciliation: unique within a
// channel by (post_id, kind).
type Fingerprint struct {
	PostID int32
	Kind   Kind
}

// Entry is the fixed 64-byte Ci record. Layout (little-endian, matching
// spec §4.1's on-disk struct and hand-packed via encoding/binary rather than
// relied on for Go struct memory layout, which is not portable across
// compilers/architectures):
//
//	offset  size  field
//	0       4     post_id      (int32)
//	4       1     kind         (uint8)
//	5       1     extension    (uint8)
//	6       2     filter_flags (uint16)
//	8       8     created_at             (int64, unix seconds)
//	16      8     metadata_modified_at   (int64, unix seconds)
//	24      8     artwork_modified_at    (int64, unix seconds)
//	32      4     dwell_time_ms (uint32)
//	36      4     total_artworks (uint32, playlists only)
//	40      16    storage_key_uuid
//	56      8     reserved
type Entry struct {
	PostID             int32
	Kind               Kind
	Extension          Extension
	FilterFlags        uint16
	CreatedAt          int64
	MetadataModifiedAt int64
	ArtworkModifiedAt  int64
	DwellTimeMS        uint32
	TotalArtworks      uint32
	StorageKeyUUID     [16]byte
}

// Fingerprint returns e's merge key.
func (e Entry) Fingerprint() Fingerprint {
	return Fingerprint{PostID: e.PostID, Kind: e.Kind}
}

// Encode writes e's 64-byte wire form into buf, which must be at least
// EntrySize bytes.
func (e Entry) Encode(buf []byte) {
	_ = buf[EntrySize-1] // bounds check hint
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.PostID))
	buf[4] = byte(e.Kind)
	buf[5] = byte(e.Extension)
	binary.LittleEndian.PutUint16(buf[6:8], e.FilterFlags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.CreatedAt))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.MetadataModifiedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(e.ArtworkModifiedAt))
	binary.LittleEndian.PutUint32(buf[32:36], e.DwellTimeMS)
	binary.LittleEndian.PutUint32(buf[36:40], e.TotalArtworks)
	copy(buf[40:56], e.StorageKeyUUID[:])
	for i := 56; i < 64; i++ {
		buf[i] = 0
	}
}

// DecodeEntry parses a 64-byte wire-form Entry from buf.
func DecodeEntry(buf []byte) (Entry, error) {
	if len(buf) < EntrySize {
		return Entry{}, ckerr.New(ckerr.Corruption, "entry record truncated")
	}
	var e Entry
	e.PostID = int32(binary.LittleEndian.Uint32(buf[0:4]))
	e.Kind = Kind(buf[4])
	e.Extension = Extension(buf[5])
	e.FilterFlags = binary.LittleEndian.Uint16(buf[6:8])
	e.CreatedAt = int64(binary.LittleEndian.Uint64(buf[8:16]))
	e.MetadataModifiedAt = int64(binary.LittleEndian.Uint64(buf[16:24]))
	e.ArtworkModifiedAt = int64(binary.LittleEndian.Uint64(buf[24:32]))
	e.DwellTimeMS = binary.LittleEndian.Uint32(buf[32:36])
	e.TotalArtworks = binary.LittleEndian.Uint32(buf[36:40])
	copy(e.StorageKeyUUID[:], buf[40:56])
	return e, nil
}

// StorageKey returns e's storage key as a typed value.
func (e Entry) StorageKey() (StorageKey, error) {
	return StorageKeyFromBytes(e.StorageKeyUUID[:])
}
