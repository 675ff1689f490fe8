package types

// Post is the remote-catalog view of a channel item, before it is folded
// into an Entry for on-disk storage. The refresh pipeline (catalog package)
// decodes these off the wire; the cache store only ever sees Entry values.
type Post struct {
	PostID             int32
	Kind               Kind
	OwnerHandle        string
	CreatedAt          int64
	MetadataModifiedAt int64

	// Artwork fields, valid when Kind == KindArtwork.
	StorageKey        StorageKey
	ArtURL            string
	ArtworkModifiedAt int64
	Extension         Extension

	// Playlist fields, valid when Kind == KindPlaylist.
	TotalArtworks    uint32
	ExpandedArtworks []Post // up to PE entries, server-expanded
}

// Fingerprint returns p's merge key.
func (p Post) Fingerprint() Fingerprint {
	return Fingerprint{PostID: p.PostID, Kind: p.Kind}
}

// ToEntry converts a Post into its on-disk Entry form. DwellTimeMS and
// FilterFlags are not carried by the wire Post and are left zero; callers
// that need to preserve an existing entry's dwell/filter state across a
// merge should copy those fields from the prior Entry after calling this.
func (p Post) ToEntry() Entry {
	e := Entry{
		PostID:             p.PostID,
		Kind:               p.Kind,
		CreatedAt:          p.CreatedAt,
		MetadataModifiedAt: p.MetadataModifiedAt,
	}
	switch p.Kind {
	case KindArtwork:
		e.Extension = p.Extension
		e.ArtworkModifiedAt = p.ArtworkModifiedAt
		copy(e.StorageKeyUUID[:], p.StorageKey.Bytes())
	case KindPlaylist:
		e.TotalArtworks = p.TotalArtworks
	}
	return e
}
