// Package catalog implements the Refresh Pipeline (spec §4.4): pulling
// paginated posts from the remote catalog service, merging them into the
// channel cache, reconciling deletions, invalidating changed artwork files,
// and evicting under count/space pressure.
package catalog

import (
	"context"

	"github.com/driftframe/channelengine/types"
)

// Selector picks which subset of a channel's posts a query targets.
type Selector struct {
	Kind    SelectorKind
	SQID    string // by_user
	Hashtag string
	PostID  int32 // artwork (single)
}

// SelectorKind enumerates the channel_selector variants from spec §6.
type SelectorKind int

const (
	SelectorAll SelectorKind = iota
	SelectorPromoted
	SelectorUser
	SelectorByUser
	SelectorHashtag
	SelectorArtwork
)

// Sort mirrors the remote query's sort parameter; the remote catalog's own
// sort semantics are opaque and out of scope (spec Non-goals) beyond naming
// it at this boundary.
type Sort string

// Query is the request shape for query_posts.
type Query struct {
	Selector Selector
	Sort     Sort
	Cursor   string
	Limit    int
	PE       int
}

// RemotePost is the wire shape of one returned post (spec §6).
type RemotePost struct {
	PostID             int32
	Kind               types.Kind
	OwnerHandle        string
	CreatedAt          int64
	MetadataModifiedAt int64

	StorageKey        string // 36-char canonical form
	ArtURL            string
	ArtworkModifiedAt int64
	Extension         types.Extension

	TotalArtworks    uint32
	ExpandedArtworks []RemotePost
}

// Page is one query_posts response.
type Page struct {
	Success    bool
	Posts      []RemotePost
	HasMore    bool
	NextCursor string
	Error      string
}

// Remote is the narrow interface the refresh pipeline depends on, kept
// separate from any transport so tests can substitute a fake without
// standing up HTTP.
type Remote interface {
	QueryPosts(ctx context.Context, q Query) (Page, error)
}
