package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	storagejson "github.com/driftframe/channelengine/storage/json"
	"github.com/driftframe/channelengine/utils"
)

// PlaylistMeta is the supplemented playlist-metadata sidecar the spec
// mentions but leaves outside its scope ("a separate playlist-metadata file
// (outside this spec)", §4.4 step 3). It records the server-order artwork
// post_ids loaded for a playlist, which the navigator expands at query time
// bounded by PE.
type PlaylistMeta struct {
	TotalArtworks uint32  `json:"total_artworks"`
	ArtworkIDs    []int32 `json:"artwork_ids"`
}

// PlaylistStore persists one PlaylistMeta per playlist post under
// {channels_dir}/playlists/{channel_id}/{post_id}.json, and implements
// navigator.PlaylistSource directly so the navigator can be wired to it
// without an adapter.
type PlaylistStore struct {
	dir string
}

// NewPlaylistStore creates a PlaylistStore rooted at channelsDir for channelID.
func NewPlaylistStore(channelsDir, channelID string) *PlaylistStore {
	return &PlaylistStore{dir: filepath.Join(channelsDir, "playlists", channelID)}
}

func (s *PlaylistStore) path(postID int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.json", postID))
}

func (s *PlaylistStore) storeFor(postID int32) *storagejson.Store[PlaylistMeta] {
	p := s.path(postID)
	return storagejson.New[PlaylistMeta](p+".lock", p)
}

// Save writes a playlist's loaded artworks, creating the store directory if
// needed.
func (s *PlaylistStore) Save(ctx context.Context, postID int32, meta PlaylistMeta) error {
	if err := utils.EnsureDirs(s.dir); err != nil {
		return err
	}
	return s.storeFor(postID).Update(ctx, func(m *PlaylistMeta) error {
		*m = meta
		return nil
	})
}

// LoadedArtworks implements navigator.PlaylistSource.
func (s *PlaylistStore) LoadedArtworks(ctx context.Context, playlistPostID int32) ([]int32, error) {
	var ids []int32
	err := s.storeFor(playlistPostID).With(ctx, func(m *PlaylistMeta) error {
		ids = append([]int32(nil), m.ArtworkIDs...)
		return nil
	})
	return ids, err
}
