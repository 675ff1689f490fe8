package catalog

import (
	"context"
	"path/filepath"

	storagejson "github.com/driftframe/channelengine/storage/json"
)

// Metadata is the channel metadata sidecar: UTF-8 JSON at
// {channels_dir}/{channel_id}.json, atomically written (spec §6).
type Metadata struct {
	Cursor      *string `json:"cursor"`
	LastRefresh int64   `json:"last_refresh"`
}

// MetadataStore provides locked access to a channel's metadata sidecar.
type MetadataStore struct {
	store *storagejson.Store[Metadata]
}

// NewMetadataStore creates a MetadataStore for channelID under channelsDir.
func NewMetadataStore(channelsDir, channelID string) *MetadataStore {
	path := filepath.Join(channelsDir, channelID+".json")
	return &MetadataStore{store: storagejson.New[Metadata](path+".lock", path)}
}

// With exposes the underlying locked read/modify/write for callers that
// need a custom read.
func (s *MetadataStore) With(ctx context.Context, fn func(*Metadata) error) error {
	return s.store.With(ctx, fn)
}

// Update performs a locked read-modify-write, persisting on success.
func (s *MetadataStore) Update(ctx context.Context, fn func(*Metadata) error) error {
	return s.store.Update(ctx, fn)
}
