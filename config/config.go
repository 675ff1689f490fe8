// Package config holds the channel engine's root directory layout and the
// tunable knobs referenced throughout spec §6 (PE, seeds, dwell overrides,
// refresh interval). Shape follows the teacher's config.Config: a flat,
// JSON-tagged struct with defaults. It has no derived path helpers; callers
// join subdirectories onto RootDir themselves.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"
)

// Config holds global channel-engine configuration.
type Config struct {
	// RootDir is the base directory for persistent data (channel caches,
	// vault, metadata sidecars).
	RootDir string `json:"root_dir"`
	// PoolSize bounds concurrent goroutines used by the refresh pipeline
	// for per-page merge work. Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size"`
	// LogLevel is a zerolog level string ("debug", "info", "warn", "error").
	LogLevel string `json:"log_level"`

	// PlaylistExpansion (PE) bounds how many artworks of a playlist enter
	// the play sequence. 0 means no cap. Range [0, 1023].
	PlaylistExpansion int `json:"playlist_expansion"`
	// GlobalSeed selects the independent PCG32 stream used for Random
	// order-mode shuffles, so independent channels don't correlate.
	GlobalSeed uint64 `json:"global_seed"`
	// EffectiveSeed is random pre-SNTP and deterministic post-SNTP, so a
	// fleet's shuffles agree once the clock is synchronized.
	EffectiveSeed uint64 `json:"effective_seed"`
	// RandomizePlaylist enables per-q shuffling within a playlist.
	RandomizePlaylist bool `json:"randomize_playlist"`
	// LiveMode enables globally synchronized wall-clock playback.
	LiveMode bool `json:"live_mode"`
	// GlobalDwellOverrideMS overrides every item's dwell time when non-zero.
	GlobalDwellOverrideMS uint32 `json:"global_dwell_override_ms"`

	// RefreshInterval is the steady-state delay between refresh cycles.
	RefreshInterval time.Duration `json:"refresh_interval"`
	// FlushDebounce is how long the cache registry waits after the last
	// schedule_save() before flushing dirty caches.
	FlushDebounce time.Duration `json:"flush_debounce"`

	// MaxLocalArtworks is the count-pressure eviction cap (D in spec §4.4).
	MaxLocalArtworks int `json:"max_local_artworks"`
	// FreeSpaceReserveBytes is the minimum free space the vault filesystem
	// must retain; eviction runs under space pressure below this.
	FreeSpaceReserveBytes int64 `json:"free_space_reserve_bytes"`
}

const (
	defaultRefreshInterval       = time.Hour
	defaultFlushDebounce         = 2 * time.Second
	defaultMaxLocalArtworks      = 1024
	defaultFreeSpaceReserveBytes = 10 << 20 // 10 MiB
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:               "/var/lib/channelengine",
		PoolSize:              runtime.NumCPU(),
		LogLevel:              "info",
		RefreshInterval:       defaultRefreshInterval,
		FlushDebounce:         defaultFlushDebounce,
		MaxLocalArtworks:      defaultMaxLocalArtworks,
		FreeSpaceReserveBytes: defaultFreeSpaceReserveBytes,
	}
}

// LoadConfig loads configuration from a JSON file, falling back to defaults
// for an empty path or a missing file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from caller
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = runtime.NumCPU()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = defaultFlushDebounce
	}
	if cfg.MaxLocalArtworks <= 0 {
		cfg.MaxLocalArtworks = defaultMaxLocalArtworks
	}
	if cfg.FreeSpaceReserveBytes <= 0 {
		cfg.FreeSpaceReserveBytes = defaultFreeSpaceReserveBytes
	}
	return cfg, nil
}
