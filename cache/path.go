package cache

import (
	"path/filepath"
	"strings"
)

// safeChannelID replaces any character not in [A-Za-z0-9_-] by dropping it,
// per spec §4.1's file-naming rule.
func safeChannelID(channelID string) string {
	var b strings.Builder
	b.Grow(len(channelID))
	for _, r := range channelID {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func finalPath(channelsDir, channelID string) string {
	return filepath.Join(channelsDir, safeChannelID(channelID)+".cache")
}

func tmpPath(channelsDir, channelID string) string {
	return finalPath(channelsDir, channelID) + ".tmp"
}

func legacyPath(channelsDir, channelID string) string {
	return filepath.Join(channelsDir, safeChannelID(channelID)+".bin")
}
