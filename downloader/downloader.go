// Package downloader implements the Download Scheduler (spec §4.5): picking
// which missing artwork to fetch next, de-duplicating concurrent fetches for
// the same storage key, and placing completed downloads into the vault.
package downloader

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/ltf"
	"github.com/driftframe/channelengine/progress"
	"github.com/driftframe/channelengine/types"
	"github.com/driftframe/channelengine/utils"
	"github.com/driftframe/channelengine/vault"
)

// Event is reported to a Scheduler's progress.Tracker after each fetch
// attempt completes, successful or not.
type Event struct {
	PostID int32
	Bytes  int
	Err    error
}

// Priority tiers for play-order-prefetch selection (spec §4.5): an artwork
// within High of the navigator's current position is fetched ahead of one
// within Medium, ahead of everything else (Low).
const (
	priorityHighDistance   = 3
	priorityMediumDistance = 10
)

const maxRedirects = 5

// PositionSource reports how far (in play-order steps) a post is from the
// navigator's current position, for play-order-prefetch selection. When nil,
// the scheduler falls back to newest-first selection (spec §4.5).
type PositionSource interface {
	DistanceFromCurrent(postID int32) (int, bool)
}

// Scheduler drives one channel's download loop.
type Scheduler struct {
	channelID string
	vaultDir  string

	cache    *cache.Cache
	urls     *catalog.URLCache
	bus      *eventbus.Bus
	client   *http.Client
	position PositionSource
	tracker  progress.Tracker

	sf singleflight.Group
}

// New creates a Scheduler. position may be nil (newest-first selection).
func New(channelID, vaultDir string, c *cache.Cache, urls *catalog.URLCache, bus *eventbus.Bus, position PositionSource) *Scheduler {
	return &Scheduler{
		channelID: channelID,
		vaultDir:  vaultDir,
		cache:     c,
		urls:      urls,
		bus:       bus,
		client:    &http.Client{Timeout: 30 * time.Second},
		position:  position,
		tracker:   progress.Nop,
	}
}

// SetTracker installs t to receive an Event after every fetch attempt. A nil
// t restores the no-op tracker.
func (s *Scheduler) SetTracker(t progress.Tracker) {
	if t == nil {
		t = progress.Nop
	}
	s.tracker = t
}

// Run blocks, fetching missing artworks as DownloadsNeeded is signaled,
// until RefreshShutdown is observed.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := clog.WithFunc("downloader.Scheduler.Run")
	for {
		observed, err := s.bus.WaitAny(ctx, eventbus.DownloadsNeeded|eventbus.RefreshShutdown)
		if err != nil {
			return nil //nolint:nilerr
		}
		if observed&eventbus.RefreshShutdown != 0 {
			return nil
		}

		for {
			if s.bus.Peek()&eventbus.RefreshShutdown != 0 {
				return nil
			}
			gate, err := s.bus.WaitAny(ctx, eventbus.SDAvailable|eventbus.WifiConnected|eventbus.RefreshShutdown)
			if err != nil {
				return nil //nolint:nilerr
			}
			if gate&eventbus.RefreshShutdown != 0 {
				return nil
			}
			if gate&eventbus.SDAvailable == 0 || gate&eventbus.WifiConnected == 0 {
				continue
			}

			e, ok := s.selectNext()
			if !ok {
				s.bus.Clear(eventbus.DownloadsNeeded)
				s.bus.Set(eventbus.QueueHasSpace)
				break
			}
			if err := s.fetch(ctx, e); err != nil {
				logger.Warnf(ctx, "%s: fetch post %d: %v", s.channelID, e.PostID, err)
			}
			s.bus.Set(eventbus.QueueHasSpace)
		}
	}
}

// selectNext scans Ci for the highest-priority missing artwork that is
// currently eligible for download per its load tracker file.
func (s *Scheduler) selectNext() (types.Entry, bool) {
	best, found, _ := s.scanEligible()
	return best, found
}

// PendingCount returns how many Ci entries are currently missing and
// download-eligible, for the refresh pipeline's queue-full backpressure
// check (spec §4.4 Backpressure).
func (s *Scheduler) PendingCount() int {
	_, _, total := s.scanEligible()
	return total
}

// scanEligible walks Ci via NextMissing, returning the highest-priority
// download-eligible entry, if any, alongside the total eligible count.
func (s *Scheduler) scanEligible() (best types.Entry, found bool, total int) {
	bestPriority := -1

	cursor := 0
	for {
		e, next, err := s.cache.NextMissing(cursor)
		if err != nil {
			break
		}
		cursor = next

		key, kerr := e.StorageKey()
		if kerr != nil {
			continue
		}
		if !ltf.New(s.vaultDir, key).CanDownloadNow(context.Background()) {
			continue
		}

		total++
		pr := s.priorityOf(e)
		if pr > bestPriority {
			best, bestPriority, found = e, pr, true
		}
	}
	return best, found, total
}

// priorityOf scores e: higher wins. With no PositionSource, ties are broken
// by created_at (newest first). With one, play-order distance tiers
// dominate, and created_at is the tiebreaker within a tier.
func (s *Scheduler) priorityOf(e types.Entry) int {
	const tierShift = 40
	tier := 0
	if s.position != nil {
		if dist, ok := s.position.DistanceFromCurrent(e.PostID); ok {
			switch {
			case dist < priorityHighDistance:
				tier = 3
			case dist < priorityMediumDistance:
				tier = 2
			default:
				tier = 1
			}
		}
	}
	return tier<<tierShift | int(e.CreatedAt&((1<<tierShift)-1))
}

// fetch downloads e's artwork, de-duplicating concurrent requests for the
// same storage key via singleflight, and places it atomically in the vault.
func (s *Scheduler) fetch(ctx context.Context, e types.Entry) error {
	key, err := e.StorageKey()
	if err != nil {
		return ckerr.Wrap(ckerr.Corruption, err, "storage key")
	}
	tracker := ltf.New(s.vaultDir, key)

	result, err, _ := s.sf.Do(key.String(), func() (any, error) {
		url, ok := s.urls.Get(e.PostID)
		if !ok {
			return nil, ckerr.New(ckerr.Transient, "no known art_url for post")
		}

		raw, class, ferr := s.download(ctx, url)
		if ferr != nil {
			if rerr := tracker.RecordDownloadFailure(ctx, class, ferr.Error()); rerr != nil {
				clog.WithFunc("downloader.Scheduler.fetch").Warnf(ctx, "%s: record failure: %v", s.channelID, rerr)
			}
			if class == ltf.ErrorClassPermanent {
				s.writeMarker(ctx, key, e.Extension)
			}
			return nil, ferr
		}

		if perr := s.place(key, e.Extension, raw); perr != nil {
			return nil, ckerr.Wrap(ckerr.IoError, perr, "place artwork")
		}

		if cerr := tracker.ClearDownloadFailures(ctx); cerr != nil {
			clog.WithFunc("downloader.Scheduler.fetch").Warnf(ctx, "%s: clear failures: %v", s.channelID, cerr)
		}
		s.cache.LaiAdd(e.PostID)
		s.cache.ScheduleSave()
		s.bus.Set(eventbus.FileAvailable)
		return len(raw), nil
	})
	if bytes, ok := result.(int); ok {
		s.tracker.OnEvent(Event{PostID: e.PostID, Bytes: bytes, Err: err})
	} else {
		s.tracker.OnEvent(Event{PostID: e.PostID, Err: err})
	}
	return err
}

func (s *Scheduler) download(ctx context.Context, url string) ([]byte, ltf.ErrorClass, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ltf.ErrorClassPermanent, err
	}

	client := *s.client
	redirects := 0
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		redirects++
		if redirects > maxRedirects {
			return ckerr.New(ckerr.Permanent, "too many redirects")
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ltf.ErrorClassTransient, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ltf.ErrorClassPermanent, ckerr.Newf(ckerr.Permanent, "download: %s", resp.Status)
	}
	if resp.StatusCode >= 500 {
		return nil, ltf.ErrorClassTransient, ckerr.Newf(ckerr.Transient, "download: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, ltf.ErrorClassPermanent, ckerr.Newf(ckerr.Permanent, "download: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ltf.ErrorClassTransient, err
	}
	return raw, ltf.ErrorClassNone, nil
}

func (s *Scheduler) place(key types.StorageKey, ext types.Extension, data []byte) error {
	if err := utils.EnsureDirs(vault.ShardDir(s.vaultDir, key)); err != nil {
		return err
	}
	path := vault.Resolve(s.vaultDir, key, ext)
	return utils.AtomicWriteFile(path, data, 0o640)
}

func (s *Scheduler) writeMarker(ctx context.Context, key types.StorageKey, ext types.Extension) {
	path := vault.Resolve(s.vaultDir, key, ext)
	marker := vault.MarkerPath(path)
	if err := utils.EnsureDirs(vault.ShardDir(s.vaultDir, key)); err != nil {
		clog.WithFunc("downloader.Scheduler.writeMarker").Warnf(ctx, "%s: %v", s.channelID, err)
		return
	}
	if err := os.WriteFile(marker, nil, 0o640); err != nil { //nolint:gosec // vault-internal path
		clog.WithFunc("downloader.Scheduler.writeMarker").Warnf(ctx, "%s: %v", s.channelID, err)
	}
}
