package navigator

import (
	"context"

	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/types"
)

// liveEntry is one flattened, time-addressable slot in the Live Mode
// schedule.
type liveEntry struct {
	item       Item
	startMS    int64 // cumulative offset from the start of one full cycle
	durationMS int64
}

// rebuildLiveSchedule flattens the play order into a sequence of dated
// entries: one per Artwork post, or one per loaded (and PE-capped) artwork
// of a Playlist post, each carrying its resolved dwell time. Must be called
// with n.mu held.
func (n *Navigator) rebuildLiveSchedule(ctx context.Context) {
	var sched []liveEntry
	var cursor int64
	for p := range n.order {
		ciIdx := n.order[p]
		e, ok := n.c.GetEntry(ciIdx)
		if !ok {
			continue
		}
		if e.Kind != types.KindPlaylist {
			it, err := n.itemAt(ctx, p, 0)
			if err != nil {
				continue
			}
			sched = append(sched, liveEntry{item: it, startMS: cursor, durationMS: int64(it.DwellMS)})
			cursor += int64(it.DwellMS)
			continue
		}
		size := n.playlistSizeHint(e.PostID)
		for q := 0; q < size; q++ {
			it, err := n.itemAt(ctx, p, q)
			if err != nil {
				continue
			}
			sched = append(sched, liveEntry{item: it, startMS: cursor, durationMS: int64(it.DwellMS)})
			cursor += int64(it.DwellMS)
		}
	}
	n.liveSchedule = sched
	n.liveDirty = false
}

// CurrentLive returns the Live Mode item that should be displayed at
// nowUnixMS, by computing phase = (now - epoch) mod cycle_length over the
// flattened schedule and locating the containing entry. The schedule is
// rebuilt first if dirty (data changed, or a config knob was touched).
func (n *Navigator) CurrentLive(ctx context.Context, nowUnixMS int64) (Item, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.liveDirty {
		n.rebuildLiveSchedule(ctx)
	}
	return n.lookupLive(nowUnixMS)
}

func (n *Navigator) lookupLive(nowUnixMS int64) (Item, error) {
	if len(n.liveSchedule) == 0 {
		return Item{}, ckerr.New(ckerr.NotFound, "live schedule is empty")
	}
	var cycle int64
	for _, e := range n.liveSchedule {
		cycle += e.durationMS
	}
	if cycle <= 0 {
		return n.liveSchedule[0].item, nil
	}
	elapsed := nowUnixMS - n.channelEpoch*1000
	phase := elapsed % cycle
	if phase < 0 {
		phase += cycle
	}
	for _, e := range n.liveSchedule {
		if phase >= e.startMS && phase < e.startMS+e.durationMS {
			return e.item, nil
		}
	}
	return n.liveSchedule[len(n.liveSchedule)-1].item, nil
}
