package session

import (
	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/snapshot"
	"github.com/partyplay/partyplay/internal/storage"
)

// The host admin surface. Every method runs on the owner goroutine via
// do(), so callers from the viewer or CLI never race the message path.

// Snapshot returns the host's own non-personalized view.
func (h *HostController) Snapshot() *party.Snapshot {
	var snap party.Snapshot
	h.do(func() {
		h.syncState()
		snap = snapshot.Personalize(h.state, h.limits, "")
	})
	return &snap
}

// UpdateSettings swaps the live session settings. Future checks use the
// new values immediately; recorded cooldown stamps are untouched.
func (h *HostController) UpdateSettings(s party.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.do(func() {
		h.votes.UpdateSettings(s)
		h.broadcast()
	})
	return nil
}

// PendingOutcomes lists vote outcomes awaiting approval.
func (h *HostController) PendingOutcomes() []party.PendingVoteOutcome {
	var out []party.PendingVoteOutcome
	h.do(func() {
		for _, p := range h.votes.PendingOutcomes() {
			out = append(out, *p)
		}
	})
	return out
}

// ApproveOutcome applies a parked vote outcome.
func (h *HostController) ApproveOutcome(pendingID string) bool {
	var ok bool
	h.do(func() {
		ok = h.votes.ApproveOutcome(pendingID)
		if ok {
			h.broadcast()
		}
	})
	return ok
}

// RejectOutcome discards a parked vote outcome; the item keeps its votes.
func (h *HostController) RejectOutcome(pendingID string) bool {
	var ok bool
	h.do(func() {
		ok = h.votes.RejectOutcome(pendingID)
	})
	return ok
}

// RecentlyRemoved lists tracks evicted by down-votes that can still be
// restored.
func (h *HostController) RecentlyRemoved() []party.QueueItem {
	var out []party.QueueItem
	h.do(func() {
		for _, it := range h.votes.RecentlyRemoved() {
			out = append(out, *it)
		}
	})
	return out
}

// RestoreRemoved re-appends an evicted track to the queue end.
func (h *HostController) RestoreRemoved(itemID string) bool {
	var ok bool
	h.do(func() {
		ok = h.votes.RestoreRemoved(itemID)
		if ok {
			h.broadcast()
		}
	})
	return ok
}

// RemoveItem is the host's manual eviction, no vote needed.
func (h *HostController) RemoveItem(itemID string) bool {
	var ok bool
	h.do(func() {
		removed, removedOK := h.queue.Remove(itemID)
		if !removedOK {
			return
		}
		h.limits.DropItem(itemID)
		h.journal(storage.JournalEntry{Kind: "removed", ItemID: removed.ID, Title: removed.Title, Artist: removed.Artist, Detail: "host"})
		h.loadIfCurrentChanged()
		h.broadcast()
		ok = true
	})
	return ok
}

// ReorderUpcoming moves upcoming items. Offsets are relative to the slot
// after the current track.
func (h *HostController) ReorderUpcoming(sourceOffsets []int, destOffset int) error {
	var err error
	h.do(func() {
		err = h.queue.ReorderUpcoming(sourceOffsets, destOffset)
		if err == nil {
			h.broadcast()
		}
	})
	return err
}

// SkipCurrent jumps to the next track without removing the current one
// from the queue history.
func (h *HostController) SkipCurrent() {
	h.do(func() {
		if cur, ok := h.queue.Current(); ok {
			h.journal(storage.JournalEntry{Kind: "skipped", ItemID: cur.ID, Title: cur.Title, Artist: cur.Artist, Member: "host"})
		}
		h.queue.Advance()
		h.loadCurrent()
		h.broadcast()
	})
}

// Pause and Resume forward to the player.
func (h *HostController) Pause() {
	if h.cfg.Player != nil {
		h.cfg.Player.Pause()
	}
}

func (h *HostController) Resume() {
	if h.cfg.Player != nil {
		h.cfg.Player.Play()
	}
}

// loadIfCurrentChanged reloads the player when a removal displaced the
// playing item.
func (h *HostController) loadIfCurrentChanged() {
	if h.cfg.Player == nil {
		return
	}
	st := h.cfg.Player.State()
	cur, ok := h.queue.Current()
	if !ok {
		if st.TrackID != "" {
			h.cfg.Player.Load("", 0)
		}
		return
	}
	if st.TrackID != cur.TrackID {
		h.cfg.Player.Load(cur.TrackID, cur.DurationSec)
	}
}
