package session

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/storage"
)

// handleSkipRequest parks a guest's skip request for the host, one per
// (item, member).
func (h *HostController) handleSkipRequest(req party.SkipRequest) {
	m := h.state.FindMember(req.MemberID)
	if m == nil || !m.Admitted {
		return
	}
	if h.state.FindItem(req.ItemID) == nil {
		return
	}
	for _, p := range h.pendingSkips {
		if p.ItemID == req.ItemID && p.MemberID == req.MemberID {
			return
		}
	}
	p := &party.PendingSkipRequest{
		ID:          uuid.NewString(),
		ItemID:      req.ItemID,
		MemberID:    req.MemberID,
		RequestedAt: time.Now().UnixMilli(),
	}
	h.pendingSkips = append(h.pendingSkips, p)
	log.Printf("GROUP: skip request for %s by %s", req.ItemID, req.MemberID)
	h.monitor("skipRequested", p)
}

// PendingSkips lists the skip requests awaiting the host.
func (h *HostController) PendingSkips() []party.PendingSkipRequest {
	var out []party.PendingSkipRequest
	h.do(func() {
		out = make([]party.PendingSkipRequest, len(h.pendingSkips))
		for i, p := range h.pendingSkips {
			out[i] = *p
		}
	})
	return out
}

// ApproveSkip removes the requested item; if it is currently playing the
// player moves on to the next track first.
func (h *HostController) ApproveSkip(pendingID string) bool {
	var ok bool
	h.do(func() {
		p := h.takeSkip(pendingID)
		if p == nil {
			return
		}
		isCurrent := false
		if cur, curOK := h.queue.Current(); curOK && cur.ID == p.ItemID {
			isCurrent = true
		}
		removed, removedOK := h.queue.Remove(p.ItemID)
		if !removedOK {
			return
		}
		h.limits.DropItem(p.ItemID)
		h.journal(storage.JournalEntry{Kind: "skipped", ItemID: removed.ID, Title: removed.Title, Artist: removed.Artist, Member: p.MemberID})
		if isCurrent {
			h.loadCurrent()
		}
		h.broadcast()
		ok = true
	})
	return ok
}

// RejectSkip discards the request without touching the queue.
func (h *HostController) RejectSkip(pendingID string) bool {
	var ok bool
	h.do(func() {
		ok = h.takeSkip(pendingID) != nil
	})
	return ok
}

func (h *HostController) takeSkip(id string) *party.PendingSkipRequest {
	for i, p := range h.pendingSkips {
		if p.ID == id {
			h.pendingSkips = append(h.pendingSkips[:i], h.pendingSkips[i+1:]...)
			return p
		}
	}
	return nil
}
