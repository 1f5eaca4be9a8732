// Package voting implements the vote acceptance gate, threshold math and
// outcome dispatch for the party queue.
package voting

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/queue"
	"github.com/partyplay/partyplay/internal/ratelimit"
)

// recentlyRemovedCap bounds the restore list so a long session cannot
// hoard every evicted track.
const recentlyRemovedCap = 20

// Engine consumes votes against the current queue, mutates per-item vote
// sets and applies or enqueues threshold outcomes.
//
// The engine is not internally synchronized: it belongs to the host's
// single session owner and must only be called from that goroutine.
type Engine struct {
	queue    *queue.Engine
	limits   *ratelimit.Limiter
	settings party.Settings
	guests   func() int // admitted guest headcount, host excluded

	pending []*party.PendingVoteOutcome
	removed []*party.QueueItem // most recent last, bounded
}

// Result reports what a vote attempt did.
type Result struct {
	Accepted bool
	Reason   string
	// RemainingCooldown is set on cooldown rejections for UI feedback.
	RemainingCooldown time.Duration
	// Outcome is non-nil when this vote crossed a threshold.
	Outcome *Outcome
}

// Outcome describes a threshold crossing, either applied immediately or
// parked for host approval.
type Outcome struct {
	Kind      party.OutcomeKind
	ItemID    string
	Pending   bool   // true under host-approval mode
	PendingID string // set when Pending
}

// New wires the engine to the queue, the limiters and a guest-count
// source.
func New(q *queue.Engine, limits *ratelimit.Limiter, settings party.Settings, guests func() int) *Engine {
	return &Engine{queue: q, limits: limits, settings: settings, guests: guests}
}

// UpdateSettings swaps the active settings and pushes the limits through
// to the rate limiter.
func (e *Engine) UpdateSettings(s party.Settings) {
	e.settings = s
	e.limits.SetMaxSlots(s.MaxConcurrentActions)
	e.limits.SetCooldown(s.Cooldown())
}

// Settings returns the active settings.
func (e *Engine) Settings() party.Settings { return e.settings }

// Threshold computes the votes needed for an outcome:
// max(1, ceil(guestCount × percent / 100)).
func Threshold(guestCount, percent int) int {
	t := (guestCount*percent + 99) / 100
	if t < 1 {
		return 1
	}
	return t
}

// CastVote runs the acceptance gate in order, mutates the vote sets on
// success and evaluates the item for a threshold outcome. Any failure
// after the slot was acquired restores it.
func (e *Engine) CastVote(v party.Vote) Result {
	item := findItem(e.queue, v.ItemID)
	if item == nil {
		return Result{Reason: "item not in queue"}
	}
	if cur, ok := e.queue.Current(); ok && cur.ID == v.ItemID {
		// Votes on the playing item are always ignored.
		return Result{Reason: "item is playing"}
	}
	if next, ok := e.queue.NextUp(); ok && next.ID == v.ItemID && v.Direction == party.VoteUp {
		// Next-up may be bumped down but not promoted further.
		return Result{Reason: "item is already next up"}
	}
	if !e.limits.AcquireSlot(v.MemberID) {
		return Result{Reason: "no action slots available"}
	}
	if ok, remaining := e.limits.SpendCooldown(v.MemberID, v.ItemID); !ok {
		e.limits.RestoreSlot(v.MemberID)
		return Result{
			Reason:            fmt.Sprintf("cooldown active, %ds remaining", int(remaining.Seconds())+1),
			RemainingCooldown: remaining,
		}
	}

	item.SetVote(v.MemberID, v.Direction)
	e.limits.ScheduleRestore(v.MemberID)

	return Result{Accepted: true, Outcome: e.evaluate(item)}
}

// evaluate checks the item against the current threshold. Down-votes are
// checked before up-votes, so a simultaneous breach of both prefers the
// down outcome. Played items only honor down-votes, as a send-to-end.
func (e *Engine) evaluate(item *party.QueueItem) *Outcome {
	if cur, ok := e.queue.Current(); ok && cur.ID == item.ID {
		return nil
	}
	threshold := Threshold(e.guests(), e.settings.ThresholdPercent)

	if e.queue.IsPlayed(item.ID) {
		if e.settings.EnableSendToEnd && len(item.DownVotes) >= threshold {
			return e.dispatch(item, party.OutcomeSendToEnd, threshold)
		}
		return nil
	}

	if e.settings.EnableRemove && len(item.DownVotes) >= threshold {
		return e.dispatch(item, party.OutcomeRemove, threshold)
	}
	if e.settings.EnablePromote && len(item.UpVotes) >= threshold {
		if next, ok := e.queue.NextUp(); ok && next.ID == item.ID {
			return nil
		}
		return e.dispatch(item, party.OutcomePromoteBehindCurrent, threshold)
	}
	return nil
}

// dispatch applies the outcome immediately in automatic mode or parks it
// for host approval, deduplicated by (item, kind).
func (e *Engine) dispatch(item *party.QueueItem, kind party.OutcomeKind, threshold int) *Outcome {
	if e.settings.Mode == party.ModeHostApproval {
		for _, p := range e.pending {
			if p.ItemID == item.ID && p.Kind == kind {
				return &Outcome{Kind: kind, ItemID: item.ID, Pending: true, PendingID: p.ID}
			}
		}
		p := &party.PendingVoteOutcome{
			ID:        uuid.NewString(),
			ItemID:    item.ID,
			Kind:      kind,
			Threshold: threshold,
			CreatedAt: time.Now().UnixMilli(),
		}
		e.pending = append(e.pending, p)
		log.Printf("VOTE: pending %s for item %s (threshold %d)", kind, item.ID, threshold)
		return &Outcome{Kind: kind, ItemID: item.ID, Pending: true, PendingID: p.ID}
	}

	e.apply(item.ID, kind)
	return &Outcome{Kind: kind, ItemID: item.ID}
}

// apply performs the queue mutation for an outcome and clears the item's
// vote footprint.
func (e *Engine) apply(itemID string, kind party.OutcomeKind) {
	item := findItem(e.queue, itemID)
	if item == nil {
		return
	}
	switch kind {
	case party.OutcomeRemove:
		if removed, ok := e.queue.Remove(itemID); ok {
			removed.ClearVotes()
			e.rememberRemoved(removed)
			e.limits.DropItem(itemID)
			log.Printf("VOTE: removed %s (%s)", removed.Title, itemID)
		}
	case party.OutcomeSendToEnd:
		if e.queue.MoveToEnd(itemID) {
			item.ClearVotes()
			log.Printf("VOTE: sent %s to end", itemID)
		}
	case party.OutcomePromoteBehindCurrent:
		if e.queue.MoveBehindCurrent(itemID) {
			item.ClearVotes()
			log.Printf("VOTE: promoted %s behind current", itemID)
		}
	}
}

// PendingOutcomes returns the outcomes awaiting host approval.
func (e *Engine) PendingOutcomes() []*party.PendingVoteOutcome {
	out := make([]*party.PendingVoteOutcome, len(e.pending))
	copy(out, e.pending)
	return out
}

// ApproveOutcome applies a parked outcome and destroys its record.
func (e *Engine) ApproveOutcome(pendingID string) bool {
	p := e.takePending(pendingID)
	if p == nil {
		return false
	}
	e.apply(p.ItemID, p.Kind)
	return true
}

// RejectOutcome discards a parked outcome, leaving the item untouched
// with its vote counts intact.
func (e *Engine) RejectOutcome(pendingID string) bool {
	return e.takePending(pendingID) != nil
}

func (e *Engine) takePending(id string) *party.PendingVoteOutcome {
	for i, p := range e.pending {
		if p.ID == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return p
		}
	}
	return nil
}

// RecentlyRemoved returns the bounded restore list, oldest first.
func (e *Engine) RecentlyRemoved() []*party.QueueItem {
	out := make([]*party.QueueItem, len(e.removed))
	copy(out, e.removed)
	return out
}

// RestoreRemoved re-appends a recently removed item to the queue end.
func (e *Engine) RestoreRemoved(itemID string) bool {
	for i, it := range e.removed {
		if it.ID == itemID {
			e.removed = append(e.removed[:i], e.removed[i+1:]...)
			e.queue.Append(it)
			return true
		}
	}
	return false
}

func (e *Engine) rememberRemoved(item *party.QueueItem) {
	e.removed = append(e.removed, item)
	if len(e.removed) > recentlyRemovedCap {
		e.removed = e.removed[1:]
	}
}

func findItem(q *queue.Engine, id string) *party.QueueItem {
	for _, it := range q.Items() {
		if it.ID == id {
			return it
		}
	}
	return nil
}
