// Package snapshot builds the personalized per-peer state views and fans
// them out after every state-affecting event.
package snapshot

import (
	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/ratelimit"
)

// PeerDirectory resolves the transport's view of who is connected and
// which member each peer authenticated as.
type PeerDirectory interface {
	ConnectedPeers() []string
	MemberForPeer(peerID string) (string, bool)
}

// Sender queues one message for one peer. Deliveries to the same peer
// must preserve enqueue order.
type Sender interface {
	Enqueue(peerID string, msg *party.Message)
}

// Personalize is the pure projection (state, limiters, member) → snapshot.
// The limiters stay private; only remaining seconds and slot counts cross
// the boundary. The state is deep-copied so the snapshot is immune to the
// owner's subsequent mutations.
func Personalize(state *party.PartyState, limits *ratelimit.Limiter, memberID string) party.Snapshot {
	snap := party.Snapshot{State: state.Clone()}
	if memberID == "" {
		return snap
	}
	itemIDs := make([]string, len(snap.State.Queue))
	for i, it := range snap.State.Queue {
		itemIDs[i] = it.ID
	}
	if cd := limits.CooldownSeconds(memberID, itemIDs); len(cd) > 0 {
		snap.Cooldowns = cd
	}
	slots := limits.RemainingSlots(memberID)
	snap.RemainingSlots = &slots
	return snap
}

// Broadcaster pushes personalized snapshots to every connected peer.
type Broadcaster struct {
	dir    PeerDirectory
	sender Sender

	// Local receives a non-personalized snapshot on every broadcast, for
	// the host's own view. Optional.
	Local func(party.Snapshot)
}

// New creates a broadcaster over the given transport views.
func New(dir PeerDirectory, sender Sender) *Broadcaster {
	return &Broadcaster{dir: dir, sender: sender}
}

// Broadcast builds one personalized snapshot per connected peer and
// queues each for delivery: the enqueue never blocks the mutation that
// triggered it, and the per-peer queue keeps successive snapshots in
// order so a guest can never end up holding an older state than the one
// last sent.
func (b *Broadcaster) Broadcast(state *party.PartyState, limits *ratelimit.Limiter) {
	peers := b.dir.ConnectedPeers()

	if b.Local != nil {
		b.Local(Personalize(state, limits, ""))
	}
	if len(peers) == 0 {
		return
	}

	for _, peerID := range peers {
		memberID, ok := b.dir.MemberForPeer(peerID)
		if !ok {
			// Connected but not yet admitted: no state for them.
			continue
		}
		snap := Personalize(state, limits, memberID)
		b.sender.Enqueue(peerID, &party.Message{Type: party.TypeSnapshot, Snapshot: &snap})
	}
}
