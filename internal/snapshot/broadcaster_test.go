package snapshot

import (
	"testing"
	"time"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/ratelimit"
)

func testState() *party.PartyState {
	return &party.PartyState{
		SessionID: "sess1",
		Queue: []*party.QueueItem{
			{ID: "a", Title: "A"},
			{ID: "b", Title: "B"},
		},
		NowPlayingID: "a",
		Members: []*party.Member{
			{ID: "m1", Admitted: true},
			{ID: "m2", Admitted: true},
		},
	}
}

func TestPersonalizeProjectsPrivateLimiterState(t *testing.T) {
	state := testState()
	limits := ratelimit.New(3, time.Minute)
	limits.AcquireSlot("m1")
	limits.SpendCooldown("m1", "b")

	snap := Personalize(state, limits, "m1")
	if snap.RemainingSlots == nil || *snap.RemainingSlots != 2 {
		t.Fatalf("remaining slots = %v, want 2", snap.RemainingSlots)
	}
	if snap.Cooldowns["b"] <= 0 || snap.Cooldowns["b"] > 60 {
		t.Fatalf("cooldown for b = %d, want in (0, 60]", snap.Cooldowns["b"])
	}
	if _, present := snap.Cooldowns["a"]; present {
		t.Fatal("zero cooldown entries must be omitted")
	}

	// Another member sees their own view, not m1's.
	other := Personalize(state, limits, "m2")
	if len(other.Cooldowns) != 0 {
		t.Fatalf("m2 cooldowns = %v, want none", other.Cooldowns)
	}
	if *other.RemainingSlots != 3 {
		t.Fatalf("m2 slots = %d, want 3", *other.RemainingSlots)
	}
}

func TestPersonalizeDeepCopies(t *testing.T) {
	state := testState()
	limits := ratelimit.New(3, time.Minute)

	snap := Personalize(state, limits, "m1")
	state.Queue[0].Title = "mutated"
	state.Members[0].DisplayName = "mutated"

	if snap.State.Queue[0].Title == "mutated" {
		t.Fatal("snapshot shares queue items with live state")
	}
	if snap.State.Members[0].DisplayName == "mutated" {
		t.Fatal("snapshot shares members with live state")
	}
}

// fakeFanout implements PeerDirectory and Sender.
type fakeFanout struct {
	peers   []string
	members map[string]string
	sent    map[string][]*party.Message
}

func (f *fakeFanout) ConnectedPeers() []string { return f.peers }

func (f *fakeFanout) MemberForPeer(peerID string) (string, bool) {
	m, ok := f.members[peerID]
	return m, ok
}

func (f *fakeFanout) Enqueue(peerID string, msg *party.Message) {
	f.sent[peerID] = append(f.sent[peerID], msg)
}

func TestBroadcastPersonalizesPerPeer(t *testing.T) {
	state := testState()
	limits := ratelimit.New(3, time.Minute)
	limits.SpendCooldown("m1", "b")

	f := &fakeFanout{
		peers:   []string{"p1", "p2", "p3"},
		members: map[string]string{"p1": "m1", "p2": "m2"}, // p3 not admitted
		sent:    map[string][]*party.Message{},
	}
	b := New(f, f)

	var local *party.Snapshot
	b.Local = func(s party.Snapshot) { local = &s }

	b.Broadcast(state, limits)

	if _, ok := f.sent["p3"]; ok {
		t.Fatal("unadmitted peer must not receive state")
	}
	m1 := f.sent["p1"][0].Snapshot
	if m1.Cooldowns["b"] == 0 {
		t.Fatal("p1 should see its own cooldown on b")
	}
	m2 := f.sent["p2"][0].Snapshot
	if len(m2.Cooldowns) != 0 {
		t.Fatal("p2 has no cooldowns")
	}
	if local == nil || local.RemainingSlots != nil {
		t.Fatalf("local snapshot should be non-personalized, got %+v", local)
	}
}

func TestBroadcastQueuesInCallOrder(t *testing.T) {
	state := testState()
	limits := ratelimit.New(3, time.Minute)
	f := &fakeFanout{
		peers:   []string{"p1"},
		members: map[string]string{"p1": "m1"},
		sent:    map[string][]*party.Message{},
	}
	b := New(f, f)

	b.Broadcast(state, limits)
	state.Queue = state.Queue[:1]
	b.Broadcast(state, limits)

	got := f.sent["p1"]
	if len(got) != 2 {
		t.Fatalf("sent %d snapshots, want 2", len(got))
	}
	// The later broadcast must sit behind the earlier one in the queue.
	if len(got[0].Snapshot.State.Queue) != 2 || len(got[1].Snapshot.State.Queue) != 1 {
		t.Fatal("snapshots queued out of order")
	}
}

func TestBroadcastNoPeersEmitsLocalOnly(t *testing.T) {
	state := testState()
	limits := ratelimit.New(3, time.Minute)
	f := &fakeFanout{sent: map[string][]*party.Message{}}
	b := New(f, f)

	calls := 0
	b.Local = func(party.Snapshot) { calls++ }
	b.Broadcast(state, limits)

	if calls != 1 {
		t.Fatalf("local calls = %d, want 1", calls)
	}
	if len(f.sent) != 0 {
		t.Fatal("nothing should be sent with no peers connected")
	}
}
