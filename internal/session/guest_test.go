package session

import (
	"context"
	"testing"
	"time"

	"github.com/partyplay/partyplay/internal/party"
)

type nullTransport struct{}

func (nullTransport) IsConnected(string) bool { return false }
func (nullTransport) Send(context.Context, string, *party.Message) error {
	return nil
}
func (nullTransport) Enqueue(string, *party.Message)      {}
func (nullTransport) BindMember(string, string)           {}
func (nullTransport) MemberForPeer(string) (string, bool) { return "", false }
func (nullTransport) ConnectedPeers() []string            { return nil }

func TestStaleDecisionIgnored(t *testing.T) {
	g := NewGuest(GuestConfig{MemberID: "m-1", Transport: nullTransport{}})

	// A decision with no outstanding attempt must be dropped quietly.
	g.Deliver("host-peer", &party.Message{
		Type:     party.TypeJoinDecision,
		Decision: &party.JoinDecision{Accepted: true, MemberID: "m-1"},
	})
	if g.Admitted() {
		t.Fatal("stale decision flipped admission state")
	}
}

func TestDecisionFromWrongPeerIgnored(t *testing.T) {
	g := NewGuest(GuestConfig{MemberID: "m-1", Transport: nullTransport{}, JoinTimeout: 2 * time.Second})

	payload := party.EncodeJoinPayload("sessB", "ABC123")
	errc := make(chan error, 1)
	go func() {
		errc <- g.Join(context.Background(), payload, func(string) (string, bool) { return "peer-B", true })
	}()
	waitFor(t, "attempt armed", func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.decision != nil
	})

	// An acceptance from a different host, say a slow response to an
	// earlier attempt, must not resolve this one.
	accept := &party.JoinDecision{Accepted: true, MemberID: "m-1"}
	g.Deliver("peer-A", &party.Message{Type: party.TypeJoinDecision, Decision: accept})
	if g.Admitted() {
		t.Fatal("decision from the wrong host flipped admission state")
	}
	select {
	case err := <-errc:
		t.Fatalf("join resolved by the wrong host's decision: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The real host's decision still lands.
	g.Deliver("peer-B", &party.Message{Type: party.TypeJoinDecision, Decision: accept})
	if err := <-errc; err != nil {
		t.Fatalf("join: %v", err)
	}
	if !g.Admitted() {
		t.Fatal("not admitted after the right host's decision")
	}
}

func TestSnapshotReplacesLocalState(t *testing.T) {
	var seen []string
	g := NewGuest(GuestConfig{
		MemberID:  "m-1",
		Transport: nullTransport{},
		OnSnapshot: func(s party.Snapshot) {
			seen = append(seen, s.State.SessionID)
		},
	})

	first := party.Snapshot{State: party.PartyState{SessionID: "S1", Queue: []*party.QueueItem{{ID: "a"}}}}
	second := party.Snapshot{State: party.PartyState{SessionID: "S1", Queue: []*party.QueueItem{{ID: "b"}}}}
	g.Deliver("host-peer", &party.Message{Type: party.TypeSnapshot, Snapshot: &first})
	g.Deliver("host-peer", &party.Message{Type: party.TypeSnapshot, Snapshot: &second})

	s := g.State()
	if s == nil || len(s.State.Queue) != 1 || s.State.Queue[0].ID != "b" {
		t.Fatalf("local state = %+v, want wholesale replacement by second snapshot", s)
	}
	if len(seen) != 2 {
		t.Fatalf("OnSnapshot fired %d times, want 2", len(seen))
	}
}

func TestGuestOperationsRequireAdmission(t *testing.T) {
	g := NewGuest(GuestConfig{MemberID: "m-1", Transport: nullTransport{}})

	if err := g.Vote(context.Background(), "item", party.VoteUp); err == nil {
		t.Fatal("vote before admission should fail")
	}
	if err := g.RequestSkip(context.Background(), "item"); err == nil {
		t.Fatal("skip before admission should fail")
	}
	if _, err := g.Search(context.Background(), "query"); err == nil {
		t.Fatal("search before admission should fail")
	}
	if err := g.AddSong(context.Background(), "trk-001"); err == nil {
		t.Fatal("add before admission should fail")
	}
}

func TestNowPlayingStored(t *testing.T) {
	g := NewGuest(GuestConfig{MemberID: "m-1", Transport: nullTransport{}})

	np := party.NowPlaying{ItemID: "q1", IsPlaying: true, PositionSeconds: 12}
	g.Deliver("host-peer", &party.Message{Type: party.TypeNowPlaying, NowPlaying: &np})

	got := g.NowPlaying()
	if got == nil || got.ItemID != "q1" || got.PositionSeconds != 12 {
		t.Fatalf("NowPlaying = %+v", got)
	}
}
