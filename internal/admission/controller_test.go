package admission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/partyplay/partyplay/internal/location"
	"github.com/partyplay/partyplay/internal/party"
)

// Host fixed in central Amsterdam; guest coordinates are offsets north.
var hostPos = location.Coordinate{Lat: 52.3702, Lng: 4.8952}

// offsetNorth returns a coordinate approximately d meters north of pos.
func offsetNorth(pos location.Coordinate, d float64) location.Coordinate {
	return location.Coordinate{Lat: pos.Lat + d/111320.0, Lng: pos.Lng}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FixWaitTimeout = 50 * time.Millisecond
	cfg.FixPollInterval = 5 * time.Millisecond
	cfg.DeliverBackoff = 0
	return cfg
}

func newTestController(state *party.PartyState, hostLoc location.Provider) *Controller {
	c := New("sess1", "AB12CD", state, hostLoc, testConfig())
	c.sleep = func(time.Duration) {}
	return c
}

// decide runs the full two-phase admission: the host fix wait followed
// by the synchronous checks.
func decide(c *Controller, req party.JoinRequest) party.JoinDecision {
	fix, ok := c.WaitForHostFix(context.Background())
	return c.Decide(req, fix, ok)
}

func request(memberID string, guestPos *location.Coordinate) party.JoinRequest {
	return party.JoinRequest{
		SessionID:   "sess1",
		JoinCode:    "AB12CD",
		MemberID:    memberID,
		DisplayName: "Guest " + memberID,
		Location:    guestPos,
	}
}

func TestDistanceMeters(t *testing.T) {
	near := offsetNorth(hostPos, 10)
	if d := location.DistanceMeters(hostPos, near); d < 8 || d > 12 {
		t.Fatalf("10m offset measured as %.1fm", d)
	}
	far := offsetNorth(hostPos, 200)
	if d := location.DistanceMeters(hostPos, far); d < 190 || d > 210 {
		t.Fatalf("200m offset measured as %.1fm", d)
	}
}

func TestAcceptAndReconnectKeepsHeadcount(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})

	guest := offsetNorth(hostPos, 10)
	d := decide(c, request("m1", &guest))
	if !d.Accepted {
		t.Fatalf("rejected: %s", d.Reason)
	}
	if len(state.Members) != 1 || !state.Members[0].Admitted {
		t.Fatalf("members = %+v, want one admitted", state.Members)
	}

	// Same member ID again: reconnection, not a new join.
	d = decide(c, request("m1", &guest))
	if !d.Accepted {
		t.Fatalf("reconnect rejected: %s", d.Reason)
	}
	if len(state.Members) != 1 {
		t.Fatalf("member count = %d, want 1 after reconnect", len(state.Members))
	}
}

func TestRejectTooFarReportsDistance(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})

	guest := offsetNorth(hostPos, 200)
	d := decide(c, request("m1", &guest))
	if d.Accepted {
		t.Fatal("200m away should be rejected")
	}
	if !strings.Contains(d.Reason, "200") {
		t.Fatalf("reason = %q, want computed distance in it", d.Reason)
	}
	if len(state.Members) != 0 {
		t.Fatal("rejected guest must not be added")
	}
}

func TestRejectWrongSessionAndCode(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})
	guest := offsetNorth(hostPos, 10)

	req := request("m1", &guest)
	req.SessionID = "other"
	if d := decide(c, req); d.Accepted || d.Reason != "wrong session" {
		t.Fatalf("decision = %+v", d)
	}

	req = request("m1", &guest)
	req.JoinCode = "XXXXXX"
	if d := decide(c, req); d.Accepted || d.Reason != "wrong join code" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestRejectMissingLocation(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}

	// Guest has no fix.
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})
	if d := decide(c, request("m1", nil)); d.Accepted || d.Reason != "location missing" {
		t.Fatalf("decision = %+v", d)
	}

	// Host never gets a fix: bounded wait, then rejection.
	c = newTestController(state, &location.Static{Auth: location.AuthAuthorized})
	guest := offsetNorth(hostPos, 10)
	if d := decide(c, request("m1", &guest)); d.Accepted || d.Reason != "location missing" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestHostFixWaitFailsFastWhenDenied(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Auth: location.AuthDenied})
	guest := offsetNorth(hostPos, 10)

	start := time.Now()
	d := decide(c, request("m1", &guest))
	if d.Accepted {
		t.Fatal("should reject when positioning is denied")
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("denied authorization should fail fast, took %v", elapsed)
	}
}

// fakeLink records sends and flips to connected after a few polls,
// simulating the transport's connection completion race.
type fakeLink struct {
	connectAfter int
	polls        int
	failSends    int
	sent         []*party.Message
}

func (f *fakeLink) IsConnected(string) bool {
	f.polls++
	return f.polls > f.connectAfter
}

func (f *fakeLink) Send(_ context.Context, _ string, msg *party.Message) error {
	if f.failSends > 0 {
		f.failSends--
		return errors.New("stream reset")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestDeliverDecisionWaitsForConnection(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})

	link := &fakeLink{connectAfter: 3, failSends: 1}
	d := party.JoinDecision{Accepted: true, MemberID: "m1"}
	if err := c.DeliverDecision(context.Background(), link, "peer1", d); err != nil {
		t.Fatal(err)
	}
	if len(link.sent) != 1 || link.sent[0].Type != party.TypeJoinDecision {
		t.Fatalf("sent = %+v", link.sent)
	}
}

func TestDeliverDecisionBoundedAttempts(t *testing.T) {
	state := &party.PartyState{SessionID: "sess1"}
	c := newTestController(state, &location.Static{Pos: hostPos, HasFix: true, Auth: location.AuthAuthorized})

	link := &fakeLink{connectAfter: 1000}
	err := c.DeliverDecision(context.Background(), link, "peer1", party.JoinDecision{Accepted: true})
	if err == nil {
		t.Fatal("expected terminal failure after bounded attempts")
	}
	if link.polls != testConfig().DeliverAttempts {
		t.Fatalf("polls = %d, want %d", link.polls, testConfig().DeliverAttempts)
	}
}
