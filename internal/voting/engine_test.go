package voting

import (
	"testing"
	"time"

	"github.com/partyplay/partyplay/internal/party"
	"github.com/partyplay/partyplay/internal/queue"
	"github.com/partyplay/partyplay/internal/ratelimit"
)

func newTestEngine(t *testing.T, guests int, mutate func(*party.Settings)) (*Engine, *queue.Engine) {
	t.Helper()
	s := party.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	q := queue.New()
	limits := ratelimit.New(s.MaxConcurrentActions, s.Cooldown())
	return New(q, limits, s, func() int { return guests }), q
}

func seed(q *queue.Engine, ids ...string) {
	for _, id := range ids {
		q.Append(&party.QueueItem{ID: id, TrackID: "t-" + id, Title: id})
	}
}

func vote(member, item string, dir party.VoteDirection) party.Vote {
	return party.Vote{MemberID: member, ItemID: item, Direction: dir, Timestamp: time.Now().UnixMilli()}
}

func TestThreshold(t *testing.T) {
	cases := []struct {
		guests, percent, want int
	}{
		{3, 50, 2},  // ceil(1.5)
		{0, 50, 1},  // max(1, 0)
		{4, 50, 2},
		{1, 100, 1},
		{5, 0, 1},
		{10, 33, 4}, // ceil(3.3)
	}
	for _, tc := range cases {
		if got := Threshold(tc.guests, tc.percent); got != tc.want {
			t.Errorf("Threshold(%d, %d) = %d, want %d", tc.guests, tc.percent, got, tc.want)
		}
	}
}

func TestVoteReplacesPriorFootprint(t *testing.T) {
	e, q := newTestEngine(t, 10, nil)
	seed(q, "cur", "next", "a")

	if r := e.CastVote(vote("m1", "a", party.VoteUp)); !r.Accepted {
		t.Fatalf("up vote rejected: %s", r.Reason)
	}
	item := q.Items()[2]
	if len(item.UpVotes) != 1 || len(item.DownVotes) != 0 {
		t.Fatalf("votes = up %v down %v", item.UpVotes, item.DownVotes)
	}

	// Flip direction after the cooldown window.
	e.limits.SetCooldown(0)
	if r := e.CastVote(vote("m1", "a", party.VoteDown)); !r.Accepted {
		t.Fatalf("down vote rejected: %s", r.Reason)
	}
	if len(item.UpVotes) != 0 || len(item.DownVotes) != 1 {
		t.Fatalf("flip left votes = up %v down %v", item.UpVotes, item.DownVotes)
	}
}

func TestVoteOnPlayingItemIgnored(t *testing.T) {
	e, q := newTestEngine(t, 10, nil)
	seed(q, "cur", "a")

	r := e.CastVote(vote("m1", "cur", party.VoteDown))
	if r.Accepted {
		t.Fatal("vote on the playing item must be ignored")
	}
	if len(q.Items()[0].DownVotes) != 0 {
		t.Fatal("vote set mutated")
	}
	if e.limits.RemainingSlots("m1") != 3 {
		t.Fatal("slot was spent on a rejected vote")
	}
}

func TestNextUpRules(t *testing.T) {
	e, q := newTestEngine(t, 10, nil)
	seed(q, "cur", "next", "a")

	if r := e.CastVote(vote("m1", "next", party.VoteUp)); r.Accepted {
		t.Fatal("up-voting next-up must be rejected")
	}
	if r := e.CastVote(vote("m1", "next", party.VoteDown)); !r.Accepted {
		t.Fatalf("down-voting next-up should be allowed: %s", r.Reason)
	}
}

func TestSlotExhaustionRejectsWithoutSideEffects(t *testing.T) {
	e, q := newTestEngine(t, 10, func(s *party.Settings) { s.MaxConcurrentActions = 1 })
	seed(q, "cur", "a", "b", "c")

	if r := e.CastVote(vote("m1", "b", party.VoteUp)); !r.Accepted {
		t.Fatalf("first vote rejected: %s", r.Reason)
	}
	r := e.CastVote(vote("m1", "c", party.VoteUp))
	if r.Accepted {
		t.Fatal("vote should fail with no free slots")
	}
	if len(q.Items()[3].UpVotes) != 0 {
		t.Fatal("vote set mutated on slot rejection")
	}
}

func TestCooldownRejectionRestoresSlot(t *testing.T) {
	e, q := newTestEngine(t, 10, nil)
	seed(q, "cur", "next", "a")

	e.CastVote(vote("m1", "a", party.VoteUp))
	slotsBefore := e.limits.RemainingSlots("m1")

	r := e.CastVote(vote("m1", "a", party.VoteUp))
	if r.Accepted {
		t.Fatal("second vote inside window must fail")
	}
	if r.RemainingCooldown <= 0 || r.RemainingCooldown > party.DefaultSettings().Cooldown() {
		t.Fatalf("remaining cooldown = %v, want in (0, window]", r.RemainingCooldown)
	}
	if got := e.limits.RemainingSlots("m1"); got != slotsBefore {
		t.Fatalf("slots = %d, want %d (rolled back)", got, slotsBefore)
	}
}

func TestDownThresholdRemovesInAutomaticMode(t *testing.T) {
	e, q := newTestEngine(t, 4, nil) // threshold = ceil(4*50/100) = 2
	seed(q, "cur", "next", "x")

	if r := e.CastVote(vote("g1", "x", party.VoteDown)); r.Outcome != nil {
		t.Fatal("one vote should not cross the threshold")
	}
	r := e.CastVote(vote("g2", "x", party.VoteDown))
	if r.Outcome == nil || r.Outcome.Kind != party.OutcomeRemove || r.Outcome.Pending {
		t.Fatalf("outcome = %+v, want immediate remove", r.Outcome)
	}
	for _, it := range q.Items() {
		if it.ID == "x" {
			t.Fatal("item still in queue after removal")
		}
	}
	removed := e.RecentlyRemoved()
	if len(removed) != 1 || removed[0].ID != "x" {
		t.Fatalf("recently removed = %v, want [x]", removed)
	}
	if len(removed[0].UpVotes)+len(removed[0].DownVotes) != 0 {
		t.Fatal("votes should be cleared on removal")
	}
}

func TestDownCheckedBeforeUp(t *testing.T) {
	e, q := newTestEngine(t, 2, nil) // threshold = 1
	seed(q, "cur", "next", "x")

	// Pre-load an up vote footprint, then a down vote crosses both
	// thresholds in the same evaluation; down must win.
	q.Items()[2].UpVotes = []string{"g9"}
	r := e.CastVote(vote("g1", "x", party.VoteDown))
	if r.Outcome == nil || r.Outcome.Kind != party.OutcomeRemove {
		t.Fatalf("outcome = %+v, want remove to take priority", r.Outcome)
	}
}

func TestUpThresholdPromotes(t *testing.T) {
	e, q := newTestEngine(t, 2, nil) // threshold = 1
	seed(q, "cur", "next", "x", "y")

	r := e.CastVote(vote("g1", "y", party.VoteUp))
	if r.Outcome == nil || r.Outcome.Kind != party.OutcomePromoteBehindCurrent {
		t.Fatalf("outcome = %+v, want promote", r.Outcome)
	}
	items := q.Items()
	if items[1].ID != "y" {
		t.Fatalf("queue order = %v, want y right behind cur", items)
	}
	if len(items[1].UpVotes) != 0 {
		t.Fatal("votes should be cleared on relocation")
	}
}

func TestPlayedItemHonorsDownAsSendToEnd(t *testing.T) {
	e, q := newTestEngine(t, 2, nil) // threshold = 1
	seed(q, "old", "cur", "tail")
	q.Advance() // cursor on cur; "old" is played

	r := e.CastVote(vote("g1", "old", party.VoteDown))
	if r.Outcome == nil || r.Outcome.Kind != party.OutcomeSendToEnd {
		t.Fatalf("outcome = %+v, want sendToEnd", r.Outcome)
	}
	items := q.Items()
	if items[len(items)-1].ID != "old" {
		t.Fatalf("queue order = %v, want old at end", ids(items))
	}
}

func TestPlayedItemIgnoresUpThreshold(t *testing.T) {
	e, q := newTestEngine(t, 2, nil) // threshold = 1
	seed(q, "old", "cur", "tail")
	q.Advance()

	r := e.CastVote(vote("g1", "old", party.VoteUp))
	if !r.Accepted {
		t.Fatalf("up vote on played item should be counted: %s", r.Reason)
	}
	if r.Outcome != nil {
		t.Fatalf("outcome = %+v, want none (played items only honor down)", r.Outcome)
	}
}

func TestDisabledOutcomeKindNeverTriggers(t *testing.T) {
	e, q := newTestEngine(t, 2, func(s *party.Settings) { s.EnableRemove = false })
	seed(q, "cur", "next", "x")

	r := e.CastVote(vote("g1", "x", party.VoteDown))
	if !r.Accepted || r.Outcome != nil {
		t.Fatalf("result = %+v, want counted vote with no outcome", r)
	}
	if q.IndexOf("x") < 0 {
		t.Fatal("item removed despite disabled kind")
	}
}

func TestHostApprovalModeParksOutcome(t *testing.T) {
	e, q := newTestEngine(t, 4, func(s *party.Settings) { s.Mode = party.ModeHostApproval })
	seed(q, "cur", "next", "x")

	e.CastVote(vote("g1", "x", party.VoteDown))
	r := e.CastVote(vote("g2", "x", party.VoteDown))
	if r.Outcome == nil || !r.Outcome.Pending {
		t.Fatalf("outcome = %+v, want pending", r.Outcome)
	}
	if q.IndexOf("x") < 0 {
		t.Fatal("item must stay queued until the host decides")
	}
	pend := e.PendingOutcomes()
	if len(pend) != 1 || pend[0].Kind != party.OutcomeRemove || pend[0].Threshold != 2 {
		t.Fatalf("pending = %+v", pend)
	}

	// A third vote deduplicates by (item, kind).
	e.CastVote(vote("g3", "x", party.VoteDown))
	if len(e.PendingOutcomes()) != 1 {
		t.Fatal("pending outcomes must be deduplicated")
	}

	// Reject leaves the item untouched with votes intact.
	if !e.RejectOutcome(pend[0].ID) {
		t.Fatal("reject failed")
	}
	item := q.Items()[q.IndexOf("x")]
	if len(item.DownVotes) != 3 {
		t.Fatalf("down votes = %d, want 3 after reject", len(item.DownVotes))
	}
	if len(e.PendingOutcomes()) != 0 {
		t.Fatal("pending record should be destroyed on reject")
	}
}

func TestHostApprovalApproveAppliesOutcome(t *testing.T) {
	e, q := newTestEngine(t, 4, func(s *party.Settings) { s.Mode = party.ModeHostApproval })
	seed(q, "cur", "next", "x")

	e.CastVote(vote("g1", "x", party.VoteDown))
	r := e.CastVote(vote("g2", "x", party.VoteDown))

	if !e.ApproveOutcome(r.Outcome.PendingID) {
		t.Fatal("approve failed")
	}
	if q.IndexOf("x") >= 0 {
		t.Fatal("item should be removed after approval")
	}
	removed := e.RecentlyRemoved()
	if len(removed) != 1 || len(removed[0].DownVotes) != 0 {
		t.Fatal("removed item should have cleared votes")
	}
}

func TestRestoreRemoved(t *testing.T) {
	e, q := newTestEngine(t, 2, nil)
	seed(q, "cur", "next", "x")

	e.CastVote(vote("g1", "x", party.VoteDown))
	if q.IndexOf("x") >= 0 {
		t.Fatal("setup: item should be removed")
	}
	if !e.RestoreRemoved("x") {
		t.Fatal("restore failed")
	}
	items := q.Items()
	if items[len(items)-1].ID != "x" {
		t.Fatal("restored item should re-enter at the end")
	}
	if len(e.RecentlyRemoved()) != 0 {
		t.Fatal("restore should consume the removed record")
	}
}

func ids(items []*party.QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
