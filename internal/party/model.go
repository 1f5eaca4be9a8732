// Package party defines the authoritative data model for a PartyPlay
// session and the JSON wire messages exchanged between host and guests.
package party

import (
	"errors"
	"time"
)

// VoteDirection is a guest's stance on a queue item.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// OutcomeKind is the structural consequence of crossing a vote threshold.
type OutcomeKind string

const (
	OutcomePromoteBehindCurrent OutcomeKind = "promoteBehindCurrent"
	OutcomeRemove               OutcomeKind = "remove"
	OutcomeSendToEnd            OutcomeKind = "sendToEnd"
)

// VotingMode selects how threshold outcomes are applied.
type VotingMode string

const (
	ModeAutomatic    VotingMode = "automatic"
	ModeHostApproval VotingMode = "hostApproval"
)

// Member is a device that has been admitted to the party. Members are
// created on first successful admission, updated in place on reconnection
// and never deleted, only marked.
type Member struct {
	ID          string `json:"id"` // stable per physical device
	DisplayName string `json:"displayName"`
	Admitted    bool   `json:"admitted"`
	HasPlayback bool   `json:"hasPlayback"` // has a playback account
	LastSeen    int64  `json:"lastSeen"`    // unix millis
}

// QueueItem is one entry in the party queue. Vote sets hold member IDs;
// a member appears in at most one of the two sets at a time.
type QueueItem struct {
	ID          string   `json:"id"`
	TrackID     string   `json:"trackId"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	ArtworkURL  string   `json:"artworkUrl,omitempty"`
	DurationSec int      `json:"durationSec"`
	AddedBy     string   `json:"addedBy"`
	AddedAt     int64    `json:"addedAt"` // unix millis
	UpVotes     []string `json:"upVotes"`
	DownVotes   []string `json:"downVotes"`
}

// SetVote records a member's vote, replacing any prior footprint in either
// set. Casting the same direction twice is a no-op beyond the replacement.
func (q *QueueItem) SetVote(memberID string, dir VoteDirection) {
	q.UpVotes = without(q.UpVotes, memberID)
	q.DownVotes = without(q.DownVotes, memberID)
	switch dir {
	case VoteUp:
		q.UpVotes = append(q.UpVotes, memberID)
	case VoteDown:
		q.DownVotes = append(q.DownVotes, memberID)
	}
}

// ClearVotes empties both vote sets. Called whenever an outcome relocates
// the item.
func (q *QueueItem) ClearVotes() {
	q.UpVotes = nil
	q.DownVotes = nil
}

func without(set []string, id string) []string {
	for i, v := range set {
		if v == id {
			return append(set[:i], set[i+1:]...)
		}
	}
	return set
}

// PartyState is the single authoritative aggregate on the host. Guests
// hold read-only copies received via snapshots.
//
// Invariant: NowPlayingID, when non-empty, identifies an element currently
// present in Queue.
type PartyState struct {
	SessionID    string       `json:"sessionId"`
	HostName     string       `json:"hostName"`
	CreatedAt    int64        `json:"createdAt"` // unix millis
	Queue        []*QueueItem `json:"queue"`
	NowPlayingID string       `json:"nowPlayingId,omitempty"`
	Members      []*Member    `json:"members"`
}

// FindMember returns the member with the given ID, or nil.
func (s *PartyState) FindMember(id string) *Member {
	for _, m := range s.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// FindItem returns the queue item with the given ID, or nil.
func (s *PartyState) FindItem(id string) *QueueItem {
	for _, it := range s.Queue {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// AdmittedGuestCount counts admitted members. The host itself is not a
// member, so this is the guest headcount used for threshold math.
func (s *PartyState) AdmittedGuestCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Admitted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the state. Snapshots are built from clones
// so fire-and-forget delivery never races the owner's next mutation.
func (s *PartyState) Clone() PartyState {
	out := *s
	out.Queue = make([]*QueueItem, len(s.Queue))
	for i, it := range s.Queue {
		c := *it
		c.UpVotes = append([]string(nil), it.UpVotes...)
		c.DownVotes = append([]string(nil), it.DownVotes...)
		out.Queue[i] = &c
	}
	out.Members = make([]*Member, len(s.Members))
	for i, m := range s.Members {
		c := *m
		out.Members[i] = &c
	}
	return out
}

// PendingVoteOutcome is a threshold crossing awaiting host approval.
type PendingVoteOutcome struct {
	ID        string      `json:"id"`
	ItemID    string      `json:"itemId"`
	Kind      OutcomeKind `json:"kind"`
	Threshold int         `json:"threshold"` // at time of trigger
	CreatedAt int64       `json:"createdAt"` // unix millis
}

// PendingSkipRequest is a guest skip request awaiting host approval.
type PendingSkipRequest struct {
	ID          string `json:"id"`
	ItemID      string `json:"itemId"`
	MemberID    string `json:"memberId"`
	RequestedAt int64  `json:"requestedAt"` // unix millis
}

// Settings is the host-adjustable configuration surface. All fields take
// effect immediately for future checks; recorded cooldown timestamps are
// never rewritten.
type Settings struct {
	Mode                 VotingMode `json:"mode"`
	ThresholdPercent     int        `json:"thresholdPercent"`     // 0..100
	CooldownMinutes      int        `json:"cooldownMinutes"`      // 0..120
	MaxConcurrentActions int        `json:"maxConcurrentActions"` // 1..10
	EnablePromote        bool       `json:"enablePromote"`
	EnableRemove         bool       `json:"enableRemove"`
	EnableSendToEnd      bool       `json:"enableSendToEnd"`
}

// DefaultSettings returns the standard party configuration.
func DefaultSettings() Settings {
	return Settings{
		Mode:                 ModeAutomatic,
		ThresholdPercent:     50,
		CooldownMinutes:      1,
		MaxConcurrentActions: 3,
		EnablePromote:        true,
		EnableRemove:         true,
		EnableSendToEnd:      true,
	}
}

// Validate checks the settings ranges from the configuration surface.
func (s Settings) Validate() error {
	if s.Mode != ModeAutomatic && s.Mode != ModeHostApproval {
		return errors.New("mode must be automatic or hostApproval")
	}
	if s.ThresholdPercent < 0 || s.ThresholdPercent > 100 {
		return errors.New("thresholdPercent must be 0..100")
	}
	if s.CooldownMinutes < 0 || s.CooldownMinutes > 120 {
		return errors.New("cooldownMinutes must be 0..120")
	}
	if s.MaxConcurrentActions < 1 || s.MaxConcurrentActions > 10 {
		return errors.New("maxConcurrentActions must be 1..10")
	}
	return nil
}

// Cooldown returns the per-item cooldown window as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}
